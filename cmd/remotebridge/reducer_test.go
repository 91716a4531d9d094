package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// press reduces one notification and returns the result.
func press(s *BridgeState, code string) ReduceResult {
	return Reduce(s, Notification{Handle: "0x0012", Command: code, At: time.Unix(1000, 0)})
}

func dispatches(cmds []Command) []CmdDispatch {
	var out []CmdDispatch
	for _, c := range cmds {
		if d, ok := c.(CmdDispatch); ok {
			out = append(out, d)
		}
	}
	return out
}

func countFeedback(cmds []Command) int {
	n := 0
	for _, c := range cmds {
		if _, ok := c.(CmdFeedback); ok {
			n++
		}
	}
	return n
}

func TestReduce_HeldKeyDispatchCount(t *testing.T) {
	tests := []struct {
		name string
		code string
		held int
		want int
	}{
		{"nav once", "52", 1, 1},
		{"nav held 3", "52", 3, 1},
		{"nav held 10", "52", 10, 1},
		{"volup held 3", "80", 3, 1},
		{"volup held 4", "80", 4, 2},
		{"volup held 6", "80", 6, 4},
		{"chdown held 5", "4e", 5, 3},
		{"mute held 8", "7f", 8, 1},
		{"scene held 8", "3e", 8, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewBridgeState()
			total := 0
			for i := 0; i < tt.held; i++ {
				total += len(dispatches(press(s, tt.code).Commands))
			}
			assert.Equal(t, tt.want, total)
		})
	}
}

func TestReduce_HeldDigitLooksUpOnce(t *testing.T) {
	s := NewBridgeState()
	lookups := 0
	for i := 0; i < 8; i++ {
		for _, c := range press(s, "1e").Commands {
			if _, ok := c.(CmdPlaylistLookup); ok {
				lookups++
			}
		}
	}
	assert.Equal(t, 1, lookups)
}

func TestReduce_ReleaseResetsButton(t *testing.T) {
	s := NewBridgeState()
	s.Mode = ModeAudio
	for i := 0; i < 5; i++ {
		press(s, "80")
	}

	rr := press(s, releaseCode)
	assert.Empty(t, rr.Commands)
	assert.Equal(t, ButtonState{}, s.Button)
	assert.Equal(t, ModeAudio, s.Mode)
}

func TestReduce_ModeSwitchEvents(t *testing.T) {
	s := NewBridgeState()
	s.Mode = ModeAudio

	rr := press(s, "44")
	assert.Equal(t, ModeVideo, s.Mode)
	assert.Equal(t, []CmdDispatch{{Action: "tv", DeviceType: "Video"}}, dispatches(rr.Commands))
	assert.Equal(t, 1, countFeedback(rr.Commands))
	require.Len(t, rr.Broadcasts, 1)
	assert.Equal(t, ModeVideo, rr.Broadcasts[0].(BroadcastModeChanged).Mode)

	press(s, releaseCode)
	rr = press(s, "45")
	assert.Equal(t, ModeAudio, s.Mode)
	assert.Empty(t, dispatches(rr.Commands))
	assert.Equal(t, 1, countFeedback(rr.Commands), "music switch still pulses")
}

func TestReduce_NavFollowsMode(t *testing.T) {
	s := NewBridgeState()
	assert.Equal(t, []CmdDispatch{{Action: "up", DeviceType: "Video"}}, dispatches(press(s, "52").Commands))

	press(s, releaseCode)
	press(s, "45")
	press(s, releaseCode)
	assert.Equal(t, []CmdDispatch{{Action: "up", DeviceType: "Audio"}}, dispatches(press(s, "52").Commands))
}

func TestReduce_ModeSurvivesNewSession(t *testing.T) {
	s := NewBridgeState()
	press(s, "45")
	press(s, "45")

	Reduce(s, ListeningStarted{Session: 2, At: time.Now()})
	assert.Equal(t, ModeAudio, s.Mode)
	assert.Equal(t, ButtonState{}, s.Button)
	assert.Equal(t, 2, s.Session)
}

func TestReduce_PlaylistResolved(t *testing.T) {
	s := NewBridgeState()

	hit := Reduce(s, PlaylistResolved{Lookup: CmdPlaylistLookup{Digit: 4, Mode: ModeVideo}, URI: "spotify:p:4"})
	require.Len(t, hit.Commands, 1)
	d := hit.Commands[0].(CmdDispatch)
	assert.Equal(t, "play_playlist", d.Action)
	assert.Equal(t, "Audio", d.DeviceType)
	assert.Equal(t, "spotify:p:4", d.Extra["playlist_uri"])

	miss := Reduce(s, PlaylistResolved{Lookup: CmdPlaylistLookup{Digit: 4, Mode: ModeVideo}})
	assert.Equal(t, []CmdDispatch{{Action: "4", DeviceType: "Video"}}, dispatches(miss.Commands))
}

func TestReduce_SessionStateAndStatus(t *testing.T) {
	s := NewBridgeState()

	rr := Reduce(s, SessionStateChanged{Session: 5, State: StateListening, At: time.Unix(10, 0)})
	require.Len(t, rr.Broadcasts, 1)
	assert.Equal(t, BroadcastSessionState{Session: 5, State: StateListening, At: time.Unix(10, 0)}, rr.Broadcasts[0])

	press(s, "80")
	reply := make(chan StatusSnapshot, 1)
	rr = Reduce(s, RequestStatus{Reply: reply})
	require.Len(t, rr.Commands, 1)
	snap := rr.Commands[0].(CmdPublishStatus).Snapshot
	assert.Equal(t, StatusSnapshot{
		Mode:    ModeVideo,
		State:   "LISTENING",
		Session: 5,
		Button:  ButtonState{LastCommand: "80", RepeatCount: 1, Pressed: true},
	}, snap)
}
