package main

import "strconv"

// audioNavRemap converts navigation keys into player commands under Audio mode.
var audioNavRemap = map[string]string{
	"up":    "up", // next
	"right": "up",
	"down":  "down", // previous
	"left":  "down",
	"go":    "go", // play/pause toggle
	"stop":  "stop",
	"off":   "stop",
}

// audioForcedOps maps the transport keys onto the audio player command set.
var audioForcedOps = map[string]string{
	"play":  "play",
	"pause": "pause",
	"ff":    "up",
	"rew":   "down",
}

// ResolveKey turns a command byte into its ActionResult using the static table.
// It does not look at the Mode Context.
func ResolveKey(code string) ActionResult {
	k := LookupKey(code)
	switch k.Kind {
	case KeyMode:
		if k.Value == "music" {
			return ModeSwitch{Mode: ModeAudio}
		}
		return ModeSwitch{Mode: ModeVideo}
	case KeyNav:
		return NavAction{Direction: k.Value}
	case KeyAudioForced:
		return AudioAction{Op: k.Value}
	case KeyPass:
		return PassAction{Name: k.Value}
	case KeyScene:
		return SceneAction{Name: k.Value}
	case KeyDigit:
		d, _ := strconv.Atoi(k.Value)
		return DigitAction{Digit: d}
	default:
		return RawAction{Code: k.Value}
	}
}

// Resolution is the mode-applied outcome of one ActionResult.
type Resolution struct {
	Mode       Mode
	Dispatches []CmdDispatch
	// Lookup is set for digit keys: the playlist lookup has to run before
	// anything can be dispatched.
	Lookup *CmdPlaylistLookup
}

// ApplyMode combines an ActionResult with the current Mode. It is pure: the
// same (action, mode) pair always gives the same Resolution.
func ApplyMode(mode Mode, a ActionResult) Resolution {
	r := Resolution{Mode: mode}

	switch act := a.(type) {
	case ModeSwitch:
		r.Mode = act.Mode
		if act.Mode == ModeVideo {
			r.Dispatches = append(r.Dispatches, CmdDispatch{Action: "tv", DeviceType: string(ModeVideo)})
		}

	case NavAction:
		if mode == ModeAudio {
			action := act.Direction
			if mapped, ok := audioNavRemap[action]; ok {
				action = mapped
			}
			r.Dispatches = append(r.Dispatches, CmdDispatch{Action: action, DeviceType: string(ModeAudio)})
		} else {
			r.Dispatches = append(r.Dispatches, CmdDispatch{Action: act.Direction, DeviceType: string(ModeVideo)})
		}

	case AudioAction:
		op := act.Op
		if mapped, ok := audioForcedOps[op]; ok {
			op = mapped
		}
		r.Dispatches = append(r.Dispatches, CmdDispatch{Action: op, DeviceType: string(ModeAudio)})

	case PassAction:
		r.Dispatches = append(r.Dispatches, CmdDispatch{Action: act.Name, DeviceType: string(mode)})

	case SceneAction:
		r.Dispatches = append(r.Dispatches, CmdDispatch{Action: act.Name, DeviceType: deviceTypeLight})

	case DigitAction:
		r.Lookup = &CmdPlaylistLookup{Digit: act.Digit, Mode: mode}

	case RawAction:
		r.Dispatches = append(r.Dispatches, CmdDispatch{Action: "unknown_" + act.Code, DeviceType: string(mode)})
	}

	return r
}

// PlaylistDispatch builds the dispatch for a digit once the lookup finished.
// An empty uri (miss, error or timeout) falls back to the digit itself.
func PlaylistDispatch(l CmdPlaylistLookup, uri string) CmdDispatch {
	if uri == "" {
		return CmdDispatch{Action: digitString(l.Digit), DeviceType: string(l.Mode)}
	}
	return CmdDispatch{
		Action:     "play_playlist",
		DeviceType: string(ModeAudio),
		Extra:      map[string]string{"playlist_uri": uri},
	}
}

// repeatable reports whether a held key may keep dispatching.
func repeatable(a ActionResult) bool {
	p, ok := a.(PassAction)
	return ok && repeatableKeys[p.Name]
}
