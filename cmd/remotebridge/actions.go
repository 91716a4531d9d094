package main

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ============================================================================
// Mode Context
// ============================================================================

// Mode is the persistent context that decides what navigation keys control.
type Mode string

const (
	ModeVideo Mode = "Video"
	ModeAudio Mode = "Audio"
)

// Device types used in outbound events besides the two modes.
const (
	deviceTypeLight = "Light"
)

// ============================================================================
// Action Results
// ============================================================================
// An ActionResult is what one debounced key press resolves to before the
// current Mode is applied. It is a closed set of variants; use a type switch.
// ============================================================================

// ActionResult is a marker interface for resolved key actions.
type ActionResult interface {
	actionMarker()
	String() string
}

// ModeSwitch changes the Mode Context.
type ModeSwitch struct {
	Mode Mode
}

// NavAction is a directional/select/back/exit/power-off key.
type NavAction struct {
	Direction string
}

// AudioAction is a transport key that always targets the audio player.
type AudioAction struct {
	Op string
}

// PassAction is forwarded verbatim under the current Mode.
type PassAction struct {
	Name string
}

// SceneAction is forwarded verbatim to the lighting device type.
type SceneAction struct {
	Name string
}

// DigitAction is a number key; it may start a playlist.
type DigitAction struct {
	Digit int
}

// RawAction is an unmapped command byte, forwarded for diagnostics.
type RawAction struct {
	Code string
}

func (ModeSwitch) actionMarker()  {}
func (NavAction) actionMarker()   {}
func (AudioAction) actionMarker() {}
func (PassAction) actionMarker()  {}
func (SceneAction) actionMarker() {}
func (DigitAction) actionMarker() {}
func (RawAction) actionMarker()   {}

func (a ModeSwitch) String() string  { return fmt.Sprintf("Mode(%s)", a.Mode) }
func (a NavAction) String() string   { return fmt.Sprintf("Nav(%s)", a.Direction) }
func (a AudioAction) String() string { return fmt.Sprintf("Audio(%s)", a.Op) }
func (a PassAction) String() string  { return fmt.Sprintf("Pass(%s)", a.Name) }
func (a SceneAction) String() string { return fmt.Sprintf("Scene(%s)", a.Name) }
func (a DigitAction) String() string { return fmt.Sprintf("Digit(%d)", a.Digit) }
func (a RawAction) String() string   { return fmt.Sprintf("Raw(%s)", a.Code) }

// ============================================================================
// Outbound Events
// ============================================================================

// OutboundEvent is the immutable payload delivered to the webhook (and MQTT).
// It is built by value before being handed to a detached delivery task.
type OutboundEvent struct {
	DeviceName string
	Source     string
	Action     string
	DeviceType string
	Extra      map[string]string
}

// NewOutboundEvent stamps a resolved dispatch with the device name.
// The extra map is copied so later changes by the caller are not observed.
func NewOutboundEvent(deviceName string, d CmdDispatch) OutboundEvent {
	var extra map[string]string
	if len(d.Extra) > 0 {
		extra = make(map[string]string, len(d.Extra))
		for k, v := range d.Extra {
			extra[k] = v
		}
	}
	return OutboundEvent{
		DeviceName: deviceName,
		Source:     eventSource,
		Action:     d.Action,
		DeviceType: d.DeviceType,
		Extra:      extra,
	}
}

// MarshalJSON flattens Extra into the top-level object. The fixed fields
// always win over an extra field of the same name.
func (e OutboundEvent) MarshalJSON() ([]byte, error) {
	m := make(map[string]string, 4+len(e.Extra))
	for k, v := range e.Extra {
		m[k] = v
	}
	m["device_name"] = e.DeviceName
	m["source"] = e.Source
	m["action"] = e.Action
	m["device_type"] = e.DeviceType
	return json.Marshal(m)
}

func digitString(d int) string { return strconv.Itoa(d) }
