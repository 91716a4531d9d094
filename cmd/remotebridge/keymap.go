package main

import (
	"fmt"
	"strings"
)

// ============================================================================
// Key table
// ============================================================================
// The remote sends HID-style usage codes as the second notification byte.
// Each code maps to a key kind and a value; the kind decides how the value is
// combined with the current Mode when the key is resolved.
// ============================================================================

// KeyKind classifies a remote button.
type KeyKind int

const (
	KeyUnmapped KeyKind = iota
	KeyMode
	KeyNav
	KeyAudioForced
	KeyPass
	KeyScene
	KeyDigit
)

func (k KeyKind) String() string {
	switch k {
	case KeyMode:
		return "mode"
	case KeyNav:
		return "nav"
	case KeyAudioForced:
		return "audio"
	case KeyPass:
		return "pass"
	case KeyScene:
		return "scene"
	case KeyDigit:
		return "digit"
	default:
		return "unmapped"
	}
}

// Key is one entry of the static key table.
type Key struct {
	Kind  KeyKind
	Value string
}

// keyTable is the fixed command-byte table of the remote.
var keyTable = map[string]Key{
	// mode switches
	"44": {KeyMode, "tv"},
	"45": {KeyMode, "music"},

	// navigation
	"52": {KeyNav, "up"},
	"51": {KeyNav, "down"},
	"50": {KeyNav, "left"},
	"4f": {KeyNav, "right"},
	"28": {KeyNav, "go"},
	"2a": {KeyNav, "back"},
	"29": {KeyNav, "exit"},
	"66": {KeyNav, "off"},

	// transport keys, always routed to the audio player
	"b0": {KeyAudioForced, "play"},
	"b1": {KeyAudioForced, "pause"},
	"b3": {KeyAudioForced, "ff"},
	"b4": {KeyAudioForced, "rew"},

	// pass-through keys
	"80": {KeyPass, "volup"},
	"81": {KeyPass, "voldown"},
	"7f": {KeyPass, "mute"},
	"65": {KeyPass, "guide"},
	"4b": {KeyPass, "chup"},
	"4e": {KeyPass, "chdown"},
	"3a": {KeyPass, "red"},
	"3b": {KeyPass, "green"},
	"3c": {KeyPass, "yellow"},
	"3d": {KeyPass, "blue"},

	// lighting scenes
	"3e": {KeyScene, "ctrl1"},
	"3f": {KeyScene, "ctrl2"},
	"40": {KeyScene, "ctrl3"},
	"41": {KeyScene, "ctrl4"},
	"42": {KeyScene, "power"},

	// digits
	"1e": {KeyDigit, "1"},
	"1f": {KeyDigit, "2"},
	"20": {KeyDigit, "3"},
	"21": {KeyDigit, "4"},
	"22": {KeyDigit, "5"},
	"23": {KeyDigit, "6"},
	"24": {KeyDigit, "7"},
	"25": {KeyDigit, "8"},
	"26": {KeyDigit, "9"},
	"27": {KeyDigit, "0"},
}

// repeatableKeys are the Pass keys that keep firing while held.
var repeatableKeys = map[string]bool{
	"volup":   true,
	"voldown": true,
	"chup":    true,
	"chdown":  true,
}

// LookupKey returns the table entry for a command byte.
// Unknown codes return a KeyUnmapped entry whose value is the code itself.
func LookupKey(code string) Key {
	code = strings.ToLower(code)
	if k, ok := keyTable[code]; ok {
		return k
	}
	return Key{Kind: KeyUnmapped, Value: code}
}

// ParseCommandCode normalises a user-supplied command byte ("0x1E", "1e", "1E").
func ParseCommandCode(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	if len(s) == 1 {
		s = "0" + s
	}
	if len(s) != 2 || strings.Trim(s, "0123456789abcdef") != "" {
		return "", fmt.Errorf("invalid command byte %q", s)
	}
	return s, nil
}
