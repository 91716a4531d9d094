package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeNotification(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		ok      bool
		handle  string
		command string
	}{
		{
			name:    "nav up",
			line:    "Notification handle = 0x0012 value: 00 52 00 00 00 00 00 00",
			ok:      true,
			handle:  "0x0012",
			command: "52",
		},
		{
			name:    "upper case byte is lowered",
			line:    "Notification handle = 0x0016 value: 02 B0 00",
			ok:      true,
			handle:  "0x0016",
			command: "b0",
		},
		{
			name:    "release",
			line:    "Notification handle = 0x0012 value: 00 00 00 00 00 00 00 00",
			ok:      true,
			handle:  "0x0012",
			command: "00",
		},
		{
			name:    "prompt prefix",
			line:    "[AA:BB:CC:DD:EE:FF][LE]> Notification handle = 0x0012 value: 00 1e ",
			ok:      true,
			handle:  "0x0012",
			command: "1e",
		},
		{name: "connect banner", line: "Attempting to connect to AA:BB:CC:DD:EE:FF", ok: false},
		{name: "single byte value", line: "Notification handle = 0x0012 value: 00", ok: false},
		{name: "empty", line: "", ok: false},
		{name: "characteristic write", line: "Characteristic value was written successfully", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := DecodeNotification(tt.line)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.handle, n.Handle)
			assert.Equal(t, tt.command, n.Command)
		})
	}
}
