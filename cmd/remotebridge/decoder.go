package main

import (
	"regexp"
	"strings"
	"time"
)

// notificationRe matches gatttool's notification output, e.g.
//
//	Notification handle = 0x0012 value: 00 28 00 00 00 00 00 00
//
// Only the first two value bytes matter; anything after them is ignored.
var notificationRe = regexp.MustCompile(`Notification handle = (\S+) value: ([0-9A-Fa-f]{2}) ([0-9A-Fa-f]{2})`)

// Notification is one decoded button notification from the remote.
type Notification struct {
	Handle  string    `json:"handle"`
	Command string    `json:"command"` // lower-case hex byte, "00" on release
	At      time.Time `json:"-"`
}

// DecodeNotification parses a raw session line into a Notification.
// Lines that are not notifications return ok=false.
func DecodeNotification(line string) (Notification, bool) {
	m := notificationRe.FindStringSubmatch(line)
	if m == nil {
		return Notification{}, false
	}
	return Notification{
		Handle:  m[1],
		Command: strings.ToLower(m[3]),
	}, true
}
