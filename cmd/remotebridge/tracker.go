package main

// ButtonState tracks the last command seen from the remote and how many
// consecutive notifications it produced. It is owned by the consuming loop.
type ButtonState struct {
	LastCommand string `json:"last_command"`
	RepeatCount int    `json:"repeat_count"`
	Pressed     bool   `json:"pressed"`
}

// Press classifies what a notification means for the key state.
type Press int

const (
	PressNone    Press = iota // release or suppressed repeat: do nothing
	PressNew                  // a different key went down: resolve it
	PressRepeat               // a held key passed the debounce threshold
)

// Reset clears the state. Used on release and at the start of each session.
func (b *ButtonState) Reset() {
	b.LastCommand = ""
	b.RepeatCount = 0
	b.Pressed = false
}

// Observe applies one command byte to the state and reports whether the
// caller should resolve it.
//
// The first notification of a key resolves immediately. Further identical
// notifications only count up until the repeat count exceeds repeatThreshold;
// from then on every notification is a PressRepeat. The caller decides which
// kinds of actions are allowed to repeat.
func (b *ButtonState) Observe(command string) Press {
	if command == releaseCode {
		b.Reset()
		return PressNone
	}

	if command != b.LastCommand {
		b.LastCommand = command
		b.RepeatCount = 1
		b.Pressed = true
		return PressNew
	}

	b.RepeatCount++
	if b.RepeatCount > repeatThreshold {
		return PressRepeat
	}
	return PressNone
}
