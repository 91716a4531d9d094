package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestButtonState_NewPressResolvesImmediately(t *testing.T) {
	var b ButtonState

	assert.Equal(t, PressNew, b.Observe("52"))
	assert.Equal(t, ButtonState{LastCommand: "52", RepeatCount: 1, Pressed: true}, b)

	// A different key while the first is still down is a new press.
	assert.Equal(t, PressNew, b.Observe("51"))
	assert.Equal(t, 1, b.RepeatCount)
}

func TestButtonState_RepeatsAfterThreshold(t *testing.T) {
	var b ButtonState

	got := []Press{}
	for i := 0; i < 6; i++ {
		got = append(got, b.Observe("80"))
	}
	assert.Equal(t, []Press{PressNew, PressNone, PressNone, PressRepeat, PressRepeat, PressRepeat}, got)
	assert.Equal(t, 6, b.RepeatCount)
}

func TestButtonState_ReleaseAlwaysResets(t *testing.T) {
	for _, held := range []int{0, 1, 3, 4, 10} {
		var b ButtonState
		for i := 0; i < held; i++ {
			b.Observe("4b")
		}
		assert.Equal(t, PressNone, b.Observe(releaseCode))
		assert.Equal(t, ButtonState{}, b, "after %d notifications", held)
	}
}

func TestButtonState_SameKeyAfterReleaseIsNew(t *testing.T) {
	var b ButtonState
	b.Observe("52")
	b.Observe(releaseCode)
	assert.Equal(t, PressNew, b.Observe("52"))
}
