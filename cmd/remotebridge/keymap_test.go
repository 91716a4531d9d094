package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKey(t *testing.T) {
	assert.Equal(t, Key{KeyNav, "up"}, LookupKey("52"))
	assert.Equal(t, Key{KeyAudioForced, "play"}, LookupKey("B0"))
	assert.Equal(t, Key{KeyDigit, "0"}, LookupKey("27"))
	assert.Equal(t, Key{KeyUnmapped, "ee"}, LookupKey("ee"))
}

func TestKeyTable_DigitsAreComplete(t *testing.T) {
	seen := map[string]bool{}
	for _, k := range keyTable {
		if k.Kind == KeyDigit {
			seen[k.Value] = true
		}
	}
	for d := 0; d <= 9; d++ {
		assert.True(t, seen[digitString(d)], "digit %d missing from key table", d)
	}
}

func TestParseCommandCode(t *testing.T) {
	valid := map[string]string{
		"52":   "52",
		"0x1E": "1e",
		" B0 ": "b0",
		"7":    "07",
	}
	for in, want := range valid {
		got, err := ParseCommandCode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, in := range []string{"", "0x", "123", "zz", "1g"} {
		_, err := ParseCommandCode(in)
		assert.Error(t, err, in)
	}
}
