package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeyring(t *testing.T) {
	current := []byte(strings.Repeat("a", 32))
	previous := []byte(strings.Repeat("b", 32))

	kr, err := NewKeyring([][]byte{current, previous})
	require.NoError(t, err)
	assert.Equal(t, 2, kr.Len())

	cur := kr.Current()
	assert.Len(t, cur.Key, 32)
	assert.NotEqual(t, current, cur.Key, "derived key must differ from the raw secret")

	got, ok := kr.Lookup(cur.ID)
	require.True(t, ok)
	assert.Equal(t, cur.Key, got.Key)

	// Derivation is deterministic across restarts
	again, err := NewKeyring([][]byte{previous})
	require.NoError(t, err)
	_, ok = kr.Lookup(again.Current().ID)
	assert.True(t, ok)

	_, ok = kr.Lookup("unknown")
	assert.False(t, ok)
}

func TestNewKeyring_Errors(t *testing.T) {
	tests := []struct {
		name    string
		secrets [][]byte
		errMsg  string
	}{
		{
			name:    "no_secrets",
			secrets: nil,
			errMsg:  "at least one signing secret",
		},
		{
			name:    "short_secret",
			secrets: [][]byte{[]byte("short")},
			errMsg:  "must be at least 32 bytes",
		},
		{
			name:    "duplicate_secret",
			secrets: [][]byte{[]byte(strings.Repeat("c", 32)), []byte(strings.Repeat("c", 32))},
			errMsg:  "duplicates",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewKeyring(tt.secrets)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
