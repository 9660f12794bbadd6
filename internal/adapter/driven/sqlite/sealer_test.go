package sqlite

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealer_RoundTrip(t *testing.T) {
	s, err := NewSealer(bytes.Repeat([]byte{1}, KeySize))
	require.NoError(t, err)

	sealed, err := s.Seal("ya29.token", "cred-1")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "ya29")

	plain, err := s.Open(sealed, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "ya29.token", plain)
}

func TestSealer_NonceIsRandom(t *testing.T) {
	s, err := NewSealer(bytes.Repeat([]byte{1}, KeySize))
	require.NoError(t, err)

	a, err := s.Seal("same", "id")
	require.NoError(t, err)
	b, err := s.Seal("same", "id")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestSealer_RejectsOtherRow(t *testing.T) {
	s, err := NewSealer(bytes.Repeat([]byte{1}, KeySize))
	require.NoError(t, err)

	sealed, err := s.Seal("secret", "cred-1")
	require.NoError(t, err)

	_, err = s.Open(sealed, "cred-2")
	assert.Error(t, err)
}

func TestSealer_RejectsShortKey(t *testing.T) {
	_, err := NewSealer([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSealer_RejectsGarbage(t *testing.T) {
	s, err := NewSealer(bytes.Repeat([]byte{1}, KeySize))
	require.NoError(t, err)

	_, err = s.Open("not base64!", "id")
	assert.Error(t, err)

	_, err = s.Open("AAAA", "id")
	assert.Error(t, err)
}
