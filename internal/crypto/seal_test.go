package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSealer(t *testing.T) *Sealer {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	s, err := NewSealer(key)
	require.NoError(t, err)
	return s
}

func TestRoundTrip(t *testing.T) {
	s := newTestSealer(t)

	sealed, err := s.Seal([]byte("bearer-token"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "bearer-token")

	pt, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "bearer-token", string(pt))
}

func TestWireFormatStructure(t *testing.T) {
	s := newTestSealer(t)

	sealed, err := s.Seal([]byte("test"))
	require.NoError(t, err)
	// 12 (nonce) + 4 (plaintext) + 16 (tag) = 32
	assert.Len(t, sealed, 32)
}

func TestDifferentCiphertexts(t *testing.T) {
	s := newTestSealer(t)

	a, _ := s.Seal([]byte("same"))
	b, _ := s.Seal([]byte("same"))
	assert.NotEqual(t, a, b)
}

func TestWrongKeyFails(t *testing.T) {
	sealed, err := newTestSealer(t).Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = newTestSealer(t).Open(sealed)
	require.Error(t, err)
	var se *SealError
	assert.ErrorAs(t, err, &se)
}

func TestTruncatedFails(t *testing.T) {
	_, err := newTestSealer(t).Open([]byte("short"))
	var se *SealError
	assert.ErrorAs(t, err, &se)
}

func TestNilSealerPassesThrough(t *testing.T) {
	var s *Sealer

	sealed, err := s.Seal([]byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, "plain", string(sealed))

	pt, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "plain", string(pt))
}

func TestNewSealerRejectsBadKeys(t *testing.T) {
	var se *SealError
	_, err := NewSealer("not base64!")
	assert.ErrorAs(t, err, &se)

	_, err = NewSealer("c2hvcnQ=")
	assert.ErrorAs(t, err, &se)
}
