package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSigner_rejectsEmptySecret(t *testing.T) {
	_, err := NewSigner("")
	assert.Error(t, err)
}

func TestSigner_knownVectors(t *testing.T) {
	s, err := NewSigner("key")
	require.NoError(t, err)
	data := []byte("The quick brown fox jumps over the lazy dog")

	assert.Equal(t, "d7a8fbb307d7809469ca9abcb0082e4f8d5651e46d3cdb762d02d0bf37c9e592", s.Digest(data))
	assert.Equal(t, "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8", s.Sign(data))
	assert.True(t, s.CheckDigest(data, s.Digest(data)))
	assert.True(t, s.CheckSignature(data, s.Sign(data)))
}

func TestSigner_rejectsOtherKeyAndGarbage(t *testing.T) {
	a, _ := NewSigner("a")
	b, _ := NewSigner("b")
	data := []byte("archive")

	assert.False(t, b.CheckSignature(data, a.Sign(data)))
	assert.False(t, a.CheckSignature(data, "not-hex"))
	assert.False(t, a.CheckDigest(data, ""))
}
