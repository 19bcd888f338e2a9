package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute(t *testing.T) {
	fp, err := Compute([]byte("test content"))
	require.NoError(t, err)

	// SHA256 produces 64 hex chars
	assert.Len(t, string(fp), 64)

	// Same content produces same fingerprint
	fp2, err := Compute([]byte("test content"))
	require.NoError(t, err)
	assert.Equal(t, fp, fp2)

	// Different content produces different fingerprint
	fp3, err := Compute([]byte("different content"))
	require.NoError(t, err)
	assert.NotEqual(t, fp, fp3)
}

func TestCompute_EmptyAndNil(t *testing.T) {
	empty, err := Compute([]byte{})
	require.NoError(t, err)

	nilContent, err := Compute(nil)
	require.NoError(t, err)

	// Nil and empty content are both zero bytes of content
	assert.Equal(t, empty, nilContent)

	// Known SHA-256 of the empty string
	assert.Equal(t, Fingerprint("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"), empty)
}

func TestFingerprint_Short(t *testing.T) {
	fp, err := Compute([]byte("hello"))
	require.NoError(t, err)

	assert.Len(t, fp.Short(), 12)
	assert.Equal(t, string(fp)[:12], fp.Short())

	// Short never slices beyond the digest
	assert.Equal(t, "abc", Fingerprint("abc").Short())
	assert.Equal(t, "", Fingerprint("").Short())
}
