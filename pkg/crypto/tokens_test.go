package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(key)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewTokenCipher(testKey(t))
	require.NoError(t, err)

	token := "1//refresh-token-value"
	enc, err := c.Encrypt(token)
	require.NoError(t, err)
	assert.NotEqual(t, token, enc)

	dec, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, token, dec)
}

func TestEncryptProducesUniqueCiphertext(t *testing.T) {
	c, err := NewTokenCipher(testKey(t))
	require.NoError(t, err)

	a, err := c.Encrypt("same")
	require.NoError(t, err)
	b, err := c.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b) // fresh nonce every time
}

func TestDecryptWithWrongKey(t *testing.T) {
	c1, err := NewTokenCipher(testKey(t))
	require.NoError(t, err)
	c2, err := NewTokenCipher(testKey(t))
	require.NoError(t, err)

	enc, err := c1.Encrypt("secret")
	require.NoError(t, err)

	_, err = c2.Decrypt(enc)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestInvalidKeys(t *testing.T) {
	_, err := NewTokenCipher("")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewTokenCipher("not base64!!")
	assert.ErrorIs(t, err, ErrInvalidKey)

	// Valid base64 but wrong length.
	_, err = NewTokenCipher(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestEmptyStringPassThrough(t *testing.T) {
	c, err := NewTokenCipher(testKey(t))
	require.NoError(t, err)

	enc, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", enc)

	dec, err := c.Decrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", dec)
}
