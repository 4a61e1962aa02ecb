package credentials

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)
	return c
}

func TestCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	tests := []struct {
		name      string
		plaintext string
	}{
		{"access token", "ya29.a0AfH6SMBx"},
		{"refresh token", "1//0gLongRefreshTokenValue"},
		{"unicode", "token_🔐"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := c.Encrypt(tt.plaintext)
			require.NoError(t, err)
			assert.NotEqual(t, tt.plaintext, enc)
			_, err = base64.StdEncoding.DecodeString(enc)
			assert.NoError(t, err)

			dec, err := c.Decrypt(enc)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, dec)
		})
	}
}

func TestCipher_NonceIsRandom(t *testing.T) {
	c := newTestCipher(t)
	a, err := c.Encrypt("same")
	require.NoError(t, err)
	b, err := c.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCipher_Empty(t *testing.T) {
	c := newTestCipher(t)
	enc, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, enc)
	dec, err := c.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, dec)
}

func TestCipher_WrongKey(t *testing.T) {
	enc, err := newTestCipher(t).Encrypt("secret")
	require.NoError(t, err)
	_, err = newTestCipher(t).Decrypt(enc)
	assert.Error(t, err)
}

func TestCipher_Tampered(t *testing.T) {
	c := newTestCipher(t)
	enc, err := c.Encrypt("secret")
	require.NoError(t, err)
	raw, _ := base64.StdEncoding.DecodeString(enc)
	raw[len(raw)-1] ^= 0xff
	_, err = c.Decrypt(base64.StdEncoding.EncodeToString(raw))
	assert.Error(t, err)

	_, err = c.Decrypt("not base64!")
	assert.Error(t, err)
	_, err = c.Decrypt(base64.StdEncoding.EncodeToString([]byte("ab")))
	assert.Error(t, err)
}

func TestNewCipher_KeySize(t *testing.T) {
	_, err := NewCipher(make([]byte, 16))
	assert.Error(t, err)
}

func TestKeyBase64(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	decoded, err := KeyFromBase64(KeyToBase64(key))
	require.NoError(t, err)
	assert.Equal(t, key, decoded)

	_, err = KeyFromBase64("")
	assert.Error(t, err)
	_, err = KeyFromBase64(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
	_, err = KeyFromBase64("%%%")
	assert.Error(t, err)
}
