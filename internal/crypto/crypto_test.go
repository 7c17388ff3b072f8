package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipher_EncryptDecrypt(t *testing.T) {
	c, err := NewCipher("32-byte-key-for-aes-encryption!!")
	require.NoError(t, err)

	ciphertext, nonce, err := c.Encrypt("a@b.com")
	require.NoError(t, err)
	assert.NotEqual(t, []byte("a@b.com"), ciphertext)

	plaintext, err := c.Decrypt(ciphertext, nonce)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", plaintext)
}

func TestCipher_TamperedCiphertext(t *testing.T) {
	c, err := NewCipher("32-byte-key-for-aes-encryption!!")
	require.NoError(t, err)

	ciphertext, nonce, err := c.Encrypt("a@b.com")
	require.NoError(t, err)
	ciphertext[0] ^= 0xff

	_, err = c.Decrypt(ciphertext, nonce)
	assert.Error(t, err)
}

func TestNewCipher_BadKey(t *testing.T) {
	_, err := NewCipher("short")
	assert.Error(t, err)
}
