package cipher

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChaCha20Poly1305RoundTrip(t *testing.T) {
	var c ChaCha20Poly1305

	key := make([]byte, c.KeySize())
	nonce := make([]byte, c.NonceSize())
	_, err := rand.Read(key)
	require.NoError(t, err)
	_, err = rand.Read(nonce)
	require.NoError(t, err)

	plaintext := []byte("nalix dispatch fabric")
	ciphertext, err := c.Encrypt(key, nonce, plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	got, err := c.Decrypt(key, nonce, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestChaCha20Poly1305RejectsTamperedCiphertext(t *testing.T) {
	var c ChaCha20Poly1305
	key := make([]byte, c.KeySize())
	nonce := make([]byte, c.NonceSize())

	ciphertext, err := c.Encrypt(key, nonce, []byte("payload"))
	require.NoError(t, err)
	ciphertext[0] ^= 0xFF

	_, err = c.Decrypt(key, nonce, ciphertext)
	require.Error(t, err)
}
