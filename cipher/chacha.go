package cipher

import (
	"golang.org/x/crypto/chacha20poly1305"
)

// ChaCha20Poly1305 is the default Cipher implementation, an AEAD
// construction from golang.org/x/crypto. It satisfies Cipher without
// the dispatch core ever importing this file directly.
type ChaCha20Poly1305 struct{}

func (ChaCha20Poly1305) KeySize() int   { return chacha20poly1305.KeySize }
func (ChaCha20Poly1305) NonceSize() int { return chacha20poly1305.NonceSize }

func (ChaCha20Poly1305) Encrypt(key, nonce, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

func (ChaCha20Poly1305) Decrypt(key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}
