// Package cipher declares the opaque encryption transform the core
// dispatch fabric treats as an external collaborator (spec §1): the
// dispatch core does not call it or any concrete algorithm,
// preserving the "cryptographic primitives are out of scope" boundary
// while still giving callers one concrete, corpus-grounded
// implementation to reach for.
package cipher

// Cipher is the opaque encrypt(key, nonce, bytes) / decrypt(...)
// transform for packets with FlagEncrypted set. The server does not
// apply it itself; callers do.
type Cipher interface {
	Encrypt(key, nonce, plaintext []byte) ([]byte, error)
	Decrypt(key, nonce, ciphertext []byte) ([]byte, error)
	NonceSize() int
	KeySize() int
}
