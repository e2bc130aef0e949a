// Package adaptive provides authenticated encryption for archived
// annotation state.
//
// New picks AES-256-GCM on platforms where Go uses hardware AES and
// ChaCha20-Poly1305 elsewhere. Operators configure a secret string rather
// than raw key bytes; FromSecret stretches it with HKDF-SHA256 into a
// 32-byte key for either algorithm.
//
// Ciphertexts carry their random nonce as a prefix. Callers bind each
// ciphertext to its storage key through the additional data so a value
// copied under another key fails to decrypt.
//
//	c, err := adaptive.FromSecret(secret, "auto")
//	sealed, err := c.Encrypt(value, key)
//	value, err = c.Decrypt(sealed, key)
package adaptive
