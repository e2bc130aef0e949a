package adaptive

import (
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// NewChaCha20 creates a ChaCha20-Poly1305 cipher. Key must be 32 bytes.
func NewChaCha20(key []byte) (Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("adaptive: ChaCha20-Poly1305 key must be 32 bytes")
	}
	impl, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &aead{typ: CipherChaCha20, impl: impl}, nil
}
