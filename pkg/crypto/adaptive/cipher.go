package adaptive

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// CipherType identifies the cipher algorithm.
type CipherType string

const (
	CipherAESGCM   CipherType = "aes-gcm"
	CipherChaCha20 CipherType = "chacha20-poly1305"

	// CipherAuto selects by platform, see New.
	CipherAuto CipherType = "auto"
)

// KeySize is the size of derived keys.
const KeySize = 32

// MinSecretLength is the shortest secret FromSecret accepts.
const MinSecretLength = 16

// ErrCiphertextTooShort is returned for input shorter than a nonce.
var ErrCiphertextTooShort = errors.New("adaptive: ciphertext too short")

// Cipher provides authenticated encryption.
type Cipher interface {
	// Type returns the cipher type.
	Type() CipherType

	// Encrypt seals plaintext, binding additionalData.
	Encrypt(plaintext, additionalData []byte) ([]byte, error)

	// Decrypt opens a value produced by Encrypt with the same additionalData.
	Decrypt(ciphertext, additionalData []byte) ([]byte, error)

	// NonceSize returns the nonce size in bytes.
	NonceSize() int

	// Overhead returns the nonce plus authentication tag size in bytes.
	Overhead() int
}

// New creates a cipher for key, choosing the algorithm by platform.
func New(key []byte) (Cipher, error) {
	return NewWithType(key, CipherAuto)
}

// NewWithType creates a cipher of the specified type.
func NewWithType(key []byte, cipherType CipherType) (Cipher, error) {
	switch CipherType(strings.ToLower(string(cipherType))) {
	case CipherAuto, "":
		if hasHardwareAES() {
			return NewAESGCM(key)
		}
		return NewChaCha20(key)
	case CipherAESGCM:
		return NewAESGCM(key)
	case CipherChaCha20:
		return NewChaCha20(key)
	default:
		return nil, fmt.Errorf("adaptive: unknown cipher type %q", cipherType)
	}
}

// DeriveKey stretches secret into a KeySize key with HKDF-SHA256. info
// separates keys derived from one secret for different purposes.
func DeriveKey(secret []byte, info string) ([]byte, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("adaptive: secret must be at least %d bytes", MinSecretLength)
	}
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, secret, []byte("annomesh/adaptive/v1"), []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("adaptive: derive key: %w", err)
	}
	return key, nil
}

// FromSecret derives an archive key from secret and returns a cipher of the
// requested type.
func FromSecret(secret string, cipherType CipherType) (Cipher, error) {
	key, err := DeriveKey([]byte(secret), "archive")
	if err != nil {
		return nil, err
	}
	return NewWithType(key, cipherType)
}

// hasHardwareAES reports whether crypto/aes is hardware accelerated here.
// Go uses AES-NI on amd64 and the ARMv8 crypto extensions on arm64.
func hasHardwareAES() bool {
	switch runtime.GOARCH {
	case "amd64", "arm64", "s390x", "ppc64le":
		return true
	default:
		return false
	}
}

// aead implements Cipher on top of a cipher.AEAD.
type aead struct {
	typ  CipherType
	impl cipher.AEAD
}

func (c *aead) Type() CipherType { return c.typ }

func (c *aead) NonceSize() int { return c.impl.NonceSize() }

func (c *aead) Overhead() int { return c.impl.NonceSize() + c.impl.Overhead() }

func (c *aead) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, c.impl.NonceSize(), c.impl.NonceSize()+len(plaintext)+c.impl.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("adaptive: nonce: %w", err)
	}
	return c.impl.Seal(nonce, nonce, plaintext, additionalData), nil
}

func (c *aead) Decrypt(ciphertext, additionalData []byte) ([]byte, error) {
	n := c.impl.NonceSize()
	if len(ciphertext) < n+c.impl.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	return c.impl.Open(nil, ciphertext[:n], ciphertext[n:], additionalData)
}
