package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	sealInfo = "carelink-storage-v1"
	keySize  = chacha20poly1305.KeySize
)

// SealError represents a sealing/unsealing error.
type SealError struct {
	Message string
}

func (e *SealError) Error() string {
	return e.Message
}

// Sealer encrypts small values before they reach durable storage.
// A nil *Sealer passes values through unchanged.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a base64-encoded 32-byte key. The storage
// key is derived from it with HKDF-SHA256 so the configured secret is never
// used directly.
func NewSealer(keyB64 string) (*Sealer, error) {
	raw, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, &SealError{Message: fmt.Sprintf("invalid storage key: %v", err)}
	}
	if len(raw) != keySize {
		return nil, &SealError{Message: fmt.Sprintf("invalid storage key length: %d, expected %d", len(raw), keySize)}
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, raw, nil, []byte(sealInfo)), key); err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// GenerateKey returns a fresh base64-encoded storage key.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Seal encrypts plaintext. Wire format: nonce[12] + ciphertext[N+16].
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	if s == nil {
		return append([]byte(nil), plaintext...), nil
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if s == nil {
		return append([]byte(nil), sealed...), nil
	}

	ns := s.aead.NonceSize()
	if len(sealed) < ns+s.aead.Overhead() {
		return nil, &SealError{Message: fmt.Sprintf("sealed value too short: %d bytes", len(sealed))}
	}

	plaintext, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, &SealError{Message: "unseal failed: wrong key or tampered value"}
	}
	return plaintext, nil
}
