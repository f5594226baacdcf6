package security

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Base64Encoder is the default PII encoder. It is reversible so the
// collection API can recover the address it was given.
type Base64Encoder struct{}

// Encode normalizes the address and returns its URL-safe base64 form.
func (Base64Encoder) Encode(plaintext string) string {
	return base64.URLEncoding.EncodeToString([]byte(normalizeEmail(plaintext)))
}

// KeyedEncoder produces a one-way keyed BLAKE2b-256 digest, hex encoded.
type KeyedEncoder struct {
	key []byte
}

// NewKeyedEncoder accepts a hex key, or raw text when the key is not hex.
func NewKeyedEncoder(key string) (*KeyedEncoder, error) {
	if key == "" {
		return nil, errors.New("empty PII key")
	}
	keyBytes, err := hex.DecodeString(key)
	if err != nil {
		keyBytes = []byte(key)
	}
	if len(keyBytes) > blake2b.Size {
		return nil, fmt.Errorf("PII key too long: %d bytes, max %d", len(keyBytes), blake2b.Size)
	}
	return &KeyedEncoder{key: keyBytes}, nil
}

// Encode returns the keyed digest of the normalized address.
func (e *KeyedEncoder) Encode(plaintext string) string {
	// key length is checked in NewKeyedEncoder, the only error New256 returns
	h, _ := blake2b.New256(e.key)
	h.Write([]byte(normalizeEmail(plaintext)))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
