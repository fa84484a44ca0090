package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands secret into a key of the requested length using
// HKDF-SHA256. The purpose string binds the key to one use.
func DeriveKey(secret []byte, purpose string, length int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("hkdf: secret is required")
	}
	switch length {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("hkdf: key length must be 16, 24, or 32 bytes (got %d)", length)
	}

	key := make([]byte, length)
	reader := hkdf.New(sha256.New, secret, nil, []byte("popshop:"+purpose))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("hkdf: expand: %w", err)
	}
	return key, nil
}
