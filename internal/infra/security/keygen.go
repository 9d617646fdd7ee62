package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// accessKeyBytes is the entropy behind an issued access key. 16 bytes keeps
// the hex form short enough to paste while staying unguessable.
const accessKeyBytes = 16

// GenerateAccessKey returns a random lowercase hex access key.
func GenerateAccessKey() (string, error) {
	buf := make([]byte, accessKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate access key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateSessionID returns a base64 URL-safe random session identifier.
func GenerateSessionID() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
