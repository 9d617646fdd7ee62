package security

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// FingerprintInput carries the request headers folded into the device
// fingerprint. None of these are authenticated; the fingerprint is a
// low-assurance binding signal, not an identity proof.
type FingerprintInput struct {
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
}

// Fingerprint derives a stable hex digest from the supplied headers.
func Fingerprint(in FingerprintInput) string {
	material := strings.Join([]string{
		strings.TrimSpace(in.UserAgent),
		strings.TrimSpace(in.AcceptLanguage),
		strings.TrimSpace(in.AcceptEncoding),
	}, "|")

	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}
