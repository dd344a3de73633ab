package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Sign returns the hex-encoded HMAC-SHA256 of body under secret, the
// signature a receiver verifies against the X-Signature header.
func Sign(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether sig is the valid HMAC-SHA256 signature of body
// under secret, using a constant-time comparison.
func Verify(secret string, body []byte, sig string) bool {
	expected := Sign(secret, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) == 1
}
