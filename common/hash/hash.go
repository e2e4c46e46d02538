package hash

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"

	"github.com/google/uuid"
)

// SignHMAC computes the HMAC-SHA256 of body under secret, hex encoded.
func SignHMAC(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMACHex checks a hex-encoded HMAC-SHA256 signature in constant time.
func VerifyHMACHex(body []byte, secret, signature string) bool {
	expected := SignHMAC(body, secret)
	return ConstantTimeEqual(expected, signature)
}

// VerifyHMACBase64 checks a base64-encoded HMAC-SHA256 signature in constant time.
func VerifyHMACBase64(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return ConstantTimeEqual(expected, signature)
}

// ConstantTimeEqual compares two strings without leaking timing information.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// NewID returns a new random UUID string.
func NewID() string {
	return uuid.New().String()
}

// ShortID returns a short random identifier, used for consumer names and tokens.
func ShortID() string {
	return uuid.New().String()[:8]
}
