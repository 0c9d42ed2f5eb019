package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// rawURL is unpadded base64url that also rejects non-zero trailing bits, so
// every distinct segment string decodes to distinct bytes.
var rawURL = base64.RawURLEncoding.Strict()

// Base64URLEncode encodes b as unpadded base64url.
func Base64URLEncode(b []byte) string {
	return rawURL.EncodeToString(b)
}

// Base64URLDecode decodes an unpadded base64url segment. Padding characters
// and non-canonical encodings are rejected.
func Base64URLDecode(s string) ([]byte, error) {
	return rawURL.DecodeString(s)
}

// HMACSHA256 returns the keyed SHA-256 digest of msg.
func HMACSHA256(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// ConstantTimeEqual reports whether a and b are equal. The running time
// depends only on the lengths of the inputs, never on their contents.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
