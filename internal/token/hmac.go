package token

import (
	"crypto/hmac"
	"crypto/sha256"
)

// Sign computes the HMAC-SHA256 signature over the canonical signing input
// "{headerB64}.{payloadB64}" keyed by secret.
func Sign(headerB64, payloadB64, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(headerB64))
	mac.Write([]byte("."))
	mac.Write([]byte(payloadB64))
	return mac.Sum(nil)
}

// SignaturesEqual compares two encoded signatures in constant time. The
// legacy plugin compared with plain equality; constant-time comparison closes
// the timing side channel without changing accept/reject behaviour.
func SignaturesEqual(expected, supplied string) bool {
	return hmac.Equal([]byte(expected), []byte(supplied))
}
