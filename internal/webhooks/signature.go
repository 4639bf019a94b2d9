package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// signatureHeaders lists where vendors put the signature, most specific last.
func signatureHeaders(vendor string) []string {
	return []string{"X-Webhook-Signature", "X-Signature", "X-" + vendor + "-Signature"}
}

func signatureFrom(h http.Header, vendor string) string {
	for _, name := range signatureHeaders(vendor) {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// Sign returns the hex HMAC-SHA256 of body, as vendors send it.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature accepts a hex HMAC of the body, optionally prefixed with
// "sha256=", or the bare shared secret.
func verifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	provided := strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	expected := Sign(secret, body)
	if hmac.Equal([]byte(strings.ToLower(provided)), []byte(expected)) {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(signature), []byte(secret)) == 1
}
