// Package webhooks handles inbound provider callbacks: signature
// verification and duplicate-delivery suppression.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

const (
	// SignatureHeader is the HTTP header carrying the payload signature.
	SignatureHeader = "X-Webhook-Signature"

	// TimestampHeader is the HTTP header carrying the delivery timestamp.
	TimestampHeader = "X-Webhook-Timestamp"
)

// SignPayload generates an HMAC-SHA256 signature for the given payload.
func SignPayload(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature verifies a payload signature in constant time.
func VerifySignature(secret string, payload []byte, signature string) bool {
	expected := SignPayload(secret, payload)
	return constantTimeEqual(expected, signature)
}

func constantTimeEqual(a, b string) bool {
	aBytes, aErr := hex.DecodeString(a)
	bBytes, bErr := hex.DecodeString(b)
	if aErr != nil || bErr != nil {
		return false
	}
	return subtle.ConstantTimeCompare(aBytes, bBytes) == 1
}

// ExtractSignature extracts the signature from HTTP headers, handling
// prefixed forms like "sha256=abc123" and common alternative header names.
func ExtractSignature(headers http.Header) (string, bool) {
	candidates := []string{
		SignatureHeader,
		"X-Hub-Signature-256",
		"X-Signature-256",
		"Webhook-Signature",
	}
	for _, name := range candidates {
		signature := headers.Get(name)
		if signature == "" {
			continue
		}
		if idx := strings.Index(signature, "="); idx > 0 {
			signature = signature[idx+1:]
		}
		return signature, true
	}
	return "", false
}
