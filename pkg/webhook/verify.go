// Package webhook is the Webhook Ingest module (spec §4.7): verifies the
// Linear HMAC-SHA256 signature on inbound delivery bodies, normalizes the
// untyped JSON payload into typed event variants, upserts the Linear
// mirror rows, and runs the maybeAutoAssign matching rule against the
// Lifecycle Manager.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifySignature reports whether signatureHex (the lowercase-hex
// `linear-signature` header value) is the HMAC-SHA256 of body keyed by
// secret, using a constant-time comparison to avoid a timing oracle.
func VerifySignature(secret []byte, body []byte, signatureHex string) bool {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := mac.Sum(nil)
	return hmac.Equal(expected, sig)
}
