package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SignatureVerifier checks regional gateway payment signatures: the hex
// HMAC-SHA256 of "orderID|paymentID" under the gateway key secret.
type SignatureVerifier struct {
	secret []byte
}

// NewSignatureVerifier returns a verifier for the given shared secret.
func NewSignatureVerifier(secret []byte) *SignatureVerifier {
	return &SignatureVerifier{secret: secret}
}

// Sign returns the expected signature for the pair.
func (v *SignatureVerifier) Sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the pair. The comparison runs in
// constant time. A verifier without a secret accepts nothing.
func (v *SignatureVerifier) Verify(orderID, paymentID, signature string) bool {
	if len(v.secret) == 0 {
		return false
	}
	expected := v.Sign(orderID, paymentID)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
