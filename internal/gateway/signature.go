package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer computes checkout signatures: hex(HMAC-SHA256(secret, orderRef|paymentRef)).
type Signer struct {
	secret []byte
}

// NewSigner creates a signer for the shared signing secret
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the signature for a payment of an order
func (s *Signer) Sign(orderRef, paymentRef string) string {
	return hex.EncodeToString(s.mac(orderRef, paymentRef))
}

// Verify checks a signature in constant time
func (s *Signer) Verify(orderRef, paymentRef, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, s.mac(orderRef, paymentRef))
}

func (s *Signer) mac(orderRef, paymentRef string) []byte {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(orderRef + "|" + paymentRef))
	return m.Sum(nil)
}
