package service

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// HMACSignatureService implements ports.SignatureService using HMAC-SHA512,
// the scheme Paystack uses for X-Paystack-Signature.
type HMACSignatureService struct{}

// NewHMACSignatureService creates a new HMAC-SHA512 signature service.
func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{}
}

// Sign computes HMAC-SHA512 of payload using secretKey.
// Returns lowercase hex-encoded signature.
func (s *HMACSignatureService) Sign(secretKey string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against HMAC-SHA512(secretKey, payload) in
// constant time. An empty secret never verifies.
func (s *HMACSignatureService) Verify(secretKey string, payload []byte, signature string) bool {
	if secretKey == "" || signature == "" {
		return false
	}
	expected := s.Sign(secretKey, payload)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
