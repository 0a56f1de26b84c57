package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignHMAC returns the hex encoded HMAC-SHA256 of message
func SignHMAC(message []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(message)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHMAC checks a signature produced by SignHMAC. An optional
// "sha256=" prefix is accepted. An empty secret never verifies.
func VerifyHMAC(message []byte, signature, secret string) bool {
	if secret == "" {
		return false
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(message)
	return hmac.Equal(got, h.Sum(nil))
}
