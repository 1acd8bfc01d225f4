package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrBadSignature = errors.New("bad webhook signature")

// Sign returns the hex HMAC-SHA256 of body under key.
func Sign(body []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the provider signature header. An empty key disables the
// check.
func Verify(body []byte, signature, key string) error {
	if key == "" {
		return nil
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return ErrBadSignature
	}
	want, _ := hex.DecodeString(Sign(body, key))
	if !hmac.Equal(got, want) {
		return ErrBadSignature
	}
	return nil
}
