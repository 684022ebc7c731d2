package security

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// SignHMACSHA512 returns the upper-case hex HMAC-SHA512 of payload, the
// signature format used by the settlement processor's pay API.
func SignHMACSHA512(secret, payload string) string {
	h := hmac.New(sha512.New, []byte(secret))
	h.Write([]byte(payload))
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}
