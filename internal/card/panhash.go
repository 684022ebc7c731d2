package card

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint computes a keyed HMAC-SHA256 of the PAN so journal records for
// the same card can be grouped without storing the number.
func Fingerprint(pan string, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(Normalize(pan)))
	return hex.EncodeToString(h.Sum(nil))
}
