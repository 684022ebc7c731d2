package card

import (
	"crypto/rand"
	"fmt"
	"strings"
	"unicode"
)

const (
	minPANLen = 13
	maxPANLen = 19
)

// Normalize removes whitespace from a card number. Any other character is
// kept so that IsLuhnValid can reject it.
func Normalize(pan string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, pan)
}

// IsLuhnValid reports whether pan, after whitespace is stripped, has 13..19
// digits and passes the Luhn mod 10 check.
func IsLuhnValid(pan string) bool {
	return ValidatePAN(Normalize(pan)) == nil
}

// ValidatePAN checks length, digits and the Luhn check digit of an already
// normalized PAN.
func ValidatePAN(pan string) error {
	if pan == "" {
		return fmt.Errorf("pan is required")
	}
	if !IsDigits(pan) {
		return fmt.Errorf("pan must contain digits only")
	}
	if l := len(pan); l < minPANLen || l > maxPANLen {
		return fmt.Errorf("pan length must be %d..%d digits (got %d)", minPANLen, maxPANLen, l)
	}

	body := pan[:len(pan)-1]
	if pan[len(pan)-1] != CheckDigit(body) {
		return fmt.Errorf("invalid luhn check digit")
	}
	return nil
}

// CheckDigit returns the Luhn check digit for body.
func CheckDigit(body string) byte {
	sum, dbl := 0, true
	for i := len(body) - 1; i >= 0; i-- {
		d := int(body[i] - '0')
		if dbl {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		dbl = !dbl
	}
	return '0' + byte((10-(sum%10))%10)
}

// Generate returns a random Luhn-valid PAN of totalLen digits starting with
// prefix. It is used by the processor simulator and in tests.
func Generate(prefix string, totalLen int) (string, error) {
	if !IsDigits(prefix) {
		return "", fmt.Errorf("prefix must be numeric")
	}
	if totalLen < minPANLen || totalLen > maxPANLen {
		return "", fmt.Errorf("total length must be %d..%d", minPANLen, maxPANLen)
	}
	fill := totalLen - 1 - len(prefix)
	if fill < 0 {
		return "", fmt.Errorf("prefix too long: %s", prefix)
	}
	digits, err := randomDigits(fill)
	if err != nil {
		return "", fmt.Errorf("rand: %w", err)
	}
	body := prefix + digits
	return body + string(CheckDigit(body)), nil
}

// randomDigits uses rejection sampling so every digit is equally likely.
func randomDigits(count int) (string, error) {
	if count <= 0 {
		return "", nil
	}
	const threshold = 250 // 256 - (256 % 10)
	var sb strings.Builder
	sb.Grow(count)
	buf := make([]byte, 64)
	for sb.Len() < count {
		n, err := rand.Read(buf)
		if err != nil {
			return "", err
		}
		for i := 0; i < n && sb.Len() < count; i++ {
			if b := buf[i]; b < threshold {
				sb.WriteByte('0' + (b % 10))
			}
		}
	}
	return sb.String(), nil
}

// Mask renders the PAN as ****-****-****-XXXX.
func Mask(pan string) string {
	return "****-****-****-" + LastN(pan, 4)
}

func LastN(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
