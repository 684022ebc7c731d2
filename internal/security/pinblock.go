package security

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// PINBlockFormat0 builds a clear ISO 9564 format 0 PIN block: the PIN field
// XOR-ed with the rightmost twelve PAN digits excluding the check digit.
func PINBlockFormat0(pin, pan string) ([]byte, error) {
	if l := len(pin); l < 4 || l > 12 {
		return nil, fmt.Errorf("pin length must be 4..12 (got %d)", l)
	}
	if len(pan) < 13 {
		return nil, fmt.Errorf("pan too short for pin block")
	}
	for _, s := range []string{pin, pan} {
		for i := 0; i < len(s); i++ {
			if s[i] < '0' || s[i] > '9' {
				return nil, fmt.Errorf("pin block input must be digits")
			}
		}
	}

	pinField := fmt.Sprintf("0%X%s", len(pin), pin)
	pinField += strings.Repeat("F", 16-len(pinField))

	body := pan[:len(pan)-1]
	panField := "0000" + body[len(body)-12:]

	a, err := hex.DecodeString(pinField)
	if err != nil {
		return nil, err
	}
	b, err := hex.DecodeString(panField)
	if err != nil {
		return nil, err
	}
	block := make([]byte, 8)
	for i := range block {
		block[i] = a[i] ^ b[i]
	}
	return block, nil
}

// PINEncryptor turns a clear PIN block into the form sent on the wire.
type PINEncryptor interface {
	EncryptPINBlock(block []byte) ([]byte, error)
}

// TDESPINEncryptor encrypts PIN blocks with a software-held triple DES key.
// Terminals with an HSM use the hsm package instead.
type TDESPINEncryptor struct {
	key []byte
}

func NewTDESPINEncryptor(hexKey string) (*TDESPINEncryptor, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding pin key: %w", err)
	}
	if len(key) != 16 && len(key) != 24 {
		return nil, fmt.Errorf("pin key must be 16 or 24 bytes (got %d)", len(key))
	}
	if len(key) == 16 {
		key = append(key, key[:8]...)
	}
	return &TDESPINEncryptor{key: key}, nil
}

func (e *TDESPINEncryptor) EncryptPINBlock(block []byte) ([]byte, error) {
	if len(block) != 8 {
		return nil, fmt.Errorf("pin block must be 8 bytes")
	}
	return encryptECB(e.key, block)
}

// Wipe zeroes b. Go gives no guarantee that copies do not survive elsewhere.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
