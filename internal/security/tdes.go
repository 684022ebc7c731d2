package security

import (
	"bytes"
	"crypto/cipher"
	"crypto/des"
	"fmt"
)

// TripleDESKey fits an arbitrary shared key into 24 bytes: longer keys are
// truncated, shorter ones are zero padded.
func TripleDESKey(key []byte) []byte {
	out := make([]byte, 24)
	copy(out, key)
	return out
}

// EncryptTripleDES encrypts plaintext with 3DES in ECB mode and PKCS#5
// padding, the scheme payment processors use for card payload encryption.
func EncryptTripleDES(key, plaintext []byte) ([]byte, error) {
	bs := des.BlockSize
	pad := bs - len(plaintext)%bs
	padded := append(append([]byte{}, plaintext...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	return encryptECB(TripleDESKey(key), padded)
}

// DecryptTripleDES reverses EncryptTripleDES.
func DecryptTripleDES(key, ciphertext []byte) ([]byte, error) {
	block, err := des.NewTripleDESCipher(TripleDESKey(key))
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%bs != 0 {
		return nil, fmt.Errorf("ciphertext is not a multiple of the block size")
	}
	out := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += bs {
		block.Decrypt(out[i:i+bs], ciphertext[i:i+bs])
	}
	pad := int(out[len(out)-1])
	if pad == 0 || pad > bs || pad > len(out) {
		return nil, fmt.Errorf("invalid padding")
	}
	return out[:len(out)-pad], nil
}

func encryptECB(key, data []byte) ([]byte, error) {
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return nil, err
	}
	return ecbEncrypt(block, data), nil
}

func ecbEncrypt(block cipher.Block, data []byte) []byte {
	bs := block.BlockSize()
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += bs {
		block.Encrypt(out[i:i+bs], data[i:i+bs])
	}
	return out
}
