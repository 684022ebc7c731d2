//go:build softhsm

package hsm

import (
	"fmt"
	"sync"

	"github.com/miekg/pkcs11"

	"github.com/alovak/cardflow-terminal/internal/security"
)

var _ security.PINEncryptor = (*PINEncryptor)(nil)

// PINEncryptor encrypts PIN blocks under a triple DES PIN key that never
// leaves the PKCS#11 token. Enabled with the softhsm build tag so default
// builds do not need cgo or a PKCS#11 module.
type PINEncryptor struct {
	libPath  string
	slotID   uint
	pin      string
	keyLabel string

	mu   sync.Mutex
	p11  *pkcs11.Ctx
	sess pkcs11.SessionHandle
	key  pkcs11.ObjectHandle
}

func NewPINEncryptor(libPath string, slotID uint, pin, keyLabel string) *PINEncryptor {
	return &PINEncryptor{libPath: libPath, slotID: slotID, pin: pin, keyLabel: keyLabel}
}

func (p *PINEncryptor) Open() error {
	p.p11 = pkcs11.New(p.libPath)
	if p.p11 == nil {
		return fmt.Errorf("load pkcs11 lib failed")
	}
	if err := p.p11.Initialize(); err != nil {
		return err
	}
	sess, err := p.p11.OpenSession(pkcs11.SlotID(p.slotID), pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		_ = p.p11.Finalize()
		return err
	}
	p.sess = sess
	if err := p.p11.Login(p.sess, pkcs11.CKU_USER, p.pin); err != nil {
		_ = p.p11.CloseSession(p.sess)
		_ = p.p11.Finalize()
		return err
	}

	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, p.keyLabel),
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_SECRET_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_DES3),
	}
	if err := p.p11.FindObjectsInit(p.sess, template); err != nil {
		return err
	}
	objs, _, err := p.p11.FindObjects(p.sess, 1)
	_ = p.p11.FindObjectsFinal(p.sess)
	if err != nil {
		return err
	}
	if len(objs) == 0 {
		return fmt.Errorf("pin key not found by label=%s", p.keyLabel)
	}
	p.key = objs[0]
	return nil
}

func (p *PINEncryptor) Close() {
	if p.p11 != nil {
		if p.sess != 0 {
			_ = p.p11.Logout(p.sess)
			_ = p.p11.CloseSession(p.sess)
		}
		_ = p.p11.Finalize()
		p.p11.Destroy()
		p.p11 = nil
	}
}

// EncryptPINBlock runs CKM_DES3_ECB over the 8 byte clear block. A PKCS#11
// session is single threaded, so calls are serialized.
func (p *PINEncryptor) EncryptPINBlock(block []byte) ([]byte, error) {
	if len(block) != 8 {
		return nil, fmt.Errorf("pin block must be 8 bytes")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.p11 == nil {
		return nil, fmt.Errorf("hsm session is not open")
	}
	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_DES3_ECB, nil)}
	if err := p.p11.EncryptInit(p.sess, mech, p.key); err != nil {
		return nil, fmt.Errorf("encrypt init: %w", err)
	}
	out, err := p.p11.Encrypt(p.sess, block)
	if err != nil {
		return nil, fmt.Errorf("encrypt pin block: %w", err)
	}
	return out, nil
}
