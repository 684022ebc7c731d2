//go:build softhsm

package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/alovak/cardflow-terminal/internal/security"
	"github.com/alovak/cardflow-terminal/internal/security/hsm"
	"github.com/alovak/cardflow-terminal/terminal"
)

// configureHSM opens a PKCS#11 session when hsm.lib is configured and makes
// the app encrypt PIN blocks with it.
func configureHSM(ctx context.Context, app *terminal.App, secrets security.SecretStore) (func(), error) {
	lib, err := secrets.Secret(ctx, "hsm.lib")
	if errors.Is(err, security.ErrSecretNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s, err := security.Resolve(ctx, secrets, "hsm.slot", "hsm.pin", "hsm.key_label")
	if err != nil {
		return nil, err
	}
	slot, err := strconv.ParseUint(s["hsm.slot"], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("hsm.slot: %w", err)
	}

	enc := hsm.NewPINEncryptor(lib, uint(slot), s["hsm.pin"], s["hsm.key_label"])
	if err := enc.Open(); err != nil {
		return nil, fmt.Errorf("opening hsm: %w", err)
	}
	app.PINEncryptor = enc
	return enc.Close, nil
}
