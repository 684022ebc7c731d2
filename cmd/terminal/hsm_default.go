//go:build !softhsm

package main

import (
	"context"

	"github.com/alovak/cardflow-terminal/internal/security"
	"github.com/alovak/cardflow-terminal/terminal"
)

// configureHSM is a no-op without the softhsm build tag; the software PIN
// key from the secret store is used instead.
func configureHSM(context.Context, *terminal.App, security.SecretStore) (func(), error) {
	return nil, nil
}
