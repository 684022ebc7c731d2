package terminal

import (
	"context"
	"fmt"
	"io"

	"github.com/alovak/cardflow-terminal/internal/gateway"
	"github.com/alovak/cardflow-terminal/internal/gateway/acquirer"
	"github.com/alovak/cardflow-terminal/internal/gateway/flutterwave"
	"github.com/alovak/cardflow-terminal/internal/gateway/paypal"
	"github.com/alovak/cardflow-terminal/internal/gateway/stripe"
	"github.com/alovak/cardflow-terminal/internal/security"
	"golang.org/x/exp/slog"
)

// buildGateways creates the chain members in configured order. Closers are
// returned for gateways that hold connections.
func buildGateways(ctx context.Context, logger *slog.Logger, cfgs []GatewayConfig, secrets security.SecretStore, pins security.PINEncryptor) ([]gateway.Gateway, []io.Closer, error) {
	var (
		gateways []gateway.Gateway
		closers  []io.Closer
	)

	for _, gc := range cfgs {
		if gc.Name == "" {
			gc.Name = gc.Kind
		}
		secret := func(key string) (string, error) {
			return secrets.Secret(ctx, gc.Name+"."+key)
		}

		var g gateway.Gateway
		switch gc.Kind {
		case stripe.Kind:
			key, err := secret("secret_key")
			if err != nil {
				return nil, closers, err
			}
			g = stripe.New(stripe.Config{Name: gc.Name, BaseURL: gc.BaseURL, SecretKey: key, Timeout: gc.Timeout}, logger)

		case flutterwave.Kind:
			s, err := security.Resolve(ctx, secrets, gc.Name+".public_key", gc.Name+".secret_key", gc.Name+".encryption_key")
			if err != nil {
				return nil, closers, err
			}
			email, _ := secret("email")
			g = flutterwave.New(flutterwave.Config{
				Name:          gc.Name,
				BaseURL:       gc.BaseURL,
				PublicKey:     s[gc.Name+".public_key"],
				SecretKey:     s[gc.Name+".secret_key"],
				EncryptionKey: s[gc.Name+".encryption_key"],
				Email:         email,
				Timeout:       gc.Timeout,
			}, logger)

		case paypal.Kind:
			s, err := security.Resolve(ctx, secrets, gc.Name+".client_id", gc.Name+".client_secret")
			if err != nil {
				return nil, closers, err
			}
			g = paypal.New(paypal.Config{
				Name:         gc.Name,
				BaseURL:      gc.BaseURL,
				ClientID:     s[gc.Name+".client_id"],
				ClientSecret: s[gc.Name+".client_secret"],
				Timeout:      gc.Timeout,
			}, logger)

		case acquirer.Kind:
			c, err := acquirer.Dial(acquirer.Config{Name: gc.Name, Addr: gc.Addr, Timeout: gc.Timeout}, pins, logger)
			if err != nil {
				return nil, closers, err
			}
			closers = append(closers, c)
			g = c

		default:
			return nil, closers, fmt.Errorf("gateway %s: unsupported kind %q", gc.Name, gc.Kind)
		}

		gateways = append(gateways, g)
	}

	return gateways, closers, nil
}
