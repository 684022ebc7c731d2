package security

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves named credentials (API keys, encryption keys, wallet
// addresses). Components receive a store at construction and never read the
// process environment themselves.
type SecretStore interface {
	Secret(ctx context.Context, name string) (string, error)
}

// MapStore is an in-memory store, mostly for tests and the simulator.
type MapStore map[string]string

func (m MapStore) Secret(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok || v == "" {
		return "", fmt.Errorf("%s: %w", name, ErrSecretNotFound)
	}
	return v, nil
}

// EnvStore reads secrets from environment variables. The name is upper-cased,
// dots and dashes become underscores and Prefix is prepended, so
// "stripe.secret_key" with prefix "POS_" is read from POS_STRIPE_SECRET_KEY.
type EnvStore struct {
	Prefix string
	lookup func(string) (string, bool)
}

func NewEnvStore(prefix string) *EnvStore {
	return &EnvStore{Prefix: prefix, lookup: os.LookupEnv}
}

func (e *EnvStore) Secret(_ context.Context, name string) (string, error) {
	key := e.Key(name)
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%s (%s): %w", name, key, ErrSecretNotFound)
	}
	return v, nil
}

func (e *EnvStore) Key(name string) string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return e.Prefix + strings.ToUpper(r.Replace(name))
}

// Resolve fetches several secrets at once and fails on the first missing one.
func Resolve(ctx context.Context, store SecretStore, names ...string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		v, err := store.Secret(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}
