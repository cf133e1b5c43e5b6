package keystore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"warden/internal/auth"
)

// SecretSize is the length in bytes of generated HMAC secrets.
const SecretSize = 32

var (
	ErrUserExists  = errors.New("user already exists")
	ErrUnknownUser = errors.New("unknown user")
	ErrInvalidKey  = errors.New("invalid key")
)

// Key is an HMAC key pair owned by a user.
type Key struct {
	ID        string
	User      string
	Secret    []byte
	CreatedAt time.Time
	RevokedAt *time.Time
}

// KeyStore is a KeyResolver that can also persist keys.
type KeyStore interface {
	auth.KeyResolver

	// PutKey stores secret under publicKeyID for user, replacing any
	// previous key with the same id.
	PutKey(ctx context.Context, publicKeyID string, user string, secret []byte) error

	// DeleteKey removes the key. Deleting an unknown key is not an error.
	DeleteKey(ctx context.Context, publicKeyID string) error
}

// NewSecret returns SecretSize random bytes.
func NewSecret() ([]byte, error) {
	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	return secret, nil
}

// ChainResolver asks each resolver in turn and returns the first key found.
type ChainResolver []auth.KeyResolver

func (c ChainResolver) ResolveKey(ctx context.Context, publicKeyID string) (*auth.User, []byte, error) {
	var errs []error
	for _, r := range c {
		user, key, err := r.ResolveKey(ctx, publicKeyID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if key != nil && user != nil {
			return user, key, nil
		}
	}
	return nil, nil, errors.Join(errs...)
}

func hmacUser(name string, publicKeyID string) *auth.User {
	return &auth.User{
		Name:   name,
		Scheme: auth.DefaultHmacScheme,
		Attributes: map[string]string{
			"public_key_id": publicKeyID,
		},
	}
}

var (
	_ KeyStore = (*SQLiteStore)(nil)
	_ KeyStore = (*ObjectStore)(nil)
)
