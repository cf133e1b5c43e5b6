package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

const (
	BasicScheme = "Basic"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CredentialValidator checks a username and password. It returns a nil user
// when the pair is not valid.
type CredentialValidator interface {
	ValidateCredentials(ctx context.Context, username string, password string) (*User, error)
}

// CredentialValidatorFunc adapts a function to CredentialValidator.
type CredentialValidatorFunc func(ctx context.Context, username string, password string) (*User, error)

func (f CredentialValidatorFunc) ValidateCredentials(ctx context.Context, username string, password string) (*User, error) {
	return f(ctx, username, password)
}

// BasicAuthEngine implements the HTTP Basic scheme with an application
// supplied validator.
type BasicAuthEngine struct {
	Realm     string
	Validator CredentialValidator
}

// NewBasicAuthEngine creates a BasicAuthEngine for the given realm.
func NewBasicAuthEngine(realm string, validator CredentialValidator) (*BasicAuthEngine, error) {
	e := &BasicAuthEngine{
		Realm:     realm,
		Validator: validator,
	}
	if err := e.checkConfig(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *BasicAuthEngine) Name() string {
	return BasicScheme
}

// Parse decodes "Basic base64(user:password)". Both parts must be non-empty.
func (e *BasicAuthEngine) Parse(header string) (Credential, bool) {
	return ParseBasic(header)
}

// ParseBasic is the parser used by BasicAuthEngine.
func ParseBasic(header string) (Credential, bool) {
	const prefix = BasicScheme + " "
	if !strings.HasPrefix(header, prefix) {
		return Credential{}, false
	}

	payload, err := base64.StdEncoding.Strict().DecodeString(header[len(prefix):])
	if err != nil {
		return Credential{}, false
	}
	payload = bytes.TrimPrefix(payload, utf8BOM)

	parts := strings.Split(string(payload), ":")
	if len(parts) != 2 {
		return Credential{}, false
	}

	username, password := parts[0], parts[1]
	if username == "" || password == "" {
		return Credential{}, false
	}

	return Credential{
		Scheme:     BasicScheme,
		Identifier: username,
		Secret:     password,
	}, true
}

func (e *BasicAuthEngine) checkConfig() error {
	if e.Validator == nil {
		return fmt.Errorf("%w: basic scheme requires a credential validator", ErrMisconfigured)
	}
	return nil
}

func (e *BasicAuthEngine) Validate(ctx context.Context, rq *Request, cred Credential) (*User, Reason, error) {
	if err := e.checkConfig(); err != nil {
		return nil, ReasonNone, err
	}

	user, err := e.Validator.ValidateCredentials(ctx, cred.Identifier, cred.Secret)
	if err != nil {
		return nil, ReasonRejected, fmt.Errorf("validate credentials: %w", err)
	}
	if user == nil {
		return nil, ReasonRejected, nil
	}
	return user, ReasonNone, nil
}

func (e *BasicAuthEngine) Challenge(h http.Header) {
	h.Add(WWWAuthenticateHeader, fmt.Sprintf("%s realm=%q", BasicScheme, e.Realm))
}

// SetBasicAuth sets the Authorization header for username and password.
func SetBasicAuth(r *http.Request, username string, password string) {
	payload := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	r.Header.Set(AuthorizationHeader, BasicScheme+" "+payload)
}
