package auth

import (
	"context"
	"errors"
	"net/http"
)

const (
	AuthorizationHeader   = "Authorization"
	WWWAuthenticateHeader = "WWW-Authenticate"
)

// ErrMisconfigured is returned when a scheme or authenticator is missing a
// collaborator it cannot work without. It indicates a setup defect and is
// never reported to clients as a 401.
var ErrMisconfigured = errors.New("auth: misconfigured")

// User is the identity produced by a successful authentication.
type User struct {
	Name       string
	Scheme     string
	Attributes map[string]string
}

// Credential is the pair extracted from an Authorization header. For Basic
// it holds the username and password, for HMAC the public key id and the
// presented signature.
type Credential struct {
	Scheme     string
	Identifier string
	Secret     string
}

// Scheme implements one HTTP authentication scheme.
type Scheme interface {

	// Name returns the scheme token, e.g. "Basic".
	Name() string

	// Parse extracts a credential from the raw Authorization header value.
	// It returns false if the header does not belong to this scheme or is
	// malformed.
	Parse(header string) (Credential, bool)

	// Validate checks a parsed credential against the request. A nil user
	// means authentication failed and reason says why. An error reports a
	// configuration defect (wrapping ErrMisconfigured), an aborted request
	// or a failing collaborator.
	Validate(ctx context.Context, rq *Request, cred Credential) (*User, Reason, error)

	// Challenge adds the WWW-Authenticate value(s) for this scheme.
	Challenge(h http.Header)
}

type contextKey struct{}

// WithUser returns a copy of ctx carrying the authenticated user.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext returns the user attached by the authentication
// middleware, if any.
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(contextKey{}).(*User)
	return user, ok && user != nil
}
