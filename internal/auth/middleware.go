package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// BodyRenderer writes the optional body of a 401 response. templ.Component
// satisfies it.
type BodyRenderer interface {
	Render(ctx context.Context, w io.Writer) error
}

// StaticBody renders a fixed payload.
type StaticBody []byte

func (b StaticBody) Render(_ context.Context, w io.Writer) error {
	_, err := w.Write(b)
	return err
}

// configChecker is implemented by the schemes in this package to report
// missing collaborators before the first request.
type configChecker interface {
	checkConfig() error
}

// Authenticator runs requests through one Scheme and either forwards them
// with the authenticated user in the context or answers with a challenge.
type Authenticator struct {
	scheme          Scheme
	requireSecure   bool
	secure          SecureFunc
	body            BodyRenderer
	bodyContentType string
	logger          *slog.Logger
}

type Option func(*Authenticator)

// RequireSecureConnection rejects every request that did not arrive over a
// secure channel, before its credentials are looked at.
func RequireSecureConnection(require bool) Option {
	return func(a *Authenticator) {
		a.requireSecure = require
	}
}

// WithSecureFunc decides what counts as a secure channel, IsTLS by default.
func WithSecureFunc(fn SecureFunc) Option {
	return func(a *Authenticator) {
		a.secure = fn
	}
}

// WithUnauthorizedBody sets the body written with every 401.
func WithUnauthorizedBody(contentType string, body BodyRenderer) Option {
	return func(a *Authenticator) {
		a.bodyContentType = contentType
		a.body = body
	}
}

// WithLogger sets the logger, slog.Default() otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// New creates an Authenticator for scheme.
func New(scheme Scheme, opts ...Option) (*Authenticator, error) {
	if scheme == nil {
		return nil, fmt.Errorf("%w: authenticator requires a scheme", ErrMisconfigured)
	}
	if c, ok := scheme.(configChecker); ok {
		if err := c.checkConfig(); err != nil {
			return nil, err
		}
	}

	a := &Authenticator{
		scheme: scheme,
		secure: IsTLS,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.secure == nil {
		a.secure = IsTLS
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a, nil
}

// Authenticate decides whether r carries valid credentials. Ordinary
// failures are reported through the Outcome; the error is non-nil only for
// configuration defects (wrapping ErrMisconfigured) and requests whose
// context ended while they were being read. Middleware answers the former
// with 500 and the latter with 503.
func (a *Authenticator) Authenticate(r *http.Request) (Outcome, error) {
	ctx := r.Context()
	secure := a.secure(r)

	if a.requireSecure && !secure {
		return failed(ReasonInsecureChannel), nil
	}

	header := r.Header.Get(AuthorizationHeader)
	if header == "" {
		return failed(ReasonMissing), nil
	}

	cred, ok := a.scheme.Parse(header)
	if !ok {
		return failed(ReasonMalformed), nil
	}

	user, reason, err := a.scheme.Validate(ctx, NewRequest(r, secure), cred)
	switch {
	case errors.Is(err, ErrMisconfigured):
		return Outcome{}, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Outcome{}, err
	case err != nil:
		a.logger.ErrorContext(ctx, "Authentication collaborator failed",
			"scheme", cred.Scheme,
			"error", err,
		)
		return failed(failureReason(reason)), nil
	case user == nil:
		return failed(failureReason(reason)), nil
	}

	return authenticated(user), nil
}

// failureReason keeps the Outcome invariant intact for schemes that fail
// without naming a reason.
func failureReason(reason Reason) Reason {
	if reason == ReasonNone {
		return ReasonRejected
	}
	return reason
}

// Middleware enforces authentication for every request passed to next.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		outcome, err := a.Authenticate(r)
		if err != nil {
			if errors.Is(err, ErrMisconfigured) {
				a.logger.ErrorContext(ctx, "Authentication is misconfigured", "scheme", a.scheme.Name(), "error", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			// The request context ended mid-read. The handler never ran, so
			// the response must not fall through to an implicit 200.
			a.logger.DebugContext(ctx, "Authentication aborted", "scheme", a.scheme.Name(), "error", err)
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}

		if !outcome.Succeeded() {
			a.logger.DebugContext(ctx, "Authentication failed",
				"scheme", a.scheme.Name(),
				"reason", outcome.Reason.String(),
				"path", r.URL.Path,
			)
			a.WriteChallenge(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(ctx, outcome.User)))
	})
}

// WriteChallenge writes the 401 response. Its shape does not depend on why
// authentication failed.
func (a *Authenticator) WriteChallenge(w http.ResponseWriter, r *http.Request) {
	a.scheme.Challenge(w.Header())

	if a.body == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if a.bodyContentType != "" {
		w.Header().Set("Content-Type", a.bodyContentType)
	}
	w.WriteHeader(http.StatusUnauthorized)
	if err := a.body.Render(r.Context(), w); err != nil {
		a.logger.WarnContext(r.Context(), "Failed to write unauthorized body", "error", err)
	}
}
