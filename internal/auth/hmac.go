package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	DefaultHmacScheme   = "HMAC"
	DefaultDigestHeader = "Content-MD5"

	// DefaultMaxBodySize caps how much of an unauthenticated body is read
	// to check its digest.
	DefaultMaxBodySize int64 = 10 << 20
)

// KeyResolver looks up the private key for a public key id. A nil key means
// the id is unknown; the returned user is ignored in that case.
type KeyResolver interface {
	ResolveKey(ctx context.Context, publicKeyID string) (*User, []byte, error)
}

// KeyResolverFunc adapts a function to KeyResolver.
type KeyResolverFunc func(ctx context.Context, publicKeyID string) (*User, []byte, error)

func (f KeyResolverFunc) ResolveKey(ctx context.Context, publicKeyID string) (*User, []byte, error) {
	return f(ctx, publicKeyID)
}

// SigningContext holds everything needed to recompute one request signature.
type SigningContext struct {
	Algorithm Algorithm
	Key       []byte
	Message   string
	Signature string
}

type HmacAuthEngine struct {
	SchemeToken  string
	Algorithm    Algorithm
	DigestHeader string
	Resolver     KeyResolver
	StringToSign StringToSign
	Signer       Signer

	// MaxBodySize bounds the digest check; zero or less reads any size.
	MaxBodySize int64
}

type HmacOption func(*HmacAuthEngine)

// WithSchemeToken overrides the scheme token, "HMAC" by default.
func WithSchemeToken(token string) HmacOption {
	return func(e *HmacAuthEngine) {
		e.SchemeToken = token
	}
}

// WithAlgorithm selects the keyed hash, HMAC-SHA256 by default.
func WithAlgorithm(alg Algorithm) HmacOption {
	return func(e *HmacAuthEngine) {
		e.Algorithm = alg
	}
}

// WithDigestHeader names the header carrying the hex MD5 of the body. An
// empty name disables the body integrity check.
func WithDigestHeader(name string) HmacOption {
	return func(e *HmacAuthEngine) {
		e.DigestHeader = name
	}
}

// WithMaxBodySize limits how many body bytes the digest check reads. Larger
// bodies are rejected as malformed before the key is looked up. Zero or less
// removes the limit.
func WithMaxBodySize(n int64) HmacOption {
	return func(e *HmacAuthEngine) {
		e.MaxBodySize = n
	}
}

// WithSigner replaces the HMAC primitive.
func WithSigner(signer Signer) HmacOption {
	return func(e *HmacAuthEngine) {
		e.Signer = signer
	}
}

// NewHmacAuthEngine creates an HMAC scheme. Both the key resolver and the
// string-to-sign builder are required.
func NewHmacAuthEngine(resolver KeyResolver, stringToSign StringToSign, opts ...HmacOption) (*HmacAuthEngine, error) {
	e := &HmacAuthEngine{
		SchemeToken:  DefaultHmacScheme,
		Algorithm:    HmacSHA256,
		DigestHeader: DefaultDigestHeader,
		Resolver:     resolver,
		StringToSign: stringToSign,
		MaxBodySize:  DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.checkConfig(); err != nil {
		return nil, err
	}

	// A custom Signer owns its algorithm names; only the default one is
	// checked here.
	if e.Signer == nil {
		if e.Algorithm.hash() == nil {
			return nil, fmt.Errorf("%w: unsupported hmac algorithm %q", ErrMisconfigured, e.Algorithm)
		}
		e.Signer = Sign
	}
	return e, nil
}

func (e *HmacAuthEngine) checkConfig() error {
	switch {
	case e.SchemeToken == "" || strings.ContainsAny(e.SchemeToken, " :"):
		return fmt.Errorf("%w: invalid hmac scheme token %q", ErrMisconfigured, e.SchemeToken)
	case e.Resolver == nil:
		return fmt.Errorf("%w: hmac scheme requires a key resolver", ErrMisconfigured)
	case e.StringToSign == nil:
		return fmt.Errorf("%w: hmac scheme requires a string-to-sign builder", ErrMisconfigured)
	}
	return nil
}

func (e *HmacAuthEngine) Name() string {
	return e.SchemeToken
}

// Parse decodes "<token> <publicKeyID>:<signature>".
func (e *HmacAuthEngine) Parse(header string) (Credential, bool) {
	return ParseHmac(e.SchemeToken, header)
}

// ParseHmac is the parser used by HmacAuthEngine.
func ParseHmac(token string, header string) (Credential, bool) {
	prefix := token + " "
	if token == "" || !strings.HasPrefix(header, prefix) || len(header) == len(prefix) {
		return Credential{}, false
	}

	parts := strings.Split(header[len(prefix):], ":")
	if len(parts) != 2 {
		return Credential{}, false
	}

	publicKeyID, signature := parts[0], parts[1]
	if strings.TrimSpace(publicKeyID) == "" || strings.TrimSpace(signature) == "" {
		return Credential{}, false
	}

	return Credential{
		Scheme:     token,
		Identifier: publicKeyID,
		Secret:     signature,
	}, true
}

// Validate verifies the body digest (when presented), resolves the private
// key and compares the recomputed signature with the presented one.
func (e *HmacAuthEngine) Validate(ctx context.Context, rq *Request, cred Credential) (*User, Reason, error) {
	if err := e.checkConfig(); err != nil {
		return nil, ReasonNone, err
	}

	ok, err := e.verifyBodyDigest(ctx, rq)
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		return nil, ReasonMalformed, nil
	case err != nil:
		return nil, ReasonMalformed, err
	case !ok:
		return nil, ReasonBodyDigestMismatch, nil
	}

	user, key, err := e.Resolver.ResolveKey(ctx, cred.Identifier)
	if err != nil {
		return nil, ReasonUnknownKey, fmt.Errorf("resolve key %q: %w", cred.Identifier, err)
	}
	if key == nil || user == nil {
		return nil, ReasonUnknownKey, nil
	}

	message, err := e.StringToSign(rq)
	if err != nil {
		return nil, ReasonMalformed, fmt.Errorf("build string to sign: %w", err)
	}

	sc := SigningContext{
		Algorithm: e.Algorithm,
		Key:       key,
		Message:   message,
		Signature: cred.Secret,
	}
	if !e.verify(sc) {
		return nil, ReasonSignatureMismatch, nil
	}

	return user, ReasonNone, nil
}

// verifyBodyDigest reports false only when a digest was presented and does
// not match. An absent or empty digest header skips the check.
func (e *HmacAuthEngine) verifyBodyDigest(ctx context.Context, rq *Request) (bool, error) {
	if e.DigestHeader == "" {
		return true, nil
	}
	presented := strings.TrimSpace(rq.Header.Get(e.DigestHeader))
	if presented == "" {
		return true, nil
	}

	computed, err := bodyDigest(ctx, rq, e.MaxBodySize)
	if err != nil {
		return false, fmt.Errorf("digest request body: %w", err)
	}
	return strings.EqualFold(computed, presented), nil
}

func (e *HmacAuthEngine) verify(sc SigningContext) bool {
	signer := e.Signer
	if signer == nil {
		signer = Sign
	}
	mac, err := signer(sc.Algorithm, sc.Key, sc.Message)
	if err != nil || mac == nil {
		return false
	}
	return constantTimeEqual(encodeSignature(mac), sc.Signature)
}

func (e *HmacAuthEngine) Challenge(h http.Header) {
	h.Add(WWWAuthenticateHeader, e.SchemeToken)
}
