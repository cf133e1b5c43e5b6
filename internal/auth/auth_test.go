package auth_test

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"warden/internal/auth"

	"github.com/stretchr/testify/require"
)

const (
	Realm       = "myrealm"
	PublicKeyID = "pk-test"
)

var PrivateKey = []byte("0123456789abcdef0123456789abcdef")

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// acceptUserPass accepts exactly ("user", "pass").
func acceptUserPass(calls *atomic.Int32) auth.CredentialValidator {
	return auth.CredentialValidatorFunc(func(ctx context.Context, username string, password string) (*auth.User, error) {
		if calls != nil {
			calls.Add(1)
		}
		if username == "user" && password == "pass" {
			return &auth.User{Name: username, Scheme: auth.BasicScheme}, nil
		}
		return nil, nil
	})
}

func staticResolver() auth.KeyResolver {
	return auth.KeyResolverFunc(func(ctx context.Context, publicKeyID string) (*auth.User, []byte, error) {
		if publicKeyID != PublicKeyID {
			return &auth.User{Name: "ghost"}, nil, nil
		}
		return &auth.User{Name: "svc", Scheme: auth.DefaultHmacScheme}, PrivateKey, nil
	})
}

// recordingHandler counts calls and captures the user and body it saw.
type recordingHandler struct {
	calls atomic.Int32
	user  *auth.User
	body  string
}

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.calls.Add(1)
	h.user, _ = auth.UserFromContext(r.Context())
	b, _ := io.ReadAll(r.Body)
	h.body = string(b)
	w.WriteHeader(http.StatusNoContent)
}

func newBasicAuthenticator(t *testing.T, opts ...auth.Option) *auth.Authenticator {
	t.Helper()
	engine, err := auth.NewBasicAuthEngine(Realm, acceptUserPass(nil))
	require.NoError(t, err, "NewBasicAuthEngine error")
	a, err := auth.New(engine, opts...)
	require.NoError(t, err, "New error")
	return a
}

func newHmacAuthenticator(t *testing.T, stringToSign auth.StringToSign, opts ...auth.HmacOption) *auth.Authenticator {
	t.Helper()
	engine, err := auth.NewHmacAuthEngine(staticResolver(), stringToSign, opts...)
	require.NoError(t, err, "NewHmacAuthEngine error")
	a, err := auth.New(engine)
	require.NoError(t, err, "New error")
	return a
}

func serve(a *auth.Authenticator, req *http.Request) (*httptest.ResponseRecorder, *recordingHandler) {
	next := &recordingHandler{}
	rec := httptest.NewRecorder()
	a.Middleware(next).ServeHTTP(rec, req)
	return rec, next
}

func TestParseBasic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		ok     bool
		user   string
		pass   string
	}{
		{"valid", "Basic " + b64("user:pass"), true, "user", "pass"},
		{"colon in password", "Basic " + b64("user:pa:ss"), false, "", ""},
		{"trailing colon", "Basic " + b64("user:pass:"), false, "", ""},
		{"byte order mark", "Basic " + b64("\xEF\xBB\xBFuser:pass"), true, "user", "pass"},
		{"empty", "", false, "", ""},
		{"scheme only", "Basic", false, "", ""},
		{"wrong scheme", "Bearer " + b64("user:pass"), false, "", ""},
		{"lowercase scheme", "basic " + b64("user:pass"), false, "", ""},
		{"two spaces", "Basic  " + b64("user:pass"), false, "", ""},
		{"invalid alphabet", "Basic !!!!", false, "", ""},
		{"bad padding", "Basic " + b64("user:pass") + "=", false, "", ""},
		{"missing colon", "Basic " + b64("userpass"), false, "", ""},
		{"empty user", "Basic " + b64(":pass"), false, "", ""},
		{"empty password", "Basic " + b64("user:"), false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cred, ok := auth.ParseBasic(tt.header)
			require.Equal(t, tt.ok, ok, "parse result")
			if !tt.ok {
				require.Equal(t, auth.Credential{}, cred, "absent credential must be empty")
				return
			}
			require.Equal(t, auth.BasicScheme, cred.Scheme)
			require.Equal(t, tt.user, cred.Identifier)
			require.Equal(t, tt.pass, cred.Secret)
		})
	}
}

func TestParseHmac(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		token  string
		header string
		ok     bool
	}{
		{"valid", "HMAC", "HMAC key:c2ln", true},
		{"custom token", "Acme-HMAC", "Acme-HMAC key:c2ln", true},
		{"token only", "HMAC", "HMAC", false},
		{"token and space", "HMAC", "HMAC ", false},
		{"no colon", "HMAC", "HMAC keysig", false},
		{"extra colon", "HMAC", "HMAC key:sig:more", false},
		{"empty key", "HMAC", "HMAC :sig", false},
		{"blank key", "HMAC", "HMAC   :sig", false},
		{"empty signature", "HMAC", "HMAC key:", false},
		{"wrong token", "HMAC", "Basic key:sig", false},
		{"missing space", "HMAC", "HMACkey:sig", false},
		{"token is prefix of another", "HMAC", "HMAC2 key:sig", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cred, ok := auth.ParseHmac(tt.token, tt.header)
			require.Equal(t, tt.ok, ok, "parse result")
			if tt.ok {
				require.Equal(t, "key", cred.Identifier)
				require.Equal(t, tt.token, cred.Scheme)
				require.NotEmpty(t, cred.Secret)
			}
		})
	}
}

func TestSignatureDeterminism(t *testing.T) {
	t.Parallel()

	for _, alg := range []auth.Algorithm{auth.HmacMD5, auth.HmacSHA1, auth.HmacSHA256, auth.HmacSHA384, auth.HmacSHA512} {
		t.Run(string(alg), func(t *testing.T) {
			t.Parallel()

			first, err := auth.SignatureString(alg, PrivateKey, "GET\n/orders")
			require.NoError(t, err)
			second, err := auth.SignatureString(alg, PrivateKey, "GET\n/orders")
			require.NoError(t, err)
			require.Equal(t, first, second, "same key and message must sign identically")

			otherKey := append([]byte(nil), PrivateKey...)
			otherKey[0] ^= 0x01
			changedKey, err := auth.SignatureString(alg, otherKey, "GET\n/orders")
			require.NoError(t, err)
			require.NotEqual(t, first, changedKey, "changing the key must change the signature")

			changedMsg, err := auth.SignatureString(alg, PrivateKey, "GET\n/orderz")
			require.NoError(t, err)
			require.NotEqual(t, first, changedMsg, "changing the message must change the signature")
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	t.Parallel()

	alg, err := auth.ParseAlgorithm("sha256")
	require.NoError(t, err)
	require.Equal(t, auth.HmacSHA256, alg)

	alg, err = auth.ParseAlgorithm("HMAC-SHA1")
	require.NoError(t, err)
	require.Equal(t, auth.HmacSHA1, alg)

	_, err = auth.ParseAlgorithm("crc32")
	require.Error(t, err)
}

func TestBasic_ScenarioA_Forwarded(t *testing.T) {
	t.Parallel()

	a := newBasicAuthenticator(t)
	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	rec, next := serve(a, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Header().Get("WWW-Authenticate"), "success must not add a challenge")
	require.EqualValues(t, 1, next.calls.Load(), "next handler must run exactly once")
	require.NotNil(t, next.user)
	require.Equal(t, "user", next.user.Name)
}

func TestBasic_ScenarioB_Rejected(t *testing.T) {
	t.Parallel()

	engine, err := auth.NewBasicAuthEngine(Realm, auth.CredentialValidatorFunc(func(ctx context.Context, username string, password string) (*auth.User, error) {
		return nil, nil
	}))
	require.NoError(t, err)
	a, err := auth.New(engine)
	require.NoError(t, err)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	rec, next := serve(a, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, `Basic realm="myrealm"`, rec.Header().Get("WWW-Authenticate"))
	require.Zero(t, next.calls.Load(), "next handler must not run on failure")
}

func TestBasic_MalformedHeaderSkipsValidator(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	engine, err := auth.NewBasicAuthEngine(Realm, acceptUserPass(&calls))
	require.NoError(t, err)
	a, err := auth.New(engine)
	require.NoError(t, err)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/", nil)
	req.Header.Set("Authorization", "Basic not-base64!")

	outcome, err := a.Authenticate(req)
	require.NoError(t, err)
	require.False(t, outcome.Succeeded())
	require.Equal(t, auth.ReasonMalformed, outcome.Reason)
	require.Zero(t, calls.Load(), "validator must not be called for unparsable credentials")
}

func TestAuthenticate_Reasons(t *testing.T) {
	t.Parallel()

	a := newBasicAuthenticator(t)

	tests := []struct {
		name   string
		header string
		reason auth.Reason
	}{
		{"missing", "", auth.ReasonMissing},
		{"malformed", "Basic ???", auth.ReasonMalformed},
		{"rejected", "Basic " + b64("user:wrong"), auth.ReasonRejected},
		{"accepted", "Basic " + b64("user:pass"), auth.ReasonNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			outcome, err := a.Authenticate(req)
			require.NoError(t, err)
			require.Equal(t, tt.reason, outcome.Reason)
			require.Equal(t, tt.reason == auth.ReasonNone, outcome.Succeeded())
		})
	}
}

func TestChallengeIsUniform(t *testing.T) {
	t.Parallel()

	a := newBasicAuthenticator(t,
		auth.RequireSecureConnection(true),
		auth.WithUnauthorizedBody("text/plain; charset=utf-8", auth.StaticBody("authentication required\n")),
	)

	tlsReq := func(header string) *http.Request {
		req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "https://example.com/", nil)
		req.TLS = &tls.ConnectionState{}
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		return req
	}

	insecure := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/", nil)
	insecure.Header.Set("Authorization", "Basic "+b64("user:pass"))

	requests := []*http.Request{
		tlsReq(""),
		tlsReq("Basic ???"),
		tlsReq("Basic " + b64("user:wrong")),
		insecure,
	}

	var first *httptest.ResponseRecorder
	for i, req := range requests {
		rec, next := serve(a, req)
		require.Zero(t, next.calls.Load(), "request %d must not be forwarded", i)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "request %d status", i)
		if first == nil {
			first = rec
			continue
		}
		require.Equal(t, first.Header(), rec.Header(), "request %d headers differ", i)
		require.Equal(t, first.Body.String(), rec.Body.String(), "request %d body differs", i)
	}
	require.Equal(t, "authentication required\n", first.Body.String())
}

func TestRequireSecureConnection(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	engine, err := auth.NewBasicAuthEngine(Realm, acceptUserPass(&calls))
	require.NoError(t, err)
	a, err := auth.New(engine, auth.RequireSecureConnection(true))
	require.NoError(t, err)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/", nil)
	req.Header.Set("Authorization", "Basic "+b64("user:pass"))

	outcome, err := a.Authenticate(req)
	require.NoError(t, err)
	require.Equal(t, auth.ReasonInsecureChannel, outcome.Reason)
	require.Zero(t, calls.Load(), "credentials must not be checked over an insecure channel")

	req.TLS = &tls.ConnectionState{}
	outcome, err = a.Authenticate(req)
	require.NoError(t, err)
	require.True(t, outcome.Succeeded())
	require.EqualValues(t, 1, calls.Load())
}

func TestTrustForwardedProto(t *testing.T) {
	t.Parallel()

	a := newBasicAuthenticator(t, auth.RequireSecureConnection(true), auth.WithSecureFunc(auth.TrustForwardedProto))

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/", nil)
	req.Header.Set("Authorization", "Basic "+b64("user:pass"))
	req.Header.Set("X-Forwarded-Proto", "https")

	outcome, err := a.Authenticate(req)
	require.NoError(t, err)
	require.True(t, outcome.Succeeded())
}

func TestHmac_ScenarioC_PathTampering(t *testing.T) {
	t.Parallel()

	a := newHmacAuthenticator(t, auth.MethodAndPath)

	sig, err := auth.SignatureString(auth.HmacSHA256, PrivateKey, "GET\n/orders/42")
	require.NoError(t, err)
	header := "HMAC " + PublicKeyID + ":" + sig

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/orders/42", nil)
	req.Header.Set("Authorization", header)
	rec, next := serve(a, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.EqualValues(t, 1, next.calls.Load())
	require.Equal(t, "svc", next.user.Name)

	tampered := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/orders/43", nil)
	tampered.Header.Set("Authorization", header)
	rec, next = serve(a, tampered)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "HMAC", rec.Header().Get("WWW-Authenticate"))
	require.Zero(t, next.calls.Load())

	outcome, err := a.Authenticate(tampered)
	require.NoError(t, err)
	require.Equal(t, auth.ReasonSignatureMismatch, outcome.Reason)
}

func TestHmac_ScenarioD_BodyDigestMismatch(t *testing.T) {
	t.Parallel()

	a := newHmacAuthenticator(t, auth.MethodAndPath)

	sig, err := auth.SignatureString(auth.HmacSHA256, PrivateKey, "POST\n/orders")
	require.NoError(t, err)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodPost, "http://example.com/orders", strings.NewReader(`{"qty":1}`))
	req.Header.Set("Authorization", "HMAC "+PublicKeyID+":"+sig)
	req.Header.Set("Content-MD5", auth.DigestBytes([]byte(`{"qty":100}`)))

	rec, next := serve(a, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, next.calls.Load())

	req = httptest.NewRequestWithContext(t.Context(), http.MethodPost, "http://example.com/orders", strings.NewReader(`{"qty":1}`))
	req.Header.Set("Authorization", "HMAC "+PublicKeyID+":"+sig)
	req.Header.Set("Content-MD5", auth.DigestBytes([]byte(`{"qty":100}`)))
	outcome, err := a.Authenticate(req)
	require.NoError(t, err)
	require.Equal(t, auth.ReasonBodyDigestMismatch, outcome.Reason)
}

func TestHmac_BodyDigestMatchKeepsBody(t *testing.T) {
	t.Parallel()

	a := newHmacAuthenticator(t, auth.MethodAndPath)

	body := `{"qty":1}`
	sig, err := auth.SignatureString(auth.HmacSHA256, PrivateKey, "POST\n/orders")
	require.NoError(t, err)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodPost, "http://example.com/orders", strings.NewReader(body))
	req.Header.Set("Authorization", "HMAC "+PublicKeyID+":"+sig)
	req.Header.Set("Content-MD5", strings.ToUpper(auth.DigestBytes([]byte(body))))

	rec, next := serve(a, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, body, next.body, "downstream handler must see the full body")
}

func TestHmac_NoDigestHeaderSkipsCheck(t *testing.T) {
	t.Parallel()

	a := newHmacAuthenticator(t, auth.MethodAndPath)

	sig, err := auth.SignatureString(auth.HmacSHA256, PrivateKey, "PUT\n/orders")
	require.NoError(t, err)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodPut, "http://example.com/orders", strings.NewReader("payload"))
	req.Header.Set("Authorization", "HMAC "+PublicKeyID+":"+sig)
	req.Header.Set("Content-MD5", "")

	rec, next := serve(a, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "payload", next.body)
}

func TestHmac_UnknownKey(t *testing.T) {
	t.Parallel()

	a := newHmacAuthenticator(t, auth.MethodAndPath)

	sig, err := auth.SignatureString(auth.HmacSHA256, PrivateKey, "GET\n/")
	require.NoError(t, err)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/", nil)
	req.Header.Set("Authorization", "HMAC other-key:"+sig)

	outcome, err := a.Authenticate(req)
	require.NoError(t, err)
	require.Equal(t, auth.ReasonUnknownKey, outcome.Reason)
	require.Nil(t, outcome.User, "user returned without a key must be discarded")
}

func TestHmac_ResolverErrorIsUnauthorized(t *testing.T) {
	t.Parallel()

	engine, err := auth.NewHmacAuthEngine(auth.KeyResolverFunc(func(ctx context.Context, publicKeyID string) (*auth.User, []byte, error) {
		return nil, nil, errors.New("database is down")
	}), auth.MethodAndPath)
	require.NoError(t, err)
	a, err := auth.New(engine)
	require.NoError(t, err)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/", nil)
	req.Header.Set("Authorization", "HMAC "+PublicKeyID+":c2ln")

	rec, next := serve(a, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, next.calls.Load())
}

func TestHmac_CancelledContextAbortsDigest(t *testing.T) {
	t.Parallel()

	a := newHmacAuthenticator(t, auth.MethodAndPath)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	req := httptest.NewRequestWithContext(ctx, http.MethodPost, "http://example.com/orders", strings.NewReader("payload"))
	req.Header.Set("Authorization", "HMAC "+PublicKeyID+":c2ln")
	req.Header.Set("Content-MD5", auth.DigestBytes([]byte("payload")))

	_, err := a.Authenticate(req)
	require.ErrorIs(t, err, context.Canceled)

	rec, next := serve(a, req)
	require.Zero(t, next.calls.Load())
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Empty(t, rec.Header().Get("WWW-Authenticate"), "aborted requests are not challenged")
}

func TestHmac_DeadlineExceededIsNotSuccess(t *testing.T) {
	t.Parallel()

	a := newHmacAuthenticator(t, auth.MethodAndPath)

	ctx, cancel := context.WithDeadline(t.Context(), time.Now().Add(-time.Second))
	defer cancel()

	req := httptest.NewRequestWithContext(ctx, http.MethodPost, "http://example.com/orders", strings.NewReader("payload"))
	req.Header.Set("Authorization", "HMAC "+PublicKeyID+":c2ln")
	req.Header.Set("Content-MD5", auth.DigestBytes([]byte("payload")))

	_, err := a.Authenticate(req)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	rec, next := serve(a, req)
	require.Zero(t, next.calls.Load())
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, "a timed out request must never look successful")
}

func TestHmac_CustomTokenAndAlgorithm(t *testing.T) {
	t.Parallel()

	a := newHmacAuthenticator(t, auth.MethodAndPath,
		auth.WithSchemeToken("Acme"),
		auth.WithAlgorithm(auth.HmacSHA512),
	)

	sig, err := auth.SignatureString(auth.HmacSHA512, PrivateKey, "GET\n/")
	require.NoError(t, err)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/", nil)
	req.Header.Set("Authorization", "Acme "+PublicKeyID+":"+sig)
	rec, _ := serve(a, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	sha256Sig, err := auth.SignatureString(auth.HmacSHA256, PrivateKey, "GET\n/")
	require.NoError(t, err)
	req.Header.Set("Authorization", "Acme "+PublicKeyID+":"+sha256Sig)
	rec, _ = serve(a, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Acme", rec.Header().Get("WWW-Authenticate"))
}

// countingReader reports how many bytes were pulled from an endless body.
type countingReader struct {
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	c.n.Add(int64(len(p)))
	return len(p), nil
}

func TestHmac_OversizedBodyRejectedBeforeKeyLookup(t *testing.T) {
	t.Parallel()

	var lookups atomic.Int32
	resolver := auth.KeyResolverFunc(func(ctx context.Context, publicKeyID string) (*auth.User, []byte, error) {
		lookups.Add(1)
		return nil, nil, nil
	})

	const limit = 64
	engine, err := auth.NewHmacAuthEngine(resolver, auth.MethodAndPath, auth.WithMaxBodySize(limit))
	require.NoError(t, err)
	a, err := auth.New(engine)
	require.NoError(t, err)

	body := &countingReader{}
	req := httptest.NewRequestWithContext(t.Context(), http.MethodPost, "http://example.com/upload", io.NopCloser(body))
	req.Header.Set("Authorization", "HMAC no-such-key:c2ln")
	req.Header.Set("Content-MD5", auth.DigestBytes([]byte("anything")))

	outcome, err := a.Authenticate(req)
	require.NoError(t, err)
	require.Equal(t, auth.ReasonMalformed, outcome.Reason)
	require.LessOrEqual(t, body.n.Load(), int64(limit+1), "only limit+1 bytes may be read")
	require.Zero(t, lookups.Load(), "oversized bodies must not reach the key resolver")

	rec, next := serve(a, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, next.calls.Load())
}

func TestHmac_BodyAtLimitIsAccepted(t *testing.T) {
	t.Parallel()

	payload := strings.Repeat("a", 32)
	a := newHmacAuthenticator(t, auth.MethodAndPath, auth.WithMaxBodySize(int64(len(payload))))

	sig, err := auth.SignatureString(auth.HmacSHA256, PrivateKey, "POST\n/upload")
	require.NoError(t, err)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodPost, "http://example.com/upload", strings.NewReader(payload))
	req.Header.Set("Authorization", "HMAC "+PublicKeyID+":"+sig)
	req.Header.Set("Content-MD5", auth.DigestBytes([]byte(payload)))

	rec, next := serve(a, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, payload, next.body)
}

func TestHmac_CustomSignerAcceptsCustomAlgorithm(t *testing.T) {
	t.Parallel()

	signer := func(alg auth.Algorithm, key []byte, message string) ([]byte, error) {
		if len(key) == 0 {
			return nil, errors.New("empty key")
		}
		return auth.Sign(auth.HmacSHA256, key, message)
	}

	engine, err := auth.NewHmacAuthEngine(staticResolver(), auth.MethodAndPath,
		auth.WithAlgorithm("HMAC-VENDOR"),
		auth.WithSigner(signer),
	)
	require.NoError(t, err, "a custom signer decides which algorithms and keys it supports")
	a, err := auth.New(engine)
	require.NoError(t, err)

	sig, err := auth.SignatureString(auth.HmacSHA256, PrivateKey, "GET\n/")
	require.NoError(t, err)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/", nil)
	req.Header.Set("Authorization", "HMAC "+PublicKeyID+":"+sig)
	rec, _ := serve(a, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMisconfiguration(t *testing.T) {
	t.Parallel()

	_, err := auth.NewBasicAuthEngine(Realm, nil)
	require.ErrorIs(t, err, auth.ErrMisconfigured)

	_, err = auth.NewHmacAuthEngine(nil, auth.MethodAndPath)
	require.ErrorIs(t, err, auth.ErrMisconfigured)

	_, err = auth.NewHmacAuthEngine(staticResolver(), nil)
	require.ErrorIs(t, err, auth.ErrMisconfigured)

	_, err = auth.NewHmacAuthEngine(staticResolver(), auth.MethodAndPath, auth.WithAlgorithm("HMAC-CRC32"))
	require.ErrorIs(t, err, auth.ErrMisconfigured)

	_, err = auth.New(nil)
	require.ErrorIs(t, err, auth.ErrMisconfigured)

	_, err = auth.New(&auth.BasicAuthEngine{Realm: Realm})
	require.ErrorIs(t, err, auth.ErrMisconfigured)

	_, err = auth.New(&auth.HmacAuthEngine{SchemeToken: "HMAC"})
	require.ErrorIs(t, err, auth.ErrMisconfigured)
}

func TestMisconfigurationAtRequestTimeIsNotUnauthorized(t *testing.T) {
	t.Parallel()

	basic, err := auth.NewBasicAuthEngine(Realm, acceptUserPass(nil))
	require.NoError(t, err)
	basicAuth, err := auth.New(basic)
	require.NoError(t, err)
	basic.Validator = nil

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/", nil)
	req.Header.Set("Authorization", "Basic "+b64("user:pass"))

	_, err = basicAuth.Authenticate(req)
	require.ErrorIs(t, err, auth.ErrMisconfigured)

	rec, next := serve(basicAuth, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Empty(t, rec.Header().Get("WWW-Authenticate"))
	require.Zero(t, next.calls.Load())

	hmacEngine, err := auth.NewHmacAuthEngine(staticResolver(), auth.MethodAndPath)
	require.NoError(t, err)
	hmacAuth, err := auth.New(hmacEngine)
	require.NoError(t, err)
	hmacEngine.Resolver = nil

	req = httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/", nil)
	req.Header.Set("Authorization", "HMAC "+PublicKeyID+":c2ln")

	rec, next = serve(hmacAuth, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Empty(t, rec.Header().Get("WWW-Authenticate"))
	require.Zero(t, next.calls.Load())
}

func TestUserFromContext(t *testing.T) {
	t.Parallel()

	_, ok := auth.UserFromContext(t.Context())
	require.False(t, ok)

	ctx := auth.WithUser(t.Context(), &auth.User{Name: "alice"})
	user, ok := auth.UserFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "alice", user.Name)
}
