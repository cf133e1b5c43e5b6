package auth_test

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"warden/internal/auth"

	"github.com/stretchr/testify/require"
)

func TestRequestSigner_RoundTrip(t *testing.T) {
	t.Parallel()

	canonical := auth.CanonicalRequest("host", "content-type", "content-md5")
	a := newHmacAuthenticator(t, canonical)

	signer, err := auth.NewRequestSigner(canonical)
	require.NoError(t, err)

	next := &recordingHandler{}
	srv := httptest.NewServer(a.Middleware(next))
	t.Cleanup(srv.Close)

	body := []byte(`{"name":"widget"}`)
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/v1/items/a%20b?z=1&a=2&a=1", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	require.NoError(t, signer.Sign(req, PublicKeyID, PrivateKey))
	require.Equal(t, auth.DigestBytes(body), req.Header.Get("Content-MD5"))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, string(body), next.body)
	require.Equal(t, "svc", next.user.Name)
}

func TestRequestSigner_TamperedHeaderRejected(t *testing.T) {
	t.Parallel()

	canonical := auth.CanonicalRequest("content-type")
	a := newHmacAuthenticator(t, canonical)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/v1/items?b=2&a=1", nil)
	req.Header.Set("Content-Type", "text/plain")
	require.NoError(t, auth.SignRequest(req, PublicKeyID, PrivateKey, canonical))

	outcome, err := a.Authenticate(req)
	require.NoError(t, err)
	require.True(t, outcome.Succeeded())

	req.Header.Set("Content-Type", "application/json")
	outcome, err = a.Authenticate(req)
	require.NoError(t, err)
	require.Equal(t, auth.ReasonSignatureMismatch, outcome.Reason)
}

func TestRequestSigner_BodyReadableAfterSigning(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequestWithContext(t.Context(), http.MethodPut, "http://example.com/blob", strings.NewReader("blob contents"))
	require.NoError(t, auth.SignRequest(req, PublicKeyID, PrivateKey, auth.MethodAndPath))

	b, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	require.Equal(t, "blob contents", string(b))
	require.True(t, strings.HasPrefix(req.Header.Get("Authorization"), "HMAC "+PublicKeyID+":"))
}

func TestCanonicalRequest(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://example.com/a%20b/c?z=1&a=2&a=1", nil)
	req.Header.Set("X-Custom", "  several   spaced\tvalues ")

	got, err := auth.CanonicalRequest("Host", "X-Custom")(auth.NewRequest(req, false))
	require.NoError(t, err)

	want := strings.Join([]string{
		"GET",
		"/a%20b/c",
		"a=1&a=2&z=1",
		"host:example.com",
		"x-custom:several spaced values",
		"",
		"host;x-custom",
	}, "\n")
	require.Equal(t, want, got)
}
