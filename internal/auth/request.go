package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
)

// SecureFunc reports whether a request arrived over a secure channel.
type SecureFunc func(r *http.Request) bool

// IsTLS reports whether the request was received over TLS by this process.
func IsTLS(r *http.Request) bool {
	return r.TLS != nil
}

// TrustForwardedProto treats a request as secure when it arrived over TLS or
// a trusted reverse proxy reports https in X-Forwarded-Proto.
func TrustForwardedProto(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}

// Request is the read-only view of an inbound request handed to validators,
// key resolvers and string-to-sign builders.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Host     string
	Header   http.Header
	Secure   bool

	raw *http.Request
}

// NewRequest wraps r. The header map is cloned so callbacks cannot modify
// the live request.
func NewRequest(r *http.Request, secure bool) *Request {
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	return &Request{
		Method:   r.Method,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Host:     host,
		Header:   r.Header.Clone(),
		Secure:   secure,
		raw:      r,
	}
}

// URLPath returns the escaped request path.
func (rq *Request) URLPath() string {
	return rq.raw.URL.EscapedPath()
}

// ErrBodyTooLarge is returned when a body exceeds the configured read limit.
var ErrBodyTooLarge = errors.New("auth: request body too large")

// Body reads the whole request body and puts an identical copy back on the
// underlying request, so later readers see the full payload. Reading stops
// with ctx.Err() as soon as ctx is done.
func (rq *Request) Body(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := rq.copyBody(ctx, &buf, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// copyBody streams the body into w while keeping a copy to restore. A
// positive limit caps how many bytes are read; a longer body yields
// ErrBodyTooLarge after at most limit+1 bytes.
func (rq *Request) copyBody(ctx context.Context, w io.Writer, limit int64) error {
	r := rq.raw
	if r.Body == nil || r.Body == http.NoBody {
		return ctx.Err()
	}

	var src io.Reader = &contextReader{ctx: ctx, r: r.Body}
	if limit > 0 {
		src = io.LimitReader(src, limit+1)
	}

	var buf bytes.Buffer
	n, err := io.Copy(io.MultiWriter(w, &buf), src)
	if err == nil && limit > 0 && n > limit {
		// Put the consumed prefix back in front of the unread remainder.
		r.Body = &replayBody{
			Reader: io.MultiReader(bytes.NewReader(buf.Bytes()), r.Body),
			Closer: r.Body,
		}
		return ErrBodyTooLarge
	}
	_ = r.Body.Close()

	// Restore whatever was read, even on error, so nothing downstream
	// observes a half-consumed stream.
	r.Body = io.NopCloser(bytes.NewReader(buf.Bytes()))
	return err
}

type replayBody struct {
	io.Reader
	io.Closer
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
