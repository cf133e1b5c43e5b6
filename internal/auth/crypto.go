package auth

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// Algorithm names the keyed hash used to sign HMAC requests.
type Algorithm string

const (
	HmacMD5    Algorithm = "HMAC-MD5"
	HmacSHA1   Algorithm = "HMAC-SHA1"
	HmacSHA256 Algorithm = "HMAC-SHA256"
	HmacSHA384 Algorithm = "HMAC-SHA384"
	HmacSHA512 Algorithm = "HMAC-SHA512"
)

// ParseAlgorithm accepts the canonical names above, case-insensitively, with
// or without the "HMAC-" prefix.
func ParseAlgorithm(s string) (Algorithm, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(name, "HMAC-") {
		name = "HMAC-" + name
	}
	alg := Algorithm(name)
	if alg.hash() == nil {
		return "", fmt.Errorf("unsupported hmac algorithm %q", s)
	}
	return alg, nil
}

func (a Algorithm) hash() func() hash.Hash {
	switch a {
	case HmacMD5:
		return md5.New
	case HmacSHA1:
		return sha1.New
	case HmacSHA256:
		return sha256.New
	case HmacSHA384:
		return sha512.New384
	case HmacSHA512:
		return sha512.New
	default:
		return nil
	}
}

// Signer computes the raw MAC of message under key.
type Signer func(alg Algorithm, key []byte, message string) ([]byte, error)

// Sign is the default Signer.
func Sign(alg Algorithm, key []byte, message string) ([]byte, error) {
	fn := alg.hash()
	if fn == nil {
		return nil, fmt.Errorf("unsupported hmac algorithm %q", alg)
	}
	h := hmac.New(fn, key)
	h.Write([]byte(message))
	return h.Sum(nil), nil
}

// SignatureString signs message and returns the standard base64 encoding
// used on the wire.
func SignatureString(alg Algorithm, key []byte, message string) (string, error) {
	sig, err := Sign(alg, key, message)
	if err != nil {
		return "", err
	}
	return encodeSignature(sig), nil
}

func encodeSignature(mac []byte) string {
	return base64.StdEncoding.EncodeToString(mac)
}

// BodyDigest returns the lowercase hex MD5 digest of the request body. The
// body stays readable afterwards.
func BodyDigest(ctx context.Context, rq *Request) (string, error) {
	return bodyDigest(ctx, rq, 0)
}

// bodyDigest is BodyDigest with a read limit; limit <= 0 means unlimited.
func bodyDigest(ctx context.Context, rq *Request, limit int64) (string, error) {
	h := md5.New()
	if err := rq.copyBody(ctx, h, limit); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestBytes returns the lowercase hex MD5 digest of b.
func DigestBytes(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// constantTimeEqual compares two wire strings without leaking the position
// of the first mismatch.
func constantTimeEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
