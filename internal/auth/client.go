package auth

import (
	"fmt"
	"net/http"
)

// RequestSigner produces HMAC Authorization headers that an HmacAuthEngine
// configured with the same options will accept.
type RequestSigner struct {
	SchemeToken  string
	Algorithm    Algorithm
	DigestHeader string
	StringToSign StringToSign
	Signer       Signer
}

// NewRequestSigner accepts the same options as NewHmacAuthEngine.
func NewRequestSigner(stringToSign StringToSign, opts ...HmacOption) (*RequestSigner, error) {
	if stringToSign == nil {
		return nil, fmt.Errorf("%w: request signer requires a string-to-sign builder", ErrMisconfigured)
	}

	cfg := HmacAuthEngine{
		SchemeToken:  DefaultHmacScheme,
		Algorithm:    HmacSHA256,
		DigestHeader: DefaultDigestHeader,
		Signer:       Sign,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Signer == nil {
		cfg.Signer = Sign
	}

	return &RequestSigner{
		SchemeToken:  cfg.SchemeToken,
		Algorithm:    cfg.Algorithm,
		DigestHeader: cfg.DigestHeader,
		StringToSign: stringToSign,
		Signer:       cfg.Signer,
	}, nil
}

// Sign sets the body digest header (when the request has a body and a digest
// header is configured) and the Authorization header on r.
func (s *RequestSigner) Sign(r *http.Request, publicKeyID string, key []byte) error {
	ctx := r.Context()

	if s.DigestHeader != "" && r.Body != nil && r.Body != http.NoBody {
		digest, err := BodyDigest(ctx, NewRequest(r, false))
		if err != nil {
			return fmt.Errorf("digest request body: %w", err)
		}
		r.Header.Set(s.DigestHeader, digest)
	}

	message, err := s.StringToSign(NewRequest(r, r.URL.Scheme == "https"))
	if err != nil {
		return fmt.Errorf("build string to sign: %w", err)
	}

	mac, err := s.Signer(s.Algorithm, key, message)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	r.Header.Set(AuthorizationHeader, s.SchemeToken+" "+publicKeyID+":"+encodeSignature(mac))
	return nil
}

// SignRequest signs r with the default HMAC options.
func SignRequest(r *http.Request, publicKeyID string, key []byte, stringToSign StringToSign) error {
	signer, err := NewRequestSigner(stringToSign)
	if err != nil {
		return err
	}
	return signer.Sign(r, publicKeyID, key)
}
