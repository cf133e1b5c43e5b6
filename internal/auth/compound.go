package auth

import (
	"context"
	"fmt"
	"net/http"
)

// CompoundAuthEngine accepts any of several schemes. The credential is
// routed to the scheme whose parser claimed it, and a failed request is
// challenged with every scheme.
type CompoundAuthEngine struct {
	engines []Scheme
}

// NewCompoundAuthEngine creates a CompoundAuthEngine with the given schemes,
// tried in order.
func NewCompoundAuthEngine(engines ...Scheme) (*CompoundAuthEngine, error) {
	if len(engines) == 0 {
		return nil, fmt.Errorf("%w: compound scheme requires at least one scheme", ErrMisconfigured)
	}

	seen := make(map[string]bool, len(engines))
	for _, engine := range engines {
		if engine == nil {
			return nil, fmt.Errorf("%w: compound scheme given a nil scheme", ErrMisconfigured)
		}
		if seen[engine.Name()] {
			return nil, fmt.Errorf("%w: duplicate scheme %q", ErrMisconfigured, engine.Name())
		}
		seen[engine.Name()] = true
	}

	return &CompoundAuthEngine{
		engines: engines,
	}, nil
}

func (e *CompoundAuthEngine) checkConfig() error {
	for _, engine := range e.engines {
		if c, ok := engine.(configChecker); ok {
			if err := c.checkConfig(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *CompoundAuthEngine) Name() string {
	return e.engines[0].Name()
}

func (e *CompoundAuthEngine) Parse(header string) (Credential, bool) {
	for _, engine := range e.engines {
		if cred, ok := engine.Parse(header); ok {
			return cred, true
		}
	}
	return Credential{}, false
}

func (e *CompoundAuthEngine) Validate(ctx context.Context, rq *Request, cred Credential) (*User, Reason, error) {
	for _, engine := range e.engines {
		if engine.Name() == cred.Scheme {
			return engine.Validate(ctx, rq, cred)
		}
	}
	return nil, ReasonMalformed, nil
}

func (e *CompoundAuthEngine) Challenge(h http.Header) {
	for _, engine := range e.engines {
		engine.Challenge(h)
	}
}
