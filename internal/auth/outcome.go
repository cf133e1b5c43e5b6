package auth

// Reason records why a request was not authenticated. It is used for logs
// and diagnostics only; clients always receive the same challenge.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonMissing
	ReasonMalformed
	ReasonInsecureChannel
	ReasonRejected
	ReasonUnknownKey
	ReasonSignatureMismatch
	ReasonBodyDigestMismatch
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonMissing:
		return "missing_credentials"
	case ReasonMalformed:
		return "malformed_credentials"
	case ReasonInsecureChannel:
		return "insecure_channel"
	case ReasonRejected:
		return "rejected_credentials"
	case ReasonUnknownKey:
		return "unknown_key"
	case ReasonSignatureMismatch:
		return "signature_mismatch"
	case ReasonBodyDigestMismatch:
		return "body_digest_mismatch"
	default:
		return "unknown"
	}
}

// Outcome is the result of running a request through an Authenticator.
type Outcome struct {
	User   *User
	Reason Reason
}

// Succeeded reports whether the request carried valid credentials.
func (o Outcome) Succeeded() bool {
	return o.User != nil
}

func authenticated(user *User) Outcome {
	return Outcome{User: user}
}

func failed(reason Reason) Outcome {
	return Outcome{Reason: reason}
}
