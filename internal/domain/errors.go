package domain

import "errors"

var (
	ErrSignatureMissing = errors.New("signature missing")
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrPolicyViolation  = errors.New("policy violation")
	ErrLookupFailed     = errors.New("lookup failed")
	ErrPipeline         = errors.New("pipeline failure")
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidEvent     = errors.New("invalid event")
)

// CommitError is the per-commit failure recorded on a CommitVerification.
// Kind is one of ErrSignatureMissing, ErrSignatureInvalid or ErrPolicyViolation.
type CommitError struct {
	Kind    error
	Message string
}

func (e *CommitError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *CommitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}

func NewCommitError(kind error, message string) *CommitError {
	return &CommitError{Kind: kind, Message: message}
}
