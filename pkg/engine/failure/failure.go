// Package failure classifies ingestion errors by how far their damage is allowed to spread.
package failure

import (
	"errors"
	"fmt"
)

// Kind is the containment class of an ingestion error.
type Kind int

const (
	// Configuration marks a malformed rule or filter. The rule is skipped.
	Configuration Kind = iota + 1
	// Identity marks bad credentials, an account mismatch or an unknown subscription. The account is skipped.
	Identity
	// Permission marks a missing provider API permission. The rule is skipped for that account.
	Permission
	// TransientFetch marks a network or provider failure. The account's remaining rules are aborted.
	TransientFetch
	// Normalization marks an event that was stored in degraded form.
	Normalization
	// PersistenceConflict marks a duplicate key. It is absorbed, never reported as a failure.
	PersistenceConflict
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Identity:
		return "identity"
	case Permission:
		return "permission"
	case TransientFetch:
		return "transient_fetch"
	case Normalization:
		return "normalization"
	case PersistenceConflict:
		return "persistence_conflict"
	}
	return "unknown"
}

// Error is an error tagged with its Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New tags err with kind. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Configurationf builds a Configuration error from a format string.
func Configurationf(op, format string, args ...any) error {
	return &Error{Kind: Configuration, Op: op, Err: fmt.Errorf(format, args...)}
}

// Identityf builds an Identity error from a format string.
func Identityf(op, format string, args ...any) error {
	return &Error{Kind: Identity, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the Kind of the first tagged error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
