package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorKind classifies ledger failures so adapters can map them without string matching.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidTransition
	KindInvalidTransfer
	KindInsufficientBalance
	KindDuplicateReference
	KindNotFound
	KindConcurrentModification
	KindInvalidArgument
	KindForbidden
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidTransition:
		return "invalid transition"
	case KindInvalidTransfer:
		return "invalid transfer"
	case KindInsufficientBalance:
		return "insufficient balance"
	case KindDuplicateReference:
		return "duplicate reference"
	case KindNotFound:
		return "not found"
	case KindConcurrentModification:
		return "concurrent modification"
	case KindInvalidArgument:
		return "invalid argument"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// LedgerError is the error type returned by every engine operation for a domain failure.
// Infrastructure failures are returned wrapped as-is.
type LedgerError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *LedgerError) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *LedgerError) Unwrap() error { return e.Err }

// Is matches another LedgerError of the same kind. A target without a message
// (the package sentinels) matches any message.
func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

var (
	ErrInvalidTransition      = &LedgerError{Kind: KindInvalidTransition}
	ErrInvalidTransfer        = &LedgerError{Kind: KindInvalidTransfer}
	ErrInsufficientBalance    = &LedgerError{Kind: KindInsufficientBalance}
	ErrDuplicateReference     = &LedgerError{Kind: KindDuplicateReference}
	ErrNotFound               = &LedgerError{Kind: KindNotFound}
	ErrConcurrentModification = &LedgerError{Kind: KindConcurrentModification}
	ErrInvalidArgument        = &LedgerError{Kind: KindInvalidArgument}
	ErrForbidden              = &LedgerError{Kind: KindForbidden}
)

func newError(kind ErrorKind, format string, args ...any) *LedgerError {
	return &LedgerError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first LedgerError in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}

// PostgreSQL SQLSTATE codes the engine translates.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// translateDBError maps constraint and concurrency failures to ledger kinds and
// wraps everything else with context. A nil err stays nil.
func translateDBError(err error, context string) error {
	if err == nil {
		return nil
	}
	var le *LedgerError
	if errors.As(err, &le) {
		return err
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", context, err)
	}

	switch pgErr.Code {
	case pgUniqueViolation:
		if strings.Contains(pgErr.ConstraintName, "reference") {
			return &LedgerError{Kind: KindDuplicateReference, Message: "reference number already used", Err: err}
		}
		return &LedgerError{Kind: KindInvalidArgument, Message: fmt.Sprintf("%s: already exists", context), Err: err}
	case pgForeignKeyViolation:
		return &LedgerError{Kind: KindNotFound, Message: fmt.Sprintf("%s: referenced record does not exist", context), Err: err}
	case pgCheckViolation:
		if strings.HasPrefix(pgErr.ConstraintName, "balances_") {
			return &LedgerError{Kind: KindInsufficientBalance, Message: pgErr.ConstraintName, Err: err}
		}
		return &LedgerError{Kind: KindInvalidArgument, Message: fmt.Sprintf("%s: %s", context, pgErr.ConstraintName), Err: err}
	case pgSerializationFailure, pgDeadlockDetected:
		return &LedgerError{Kind: KindConcurrentModification, Message: context, Err: err}
	}
	return fmt.Errorf("%s: %w", context, err)
}

// NewError builds a LedgerError for callers outside the engine, such as adapters
// rejecting a request before it reaches a workflow.
func NewError(kind ErrorKind, format string, args ...any) error {
	return newError(kind, format, args...)
}
