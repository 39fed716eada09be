package balloon

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies failures surfaced by the Service.
type ErrorCode int

const (
	CodeNotFound ErrorCode = iota + 1
	CodeForbidden
	CodeConflict
	CodeInsufficientStorage
	CodeInvalidArgument
	CodeContentNotFound
)

func (c ErrorCode) String() string {
	switch c {
	case CodeNotFound:
		return "not found"
	case CodeForbidden:
		return "forbidden"
	case CodeConflict:
		return "conflict"
	case CodeInsufficientStorage:
		return "insufficient storage"
	case CodeInvalidArgument:
		return "invalid argument"
	case CodeContentNotFound:
		return "content not found"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// ConflictReason refines CodeConflict errors.
type ConflictReason int

const (
	ReasonNone ConflictReason = iota
	ReasonReadonly
	ReasonNameCollision
	ReasonSelfMove
	ReasonCycle
	ReasonNoOp
	ReasonKindMismatch
	ReasonParentDeleted
	ReasonConcurrent
)

func (r ConflictReason) String() string {
	switch r {
	case ReasonReadonly:
		return "readonly"
	case ReasonNameCollision:
		return "name collision"
	case ReasonSelfMove:
		return "self move"
	case ReasonCycle:
		return "cycle"
	case ReasonNoOp:
		return "no-op"
	case ReasonKindMismatch:
		return "kind mismatch"
	case ReasonParentDeleted:
		return "parent deleted"
	case ReasonConcurrent:
		return "concurrent modification"
	default:
		return "none"
	}
}

// Sentinel errors exchanged with collaborators.
var (
	// ErrRevisionConflict is returned by Tx implementations when a conditional
	// write finds a different revision than expected, or when the transaction
	// could not commit because of a concurrent writer.
	ErrRevisionConflict = errors.New("revision conflict")

	// ErrBlobNotFound is returned by a Vault when the object does not exist.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrUploadTooLarge is returned by a StagingArea when an upload exceeds
	// the configured per-upload maximum.
	ErrUploadTooLarge = errors.New("upload exceeds maximum size")

	// ErrStagingFull is returned by a StagingArea when accepting the upload
	// would exceed its total capacity.
	ErrStagingFull = errors.New("staging area full")
)

// Error is the typed error returned by every Service operation.
type Error struct {
	Code    ErrorCode
	Reason  ConflictReason
	Op      string
	NodeID  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.NodeID != "" {
		b.WriteString(" ")
		b.WriteString(e.NodeID)
	}
	b.WriteString(": ")
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(e.Code.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code ErrorCode, op, nodeID, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, NodeID: nodeID, Message: fmt.Sprintf(format, args...)}
}

func notFound(op, nodeID, format string, args ...any) *Error {
	return newError(CodeNotFound, op, nodeID, format, args...)
}

func forbidden(op, nodeID string) *Error {
	return newError(CodeForbidden, op, nodeID, "permission denied")
}

func invalid(op, nodeID, format string, args ...any) *Error {
	return newError(CodeInvalidArgument, op, nodeID, format, args...)
}

func conflict(op, nodeID string, reason ConflictReason, format string, args ...any) *Error {
	e := newError(CodeConflict, op, nodeID, format, args...)
	e.Reason = reason
	if reason == ReasonConcurrent {
		e.Err = ErrRevisionConflict
	}
	return e
}

// asServiceError converts err into an *Error attributed to op/nodeID.
// Errors that already carry a code are returned unchanged.
func asServiceError(op, nodeID string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	switch {
	case errors.Is(err, ErrRevisionConflict):
		return &Error{Code: CodeConflict, Reason: ReasonConcurrent, Op: op, NodeID: nodeID,
			Message: "modified concurrently, retry", Err: err}
	case errors.Is(err, ErrUploadTooLarge), errors.Is(err, ErrStagingFull):
		return &Error{Code: CodeInsufficientStorage, Op: op, NodeID: nodeID, Err: err}
	case errors.Is(err, ErrBlobNotFound):
		return &Error{Code: CodeContentNotFound, Op: op, NodeID: nodeID, Err: err}
	}
	return fmt.Errorf("%s %s: %w", op, nodeID, err)
}

// Code returns the ErrorCode carried by err, or 0 when err is not typed.
func Code(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// Reason returns the ConflictReason carried by err.
func Reason(err error) ConflictReason {
	var se *Error
	if errors.As(err, &se) {
		return se.Reason
	}
	return ReasonNone
}

func IsNotFound(err error) bool            { return Code(err) == CodeNotFound }
func IsForbidden(err error) bool           { return Code(err) == CodeForbidden }
func IsConflict(err error) bool            { return Code(err) == CodeConflict }
func IsInsufficientStorage(err error) bool { return Code(err) == CodeInsufficientStorage }
func IsInvalidArgument(err error) bool     { return Code(err) == CodeInvalidArgument }
func IsContentNotFound(err error) bool     { return Code(err) == CodeContentNotFound }

// IsRetryable reports whether the operation lost an optimistic race and may
// succeed if issued again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRevisionConflict)
}

// reattribute returns a copy of a typed error with op and nodeID replaced.
func reattribute(err error, op, nodeID string) error {
	var se *Error
	if !errors.As(err, &se) {
		return asServiceError(op, nodeID, err)
	}
	c := *se
	c.Op, c.NodeID = op, nodeID
	return &c
}
