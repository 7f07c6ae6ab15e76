package store

import (
	"context"
	"fmt"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore is the byte level interface for interacting with a ckv cloud.
// Implementations are the in process node (dkv) and the rpc client store.
type IStore interface {
	// Set inserts or updates a key–value pair.
	Set(ctx context.Context, key string, value []byte) (err error)
	// Delete deletes a key–value pair.
	Delete(ctx context.Context, key string) (err error)
	// Get return the value for a key. The boolean return value indicates whether a value for the key was found.
	Get(ctx context.Context, key string) (value []byte, loaded bool, err error)
	// Has returns whether a key exists.
	Has(ctx context.Context, key string) (loaded bool, err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("ckv error (code %s)", e.Code)
	}
	return fmt.Sprintf("ckv error (code %s): %s", e.Code, e.Msg)
}

// Is makes errors.Is match any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code RetCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Sentinels for errors.Is. Only the code is compared.
var (
	ErrInternal          = &Error{Code: RetCInternalError}
	ErrUnsupported       = &Error{Code: RetCUnsupportedOperation}
	ErrInvalidOperation  = &Error{Code: RetCInvalidOperation}
	ErrBackend           = &Error{Code: RetCBackendFailure}
	ErrProtocolViolation = &Error{Code: RetCProtocolViolation}
	ErrValueTooLarge     = &Error{Code: RetCValueTooLarge}
	ErrUnavailable       = &Error{Code: RetCUnavailable}
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCBackendFailure                      // 4: Persistence backend I/O failed.
	RetCProtocolViolation                   // 5: A peer broke the replication protocol (e.g. a write routed to a non-home node).
	RetCValueTooLarge                       // 6: Value exceeds the configured maximum size.
	RetCUnavailable                         // 7: Peer could not be reached.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCBackendFailure:
		return "BackendFailure"
	case RetCProtocolViolation:
		return "ProtocolViolation"
	case RetCValueTooLarge:
		return "ValueTooLarge"
	case RetCUnavailable:
		return "Unavailable"
	default:
		return "Unknown"
	}
}
