// Package rpcerr defines the error taxonomy shared by every layer of the
// framing engine: header codec, registry, handle lifecycle, and the
// forward/respond controller all return one of the sentinels below, wrapped
// with operational context via Error.
package rpcerr

import (
	"errors"
	"fmt"
)

// Code is a first-class RPC return code. There are no exceptions in this
// package's contract: every fallible operation returns (value, error) and
// the error, when non-nil, unwraps to exactly one of the sentinels below.
type Code int

const (
	Success Code = iota
	NAError
	Timeout
	InvalidParam
	SizeError
	NoMemError
	ProtocolError
	NoMatch
	ChecksumError
	Canceled
	OtherError
)

// String returns the stable textual name for a code, matching error_string
// from the wire-level contract.
func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case NAError:
		return "na_error"
	case Timeout:
		return "timeout"
	case InvalidParam:
		return "invalid_param"
	case SizeError:
		return "size_error"
	case NoMemError:
		return "nomem_error"
	case ProtocolError:
		return "protocol_error"
	case NoMatch:
		return "no_match"
	case ChecksumError:
		return "checksum_error"
	case Canceled:
		return "canceled"
	case OtherError:
		return "other_error"
	default:
		return "unknown_error"
	}
}

// Sentinel errors, one per Code, so callers can errors.Is against a stable
// value regardless of which layer wrapped it.
var (
	ErrNAError       = errors.New(NAError.String())
	ErrTimeout       = errors.New(Timeout.String())
	ErrInvalidParam  = errors.New(InvalidParam.String())
	ErrSizeError     = errors.New(SizeError.String())
	ErrNoMemError    = errors.New(NoMemError.String())
	ErrProtocolError = errors.New(ProtocolError.String())
	ErrNoMatch       = errors.New(NoMatch.String())
	ErrChecksumError = errors.New(ChecksumError.String())
	ErrCanceled      = errors.New(Canceled.String())
	ErrOtherError    = errors.New(OtherError.String())
)

var sentinelByCode = map[Code]error{
	NAError:       ErrNAError,
	Timeout:       ErrTimeout,
	InvalidParam:  ErrInvalidParam,
	SizeError:     ErrSizeError,
	NoMemError:    ErrNoMemError,
	ProtocolError: ErrProtocolError,
	NoMatch:       ErrNoMatch,
	ChecksumError: ErrChecksumError,
	Canceled:      ErrCanceled,
	OtherError:    ErrOtherError,
}

// Error wraps a sentinel with structured debugging context: the operation
// that failed, the RPC and handle it failed on, and the underlying cause.
type Error struct {
	Op       string
	RPCID    uint64
	HandleID uint64
	Code     Code
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("narpc %s: %s (rpc_id=%d, handle_id=%d)", e.Op, e.Err, e.RPCID, e.HandleID)
}

// Unwrap returns the underlying sentinel error, enabling errors.Is and
// errors.As to match through Error's wrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error for code, wrapping that code's sentinel.
func New(op string, code Code) *Error {
	return &Error{Op: op, Code: code, Err: sentinelOf(code)}
}

// Wrap builds an *Error for code with an RPC/handle id attached, useful once
// a handle exists to correlate the failure with its log lines.
func Wrap(op string, code Code, rpcID, handleID uint64) *Error {
	return &Error{Op: op, RPCID: rpcID, HandleID: handleID, Code: code, Err: sentinelOf(code)}
}

func sentinelOf(code Code) error {
	if err, ok := sentinelByCode[code]; ok {
		return err
	}
	return ErrOtherError
}

// CodeOf recovers the Code carried by err, defaulting to Success for a nil
// error and OtherError for one this package did not produce.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}
	for code, sentinel := range sentinelByCode {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return OtherError
}
