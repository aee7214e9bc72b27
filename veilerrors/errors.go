// Package veilerrors defines the stable rejection taxonomy shared by all
// validators. Rejection codes are part of consensus: two validators classifying
// the same transaction under different codes is itself a consensus fault, so
// codes are fixed and new conditions must be appended, never renumbered.
package veilerrors

import (
	"errors"
	"fmt"
)

// Rejection codes. Code 0 is reserved for acceptance.
const (
	CodeOK                   uint32 = 0
	CodeMalformedTransaction uint32 = 1
	CodeExpiredOrWrongChain  uint32 = 2
	CodeInvalidProof         uint32 = 3
	CodeUnbalancedValue      uint32 = 4
	CodeUnknownAnchor        uint32 = 5
	CodeDoubleSpend          uint32 = 6
	CodeStorageFailure       uint32 = 7
	CodeInvalidLifecycle     uint32 = 8
)

// Error is a coded rejection. Non-fatal errors are local to the offending
// transaction; fatal errors must halt the node rather than let state diverge.
type Error struct {
	Code  uint32
	Name  string
	Fatal bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d|%s", e.Code, e.Name)
}

var (
	ErrMalformedTransaction = &Error{Code: CodeMalformedTransaction, Name: "MalformedTransaction"}
	ErrExpiredOrWrongChain  = &Error{Code: CodeExpiredOrWrongChain, Name: "ExpiredOrWrongChain"}
	ErrInvalidProof         = &Error{Code: CodeInvalidProof, Name: "InvalidProof"}
	ErrUnbalancedValue      = &Error{Code: CodeUnbalancedValue, Name: "UnbalancedValue"}
	ErrUnknownAnchor        = &Error{Code: CodeUnknownAnchor, Name: "UnknownAnchor"}
	ErrDoubleSpend          = &Error{Code: CodeDoubleSpend, Name: "DoubleSpend"}
	ErrStorageFailure       = &Error{Code: CodeStorageFailure, Name: "StorageFailure", Fatal: true}
	ErrInvalidLifecycle     = &Error{Code: CodeInvalidLifecycle, Name: "InvalidLifecycle", Fatal: true}
)

// Wrap attaches detail to a coded error while keeping errors.Is matching
// against the sentinel.
func Wrap(sentinel *Error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{sentinel}, args...)...)
}

// CodeOf extracts the rejection code from err. Unclassified errors map to
// MalformedTransaction, the catch-all for input that never reached a
// classified check.
func CodeOf(err error) uint32 {
	if err == nil {
		return CodeOK
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeMalformedTransaction
}

// IsFatal reports whether err requires halting the node.
func IsFatal(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Fatal
	}
	return false
}
