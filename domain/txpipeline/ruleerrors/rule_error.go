package ruleerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// RuleError identifies a rule violation. It is used to indicate that
// processing of a transaction failed due to one of the many admission
// rules. The caller can use errors.As to determine if a failure was
// specifically due to a rule violation and use the Err field to access the
// underlying TxRuleError.
type RuleError struct {
	Err error
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	if e.Err == nil {
		return "<nil>"
	}
	return e.Err.Error()
}

// Unwrap satisfies the errors.Unwrap interface
func (e RuleError) Unwrap() error {
	return e.Err
}

// RejectCode represents a numeric value by which a submitter is told why a
// transaction was rejected.
type RejectCode uint8

// These constants define the various supported reject codes.
const (
	RejectMalformed        RejectCode = 0x01
	RejectInvalid          RejectCode = 0x10
	RejectDuplicate        RejectCode = 0x12
	RejectUnknownType      RejectCode = 0x13
	RejectPaused           RejectCode = 0x14
	RejectInvalidSignature RejectCode = 0x15
	RejectSystemTx         RejectCode = 0x16
	RejectModule           RejectCode = 0x17
	RejectInsufficientFee  RejectCode = 0x42
	RejectPoolFull         RejectCode = 0x50
	RejectBroadcast        RejectCode = 0x51
)

// Map of reject codes back strings for pretty printing.
var rejectCodeStrings = map[RejectCode]string{
	RejectMalformed:        "REJECT_MALFORMED",
	RejectInvalid:          "REJECT_INVALID",
	RejectDuplicate:        "REJECT_DUPLICATE",
	RejectUnknownType:      "REJECT_UNKNOWNTYPE",
	RejectPaused:           "REJECT_PAUSED",
	RejectInvalidSignature: "REJECT_INVALIDSIGNATURE",
	RejectSystemTx:         "REJECT_SYSTEMTX",
	RejectModule:           "REJECT_MODULE",
	RejectInsufficientFee:  "REJECT_INSUFFICIENTFEE",
	RejectPoolFull:         "REJECT_POOLFULL",
	RejectBroadcast:        "REJECT_BROADCAST",
}

// String returns the RejectCode in human-readable form.
func (code RejectCode) String() string {
	if s, ok := rejectCodeStrings[code]; ok {
		return s
	}

	return fmt.Sprintf("Unknown RejectCode (%d)", uint8(code))
}

// TxRuleError identifies a rule violation. The caller can use errors.As to
// determine if a failure was specifically due to a rule violation and
// access the RejectCode field to ascertain the specific reason for the rule
// violation.
type TxRuleError struct {
	RejectCode  RejectCode // The code returned to the submitter
	Description string     // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e TxRuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.RejectCode, e.Description)
}

// NewTxRuleError creates an underlying TxRuleError with the given a set of
// arguments and returns a RuleError that encapsulates it.
func NewTxRuleError(code RejectCode, desc string) error {
	return errors.WithStack(RuleError{
		Err: TxRuleError{RejectCode: code, Description: desc},
	})
}

// NewTxRuleErrorf is NewTxRuleError with a formatted description
func NewTxRuleErrorf(code RejectCode, format string, args ...interface{}) error {
	return NewTxRuleError(code, fmt.Sprintf(format, args...))
}

// ExtractRejectCode attempts to return a relevant reject code for a given error
// by examining the error for known types. It will return true if a code
// was successfully extracted.
func ExtractRejectCode(err error) (RejectCode, bool) {
	var trErr TxRuleError
	if errors.As(err, &trErr) {
		return trErr.RejectCode, true
	}

	return RejectInvalid, false
}

// IsRejectCode returns whether err carries the given reject code
func IsRejectCode(err error, code RejectCode) bool {
	extracted, ok := ExtractRejectCode(err)
	return ok && extracted == code
}
