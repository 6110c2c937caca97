package ruleerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnknownTxType indicates that no module registered the transaction type
var ErrUnknownTxType = errors.New("unknown transaction type")

// ErrBlockRejected is matched by every BlockRejectedError
var ErrBlockRejected = errors.New("block rejected")

// BlockRejectedError is returned when a received block fails verification.
// The caller must not advance chain state past the block.
type BlockRejectedError struct {
	Reason string
}

func (e BlockRejectedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrBlockRejected, e.Reason)
}

// Is makes errors.Is(err, ErrBlockRejected) hold for every BlockRejectedError
func (e BlockRejectedError) Is(target error) bool {
	return target == ErrBlockRejected
}

// NewErrBlockRejected creates a BlockRejectedError with a formatted reason
func NewErrBlockRejected(format string, args ...interface{}) error {
	return errors.WithStack(BlockRejectedError{Reason: fmt.Sprintf(format, args...)})
}
