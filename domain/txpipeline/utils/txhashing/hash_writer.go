package txhashing

import (
	"hash"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

const transactionHashDomain = "TransactionHash"

// HashWriter is used to incrementally hash data without concatenating all of the data to a single buffer
// it exposes an io.Writer api and a Finalize function to get the resulting hash.
// The used hash function is blake2b.
type HashWriter struct {
	hash.Hash
}

// NewTransactionHashWriter returns a new HashWriter keyed with the
// transaction hash domain
func NewTransactionHashWriter() HashWriter {
	blake, err := blake2b.New256([]byte(transactionHashDomain))
	if err != nil {
		panic(errors.Wrapf(err, "this should never happen. %s is less than 64 bytes", transactionHashDomain))
	}
	return HashWriter{blake}
}

// InfallibleWrite is just like write but doesn't return anything
func (h HashWriter) InfallibleWrite(p []byte) {
	// This write can never return an error, this is part of the hash.Hash interface contract.
	_, err := h.Write(p)
	if err != nil {
		panic(errors.Wrap(err, "this should never happen. hash.Hash interface promises to not return errors."))
	}
}

// Finalize returns the resulting hash
func (h HashWriter) Finalize() model.TxHash {
	var sum model.TxHash
	copy(sum[:], h.Sum(sum[:0]))
	return sum
}
