package model

import "time"

// PackRequest describes the block a packaging attempt should fill
type PackRequest struct {
	// Deadline is the wall-clock time by which PackBlock must return.
	Deadline time.Time

	// MaxBytes is the block size budget, header included.
	MaxBytes int

	BlockTime      int64
	Height         uint64
	PrevStateRoot  []byte
	PackingAddress []byte
}

// PackResult is the outcome of a packaging attempt. An empty result is a
// valid outcome and still carries PrevStateRoot as its state root.
type PackResult struct {
	Transactions [][]byte
	Txs          []*Transaction
	StateRoot    []byte
	Empty        bool
}

// VerifyResult is the outcome of a successful block verification
type VerifyResult struct {
	StateRoot []byte
	TxCount   int
}
