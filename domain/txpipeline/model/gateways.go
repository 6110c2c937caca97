package model

import "context"

// LedgerVerdict is the ledger's judgement of a single transaction's coin data
type LedgerVerdict uint8

// LedgerVerdict values
const (
	LedgerAccepted LedgerVerdict = iota
	LedgerFailed
	LedgerOrphan
)

func (v LedgerVerdict) String() string {
	switch v {
	case LedgerAccepted:
		return "accepted"
	case LedgerFailed:
		return "failed"
	case LedgerOrphan:
		return "orphan"
	}
	return "unknown"
}

// LedgerVerifyResult partitions a batch verified by the ledger. Every
// transaction of the batch appears in exactly one of the partitions.
type LedgerVerifyResult struct {
	Accepted []TxHash
	Failed   []TxHash
	Orphaned []TxHash
}

// LedgerGateway verifies, commits and rolls back the coin data of
// transactions. Verification holds the verified transactions as
// unconfirmed ledger state until they are committed or removed.
type LedgerGateway interface {
	VerifyBatch(ctx context.Context, chainID uint16, txs [][]byte, height uint64) (*LedgerVerifyResult, error)
	VerifyOne(ctx context.Context, chainID uint16, tx []byte, height uint64) (LedgerVerdict, error)
	Commit(ctx context.Context, chainID uint16, txs [][]byte, height uint64) (bool, error)
	Rollback(ctx context.Context, chainID uint16, txs [][]byte, height uint64) (bool, error)
	RemoveUnconfirmed(ctx context.Context, chainID uint16, hash TxHash) error

	// BeginBatchNotify and EndBatchNotify bracket a packaging or
	// re-verification pass.
	BeginBatchNotify(ctx context.Context, chainID uint16) error
	EndBatchNotify(ctx context.Context, chainID uint16) error
}

// SyncMode tells a module whether a commit is part of normal operation or
// of block synchronization
type SyncMode uint8

// SyncMode values
const (
	SyncModeNormal SyncMode = iota
	SyncModeSyncing
)

// ProduceMode tells a module whether produce hooks run while packing a block
// or while verifying a received one
type ProduceMode uint8

// ProduceMode values
const (
	ProduceModePack ProduceMode = iota
	ProduceModeVerify
)

// ProduceResult is the outcome of a module's post-pack produce hook
type ProduceResult struct {
	// NewTxs are serialized system transactions synthesized by the module.
	NewTxs [][]byte

	// MustRemove are packed transactions whose effect could not be produced.
	MustRemove []TxHash

	// StateRoot is the module's state root after applying the block, if any.
	StateRoot []byte
}

// ModuleGateway dispatches validation, commit, rollback and produce calls to
// the business module owning a transaction type.
type ModuleGateway interface {
	// Validate returns the hashes of the transactions the module rejects.
	Validate(ctx context.Context, chainID uint16, moduleCode string, txs [][]byte,
		header *BlockHeader) ([]TxHash, error)

	Commit(ctx context.Context, chainID uint16, moduleCode string, txs [][]byte,
		header *BlockHeader, syncMode SyncMode) (bool, error)

	Rollback(ctx context.Context, chainID uint16, moduleCode string, txs [][]byte,
		header *BlockHeader) (bool, error)

	Produce(ctx context.Context, chainID uint16, moduleCode string, txs [][]byte,
		height uint64, blockTime int64, mode ProduceMode) (*ProduceResult, error)
}

// BroadcastGateway relays a transaction to the network
type BroadcastGateway interface {
	Broadcast(ctx context.Context, chainID uint16, tx []byte) (bool, error)
}

// Gateways bundles the external collaborators of the pipeline
type Gateways struct {
	Ledger    LedgerGateway
	Module    ModuleGateway
	Broadcast BroadcastGateway
}
