package chaincontext

import (
	"time"

	"github.com/pkg/errors"
)

const (
	defaultBatchSize               = 2000
	defaultPackReserve             = 500 * time.Millisecond
	defaultBlockHeaderReserveBytes = 2048
	defaultTimeWindowTolerance     = 600 * time.Second
	defaultMaxCrossChainTxPerBlock = 20
	defaultMaxOrphanRetries        = 5
	defaultMaxOrphanCounterEntries = 10000
	defaultMaxPoolTransactions     = 1_000_000
	defaultPollInterval            = 5 * time.Millisecond
	defaultBroadcastRetries        = 3
	defaultBroadcastRetryInterval  = 100 * time.Millisecond
	defaultMinFeePerKB             = 100_000
	defaultMainAssetID             = 1
	defaultConfirmedCacheSize      = 100_000
)

// Config holds the tunables of one chain's pipeline
type Config struct {
	// BatchSize is the number of transactions verified by the ledger in
	// a single call while packing.
	BatchSize int

	// PackReserve is the part of the packaging budget kept for finalizing.
	// Packaging doesn't start when less than that is left.
	PackReserve time.Duration

	// BlockHeaderReserveBytes is subtracted from the block size budget.
	BlockHeaderReserveBytes int

	TimeWindowTolerance     time.Duration
	MaxCrossChainTxPerBlock int

	MaxOrphanRetries        int
	MaxOrphanCounterEntries int

	// MaxPoolTransactions is the pool capacity. 0 means unlimited.
	MaxPoolTransactions int
	PollInterval        time.Duration

	BroadcastRetries       int
	BroadcastRetryInterval time.Duration

	// MinFeePerKB is the minimum fee, in the smallest unit of the main
	// asset, per 1000 bytes of serialized transaction.
	MinFeePerKB uint64
	MainAssetID uint16

	ConfirmedCacheSize int
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() *Config {
	return &Config{
		BatchSize:               defaultBatchSize,
		PackReserve:             defaultPackReserve,
		BlockHeaderReserveBytes: defaultBlockHeaderReserveBytes,
		TimeWindowTolerance:     defaultTimeWindowTolerance,
		MaxCrossChainTxPerBlock: defaultMaxCrossChainTxPerBlock,
		MaxOrphanRetries:        defaultMaxOrphanRetries,
		MaxOrphanCounterEntries: defaultMaxOrphanCounterEntries,
		MaxPoolTransactions:     defaultMaxPoolTransactions,
		PollInterval:            defaultPollInterval,
		BroadcastRetries:        defaultBroadcastRetries,
		BroadcastRetryInterval:  defaultBroadcastRetryInterval,
		MinFeePerKB:             defaultMinFeePerKB,
		MainAssetID:             defaultMainAssetID,
		ConfirmedCacheSize:      defaultConfirmedCacheSize,
	}
}

// Validate returns an error if the configuration can't be used
func (c *Config) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return errors.Errorf("batch size must be positive, got %d", c.BatchSize)
	case c.PackReserve < 0:
		return errors.Errorf("pack reserve must not be negative, got %s", c.PackReserve)
	case c.BlockHeaderReserveBytes < 0:
		return errors.Errorf("block header reserve must not be negative, got %d", c.BlockHeaderReserveBytes)
	case c.TimeWindowTolerance <= 0:
		return errors.Errorf("time window tolerance must be positive, got %s", c.TimeWindowTolerance)
	case c.MaxCrossChainTxPerBlock < 0:
		return errors.Errorf("cross-chain cap must not be negative, got %d", c.MaxCrossChainTxPerBlock)
	case c.MaxOrphanRetries < 0:
		return errors.Errorf("orphan retries must not be negative, got %d", c.MaxOrphanRetries)
	case c.MaxOrphanCounterEntries <= 0:
		return errors.Errorf("orphan counter capacity must be positive, got %d", c.MaxOrphanCounterEntries)
	case c.MaxPoolTransactions < 0:
		return errors.Errorf("pool capacity must not be negative, got %d", c.MaxPoolTransactions)
	case c.PollInterval <= 0:
		return errors.Errorf("poll interval must be positive, got %s", c.PollInterval)
	case c.BroadcastRetries < 0:
		return errors.Errorf("broadcast retries must not be negative, got %d", c.BroadcastRetries)
	case c.ConfirmedCacheSize <= 0:
		return errors.Errorf("confirmed cache size must be positive, got %d", c.ConfirmedCacheSize)
	}
	return nil
}
