package chaincontext

import (
	"sync/atomic"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/packablepool"
	"github.com/blockpipe/txpipe/domain/txpipeline/registry"
	"github.com/blockpipe/txpipe/infrastructure/db/database"
	"github.com/blockpipe/txpipe/infrastructure/metrics"
	"github.com/blockpipe/txpipe/infrastructure/txstore"
	"github.com/blockpipe/txpipe/util/prioritylock"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/prometheus/client_golang/prometheus"
)

// ChainContext holds every piece of mutable state of one chain's pipeline.
// Components receive it explicitly, so chains sharing a process never see
// each other's pool, registry or counters.
type ChainContext struct {
	ChainID uint16
	Config  *Config

	Registry         *registry.Registry
	Pool             *packablepool.Pool
	OrphanCounter    *packablepool.OrphanCounter
	UnconfirmedStore model.UnconfirmedStore
	ConfirmedStore   model.ConfirmedStore

	// Lock serializes packaging (low priority) and rollback (high priority)
	Lock *prioritylock.Mutex

	Metrics *metrics.ChainMetrics
	Clock   clock.Clock

	tipHeight atomic.Uint64
}

// New creates the context of chainID. The stores live in db under chain
// specific buckets and the metrics are registered with registerer.
func New(chainID uint16, config *Config, db database.Database,
	registerer prometheus.Registerer, clk clock.Clock) (*ChainContext, error) {

	err := config.Validate()
	if err != nil {
		return nil, err
	}

	confirmedStore, err := txstore.NewConfirmedStore(db, chainID, config.ConfirmedCacheSize)
	if err != nil {
		return nil, err
	}

	pool := packablepool.New(config.MaxPoolTransactions, config.PollInterval)
	return &ChainContext{
		ChainID:          chainID,
		Config:           config,
		Registry:         registry.New(),
		Pool:             pool,
		OrphanCounter:    packablepool.NewOrphanCounter(config.MaxOrphanRetries, config.MaxOrphanCounterEntries),
		UnconfirmedStore: txstore.NewUnconfirmedStore(db, chainID),
		ConfirmedStore:   confirmedStore,
		Lock:             prioritylock.New(),
		Metrics:          metrics.NewChainMetrics(registerer, chainID, pool.TransactionCount),
		Clock:            clk,
	}, nil
}

// SetAccepting sets whether the chain accepts newly submitted transactions
func (cc *ChainContext) SetAccepting(accepting bool) {
	cc.Pool.SetAccepting(accepting)
}

// IsAccepting returns whether the chain accepts newly submitted transactions
func (cc *ChainContext) IsAccepting() bool {
	return cc.Pool.IsAccepting()
}

// MainAsset returns the asset chain ID and asset ID fees are paid in
func (cc *ChainContext) MainAsset() (assetChainID uint16, assetID uint16) {
	return cc.ChainID, cc.Config.MainAssetID
}

// SetTipHeight records the height of the last confirmed block
func (cc *ChainContext) SetTipHeight(height uint64) {
	cc.tipHeight.Store(height)
}

// TipHeight returns the height of the last confirmed block
func (cc *ChainContext) TipHeight() uint64 {
	return cc.tipHeight.Load()
}
