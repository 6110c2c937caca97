package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/blockpipe/txpipe/domain/txpipeline"
	"github.com/blockpipe/txpipe/domain/txpipeline/chaincontext"
	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/testutils"
	"github.com/blockpipe/txpipe/infrastructure/config"
	"github.com/blockpipe/txpipe/infrastructure/db/database/ldb"
	"github.com/blockpipe/txpipe/util/profiling"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// node runs the pipeline of one chain against the simulated gateways and
// produces a block every cfg.BlockInterval
type node struct {
	cfg      *config.Config
	db       *ldb.LevelDB
	cc       *chaincontext.ChainContext
	pipeline txpipeline.TxPipeline

	profilingServer *http.Server

	height        uint64
	prevStateRoot []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newNode(cfg *config.Config) (*node, error) {
	db, err := ldb.NewLevelDB(cfg.DataDir(), cfg.DBCacheSizeMiB)
	if err != nil {
		return nil, errors.Wrapf(err, "opening the database at %s", cfg.DataDir())
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cc, err := chaincontext.New(cfg.ChainID, cfg.Pipeline, db, registry, clock.NewDefaultClock())
	if err != nil {
		db.Close()
		return nil, err
	}

	gateways, _, _, _ := testutils.NewGateways()
	pipeline := txpipeline.NewFactory().NewTxPipeline(cc, gateways)
	err = testutils.RegisterSimulatedTypes(cc.Registry)
	if err != nil {
		db.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &node{
		cfg:      cfg,
		db:       db,
		cc:       cc,
		pipeline: pipeline,
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.Profile != "" {
		n.profilingServer = profiling.Start(cfg.Profile, registry, log)
	}
	return n, nil
}

func (n *node) start() {
	log.Infof("Serving chain %d with simulated gateways", n.cfg.ChainID)
	n.pipeline.SetAccepting(true)

	n.wg.Add(1)
	spawn(func() {
		defer n.wg.Done()
		n.produceBlocks()
	})
}

func (n *node) stop() {
	n.pipeline.SetAccepting(false)
	n.cancel()
	n.wg.Wait()

	if n.profilingServer != nil {
		err := n.profilingServer.Close()
		if err != nil {
			log.Errorf("Error closing the profile server: %s", err)
		}
	}
	err := n.db.Close()
	if err != nil {
		log.Errorf("Error closing the database: %s", err)
	}
}

func (n *node) produceBlocks() {
	ticker := time.NewTicker(n.cfg.BlockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
		}

		err := n.produceBlock()
		if err != nil {
			log.Errorf("Error producing block %d: %+v", n.height+1, err)
		}
	}
}

// produceBlock packs a block, verifies it the way a receiving node would
// and confirms it
func (n *node) produceBlock() error {
	now := n.cc.Clock.Now()
	header := &model.BlockHeader{
		Height: n.height + 1,
		Time:   now.Unix(),
	}

	packed, err := n.pipeline.PackBlock(n.ctx, &model.PackRequest{
		Deadline:      now.Add(n.cfg.BlockInterval / 2),
		MaxBytes:      maxBlockBytes,
		BlockTime:     header.Time,
		Height:        header.Height,
		PrevStateRoot: n.prevStateRoot,
	})
	if err != nil {
		return err
	}
	header.StateRoot = packed.StateRoot
	header.TxCount = uint32(len(packed.Transactions))

	verified, err := n.pipeline.VerifyBlock(n.ctx, packed.Transactions, header, n.prevStateRoot)
	if err != nil {
		n.returnPackedBlock(packed)
		return err
	}
	err = n.pipeline.OnBlockConfirmed(n.ctx, packed.Transactions, header)
	if err != nil {
		n.returnPackedBlock(packed)
		return err
	}

	n.height = header.Height
	n.prevStateRoot = verified.StateRoot
	log.Infof("Confirmed block %d with %d transactions, %d left in the pool",
		header.Height, len(packed.Transactions), n.pipeline.PoolSize())
	return nil
}

func (n *node) returnPackedBlock(packed *model.PackResult) {
	err := n.pipeline.ReturnPackedBlock(packed)
	if err != nil {
		log.Errorf("Failed to return the transactions of an unconfirmed block to the pool: %+v", err)
	}
}

const maxBlockBytes = 2 * 1024 * 1024
