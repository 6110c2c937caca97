// Package packager fills a block proposal from the packable pool under a
// wall-clock deadline.
//
// A packaging attempt moves through collecting, batch-verifying and
// module-validating (repeated until no module rejects anything) before it is
// finalized. Any transaction taken from the pool that doesn't end up in the
// block, and wasn't found invalid, is returned to the head of the pool in
// its original order.
package packager

import (
	"context"
	"time"

	"github.com/blockpipe/txpipe/domain/txpipeline/chaincontext"
	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/infrastructure/logger"
	"github.com/pkg/errors"
)

// Packager packs blocks for one chain
type Packager struct {
	cc       *chaincontext.ChainContext
	gateways *model.Gateways
}

// New returns a Packager for the given chain
func New(cc *chaincontext.ChainContext, gateways *model.Gateways) *Packager {
	return &Packager{
		cc:       cc,
		gateways: gateways,
	}
}

// PackBlock drains the pool into a block proposal. It returns before
// request.Deadline even if a gateway never answers. Packaging failures are
// logged and yield an empty block; the returned error is reserved for
// malformed requests.
func (p *Packager) PackBlock(ctx context.Context, request *model.PackRequest) (*model.PackResult, error) {
	if request == nil {
		return nil, errors.New("pack request must not be nil")
	}
	onEnd := logger.LogAndMeasureExecutionTime(log, "PackBlock")
	defer onEnd()

	start := time.Now()
	defer func() {
		p.cc.Metrics.PackDuration.Observe(time.Since(start).Seconds())
	}()

	remaining := request.Deadline.Sub(p.cc.Clock.Now())
	if remaining < p.cc.Config.PackReserve {
		log.Debugf("Only %s left until the packaging deadline of height %d. Packing an empty block",
			remaining, request.Height)
		return p.emptyResult(request), nil
	}

	budget := request.MaxBytes - p.cc.Config.BlockHeaderReserveBytes
	if budget <= 0 {
		log.Warnf("Block size %d leaves no room for transactions. Packing an empty block", request.MaxBytes)
		return p.emptyResult(request), nil
	}

	if !p.lockBefore(ctx, request.Deadline.Add(-p.cc.Config.PackReserve)) {
		log.Warnf("The chain stayed busy until the packaging deadline of height %d. Packing an empty block",
			request.Height)
		return p.emptyResult(request), nil
	}
	defer p.cc.Lock.LowPriorityUnlock()

	pass := newPackingPass(ctx, p, request, budget)
	result, err := pass.run()
	if err != nil {
		log.Warnf("Packaging of height %d aborted, every collected transaction was returned to the pool: %s",
			request.Height, err)
		return p.emptyResult(request), nil
	}

	if result.Empty {
		p.cc.Metrics.EmptyBlocks.Inc()
	} else {
		p.cc.Metrics.PackagedTransactions.Add(float64(len(result.Txs)))
	}
	log.Debugf("Packed %d transactions for height %d in %d module validation rounds",
		len(result.Txs), request.Height, pass.validationRounds)
	return result, nil
}

// lockBefore takes the packaging lock unless deadline passes first. When it
// gives up, the lock is released as soon as it is eventually acquired.
func (p *Packager) lockBefore(ctx context.Context, deadline time.Time) bool {
	acquired := make(chan struct{})
	spawn(func() {
		p.cc.Lock.LowPriorityLock()
		close(acquired)
	})

	select {
	case <-acquired:
		return true
	case <-p.cc.Clock.TickAfter(deadline.Sub(p.cc.Clock.Now())):
	case <-ctx.Done():
	}

	spawn(func() {
		<-acquired
		p.cc.Lock.LowPriorityUnlock()
	})
	return false
}

func (p *Packager) emptyResult(request *model.PackRequest) *model.PackResult {
	p.cc.Metrics.EmptyBlocks.Inc()
	return &model.PackResult{
		StateRoot: request.PrevStateRoot,
		Empty:     true,
	}
}
