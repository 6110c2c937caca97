package packager

import (
	"context"

	"github.com/pkg/errors"
)

// callGateway runs call on its own goroutine and waits for it until the
// work deadline. A call that overruns the deadline is left to finish in
// the background and its result is ignored. A panicking gateway is
// reported as an error.
func (pass *packingPass) callGateway(name string, call func(ctx context.Context) error) error {
	clock := pass.packager.cc.Clock
	remaining := pass.workDeadline.Sub(clock.Now())
	if remaining <= 0 {
		return errors.Wrapf(errDeadlineExceeded, "no time left to call %s", name)
	}

	ctx, cancel := context.WithCancel(pass.ctx)
	defer cancel()

	result := spawnGatewayCall(func() error {
		return call(ctx)
	})
	select {
	case err := <-result:
		if err != nil {
			return errors.Wrapf(err, "%s failed", name)
		}
		return nil
	case <-clock.TickAfter(remaining):
		return errors.Wrapf(errDeadlineExceeded, "%s did not return in time", name)
	case <-pass.ctx.Done():
		return errors.Wrapf(pass.ctx.Err(), "%s was cancelled", name)
	}
}

func (pass *packingPass) checkDeadline() error {
	if !pass.packager.cc.Clock.Now().Before(pass.workDeadline) {
		return errors.WithStack(errDeadlineExceeded)
	}
	return pass.ctx.Err()
}

func (pass *packingPass) beginBatch() error {
	err := pass.callGateway("BeginBatchNotify", func(ctx context.Context) error {
		return pass.packager.gateways.Ledger.BeginBatchNotify(ctx, pass.chainID())
	})
	if err != nil {
		return err
	}
	pass.batchOpen = true
	return nil
}

func (pass *packingPass) endBatch() error {
	pass.batchOpen = false
	return pass.callGateway("EndBatchNotify", func(ctx context.Context) error {
		return pass.packager.gateways.Ledger.EndBatchNotify(ctx, pass.chainID())
	})
}

// closeBatchInBackground ends the ledger batch of an aborted pass without
// waiting for the ledger to answer
func (pass *packingPass) closeBatchInBackground() {
	pass.batchOpen = false
	ledger := pass.packager.gateways.Ledger
	chainID := pass.chainID()
	spawnGatewayCall(func() error {
		err := ledger.EndBatchNotify(context.Background(), chainID)
		if err != nil {
			log.Warnf("EndBatchNotify of an aborted packaging pass failed: %s", err)
		}
		return err
	})
}

// releaseFromLedger drops the unconfirmed ledger state the ledger keeps
// for an accepted entry
func (pass *packingPass) releaseFromLedger(entry *packEntry) error {
	if !entry.heldByLedger {
		return nil
	}
	err := pass.callGateway("RemoveUnconfirmed", func(ctx context.Context) error {
		return pass.packager.gateways.Ledger.RemoveUnconfirmed(ctx, pass.chainID(), entry.Hash())
	})
	if err != nil {
		return err
	}
	entry.heldByLedger = false
	return nil
}
