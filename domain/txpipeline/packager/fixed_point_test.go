package packager

import (
	"testing"
	"time"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/testutils"
	"github.com/lightningnetwork/lnd/clock"
	"pgregory.net/rapid"
)

// TestPackBlockFixedPoint checks that a validator rejecting a few
// transactions per call is called at most once per removed transaction
// plus once more, and that exactly the rejected transactions are excluded.
func TestPackBlockFixedPoint(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		txCount := rapid.IntRange(1, 12).Draw(rt, "txCount")
		rejectsPerCall := rapid.IntRange(1, 3).Draw(rt, "rejectsPerCall")
		rejected := rapid.SliceOfDistinct(rapid.IntRange(0, txCount-1), rapid.ID[int]).Draw(rt, "rejected")

		pt, teardown := setupPackTest(t, nil, clock.NewTestClock(testutils.TestStartTime))
		defer teardown()

		txs := make([]*model.Transaction, txCount)
		for i := range txs {
			txs[i] = pt.spend(t, byte(i+1), testutils.TxTypeTransfer)
		}
		pt.admit(t, txs...)

		toReject := make(model.TxHashSet)
		for _, i := range rejected {
			toReject.Add(*txs[i].Hash)
		}
		pt.modules.SetValidator(testutils.ModuleTransfer, func(batch []*model.Transaction) []model.TxHash {
			var rejectedHashes []model.TxHash
			for _, tx := range batch {
				if len(rejectedHashes) == rejectsPerCall {
					break
				}
				if toReject.Contains(*tx.Hash) {
					rejectedHashes = append(rejectedHashes, *tx.Hash)
				}
			}
			return rejectedHashes
		})

		result := pt.pack(t, pt.request(10*time.Second))

		var expected []*model.Transaction
		for _, tx := range txs {
			if !toReject.Contains(*tx.Hash) {
				expected = append(expected, tx)
			}
		}
		assertHashes(t, "block", result.Txs, expected...)
		if pt.cc.Pool.TransactionCount() != 0 {
			rt.Fatalf("module rejected transactions were returned to the pool")
		}

		validateCalls := len(pt.modules.Calls(testutils.ModuleCallValidate))
		maxCalls := (len(rejected)+rejectsPerCall-1)/rejectsPerCall + 1
		if validateCalls > maxCalls {
			rt.Fatalf("expected at most %d validation calls, got %d", maxCalls, validateCalls)
		}
	})
}
