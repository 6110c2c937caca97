package packager

import (
	"context"
	"testing"
	"time"

	"github.com/blockpipe/txpipe/domain/txpipeline/chaincontext"
	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/testutils"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txhashing"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txserialization"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const (
	fundedAmount = 1_000_000_000_000
	transferFee  = 1_000_000
)

type packTest struct {
	cc       *chaincontext.ChainContext
	ledger   *testutils.Ledger
	modules  *testutils.Modules
	packager *Packager
	accounts map[byte]*testutils.Account
	payee    *testutils.Account
}

func setupPackTest(t testing.TB, config *chaincontext.Config, clk clock.Clock) (*packTest, func()) {
	cc, _, teardown := testutils.NewTestChainContext(t, config, clk)
	gateways, ledger, modules, _ := testutils.NewGateways()
	payee, err := testutils.NewAccount(0xff)
	if err != nil {
		teardown()
		t.Fatalf("NewAccount: %+v", err)
	}
	return &packTest{
		cc:       cc,
		ledger:   ledger,
		modules:  modules,
		packager: New(cc, gateways),
		accounts: make(map[byte]*testutils.Account),
		payee:    payee,
	}, teardown
}

func (pt *packTest) account(t testing.TB, seed byte) *testutils.Account {
	account, ok := pt.accounts[seed]
	if ok {
		return account
	}
	account, err := testutils.NewAccount(seed)
	if err != nil {
		t.Fatalf("NewAccount: %+v", err)
	}
	assetChainID, assetID := pt.cc.MainAsset()
	pt.ledger.Fund(account.Address, assetChainID, assetID, fundedAmount)
	pt.accounts[seed] = account
	return account
}

func (pt *packTest) blockTime() int64 {
	return pt.cc.Clock.Now().Unix()
}

// spend builds a transaction of txType spent by the account of seed
func (pt *packTest) spend(t testing.TB, seed byte, txType uint16) *model.Transaction {
	assetChainID, assetID := pt.cc.MainAsset()
	tx, err := pt.account(t, seed).Spend(&testutils.TransferSpec{
		TxType:       txType,
		Time:         pt.blockTime(),
		To:           pt.payee.Address,
		Amount:       1000,
		Fee:          transferFee,
		AssetChainID: assetChainID,
		AssetID:      assetID,
	})
	if err != nil {
		t.Fatalf("Spend: %+v", err)
	}
	return tx
}

func (pt *packTest) admit(t testing.TB, txs ...*model.Transaction) {
	for _, tx := range txs {
		err := pt.cc.UnconfirmedStore.Put(tx)
		if err != nil {
			t.Fatalf("Put: %+v", err)
		}
		admitted, err := pt.cc.Pool.Admit(tx)
		if err != nil || !admitted {
			t.Fatalf("Admit: admitted=%t err=%+v", admitted, err)
		}
	}
}

func (pt *packTest) request(timeLeft time.Duration) *model.PackRequest {
	return &model.PackRequest{
		Deadline:      pt.cc.Clock.Now().Add(timeLeft),
		MaxBytes:      2 * 1024 * 1024,
		BlockTime:     pt.blockTime(),
		Height:        10,
		PrevStateRoot: []byte("previous state root"),
	}
}

func (pt *packTest) pack(t testing.TB, request *model.PackRequest) *model.PackResult {
	result, err := pt.packager.PackBlock(context.Background(), request)
	if err != nil {
		t.Fatalf("PackBlock: %+v", err)
	}
	return result
}

func assertHashes(t testing.TB, name string, actual []*model.Transaction, expected ...*model.Transaction) {
	actualHashes := txhashing.TransactionHashes(actual)
	expectedHashes := txhashing.TransactionHashes(expected)
	if len(actualHashes) != len(expectedHashes) {
		t.Fatalf("%s: expected %d transactions, got %d: %s", name, len(expectedHashes), len(actualHashes),
			spew.Sdump(actualHashes))
	}
	for i := range expectedHashes {
		if actualHashes[i] != expectedHashes[i] {
			t.Fatalf("%s: unexpected transaction at position %d: expected %s, got %s",
				name, i, expectedHashes[i], actualHashes[i])
		}
	}
}

func assertResultMatchesTxs(t testing.TB, result *model.PackResult) {
	if len(result.Transactions) != len(result.Txs) {
		t.Fatalf("%d serialized transactions but %d transactions", len(result.Transactions), len(result.Txs))
	}
	for i, serialized := range result.Transactions {
		tx, err := txserialization.DeserializeTransaction(serialized)
		if err != nil {
			t.Fatalf("DeserializeTransaction: %+v", err)
		}
		if txhashing.TransactionHash(tx) != txhashing.TransactionHash(result.Txs[i]) {
			t.Fatalf("serialized transaction %d doesn't match", i)
		}
	}
}

func TestPackBlockCrossChainCap(t *testing.T) {
	config := chaincontext.DefaultConfig()
	config.MaxCrossChainTxPerBlock = 1
	pt, teardown := setupPackTest(t, config, clock.NewTestClock(testutils.TestStartTime))
	defer teardown()

	t1 := pt.spend(t, 1, testutils.TxTypeTransfer)
	t2 := pt.spend(t, 2, testutils.TxTypeTransfer)
	t3 := pt.spend(t, 3, testutils.TxTypeCrossChain)
	t4 := pt.spend(t, 4, testutils.TxTypeTransfer)
	t5 := pt.spend(t, 5, testutils.TxTypeTransfer)
	t6 := pt.spend(t, 6, testutils.TxTypeCrossChain)
	pt.admit(t, t1, t2, t3, t4, t5, t6)

	result := pt.pack(t, pt.request(10*time.Second))
	if result.Empty {
		t.Fatalf("expected a non-empty block")
	}
	assertHashes(t, "block", result.Txs, t1, t2, t3, t4, t5)
	assertResultMatchesTxs(t, result)
	assertHashes(t, "pool", pt.cc.Pool.Transactions(), t6)

	packaged := testutil.ToFloat64(pt.cc.Metrics.PackagedTransactions)
	if packaged != 5 {
		t.Fatalf("expected 5 packaged transactions, got %f", packaged)
	}
	begins, ends := pt.ledger.Brackets()
	if begins != ends {
		t.Fatalf("unbalanced batch brackets: %d begins, %d ends", begins, ends)
	}
}

func TestPackBlockQuotationsLeadTheBatch(t *testing.T) {
	pt, teardown := setupPackTest(t, nil, clock.NewTestClock(testutils.TestStartTime))
	defer teardown()

	quoter, err := testutils.NewAccount(9)
	if err != nil {
		t.Fatalf("NewAccount: %+v", err)
	}
	newQuotation := func(price byte) *model.Transaction {
		quotation, err := quoter.SignedWithoutCoinData(testutils.TxTypeQuotation, pt.blockTime(), []byte{price})
		if err != nil {
			t.Fatalf("SignedWithoutCoinData: %+v", err)
		}
		return quotation
	}

	t1 := pt.spend(t, 1, testutils.TxTypeTransfer)
	q1 := newQuotation(1)
	t2 := pt.spend(t, 2, testutils.TxTypeTransfer)
	q2 := newQuotation(2)
	pt.admit(t, t1, q1, t2, q2)

	result := pt.pack(t, pt.request(10*time.Second))
	assertHashes(t, "block", result.Txs, q1, q2, t1, t2)
}

func TestPackBlockTimeWindow(t *testing.T) {
	pt, teardown := setupPackTest(t, nil, clock.NewTestClock(testutils.TestStartTime))
	defer teardown()

	assetChainID, assetID := pt.cc.MainAsset()
	stale, err := pt.account(t, 1).Spend(&testutils.TransferSpec{
		TxType:       testutils.TxTypeCrossChain,
		Time:         pt.blockTime() - int64(pt.cc.Config.TimeWindowTolerance/time.Second) - 1,
		To:           pt.payee.Address,
		Amount:       1000,
		Fee:          transferFee,
		AssetChainID: assetChainID,
		AssetID:      assetID,
	})
	if err != nil {
		t.Fatalf("Spend: %+v", err)
	}
	fresh := pt.spend(t, 2, testutils.TxTypeCrossChain)
	pt.admit(t, stale, fresh)

	result := pt.pack(t, pt.request(10*time.Second))
	assertHashes(t, "block", result.Txs, fresh)
	if pt.cc.Pool.Contains(*stale.Hash) {
		t.Fatalf("a transaction out of the time window was returned to the pool")
	}
	if found, _ := pt.cc.UnconfirmedStore.Has(*stale.Hash); found {
		t.Fatalf("a transaction out of the time window stayed in the unconfirmed store")
	}
}

func TestPackBlockReserve(t *testing.T) {
	pt, teardown := setupPackTest(t, nil, clock.NewTestClock(testutils.TestStartTime))
	defer teardown()

	tx := pt.spend(t, 1, testutils.TxTypeTransfer)
	pt.admit(t, tx)

	request := pt.request(pt.cc.Config.PackReserve / 2)
	result := pt.pack(t, request)
	if !result.Empty || len(result.Txs) != 0 {
		t.Fatalf("expected an empty block, got %d transactions", len(result.Txs))
	}
	if string(result.StateRoot) != string(request.PrevStateRoot) {
		t.Fatalf("an empty block must keep the previous state root")
	}
	if pt.ledger.VerifyBatchCalls() != 0 {
		t.Fatalf("the ledger was called although there was no time to pack")
	}
	assertHashes(t, "pool", pt.cc.Pool.Transactions(), tx)
	if testutil.ToFloat64(pt.cc.Metrics.EmptyBlocks) != 1 {
		t.Fatalf("expected the empty block to be counted")
	}
}

func TestPackBlockSizeBudget(t *testing.T) {
	pt, teardown := setupPackTest(t, nil, clock.NewTestClock(testutils.TestStartTime))
	defer teardown()

	txs := make([]*model.Transaction, 4)
	for i := range txs {
		txs[i] = pt.spend(t, byte(i+1), testutils.TxTypeTransfer)
	}
	pt.admit(t, txs...)

	serialized, err := txserialization.SerializeTransaction(txs[0])
	if err != nil {
		t.Fatalf("SerializeTransaction: %+v", err)
	}
	request := pt.request(10 * time.Second)
	request.MaxBytes = pt.cc.Config.BlockHeaderReserveBytes + 2*len(serialized) + len(serialized)/2

	result := pt.pack(t, request)
	assertHashes(t, "block", result.Txs, txs[0], txs[1])
	assertHashes(t, "pool", pt.cc.Pool.Transactions(), txs[2], txs[3])
}

func TestPackBlockDropsLedgerFailures(t *testing.T) {
	pt, teardown := setupPackTest(t, nil, clock.NewTestClock(testutils.TestStartTime))
	defer teardown()

	account := pt.account(t, 1)
	startNonce := account.Nonce
	spend := pt.spend(t, 1, testutils.TxTypeTransfer)
	account.Nonce = startNonce
	assetChainID, assetID := pt.cc.MainAsset()
	doubleSpend, err := account.Spend(&testutils.TransferSpec{
		TxType:       testutils.TxTypeTransfer,
		Time:         pt.blockTime(),
		To:           pt.payee.Address,
		Amount:       2000,
		Fee:          transferFee,
		AssetChainID: assetChainID,
		AssetID:      assetID,
	})
	if err != nil {
		t.Fatalf("Spend: %+v", err)
	}
	pt.admit(t, spend, doubleSpend)

	result := pt.pack(t, pt.request(10*time.Second))
	assertHashes(t, "block", result.Txs, spend)
	if pt.cc.Pool.TransactionCount() != 0 {
		t.Fatalf("the double spend was returned to the pool")
	}
	if found, _ := pt.cc.UnconfirmedStore.Has(*doubleSpend.Hash); found {
		t.Fatalf("the double spend stayed in the unconfirmed store")
	}
}

func TestPackBlockModuleRejectionReverifiesDependents(t *testing.T) {
	pt, teardown := setupPackTest(t, nil, clock.NewTestClock(testutils.TestStartTime))
	defer teardown()

	parent := pt.spend(t, 1, testutils.TxTypeTransfer)
	child := pt.spend(t, 1, testutils.TxTypeTransfer)
	other := pt.spend(t, 2, testutils.TxTypeTransfer)
	pt.admit(t, parent, child, other)

	pt.modules.SetValidator(testutils.ModuleTransfer, func(txs []*model.Transaction) []model.TxHash {
		for _, tx := range txs {
			if *tx.Hash == *parent.Hash {
				return []model.TxHash{*parent.Hash}
			}
		}
		return nil
	})

	result := pt.pack(t, pt.request(10*time.Second))
	assertHashes(t, "block", result.Txs, other)

	// The child spends the rejected parent, so the ledger sees it as an
	// orphan once the parent is gone.
	assertHashes(t, "pool", pt.cc.Pool.Transactions(), child)
	if pt.cc.OrphanCounter.Count(*child.Hash) != 1 {
		t.Fatalf("expected the child to be counted as an orphan once")
	}
	if found, _ := pt.cc.UnconfirmedStore.Has(*parent.Hash); found {
		t.Fatalf("the rejected parent stayed in the unconfirmed store")
	}

	removed := model.NewTxHashSet(pt.ledger.Removed()...)
	if !removed.Contains(*parent.Hash) || !removed.Contains(*child.Hash) {
		t.Fatalf("expected the ledger to release the parent and the child, released %s", spew.Sdump(removed))
	}
}

func TestPackBlockProduceMustRemove(t *testing.T) {
	pt, teardown := setupPackTest(t, nil, clock.NewTestClock(testutils.TestStartTime))
	defer teardown()

	feasible := pt.spend(t, 1, testutils.TxTypeContractCall)
	infeasible := pt.spend(t, 2, testutils.TxTypeContractCall)
	transfer := pt.spend(t, 3, testutils.TxTypeTransfer)
	pt.admit(t, feasible, infeasible, transfer)

	pt.modules.SetProducer(testutils.ModuleContract, testutils.ContractResultProducer(
		func(tx *model.Transaction) bool {
			return *tx.Hash == *infeasible.Hash
		}))

	result := pt.pack(t, pt.request(10*time.Second))
	if len(result.Txs) != 3 {
		t.Fatalf("expected 3 transactions in the block, got %d", len(result.Txs))
	}
	assertHashes(t, "originals", result.Txs[:2], feasible, transfer)
	assertResultMatchesTxs(t, result)

	contractResult := result.Txs[2]
	if contractResult.Type != testutils.TxTypeContractResult ||
		string(contractResult.TxData) != string(feasible.Hash.ByteSlice()) {
		t.Fatalf("unexpected produced transaction: %s", spew.Sdump(contractResult))
	}
	resultHash := txhashing.TransactionHash(contractResult)
	if string(result.StateRoot) != string(resultHash.ByteSlice()) {
		t.Fatalf("expected the state root reported by the produce hook")
	}
	assertHashes(t, "pool", pt.cc.Pool.Transactions(), infeasible)

	produceCalls := pt.modules.Calls(testutils.ModuleCallProduce)
	if len(produceCalls) != 2 {
		t.Fatalf("expected the produce hook to run twice, ran %d times", len(produceCalls))
	}
}

func TestPackBlockProducedTransactionsFitTheBudget(t *testing.T) {
	pt, teardown := setupPackTest(t, nil, clock.NewTestClock(testutils.TestStartTime))
	defer teardown()

	calls := []*model.Transaction{
		pt.spend(t, 1, testutils.TxTypeContractCall),
		pt.spend(t, 2, testutils.TxTypeContractCall),
		pt.spend(t, 3, testutils.TxTypeContractCall),
	}
	pt.admit(t, calls...)

	producer := testutils.ContractResultProducer(nil)
	pt.modules.SetProducer(testutils.ModuleContract, producer)
	sample, err := producer(calls[:1], 10, pt.blockTime(), model.ProduceModePack)
	if err != nil {
		t.Fatalf("producer: %+v", err)
	}
	resultSize := len(sample.NewTxs[0])

	// All three calls fit, but only two of them together with their results
	budget := 2 * resultSize
	for _, call := range calls {
		serialized, err := txserialization.SerializeTransaction(call)
		if err != nil {
			t.Fatalf("SerializeTransaction: %+v", err)
		}
		budget += len(serialized)
	}
	request := pt.request(10 * time.Second)
	request.MaxBytes = budget + pt.cc.Config.BlockHeaderReserveBytes

	result := pt.pack(t, request)
	assertResultMatchesTxs(t, result)
	blockBytes := 0
	for _, serialized := range result.Transactions {
		blockBytes += len(serialized)
	}
	if blockBytes > budget {
		t.Fatalf("block of %d bytes exceeds the budget of %d bytes", blockBytes, budget)
	}

	if len(result.Txs) != 4 {
		t.Fatalf("expected 2 calls and 2 results in the block, got %d transactions", len(result.Txs))
	}
	assertHashes(t, "calls", result.Txs[:2], calls[0], calls[1])
	for i, contractResult := range result.Txs[2:] {
		if contractResult.Type != testutils.TxTypeContractResult ||
			string(contractResult.TxData) != string(calls[i].Hash.ByteSlice()) {
			t.Fatalf("unexpected produced transaction %d: %s", i, spew.Sdump(contractResult))
		}
	}
	assertHashes(t, "pool", pt.cc.Pool.Transactions(), calls[2])
}

func TestPackBlockNoLossOnGatewayFailure(t *testing.T) {
	errGateway := errors.New("gateway is down")
	tests := []struct {
		name  string
		setup func(pt *packTest)
	}{
		{
			name: "ledger fails",
			setup: func(pt *packTest) {
				pt.ledger.SetVerifyError(errGateway)
			},
		},
		{
			name: "module fails",
			setup: func(pt *packTest) {
				pt.modules.SetValidateError(testutils.ModuleTransfer, errGateway)
			},
		},
		{
			name: "produce hook fails",
			setup: func(pt *packTest) {
				pt.modules.SetProducer(testutils.ModuleContract,
					func([]*model.Transaction, uint64, int64, model.ProduceMode) (*model.ProduceResult, error) {
						return nil, errGateway
					})
			},
		},
		{
			name: "module panics",
			setup: func(pt *packTest) {
				pt.modules.SetValidator(testutils.ModuleTransfer, func([]*model.Transaction) []model.TxHash {
					panic("module bug")
				})
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			pt, teardown := setupPackTest(t, nil, clock.NewTestClock(testutils.TestStartTime))
			defer teardown()

			txs := []*model.Transaction{
				pt.spend(t, 1, testutils.TxTypeTransfer),
				pt.spend(t, 2, testutils.TxTypeContractCall),
				pt.spend(t, 3, testutils.TxTypeTransfer),
				pt.spend(t, 4, testutils.TxTypeCrossChain),
				pt.spend(t, 5, testutils.TxTypeTransfer),
			}
			pt.admit(t, txs...)
			test.setup(pt)

			result := pt.pack(t, pt.request(10*time.Second))
			if !result.Empty {
				t.Fatalf("expected an empty block")
			}
			assertHashes(t, "pool", pt.cc.Pool.Transactions(), txs...)
			for _, tx := range txs {
				if found, _ := pt.cc.UnconfirmedStore.Has(*tx.Hash); !found {
					t.Fatalf("transaction %s was deleted from the unconfirmed store", tx.Hash)
				}
			}
		})
	}
}

func TestPackBlockDeadlineWithHungLedger(t *testing.T) {
	for _, reserve := range []time.Duration{40 * time.Millisecond, 100 * time.Millisecond} {
		t.Run(reserve.String(), func(t *testing.T) {
			config := chaincontext.DefaultConfig()
			config.PackReserve = reserve
			pt, teardown := setupPackTest(t, config, nil)
			defer teardown()

			txs := []*model.Transaction{
				pt.spend(t, 1, testutils.TxTypeTransfer),
				pt.spend(t, 2, testutils.TxTypeTransfer),
				pt.spend(t, 3, testutils.TxTypeTransfer),
			}
			pt.admit(t, txs...)

			release := pt.ledger.Hang()
			defer release()

			request := pt.request(4 * reserve)
			result := pt.pack(t, request)
			if returnedAt := time.Now(); returnedAt.After(request.Deadline) {
				t.Fatalf("PackBlock returned %s after its deadline", returnedAt.Sub(request.Deadline))
			}
			if !result.Empty {
				t.Fatalf("expected an empty block")
			}
			assertHashes(t, "pool", pt.cc.Pool.Transactions(), txs...)
		})
	}
}

func TestPackBlockDeadlineWhileChainIsBusy(t *testing.T) {
	config := chaincontext.DefaultConfig()
	config.PackReserve = 40 * time.Millisecond
	pt, teardown := setupPackTest(t, config, nil)
	defer teardown()

	tx := pt.spend(t, 1, testutils.TxTypeTransfer)
	pt.admit(t, tx)

	pt.cc.Lock.HighPriorityLock()
	request := pt.request(4 * config.PackReserve)
	result := pt.pack(t, request)
	if returnedAt := time.Now(); returnedAt.After(request.Deadline) {
		pt.cc.Lock.HighPriorityUnlock()
		t.Fatalf("PackBlock returned %s after its deadline", returnedAt.Sub(request.Deadline))
	}
	pt.cc.Lock.HighPriorityUnlock()
	if !result.Empty {
		t.Fatalf("expected an empty block while the chain lock is held")
	}
	assertHashes(t, "pool", pt.cc.Pool.Transactions(), tx)

	// The abandoned lock attempt must not keep the lock once it gets it
	result = pt.pack(t, pt.request(time.Second))
	assertHashes(t, "block", result.Txs, tx)
}

func TestPackBlockOrphanEvictionBound(t *testing.T) {
	config := chaincontext.DefaultConfig()
	config.MaxOrphanRetries = 3
	pt, teardown := setupPackTest(t, config, clock.NewTestClock(testutils.TestStartTime))
	defer teardown()

	orphan := pt.spend(t, 1, testutils.TxTypeTransfer)
	pt.admit(t, orphan)
	pt.ledger.ForceVerdict(*orphan.Hash, model.LedgerOrphan)

	offered := 0
	for i := 0; i < 10; i++ {
		if !pt.cc.Pool.Contains(*orphan.Hash) {
			continue
		}
		offered++
		result := pt.pack(t, pt.request(10*time.Second))
		if !result.Empty {
			t.Fatalf("an orphan was packed")
		}
	}

	if offered != config.MaxOrphanRetries+1 {
		t.Fatalf("expected the orphan to be offered %d times, got %d", config.MaxOrphanRetries+1, offered)
	}
	if pt.cc.Pool.Contains(*orphan.Hash) {
		t.Fatalf("the evicted orphan is still pooled")
	}
	if found, _ := pt.cc.UnconfirmedStore.Has(*orphan.Hash); found {
		t.Fatalf("the evicted orphan stayed in the unconfirmed store")
	}
	if testutil.ToFloat64(pt.cc.Metrics.OrphansEvicted) != 1 {
		t.Fatalf("expected one evicted orphan to be counted")
	}
}
