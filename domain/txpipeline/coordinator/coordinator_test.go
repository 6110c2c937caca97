package coordinator_test

import (
	"context"
	"testing"
	"time"

	"github.com/blockpipe/txpipe/domain/txpipeline/chaincontext"
	"github.com/blockpipe/txpipe/domain/txpipeline/coordinator"
	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/packager"
	"github.com/blockpipe/txpipe/domain/txpipeline/testutils"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txhashing"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
)

type coordinatorTest struct {
	cc          *chaincontext.ChainContext
	ledger      *testutils.Ledger
	modules     *testutils.Modules
	packager    *packager.Packager
	coordinator *coordinator.Coordinator
	payee       *testutils.Account
	accounts    map[byte]*testutils.Account
}

func setupCoordinatorTest(t *testing.T) (*coordinatorTest, func()) {
	cc, _, teardown := testutils.NewTestChainContext(t, nil, clock.NewTestClock(testutils.TestStartTime))
	gateways, ledger, modules, _ := testutils.NewGateways()
	modules.SetProducer(testutils.ModuleContract, testutils.ContractResultProducer(nil))
	payee, err := testutils.NewAccount(0xff)
	if err != nil {
		teardown()
		t.Fatalf("NewAccount: %+v", err)
	}
	return &coordinatorTest{
		cc:          cc,
		ledger:      ledger,
		modules:     modules,
		packager:    packager.New(cc, gateways),
		coordinator: coordinator.New(cc, gateways),
		payee:       payee,
		accounts:    make(map[byte]*testutils.Account),
	}, teardown
}

func (ct *coordinatorTest) header() *model.BlockHeader {
	return &model.BlockHeader{Height: 7, Time: ct.cc.Clock.Now().Unix()}
}

func (ct *coordinatorTest) spend(t *testing.T, seed byte, txType uint16) *model.Transaction {
	account, ok := ct.accounts[seed]
	if !ok {
		var err error
		account, err = testutils.NewAccount(seed)
		if err != nil {
			t.Fatalf("NewAccount: %+v", err)
		}
		assetChainID, assetID := ct.cc.MainAsset()
		ct.ledger.Fund(account.Address, assetChainID, assetID, 1_000_000_000_000)
		ct.accounts[seed] = account
	}
	assetChainID, assetID := ct.cc.MainAsset()
	tx, err := account.Spend(&testutils.TransferSpec{
		TxType:       txType,
		Time:         ct.header().Time,
		To:           ct.payee.Address,
		Amount:       1000,
		Fee:          1_000_000,
		AssetChainID: assetChainID,
		AssetID:      assetID,
	})
	if err != nil {
		t.Fatalf("Spend: %+v", err)
	}
	return tx
}

func (ct *coordinatorTest) admit(t *testing.T, txs ...*model.Transaction) {
	for _, tx := range txs {
		err := ct.cc.UnconfirmedStore.Put(tx)
		if err != nil {
			t.Fatalf("Put: %+v", err)
		}
		_, err = ct.cc.Pool.Admit(tx)
		if err != nil {
			t.Fatalf("Admit: %+v", err)
		}
	}
}

func (ct *coordinatorTest) pack(t *testing.T) *model.PackResult {
	header := ct.header()
	result, err := ct.packager.PackBlock(context.Background(), &model.PackRequest{
		Deadline:  ct.cc.Clock.Now().Add(10 * time.Second),
		MaxBytes:  1024 * 1024,
		BlockTime: header.Time,
		Height:    header.Height,
	})
	if err != nil {
		t.Fatalf("PackBlock: %+v", err)
	}
	if result.Empty {
		t.Fatalf("expected a non-empty block")
	}
	return result
}

func assertPool(t *testing.T, ct *coordinatorTest, expected ...*model.Transaction) {
	t.Helper()
	actual := txhashing.TransactionHashes(ct.cc.Pool.Transactions())
	expectedHashes := txhashing.TransactionHashes(expected)
	if len(actual) != len(expectedHashes) {
		t.Fatalf("expected %d pooled transactions, got %s", len(expectedHashes), spew.Sdump(actual))
	}
	for i := range expectedHashes {
		if actual[i] != expectedHashes[i] {
			t.Fatalf("unexpected pooled transaction at position %d", i)
		}
	}
}

func assertStored(t *testing.T, store interface {
	Has(model.TxHash) (bool, error)
}, name string, expected bool, txs ...*model.Transaction) {

	t.Helper()
	for _, tx := range txs {
		found, err := store.Has(txhashing.TransactionHash(tx))
		if err != nil {
			t.Fatalf("Has: %+v", err)
		}
		if found != expected {
			t.Fatalf("%s: expected found=%t for transaction %s", name, expected, tx.Hash)
		}
	}
}

func TestConfirmThenRollBack(t *testing.T) {
	ct, teardown := setupCoordinatorTest(t)
	defer teardown()

	t1 := ct.spend(t, 1, testutils.TxTypeTransfer)
	call := ct.spend(t, 2, testutils.TxTypeContractCall)
	t2 := ct.spend(t, 1, testutils.TxTypeTransfer)
	ct.admit(t, t1, call, t2)
	block := ct.pack(t)
	contractResult := block.Txs[len(block.Txs)-1]

	late := ct.spend(t, 3, testutils.TxTypeTransfer)
	ct.admit(t, late)

	assetChainID, assetID := ct.cc.MainAsset()
	balanceBefore := ct.ledger.Balance(ct.accounts[1].Address, assetChainID, assetID)

	err := ct.coordinator.OnBlockConfirmed(context.Background(), block.Transactions, ct.header())
	if err != nil {
		t.Fatalf("OnBlockConfirmed: %+v", err)
	}
	assertStored(t, ct.cc.ConfirmedStore, "confirmed", true, block.Txs...)
	assertStored(t, ct.cc.UnconfirmedStore, "unconfirmed", false, t1, call, t2)
	assertPool(t, ct, late)
	if ct.ledger.Balance(ct.accounts[1].Address, assetChainID, assetID) == balanceBefore {
		t.Fatalf("the ledger did not apply the block")
	}
	if ct.cc.TipHeight() != 7 {
		t.Fatalf("expected tip height 7 after the confirmation, got %d", ct.cc.TipHeight())
	}
	record, _, err := ct.cc.ConfirmedStore.Get(*t1.Hash)
	if err != nil || record.Status != model.TxStatusCommitted || record.BlockHeight != 7 {
		t.Fatalf("unexpected confirmed record %s, err %+v", spew.Sdump(record), err)
	}

	hashes := txhashing.TransactionHashes(block.Txs)
	err = ct.coordinator.OnBlockRolledBack(context.Background(), hashes, ct.header())
	if err != nil {
		t.Fatalf("OnBlockRolledBack: %+v", err)
	}
	assertStored(t, ct.cc.ConfirmedStore, "confirmed", false, block.Txs...)
	assertStored(t, ct.cc.UnconfirmedStore, "unconfirmed", true, t1, call, t2)
	if ct.cc.TipHeight() != 6 {
		t.Fatalf("expected tip height 6 after the rollback, got %d", ct.cc.TipHeight())
	}
	assertStored(t, ct.cc.UnconfirmedStore, "unconfirmed", false, contractResult)
	assertPool(t, ct, t1, call, t2, late)
	if ct.ledger.Balance(ct.accounts[1].Address, assetChainID, assetID) != balanceBefore {
		t.Fatalf("the ledger rollback did not restore the balance")
	}
	if !ct.cc.IsAccepting() {
		t.Fatalf("admission stayed paused after the rollback")
	}

	rollbacks := ct.modules.Calls(testutils.ModuleCallRollback)
	if len(rollbacks) != 2 || rollbacks[0].ModuleCode != testutils.ModuleTransfer ||
		rollbacks[1].ModuleCode != testutils.ModuleContract {
		t.Fatalf("expected modules to be rolled back in reverse order, got %s", spew.Sdump(rollbacks))
	}
}

func TestConfirmCompensatesModuleFailure(t *testing.T) {
	ct, teardown := setupCoordinatorTest(t)
	defer teardown()

	ct.admit(t, ct.spend(t, 1, testutils.TxTypeContractCall), ct.spend(t, 2, testutils.TxTypeTransfer))
	block := ct.pack(t)
	ct.modules.SetRejectCommit(testutils.ModuleTransfer, true)

	err := ct.coordinator.OnBlockConfirmed(context.Background(), block.Transactions, ct.header())
	if err == nil {
		t.Fatalf("expected the confirmation to fail")
	}
	assertStored(t, ct.cc.ConfirmedStore, "confirmed", false, block.Txs...)
	if len(ct.ledger.Committed()) != 0 {
		t.Fatalf("the ledger was committed although a module failed")
	}
	rollbacks := ct.modules.Calls(testutils.ModuleCallRollback)
	if len(rollbacks) != 1 || rollbacks[0].ModuleCode != testutils.ModuleContract {
		t.Fatalf("expected only the committed contract module to be rolled back, got %s", spew.Sdump(rollbacks))
	}
}

func TestConfirmCompensatesLedgerFailure(t *testing.T) {
	ct, teardown := setupCoordinatorTest(t)
	defer teardown()

	ct.admit(t, ct.spend(t, 1, testutils.TxTypeContractCall), ct.spend(t, 2, testutils.TxTypeTransfer))
	block := ct.pack(t)
	ct.ledger.SetRejectCommit(true)

	err := ct.coordinator.OnBlockConfirmed(context.Background(), block.Transactions, ct.header())
	if err == nil {
		t.Fatalf("expected the confirmation to fail")
	}
	assertStored(t, ct.cc.ConfirmedStore, "confirmed", false, block.Txs...)
	assertStored(t, ct.cc.UnconfirmedStore, "unconfirmed", true, block.Txs[:2]...)
	rollbacks := ct.modules.Calls(testutils.ModuleCallRollback)
	if len(rollbacks) != 2 || rollbacks[0].ModuleCode != testutils.ModuleTransfer ||
		rollbacks[1].ModuleCode != testutils.ModuleContract {
		t.Fatalf("expected every module to be rolled back in reverse order, got %s", spew.Sdump(rollbacks))
	}
}

// recordingConfirmedStore counts the records written for each hash
type recordingConfirmedStore struct {
	model.ConfirmedStore
	writes map[model.TxHash][]model.TxStatus
}

func (s *recordingConfirmedStore) Put(records ...*model.ConfirmedTransaction) error {
	for _, record := range records {
		hash := txhashing.TransactionHash(record.Tx)
		s.writes[hash] = append(s.writes[hash], record.Status)
	}
	return s.ConfirmedStore.Put(records...)
}

type failingDeleteStore struct {
	model.UnconfirmedStore
}

func (failingDeleteStore) Delete(...model.TxHash) error {
	return errors.New("disk is gone")
}

func TestConfirmWritesEachRecordOnce(t *testing.T) {
	ct, teardown := setupCoordinatorTest(t)
	defer teardown()

	late := ct.spend(t, 3, testutils.TxTypeTransfer)
	ct.admit(t, ct.spend(t, 1, testutils.TxTypeContractCall), ct.spend(t, 2, testutils.TxTypeTransfer))
	block := ct.pack(t)
	ct.admit(t, late)
	ct.cc.OrphanCounter.Increment(*block.Txs[0].Hash)

	confirmedStore := &recordingConfirmedStore{
		ConfirmedStore: ct.cc.ConfirmedStore,
		writes:         make(map[model.TxHash][]model.TxStatus),
	}
	ct.cc.ConfirmedStore = confirmedStore
	ct.cc.UnconfirmedStore = failingDeleteStore{ct.cc.UnconfirmedStore}

	err := ct.coordinator.OnBlockConfirmed(context.Background(), block.Transactions, ct.header())
	if err != nil {
		t.Fatalf("OnBlockConfirmed: a failed unconfirmed store cleanup must not fail a committed block: %+v", err)
	}
	for _, tx := range block.Txs {
		writes := confirmedStore.writes[*tx.Hash]
		if len(writes) != 1 || writes[0] != model.TxStatusCommitted {
			t.Fatalf("expected a single committed record for %s, got %s", tx.Hash, spew.Sdump(writes))
		}
	}
	assertPool(t, ct, late)
	if ct.cc.OrphanCounter.Count(*block.Txs[0].Hash) != 0 {
		t.Fatalf("the orphan counter still tracks a committed transaction")
	}
}

func TestReturnPackedBlockAfterFailedConfirmation(t *testing.T) {
	ct, teardown := setupCoordinatorTest(t)
	defer teardown()

	call := ct.spend(t, 1, testutils.TxTypeContractCall)
	transfer := ct.spend(t, 2, testutils.TxTypeTransfer)
	ct.admit(t, call, transfer)
	block := ct.pack(t)
	if len(block.Txs) != 3 {
		t.Fatalf("expected two transactions and a contract result, got %s", spew.Sdump(block.Txs))
	}
	late := ct.spend(t, 3, testutils.TxTypeTransfer)
	ct.admit(t, late)

	ct.ledger.SetRejectCommit(true)
	err := ct.coordinator.OnBlockConfirmed(context.Background(), block.Transactions, ct.header())
	if err == nil {
		t.Fatalf("expected the confirmation to fail")
	}
	assertPool(t, ct, late)

	err = ct.packager.ReturnPackedBlock(block)
	if err != nil {
		t.Fatalf("ReturnPackedBlock: %+v", err)
	}
	assertPool(t, ct, call, transfer, late)

	// Returning the same block twice doesn't duplicate anything
	err = ct.packager.ReturnPackedBlock(block)
	if err != nil {
		t.Fatalf("ReturnPackedBlock: %+v", err)
	}
	assertPool(t, ct, call, transfer, late)

	ct.ledger.SetRejectCommit(false)
	block = ct.pack(t)
	assertPool(t, ct)
	err = ct.coordinator.OnBlockConfirmed(context.Background(), block.Transactions, ct.header())
	if err != nil {
		t.Fatalf("OnBlockConfirmed: %+v", err)
	}
	err = ct.packager.ReturnPackedBlock(block)
	if err != nil {
		t.Fatalf("ReturnPackedBlock: %+v", err)
	}
	assertPool(t, ct)
}

func TestRollBackCompensatesModuleFailure(t *testing.T) {
	ct, teardown := setupCoordinatorTest(t)
	defer teardown()

	ct.admit(t, ct.spend(t, 1, testutils.TxTypeContractCall), ct.spend(t, 2, testutils.TxTypeTransfer))
	block := ct.pack(t)
	err := ct.coordinator.OnBlockConfirmed(context.Background(), block.Transactions, ct.header())
	if err != nil {
		t.Fatalf("OnBlockConfirmed: %+v", err)
	}

	ct.modules.SetRejectRollback(testutils.ModuleContract, true)
	err = ct.coordinator.OnBlockRolledBack(context.Background(), txhashing.TransactionHashes(block.Txs), ct.header())
	if err == nil {
		t.Fatalf("expected the rollback to fail")
	}
	assertStored(t, ct.cc.ConfirmedStore, "confirmed", true, block.Txs...)
	assertPool(t, ct)

	commits := ct.modules.Calls(testutils.ModuleCallCommit)
	lastCommit := commits[len(commits)-1]
	if len(commits) != 3 || lastCommit.ModuleCode != testutils.ModuleTransfer {
		t.Fatalf("expected the transfer module to be committed again, got %s", spew.Sdump(commits))
	}
	if len(ct.ledger.Committed()) != 2*len(block.Txs) {
		t.Fatalf("expected the ledger to be committed again")
	}
}

func TestRollBackUnknownTransaction(t *testing.T) {
	ct, teardown := setupCoordinatorTest(t)
	defer teardown()

	tx := ct.spend(t, 1, testutils.TxTypeTransfer)
	err := ct.coordinator.OnBlockRolledBack(context.Background(), []model.TxHash{*tx.Hash}, ct.header())
	if err == nil {
		t.Fatalf("expected rolling back an unconfirmed transaction to fail")
	}
	if len(ct.ledger.RolledBack()) != 0 {
		t.Fatalf("the ledger was rolled back")
	}
}
