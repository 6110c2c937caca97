package testutils

import (
	"context"
	"sync"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txhashing"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txserialization"
	"github.com/pkg/errors"
)

type accountKey struct {
	address      string
	assetChainID uint16
	assetID      uint16
}

type account struct {
	balance uint64
	nonce   [model.NonceSize]byte
}

type spendKey struct {
	accountKey
	nonce [model.NonceSize]byte
}

type ledgerState struct {
	accounts map[accountKey]*account
	spent    map[spendKey]struct{}
}

func newLedgerState() *ledgerState {
	return &ledgerState{
		accounts: make(map[accountKey]*account),
		spent:    make(map[spendKey]struct{}),
	}
}

func (s *ledgerState) clone() *ledgerState {
	clone := newLedgerState()
	for key, acc := range s.accounts {
		accCopy := *acc
		clone.accounts[key] = &accCopy
	}
	for key := range s.spent {
		clone.spent[key] = struct{}{}
	}
	return clone
}

func (s *ledgerState) account(key accountKey) *account {
	acc, ok := s.accounts[key]
	if !ok {
		acc = &account{}
		s.accounts[key] = acc
	}
	return acc
}

// NextNonce returns the nonce an account has after spending in tx
func NextNonce(txHash model.TxHash) [model.NonceSize]byte {
	var nonce [model.NonceSize]byte
	copy(nonce[:], txHash[:model.NonceSize])
	return nonce
}

// apply applies tx to the state if the ledger accepts it
func (s *ledgerState) apply(tx *model.Transaction) model.LedgerVerdict {
	coinData, err := txserialization.DeserializeCoinData(tx.CoinData)
	if err != nil {
		return model.LedgerFailed
	}

	verdict := model.LedgerAccepted
	for _, from := range coinData.From {
		key := accountKey{string(from.Address), from.AssetChainID, from.AssetID}
		acc := s.accounts[key]
		if acc == nil {
			acc = &account{}
		}
		if acc.nonce != from.Nonce {
			if _, ok := s.spent[spendKey{key, from.Nonce}]; ok {
				return model.LedgerFailed
			}
			verdict = model.LedgerOrphan
			continue
		}
		if acc.balance < from.Amount {
			return model.LedgerFailed
		}
	}
	if verdict != model.LedgerAccepted {
		return verdict
	}

	nextNonce := NextNonce(txhashing.TransactionHash(tx))
	for _, from := range coinData.From {
		key := accountKey{string(from.Address), from.AssetChainID, from.AssetID}
		acc := s.account(key)
		acc.balance -= from.Amount
		s.spent[spendKey{key, from.Nonce}] = struct{}{}
		acc.nonce = nextNonce
	}
	for _, to := range coinData.To {
		s.account(accountKey{string(to.Address), to.AssetChainID, to.AssetID}).balance += to.Amount
	}
	return model.LedgerAccepted
}

// Ledger is an in-memory LedgerGateway keeping balances and spend nonces per
// account. Verification inside a BeginBatchNotify/EndBatchNotify bracket is
// cumulative: a transaction sees the effects of the ones verified before it.
type Ledger struct {
	mutex sync.Mutex

	confirmed *ledgerState
	batch     *ledgerState
	history   []*ledgerState

	forcedVerdicts map[model.TxHash]model.LedgerVerdict
	verifyErr      error
	hang           chan struct{}
	rejectCommit   bool

	verifyBatchCalls int
	verifyOneHeights []uint64
	begins           int
	ends             int
	removed          []model.TxHash
	committed        []model.TxHash
	rolledBack       []model.TxHash
}

// NewLedger returns an empty Ledger
func NewLedger() *Ledger {
	return &Ledger{
		confirmed:      newLedgerState(),
		forcedVerdicts: make(map[model.TxHash]model.LedgerVerdict),
	}
}

// Fund credits amount to the confirmed balance of address
func (l *Ledger) Fund(address []byte, assetChainID, assetID uint16, amount uint64) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.confirmed.account(accountKey{string(address), assetChainID, assetID}).balance += amount
}

// Balance returns the confirmed balance of address
func (l *Ledger) Balance(address []byte, assetChainID, assetID uint16) uint64 {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	acc, ok := l.confirmed.accounts[accountKey{string(address), assetChainID, assetID}]
	if !ok {
		return 0
	}
	return acc.balance
}

// ForceVerdict makes every verification of hash return verdict
func (l *Ledger) ForceVerdict(hash model.TxHash, verdict model.LedgerVerdict) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.forcedVerdicts[hash] = verdict
}

// ClearVerdict undoes ForceVerdict
func (l *Ledger) ClearVerdict(hash model.TxHash) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	delete(l.forcedVerdicts, hash)
}

// SetVerifyError makes VerifyBatch and VerifyOne fail with err. A nil err
// restores normal operation.
func (l *Ledger) SetVerifyError(err error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.verifyErr = err
}

// SetRejectCommit makes Commit report failure
func (l *Ledger) SetRejectCommit(reject bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.rejectCommit = reject
}

// Hang makes VerifyBatch and Commit block, ignoring their context, until
// the returned release function is called.
func (l *Ledger) Hang() (release func()) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	hang := make(chan struct{})
	l.hang = hang
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mutex.Lock()
			l.hang = nil
			l.mutex.Unlock()
			close(hang)
		})
	}
}

func (l *Ledger) waitWhileHung() {
	l.mutex.Lock()
	hang := l.hang
	l.mutex.Unlock()
	if hang != nil {
		<-hang
	}
}

// VerifyBatch implements model.LedgerGateway
func (l *Ledger) VerifyBatch(_ context.Context, _ uint16, serializedTxs [][]byte, _ uint64) (
	*model.LedgerVerifyResult, error) {

	l.waitWhileHung()

	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.verifyBatchCalls++
	if l.verifyErr != nil {
		return nil, l.verifyErr
	}

	state := l.batch
	if state == nil {
		state = l.confirmed.clone()
	}
	result := &model.LedgerVerifyResult{}
	for _, serializedTx := range serializedTxs {
		tx, err := txserialization.DeserializeTransaction(serializedTx)
		if err != nil {
			return nil, err
		}
		hash := txhashing.TransactionHash(tx)
		verdict, ok := l.forcedVerdicts[hash]
		if !ok {
			verdict = state.apply(tx)
		}
		switch verdict {
		case model.LedgerAccepted:
			result.Accepted = append(result.Accepted, hash)
		case model.LedgerFailed:
			result.Failed = append(result.Failed, hash)
		case model.LedgerOrphan:
			result.Orphaned = append(result.Orphaned, hash)
		}
	}
	return result, nil
}

// VerifyOne implements model.LedgerGateway
func (l *Ledger) VerifyOne(_ context.Context, _ uint16, serializedTx []byte, height uint64) (
	model.LedgerVerdict, error) {

	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.verifyOneHeights = append(l.verifyOneHeights, height)
	if l.verifyErr != nil {
		return 0, l.verifyErr
	}
	tx, err := txserialization.DeserializeTransaction(serializedTx)
	if err != nil {
		return 0, err
	}
	if verdict, ok := l.forcedVerdicts[txhashing.TransactionHash(tx)]; ok {
		return verdict, nil
	}
	return l.confirmed.clone().apply(tx), nil
}

// Commit implements model.LedgerGateway
func (l *Ledger) Commit(_ context.Context, _ uint16, serializedTxs [][]byte, _ uint64) (bool, error) {
	l.waitWhileHung()

	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.rejectCommit {
		return false, nil
	}

	state := l.confirmed.clone()
	hashes := make([]model.TxHash, 0, len(serializedTxs))
	for _, serializedTx := range serializedTxs {
		tx, err := txserialization.DeserializeTransaction(serializedTx)
		if err != nil {
			return false, err
		}
		verdict := state.apply(tx)
		if verdict != model.LedgerAccepted {
			return false, errors.Errorf("transaction %s can't be committed: %s",
				txhashing.TransactionHash(tx), verdict)
		}
		hashes = append(hashes, txhashing.TransactionHash(tx))
	}
	l.history = append(l.history, l.confirmed)
	l.confirmed = state
	l.committed = append(l.committed, hashes...)
	return true, nil
}

// Rollback implements model.LedgerGateway. It undoes the most recent
// commit.
func (l *Ledger) Rollback(_ context.Context, _ uint16, serializedTxs [][]byte, _ uint64) (bool, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if len(l.history) == 0 {
		return false, errors.New("nothing to roll back")
	}
	for _, serializedTx := range serializedTxs {
		tx, err := txserialization.DeserializeTransaction(serializedTx)
		if err != nil {
			return false, err
		}
		l.rolledBack = append(l.rolledBack, txhashing.TransactionHash(tx))
	}
	l.confirmed = l.history[len(l.history)-1]
	l.history = l.history[:len(l.history)-1]
	return true, nil
}

// RemoveUnconfirmed implements model.LedgerGateway
func (l *Ledger) RemoveUnconfirmed(_ context.Context, _ uint16, hash model.TxHash) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.removed = append(l.removed, hash)
	return nil
}

// BeginBatchNotify implements model.LedgerGateway
func (l *Ledger) BeginBatchNotify(context.Context, uint16) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.begins++
	l.batch = l.confirmed.clone()
	return nil
}

// EndBatchNotify implements model.LedgerGateway
func (l *Ledger) EndBatchNotify(context.Context, uint16) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.ends++
	l.batch = nil
	return nil
}

// VerifyBatchCalls returns the number of VerifyBatch calls that reached the ledger state
func (l *Ledger) VerifyBatchCalls() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.verifyBatchCalls
}

// VerifyOneHeights returns the block heights VerifyOne was called with
func (l *Ledger) VerifyOneHeights() []uint64 {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]uint64(nil), l.verifyOneHeights...)
}

// Brackets returns the number of BeginBatchNotify and EndBatchNotify calls
func (l *Ledger) Brackets() (begins, ends int) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.begins, l.ends
}

// Removed returns the hashes passed to RemoveUnconfirmed
func (l *Ledger) Removed() []model.TxHash {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]model.TxHash(nil), l.removed...)
}

// Committed returns the hashes of every committed transaction
func (l *Ledger) Committed() []model.TxHash {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]model.TxHash(nil), l.committed...)
}

// RolledBack returns the hashes of every rolled back transaction
func (l *Ledger) RolledBack() []model.TxHash {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]model.TxHash(nil), l.rolledBack...)
}
