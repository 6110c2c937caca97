package testutils

import (
	"context"
	"sync"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txhashing"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txserialization"
)

// ValidateFunc decides which of txs a module rejects
type ValidateFunc func(txs []*model.Transaction) []model.TxHash

// ProduceFunc synthesizes the system transactions of a module
type ProduceFunc func(txs []*model.Transaction, height uint64, blockTime int64,
	mode model.ProduceMode) (*model.ProduceResult, error)

// ModuleCallKind names a ModuleGateway operation
type ModuleCallKind string

// ModuleCallKind values
const (
	ModuleCallValidate ModuleCallKind = "validate"
	ModuleCallCommit   ModuleCallKind = "commit"
	ModuleCallRollback ModuleCallKind = "rollback"
	ModuleCallProduce  ModuleCallKind = "produce"
)

// ModuleCall records one call made to Modules
type ModuleCall struct {
	Kind       ModuleCallKind
	ModuleCode string
	Hashes     []model.TxHash

	// Header is nil for produce calls
	Header *model.BlockHeader
}

// Modules is an in-memory ModuleGateway. Modules accept everything unless a
// validator is set, and produce nothing unless a producer is set.
type Modules struct {
	mutex sync.Mutex

	validators     map[string]ValidateFunc
	producers      map[string]ProduceFunc
	validateErrors map[string]error
	rejectCommit   map[string]bool
	rejectRollback map[string]bool

	calls []*ModuleCall
}

// NewModules returns a Modules gateway with no rules
func NewModules() *Modules {
	return &Modules{
		validators:     make(map[string]ValidateFunc),
		producers:      make(map[string]ProduceFunc),
		validateErrors: make(map[string]error),
		rejectCommit:   make(map[string]bool),
		rejectRollback: make(map[string]bool),
	}
}

// SetValidator sets the validator of moduleCode
func (m *Modules) SetValidator(moduleCode string, validate ValidateFunc) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.validators[moduleCode] = validate
}

// SetProducer sets the produce hook of moduleCode
func (m *Modules) SetProducer(moduleCode string, produce ProduceFunc) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.producers[moduleCode] = produce
}

// SetValidateError makes validation of moduleCode fail with err
func (m *Modules) SetValidateError(moduleCode string, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.validateErrors[moduleCode] = err
}

// SetRejectCommit makes commits of moduleCode report failure
func (m *Modules) SetRejectCommit(moduleCode string, reject bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.rejectCommit[moduleCode] = reject
}

// SetRejectRollback makes rollbacks of moduleCode report failure
func (m *Modules) SetRejectRollback(moduleCode string, reject bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.rejectRollback[moduleCode] = reject
}

// Calls returns the recorded calls of the given kind in call order
func (m *Modules) Calls(kind ModuleCallKind) []*ModuleCall {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var calls []*ModuleCall
	for _, call := range m.calls {
		if call.Kind == kind {
			calls = append(calls, call)
		}
	}
	return calls
}

func (m *Modules) record(kind ModuleCallKind, moduleCode string, txs []*model.Transaction,
	header *model.BlockHeader) {

	m.calls = append(m.calls, &ModuleCall{
		Kind:       kind,
		ModuleCode: moduleCode,
		Hashes:     txhashing.TransactionHashes(txs),
		Header:     header,
	})
}

func deserializeAll(serializedTxs [][]byte) ([]*model.Transaction, error) {
	txs := make([]*model.Transaction, len(serializedTxs))
	for i, serializedTx := range serializedTxs {
		tx, err := txserialization.DeserializeTransaction(serializedTx)
		if err != nil {
			return nil, err
		}
		txhashing.TransactionHash(tx)
		txs[i] = tx
	}
	return txs, nil
}

// Validate implements model.ModuleGateway
func (m *Modules) Validate(_ context.Context, _ uint16, moduleCode string, serializedTxs [][]byte,
	header *model.BlockHeader) ([]model.TxHash, error) {

	txs, err := deserializeAll(serializedTxs)
	if err != nil {
		return nil, err
	}

	m.mutex.Lock()
	m.record(ModuleCallValidate, moduleCode, txs, header)
	validate := m.validators[moduleCode]
	err = m.validateErrors[moduleCode]
	m.mutex.Unlock()

	if err != nil {
		return nil, err
	}
	if validate == nil {
		return nil, nil
	}
	return validate(txs), nil
}

// Commit implements model.ModuleGateway
func (m *Modules) Commit(_ context.Context, _ uint16, moduleCode string, serializedTxs [][]byte,
	header *model.BlockHeader, _ model.SyncMode) (bool, error) {

	txs, err := deserializeAll(serializedTxs)
	if err != nil {
		return false, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.record(ModuleCallCommit, moduleCode, txs, header)
	return !m.rejectCommit[moduleCode], nil
}

// Rollback implements model.ModuleGateway
func (m *Modules) Rollback(_ context.Context, _ uint16, moduleCode string, serializedTxs [][]byte,
	header *model.BlockHeader) (bool, error) {

	txs, err := deserializeAll(serializedTxs)
	if err != nil {
		return false, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.record(ModuleCallRollback, moduleCode, txs, header)
	return !m.rejectRollback[moduleCode], nil
}

// Produce implements model.ModuleGateway
func (m *Modules) Produce(_ context.Context, _ uint16, moduleCode string, serializedTxs [][]byte,
	height uint64, blockTime int64, mode model.ProduceMode) (*model.ProduceResult, error) {

	txs, err := deserializeAll(serializedTxs)
	if err != nil {
		return nil, err
	}

	m.mutex.Lock()
	m.record(ModuleCallProduce, moduleCode, txs, nil)
	produce := m.producers[moduleCode]
	m.mutex.Unlock()

	if produce == nil {
		return &model.ProduceResult{}, nil
	}
	return produce(txs, height, blockTime, mode)
}
