package testutils

import (
	"context"
	"sync"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txhashing"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txserialization"
	"github.com/pkg/errors"
)

// ErrBroadcastFailed is returned by Broadcaster for injected failures
var ErrBroadcastFailed = errors.New("broadcast failed")

// Broadcaster is an in-memory BroadcastGateway
type Broadcaster struct {
	mutex        sync.Mutex
	failuresLeft int
	attempts     int
	broadcasted  []model.TxHash
}

// NewBroadcaster returns a Broadcaster that never fails
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// FailNext makes the next n broadcasts fail
func (b *Broadcaster) FailNext(n int) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.failuresLeft = n
}

// Attempts returns the number of Broadcast calls
func (b *Broadcaster) Attempts() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.attempts
}

// Broadcasted returns the hashes of successfully broadcasted transactions
func (b *Broadcaster) Broadcasted() []model.TxHash {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]model.TxHash(nil), b.broadcasted...)
}

// Broadcast implements model.BroadcastGateway
func (b *Broadcaster) Broadcast(_ context.Context, _ uint16, serializedTx []byte) (bool, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.attempts++
	if b.failuresLeft > 0 {
		b.failuresLeft--
		return false, ErrBroadcastFailed
	}
	tx, err := txserialization.DeserializeTransaction(serializedTx)
	if err != nil {
		return false, err
	}
	b.broadcasted = append(b.broadcasted, txhashing.TransactionHash(tx))
	return true, nil
}

// NewGateways returns fresh in-memory gateways
func NewGateways() (*model.Gateways, *Ledger, *Modules, *Broadcaster) {
	ledger := NewLedger()
	modules := NewModules()
	broadcaster := NewBroadcaster()
	return &model.Gateways{Ledger: ledger, Module: modules, Broadcast: broadcaster}, ledger, modules, broadcaster
}
