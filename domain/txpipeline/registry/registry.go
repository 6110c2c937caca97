package registry

import (
	"sort"
	"sync"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/ruleerrors"
	"github.com/pkg/errors"
)

// ErrConflictingOwner is returned when a module registers a transaction
// type that another module already owns
var ErrConflictingOwner = errors.New("transaction type is owned by another module")

// Registry is the capability table of every transaction type known to a
// chain. Modules register and unregister their types at runtime.
type Registry struct {
	mtx       sync.RWMutex
	registers map[uint16]*model.TxRegister
}

// New returns an empty Registry
func New() *Registry {
	return &Registry{
		registers: make(map[uint16]*model.TxRegister),
	}
}

// Register adds the given registers under moduleCode. Re-registering a type
// the module already owns replaces its capabilities. Nothing is registered
// if any type is owned by another module.
func (r *Registry) Register(moduleCode string, registers ...*model.TxRegister) error {
	if moduleCode == "" {
		return errors.New("module code must not be empty")
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	for _, register := range registers {
		existing, ok := r.registers[register.TxType]
		if ok && existing.ModuleCode != moduleCode {
			return errors.Wrapf(ErrConflictingOwner, "type %d is owned by %s",
				register.TxType, existing.ModuleCode)
		}
	}
	for _, register := range registers {
		clone := register.Clone()
		clone.ModuleCode = moduleCode
		r.registers[register.TxType] = clone
	}
	return nil
}

// Unregister removes the given types if moduleCode owns them. With no
// types, every type of the module is removed.
func (r *Registry) Unregister(moduleCode string, txTypes ...uint16) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if len(txTypes) == 0 {
		for txType, register := range r.registers {
			if register.ModuleCode == moduleCode {
				delete(r.registers, txType)
			}
		}
		return
	}
	for _, txType := range txTypes {
		register, ok := r.registers[txType]
		if ok && register.ModuleCode == moduleCode {
			delete(r.registers, txType)
		}
	}
}

// Get returns the register of txType, or an error wrapping
// ruleerrors.ErrUnknownTxType
func (r *Registry) Get(txType uint16) (*model.TxRegister, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	register, ok := r.registers[txType]
	if !ok {
		return nil, errors.Wrapf(ruleerrors.ErrUnknownTxType, "type %d", txType)
	}
	return register.Clone(), nil
}

// IsSystemTx returns whether txType is a registered system transaction type
func (r *Registry) IsSystemTx(txType uint16) bool {
	register, err := r.Get(txType)
	return err == nil && register.SystemTx
}

// ModuleOf returns the code of the module owning txType
func (r *Registry) ModuleOf(txType uint16) (string, error) {
	register, err := r.Get(txType)
	if err != nil {
		return "", err
	}
	return register.ModuleCode, nil
}

// ProduceModules returns the sorted codes of every module owning a type
// with a post-pack produce hook
func (r *Registry) ProduceModules() []string {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	moduleSet := make(map[string]struct{})
	for _, register := range r.registers {
		if register.PackProduce {
			moduleSet[register.ModuleCode] = struct{}{}
		}
	}
	return sortedKeys(moduleSet)
}

// All returns a snapshot of every register, sorted by type
func (r *Registry) All() []*model.TxRegister {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	registers := make([]*model.TxRegister, 0, len(r.registers))
	for _, register := range r.registers {
		registers = append(registers, register.Clone())
	}
	sort.Slice(registers, func(i, j int) bool {
		return registers[i].TxType < registers[j].TxType
	})
	return registers
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
