package packager

import (
	"context"
	"sort"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txhashing"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txserialization"
	"github.com/pkg/errors"
)

// resolveModuleConflicts validates the candidates with their owning modules
// until no module rejects anything. Every round either removes at least one
// candidate or ends the loop, so there are at most len(candidates)+1 rounds.
func (pass *packingPass) resolveModuleConflicts() error {
	maxRounds := len(pass.candidates) + 1
	for round := 1; len(pass.candidates) > 0; round++ {
		if round > maxRounds {
			return errors.Errorf("module validation did not converge after %d rounds", maxRounds)
		}
		pass.validationRounds++

		err := pass.checkDeadline()
		if err != nil {
			return err
		}

		rejected, err := pass.validateModules()
		if err != nil {
			return err
		}
		if len(rejected) == 0 {
			return nil
		}

		candidatesBefore := len(pass.candidates)
		err = pass.removeCandidates(rejected, false)
		if err != nil {
			return err
		}
		if len(pass.candidates) >= candidatesBefore {
			return errors.Errorf("module validation round %d did not shrink the candidate set", round)
		}
		log.Debugf("Modules rejected %d transactions in round %d", len(rejected), round)

		err = pass.reverifyCandidates()
		if err != nil {
			return err
		}
	}
	return nil
}

// validateModules calls the validator of every module owning a candidate
// once and returns the candidates it rejected
func (pass *packingPass) validateModules() ([]*packEntry, error) {
	moduleCodes, groups := groupByModule(pass.candidates)
	header := pass.blockHeader()

	var rejected []*packEntry
	for _, moduleCode := range moduleCodes {
		group := groups[moduleCode]
		var rejectedHashes []model.TxHash
		err := pass.callGateway("Validate "+moduleCode, func(ctx context.Context) error {
			var err error
			rejectedHashes, err = pass.packager.gateways.Module.Validate(ctx, pass.chainID(), moduleCode,
				serializedOf(group), header)
			return err
		})
		if err != nil {
			return nil, err
		}

		rejectedSet := model.NewTxHashSet(rejectedHashes...)
		for _, entry := range group {
			if rejectedSet.Contains(entry.Hash()) {
				rejected = append(rejected, entry)
			}
		}
	}
	return rejected, nil
}

// reverifyCandidates asks the ledger to verify the surviving candidates
// again, since removing a transaction may invalidate the ones spending it
func (pass *packingPass) reverifyCandidates() error {
	err := pass.beginBatch()
	if err != nil {
		return err
	}

	batchSize := pass.packager.cc.Config.BatchSize
	candidates := append([]*packEntry(nil), pass.candidates...)
	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		chunk := candidates[start:end]

		var result *model.LedgerVerifyResult
		err = pass.callGateway("VerifyBatch", func(ctx context.Context) error {
			var err error
			result, err = pass.packager.gateways.Ledger.VerifyBatch(ctx, pass.chainID(),
				serializedOf(chunk), pass.request.Height)
			return err
		})
		if err != nil {
			return err
		}

		_, failed, orphaned, unknown := partition(chunk, result)
		err = pass.removeCandidates(failed, false)
		if err != nil {
			return err
		}
		err = pass.removeCandidates(unknown, true)
		if err != nil {
			return err
		}
		for _, entry := range orphaned {
			err = pass.releaseFromLedger(entry)
			if err != nil {
				return err
			}
			pass.usedBytes -= len(entry.Serialized)
			pass.handleOrphan(entry)
		}
		pass.refreshCandidates()
	}

	return pass.endBatch()
}

// produceUntilStable runs the produce hooks. When a module can't produce
// the effect of some candidates, or the produced transactions don't fit in
// the block, those candidates are returned to the pool, the rest is
// validated again and the hooks run once more. Every repetition removes at
// least one candidate.
func (pass *packingPass) produceUntilStable() ([]*model.Transaction, error) {
	for {
		err := pass.checkDeadline()
		if err != nil {
			return nil, err
		}

		produced, producedBytes, mustRemove, err := pass.produce()
		if err != nil {
			return nil, err
		}
		if len(mustRemove) == 0 {
			if pass.usedBytes+producedBytes <= pass.budget {
				return produced, nil
			}
			last := lastProducingEntry(pass.candidates)
			if last == nil {
				return nil, errors.Errorf("produced transactions of %d bytes don't fit in the block", producedBytes)
			}
			log.Debugf("Produced transactions of %d bytes overflow the block by %d bytes. Returning %s to the pool",
				producedBytes, pass.usedBytes+producedBytes-pass.budget, last.Hash())
			mustRemove = []*packEntry{last}
		}

		log.Debugf("Produce hooks returned %d transactions to the pool", len(mustRemove))
		err = pass.removeCandidates(mustRemove, true)
		if err != nil {
			return nil, err
		}
		if len(pass.candidates) == 0 {
			continue
		}
		err = pass.reverifyCandidates()
		if err != nil {
			return nil, err
		}
		err = pass.resolveModuleConflicts()
		if err != nil {
			return nil, err
		}
	}
}

// produce calls the produce hook of every module owning a candidate of a
// producing type. The synthesized transactions must be system transactions
// of the producing module.
func (pass *packingPass) produce() (
	produced []*model.Transaction, producedBytes int, mustRemove []*packEntry, err error) {

	cc := pass.packager.cc
	pass.producedStateRoot = nil

	for _, moduleCode := range cc.Registry.ProduceModules() {
		originals := producingEntries(pass.candidates, moduleCode)
		if len(originals) == 0 {
			continue
		}

		var result *model.ProduceResult
		err := pass.callGateway("Produce "+moduleCode, func(ctx context.Context) error {
			var err error
			result, err = pass.packager.gateways.Module.Produce(ctx, pass.chainID(), moduleCode,
				serializedOf(originals), pass.request.Height, pass.request.BlockTime, model.ProduceModePack)
			return err
		})
		if err != nil {
			return nil, 0, nil, err
		}
		if result == nil {
			continue
		}

		removeSet := model.NewTxHashSet(result.MustRemove...)
		for _, entry := range originals {
			if removeSet.Contains(entry.Hash()) {
				mustRemove = append(mustRemove, entry)
			}
		}

		for i, serialized := range result.NewTxs {
			tx, err := txserialization.DeserializeTransaction(serialized)
			if err != nil {
				return nil, 0, nil, errors.Wrapf(err, "module %s produced malformed transaction %d", moduleCode, i)
			}
			register, err := cc.Registry.Get(tx.Type)
			if err != nil || !register.SystemTx || register.ModuleCode != moduleCode {
				return nil, 0, nil, errors.Errorf("module %s produced transaction %d of type %d "+
					"which is not one of its system transaction types", moduleCode, i, tx.Type)
			}
			txhashing.TransactionHash(tx)
			produced = append(produced, tx)
			producedBytes += len(serialized)
		}

		if len(result.StateRoot) > 0 {
			pass.producedStateRoot = result.StateRoot
		}
	}
	return produced, producedBytes, mustRemove, nil
}

// removeCandidates takes entries out of the candidate set, either back to
// the pool or dropped for good
func (pass *packingPass) removeCandidates(entries []*packEntry, restore bool) error {
	for _, entry := range entries {
		err := pass.releaseFromLedger(entry)
		if err != nil {
			return err
		}
		pass.usedBytes -= len(entry.Serialized)
		if restore {
			entry.status = statusRestore
		} else {
			pass.drop(entry)
		}
	}
	pass.refreshCandidates()
	return nil
}

func (pass *packingPass) refreshCandidates() {
	remaining := pass.candidates[:0]
	for _, entry := range pass.candidates {
		if entry.status == statusCandidate {
			remaining = append(remaining, entry)
		}
	}
	pass.candidates = remaining
}

func (pass *packingPass) blockHeader() *model.BlockHeader {
	return &model.BlockHeader{
		Height:         pass.request.Height,
		Time:           pass.request.BlockTime,
		PackingAddress: pass.request.PackingAddress,
		StateRoot:      pass.request.PrevStateRoot,
		TxCount:        uint32(len(pass.candidates)),
	}
}

func groupByModule(entries []*packEntry) ([]string, map[string][]*packEntry) {
	groups := make(map[string][]*packEntry)
	for _, entry := range entries {
		moduleCode := entry.register.ModuleCode
		groups[moduleCode] = append(groups[moduleCode], entry)
	}
	moduleCodes := make([]string, 0, len(groups))
	for moduleCode := range groups {
		moduleCodes = append(moduleCodes, moduleCode)
	}
	sort.Strings(moduleCodes)
	return moduleCodes, groups
}

// lastProducingEntry returns the last candidate, in block order, whose
// module produces transactions for it
func lastProducingEntry(entries []*packEntry) *packEntry {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].register.PackProduce {
			return entries[i]
		}
	}
	return nil
}

func producingEntries(entries []*packEntry, moduleCode string) []*packEntry {
	var producing []*packEntry
	for _, entry := range entries {
		if entry.register.ModuleCode == moduleCode && entry.register.PackProduce {
			producing = append(producing, entry)
		}
	}
	return producing
}
