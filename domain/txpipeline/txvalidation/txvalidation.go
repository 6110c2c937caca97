// Package txvalidation holds the checks of a transaction that need neither
// ledger nor module state. Admission and block verification share them.
package txvalidation

import (
	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/ruleerrors"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txserialization"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txsigning"
)

// FeeParams are the parameters of the minimum fee rule
type FeeParams struct {
	AssetChainID uint16
	AssetID      uint16
	MinFeePerKB  uint64
}

// ValidateTransactionInIsolation checks the size, the coin data shape, the
// signatures and the fee of tx, in that order. Every failure is a
// TxRuleError.
func ValidateTransactionInIsolation(tx *model.Transaction, register *model.TxRegister, feeParams *FeeParams) error {
	size, err := transactionSize(tx)
	if err != nil {
		return ruleerrors.NewTxRuleErrorf(ruleerrors.RejectMalformed, "transaction can't be serialized: %s", err)
	}
	if size > model.MaxTransactionSize {
		return ruleerrors.NewTxRuleErrorf(ruleerrors.RejectMalformed,
			"transaction size %d exceeds the maximum of %d", size, model.MaxTransactionSize)
	}

	coinData, err := txserialization.DeserializeCoinData(tx.CoinData)
	if err != nil {
		return ruleerrors.NewTxRuleErrorf(ruleerrors.RejectMalformed, "malformed coin data: %s", err)
	}
	err = coinData.CheckShape(register.AllowEmptyCoinData)
	if err != nil {
		return ruleerrors.NewTxRuleErrorf(ruleerrors.RejectMalformed, "invalid coin data: %s", err)
	}

	if register.VerifySignature {
		err = txsigning.VerifyTransactionSignatures(tx)
		if err != nil {
			return ruleerrors.NewTxRuleErrorf(ruleerrors.RejectInvalidSignature, "%s", err)
		}
	}

	if register.VerifyFee {
		err = checkFee(coinData, size, feeParams)
		if err != nil {
			return err
		}
	}
	return nil
}

// MinimumFee returns the minimum fee of a transaction of the given
// serialized size
func MinimumFee(size int, minFeePerKB uint64) uint64 {
	return minFeePerKB * uint64(size) / 1000
}

func checkFee(coinData *model.CoinData, size int, feeParams *FeeParams) error {
	fee, ok := coinData.AssetFee(feeParams.AssetChainID, feeParams.AssetID)
	if !ok {
		return ruleerrors.NewTxRuleError(ruleerrors.RejectInsufficientFee,
			"outputs of the fee asset exceed its inputs")
	}
	minimumFee := MinimumFee(size, feeParams.MinFeePerKB)
	if fee < minimumFee {
		return ruleerrors.NewTxRuleErrorf(ruleerrors.RejectInsufficientFee,
			"fee %d is below the minimum of %d for %d bytes", fee, minimumFee, size)
	}
	return nil
}

func transactionSize(tx *model.Transaction) (int, error) {
	if tx.Size > 0 {
		return tx.Size, nil
	}
	serialized, err := txserialization.SerializeTransaction(tx)
	if err != nil {
		return 0, err
	}
	tx.Size = len(serialized)
	return tx.Size, nil
}
