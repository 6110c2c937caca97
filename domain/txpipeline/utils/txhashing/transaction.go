package txhashing

import (
	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txserialization"
	"github.com/pkg/errors"
)

// TransactionHash returns the hash of tx, computing and caching it on the
// first call. The signature bundle is not covered by the hash.
//
// The cache is not synchronized: a transaction shared between goroutines
// must be hashed before it is shared.
func TransactionHash(tx *model.Transaction) model.TxHash {
	if tx.Hash != nil {
		return *tx.Hash
	}

	hash := calculateTransactionHash(tx)
	tx.Hash = &hash
	return hash
}

func calculateTransactionHash(tx *model.Transaction) model.TxHash {
	writer := NewTransactionHashWriter()
	err := txserialization.WriteTransaction(writer, tx, false)
	if err != nil {
		// The writer never fails, so this can only be a serialization bug.
		panic(errors.Wrap(err, "this should never happen. Hash digest should never return an error"))
	}
	return writer.Finalize()
}

// TransactionHashes returns the hashes of txs in order
func TransactionHashes(txs []*model.Transaction) []model.TxHash {
	hashes := make([]model.TxHash, len(txs))
	for i, tx := range txs {
		hashes[i] = TransactionHash(tx)
	}
	return hashes
}
