package model

// Transaction is a transaction as it is admitted to the pool and packed
// into blocks. Once its hash was computed it must not be modified.
type Transaction struct {
	Type      uint16
	Time      int64
	TxData    []byte
	CoinData  []byte
	Remark    []byte
	Signature []byte

	// Cached fields
	Hash *TxHash
	Size int
}

// Clone returns a deep clone of the transaction.
func (tx *Transaction) Clone() *Transaction {
	if tx == nil {
		return nil
	}

	var hashClone *TxHash
	if tx.Hash != nil {
		hash := *tx.Hash
		hashClone = &hash
	}

	return &Transaction{
		Type:      tx.Type,
		Time:      tx.Time,
		TxData:    cloneBytes(tx.TxData),
		CoinData:  cloneBytes(tx.CoinData),
		Remark:    cloneBytes(tx.Remark),
		Signature: cloneBytes(tx.Signature),
		Hash:      hashClone,
		Size:      tx.Size,
	}
}

func cloneBytes(bytes []byte) []byte {
	if bytes == nil {
		return nil
	}
	clone := make([]byte, len(bytes))
	copy(clone, bytes)
	return clone
}

// MaxTransactionSize is the largest serialized transaction the pipeline
// accepts.
const MaxTransactionSize = 300 * 1024
