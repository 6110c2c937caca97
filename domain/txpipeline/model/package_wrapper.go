package model

// PackageWrapper pairs a transaction with its position in the packaging pass
// it was taken in and its serialized form. Index defines the order in which
// wrappers are returned to the pool.
type PackageWrapper struct {
	Tx         *Transaction
	Index      int
	Serialized []byte
}

// Hash returns the hash of the wrapped transaction. It must have been
// computed when the wrapper was created.
func (pw *PackageWrapper) Hash() TxHash {
	return *pw.Tx.Hash
}
