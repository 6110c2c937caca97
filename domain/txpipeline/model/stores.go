package model

// UnconfirmedStore holds admitted transactions that are not in any
// confirmed block yet
type UnconfirmedStore interface {
	Put(tx *Transaction) error
	Get(hash TxHash) (tx *Transaction, found bool, err error)
	Has(hash TxHash) (bool, error)
	Delete(hashes ...TxHash) error
	Count() (int, error)
}

// ConfirmedStore holds transactions of accepted blocks
type ConfirmedStore interface {
	Put(records ...*ConfirmedTransaction) error
	Get(hash TxHash) (record *ConfirmedTransaction, found bool, err error)
	Has(hash TxHash) (bool, error)
	Delete(hashes ...TxHash) error
}
