package model

import "fmt"

// TxStatus is the lifecycle status of a transaction in storage
type TxStatus uint8

// TxStatus values
const (
	TxStatusUnconfirmed TxStatus = iota
	TxStatusConfirmed
	TxStatusCommitted
)

var txStatusStrings = map[TxStatus]string{
	TxStatusUnconfirmed: "unconfirmed",
	TxStatusConfirmed:   "confirmed",
	TxStatusCommitted:   "committed",
}

func (s TxStatus) String() string {
	if str, ok := txStatusStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown status (%d)", uint8(s))
}

// ConfirmedTransaction is a transaction included in an accepted block.
// Records are never edited: a rollback deletes them.
type ConfirmedTransaction struct {
	Tx          *Transaction
	BlockHeight uint64
	Status      TxStatus
}
