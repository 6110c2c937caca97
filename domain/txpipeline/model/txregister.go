package model

// TxRegister describes the capabilities of one transaction type. Every type
// the pipeline handles is owned by exactly one module.
type TxRegister struct {
	TxType     uint16
	ModuleCode string

	// SystemTx transactions are synthesized by the node. They can't be
	// submitted by users and are never re-admitted after a rollback.
	SystemTx bool

	// UnlockTx transactions may spend locked coins.
	UnlockTx bool

	VerifySignature bool
	VerifyFee       bool

	// PackProduce means the owning module may synthesize additional
	// transactions after this type was packed.
	PackProduce bool

	// TimeWindow means the transaction time must fall within the packaging
	// time window tolerance of the block time.
	TimeWindow bool

	// CrossChain transactions are counted against the per-block cross-chain cap.
	CrossChain bool

	// Quotation transactions are pinned to the head of each packing batch.
	Quotation bool

	AllowEmptyCoinData bool
}

// Clone returns a copy of the register
func (r *TxRegister) Clone() *TxRegister {
	clone := *r
	return &clone
}
