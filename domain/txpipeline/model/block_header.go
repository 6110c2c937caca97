package model

// BlockHeader is the block context handed to module gateways
type BlockHeader struct {
	Height         uint64
	Time           int64
	PreviousHash   TxHash
	PackingAddress []byte
	StateRoot      []byte
	TxCount        uint32
}
