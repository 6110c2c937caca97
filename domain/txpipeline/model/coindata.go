package model

import "github.com/pkg/errors"

// NonceSize is the size of the spend nonce carried by a CoinFrom
const NonceSize = 8

// CoinData is the input/output spend structure of a transaction
type CoinData struct {
	From []*CoinFrom
	To   []*CoinTo
}

// CoinFrom is a source of funds. Nonce chains spends of the same account
// so that the ledger can detect double spends and orphans.
type CoinFrom struct {
	Address      []byte
	AssetChainID uint16
	AssetID      uint16
	Amount       uint64
	Nonce        [NonceSize]byte
	Locked       uint8
}

// CoinTo is a destination of funds. A non-zero LockTime locks the output
// until that time (or height, for negative values).
type CoinTo struct {
	Address      []byte
	AssetChainID uint16
	AssetID      uint16
	Amount       uint64
	LockTime     int64
}

// IsEmpty returns whether the coin data has neither inputs nor outputs
func (cd *CoinData) IsEmpty() bool {
	return cd == nil || (len(cd.From) == 0 && len(cd.To) == 0)
}

// AssetFee returns the sum of inputs minus the sum of outputs of the given
// asset. It returns false if outputs exceed inputs or on overflow.
func (cd *CoinData) AssetFee(assetChainID, assetID uint16) (uint64, bool) {
	var in, out uint64
	for _, from := range cd.From {
		if from.AssetChainID != assetChainID || from.AssetID != assetID {
			continue
		}
		if in+from.Amount < in {
			return 0, false
		}
		in += from.Amount
	}
	for _, to := range cd.To {
		if to.AssetChainID != assetChainID || to.AssetID != assetID {
			continue
		}
		if out+to.Amount < out {
			return 0, false
		}
		out += to.Amount
	}
	if out > in {
		return 0, false
	}
	return in - out, true
}

// CheckShape checks the structural rules of the coin data that don't need
// ledger state.
func (cd *CoinData) CheckShape(allowEmpty bool) error {
	if len(cd.To) == 0 && !allowEmpty {
		return errors.New("coin data has no outputs")
	}

	type inputKey struct {
		address      string
		assetChainID uint16
		assetID      uint16
		nonce        [NonceSize]byte
	}
	seenInputs := make(map[inputKey]struct{}, len(cd.From))
	for i, from := range cd.From {
		if len(from.Address) == 0 {
			return errors.Errorf("input %d has an empty address", i)
		}
		key := inputKey{
			address:      string(from.Address),
			assetChainID: from.AssetChainID,
			assetID:      from.AssetID,
			nonce:        from.Nonce,
		}
		if _, ok := seenInputs[key]; ok {
			return errors.Errorf("input %d is a duplicate", i)
		}
		seenInputs[key] = struct{}{}
	}

	for i, to := range cd.To {
		if len(to.Address) == 0 {
			return errors.Errorf("output %d has an empty address", i)
		}
		if to.Amount == 0 {
			return errors.Errorf("output %d has a zero amount", i)
		}
	}
	return nil
}
