package model

import (
	"bytes"
	"encoding/hex"

	"github.com/pkg/errors"
)

// TxHashSize of array used to store transaction hashes.
const TxHashSize = 32

// TxHash is the content hash of a transaction. It is a value type so it
// can be used directly as a map key.
type TxHash [TxHashSize]byte

// NewTxHashFromByteSlice creates a TxHash from the given slice.
func NewTxHashFromByteSlice(hashBytes []byte) (TxHash, error) {
	var hash TxHash
	if len(hashBytes) != TxHashSize {
		return hash, errors.Errorf("invalid hash size. Want: %d, got: %d",
			TxHashSize, len(hashBytes))
	}
	copy(hash[:], hashBytes)
	return hash, nil
}

// NewTxHashFromString creates a TxHash from its hex representation.
func NewTxHashFromString(hashString string) (TxHash, error) {
	expectedLength := TxHashSize * 2
	if len(hashString) != expectedLength {
		return TxHash{}, errors.Errorf("hash string length is %d, while it should be be %d",
			len(hashString), expectedLength)
	}

	hashBytes, err := hex.DecodeString(hashString)
	if err != nil {
		return TxHash{}, errors.WithStack(err)
	}
	return NewTxHashFromByteSlice(hashBytes)
}

// String returns the hash as a hexadecimal string.
func (hash TxHash) String() string {
	return hex.EncodeToString(hash[:])
}

// ByteSlice returns a copy of the hash bytes.
func (hash TxHash) ByteSlice() []byte {
	clone := hash
	return clone[:]
}

// Less returns whether hash is lexicographically smaller than other.
func (hash TxHash) Less(other TxHash) bool {
	return bytes.Compare(hash[:], other[:]) < 0
}

// TxHashSet is a set of transaction hashes.
type TxHashSet map[TxHash]struct{}

// NewTxHashSet creates a set containing the given hashes.
func NewTxHashSet(hashes ...TxHash) TxHashSet {
	set := make(TxHashSet, len(hashes))
	for _, hash := range hashes {
		set.Add(hash)
	}
	return set
}

// Add adds hash to the set.
func (set TxHashSet) Add(hash TxHash) {
	set[hash] = struct{}{}
}

// Contains returns whether hash is in the set.
func (set TxHashSet) Contains(hash TxHash) bool {
	_, ok := set[hash]
	return ok
}
