package model

import "testing"

func TestTxHashString(t *testing.T) {
	hash := TxHash{0xab, 0x01}
	parsed, err := NewTxHashFromString(hash.String())
	if err != nil {
		t.Fatalf("NewTxHashFromString: %+v", err)
	}
	if parsed != hash {
		t.Fatalf("expected %s, got %s", hash, parsed)
	}

	_, err = NewTxHashFromString("abcd")
	if err == nil {
		t.Fatalf("expected an error for a short string")
	}
	_, err = NewTxHashFromByteSlice(make([]byte, 31))
	if err == nil {
		t.Fatalf("expected an error for a short slice")
	}
}

func TestTxHashSet(t *testing.T) {
	a, b := TxHash{1}, TxHash{2}
	set := NewTxHashSet(a)
	if !set.Contains(a) || set.Contains(b) {
		t.Fatalf("unexpected set contents %v", set)
	}
	if !a.Less(b) || b.Less(a) {
		t.Fatalf("unexpected ordering")
	}
}

func TestTransactionClone(t *testing.T) {
	hash := TxHash{7}
	tx := &Transaction{Type: 1, TxData: []byte{1}, Hash: &hash}
	clone := tx.Clone()
	clone.TxData[0] = 2
	*clone.Hash = TxHash{8}
	if tx.TxData[0] != 1 || *tx.Hash != hash {
		t.Fatalf("clone shares memory with the original")
	}
}
