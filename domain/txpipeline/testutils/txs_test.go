package testutils

import (
	"testing"
)

func TestNewAccountAcceptsEverySeed(t *testing.T) {
	addresses := make(map[string]byte)
	for seed := 0; seed <= 0xff; seed++ {
		account, err := NewAccount(byte(seed))
		if err != nil {
			t.Fatalf("NewAccount(%#x): %+v", seed, err)
		}
		previous, ok := addresses[string(account.Address)]
		if ok {
			t.Fatalf("seeds %#x and %#x derived the same address", previous, seed)
		}
		addresses[string(account.Address)] = byte(seed)
	}
}
