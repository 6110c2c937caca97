package txserialization

import (
	"reflect"
	"testing"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
)

func TestCoinDataRoundTrip(t *testing.T) {
	coinData := &model.CoinData{
		From: []*model.CoinFrom{
			{Address: []byte("alice"), AssetChainID: 1, AssetID: 1, Amount: 1000, Nonce: [8]byte{1}, Locked: 0},
			{Address: []byte("alice"), AssetChainID: 2, AssetID: 7, Amount: 5, Nonce: [8]byte{2}, Locked: 1},
		},
		To: []*model.CoinTo{
			{Address: []byte("bob"), AssetChainID: 1, AssetID: 1, Amount: 900, LockTime: -5},
		},
	}

	serialized, err := SerializeCoinData(coinData)
	if err != nil {
		t.Fatalf("SerializeCoinData: %+v", err)
	}
	deserialized, err := DeserializeCoinData(serialized)
	if err != nil {
		t.Fatalf("DeserializeCoinData: %+v", err)
	}
	if !reflect.DeepEqual(coinData, deserialized) {
		t.Fatalf("round trip mismatch.\nexpected: %s\ngot: %s", spew.Sdump(coinData), spew.Sdump(deserialized))
	}

	_, err = DeserializeCoinData(append(serialized, 1))
	if !errors.Is(err, ErrTrailingBytes) {
		t.Fatalf("expected ErrTrailingBytes, got %+v", err)
	}
}

func TestDeserializeEmptyCoinData(t *testing.T) {
	coinData, err := DeserializeCoinData(nil)
	if err != nil {
		t.Fatalf("DeserializeCoinData: %+v", err)
	}
	if !coinData.IsEmpty() {
		t.Fatalf("expected empty coin data, got %s", spew.Sdump(coinData))
	}
}

func TestDeserializeCoinDataHugeCount(t *testing.T) {
	_, err := DeserializeCoinData([]byte{0xff, 0xff, 0xff, 0xff})
	if err == nil {
		t.Fatalf("expected an error for an oversized entry count")
	}
}

func TestSignatureBundleRoundTrip(t *testing.T) {
	bundle := &model.SignatureBundle{Pairs: []*model.SignaturePair{
		{PublicKey: [32]byte{1, 2}, Signature: [64]byte{3, 4}},
		{PublicKey: [32]byte{5}, Signature: [64]byte{6}},
	}}
	serialized, err := SerializeSignatureBundle(bundle)
	if err != nil {
		t.Fatalf("SerializeSignatureBundle: %+v", err)
	}
	deserialized, err := DeserializeSignatureBundle(serialized)
	if err != nil {
		t.Fatalf("DeserializeSignatureBundle: %+v", err)
	}
	if !reflect.DeepEqual(bundle, deserialized) {
		t.Fatalf("round trip mismatch.\nexpected: %s\ngot: %s", spew.Sdump(bundle), spew.Sdump(deserialized))
	}

	_, err = DeserializeSignatureBundle(serialized[:len(serialized)-1])
	if err == nil {
		t.Fatalf("expected an error for a truncated bundle")
	}
}
