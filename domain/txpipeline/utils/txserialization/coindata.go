package txserialization

import (
	"bytes"
	"io"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/util/binaryserializer"
	"github.com/pkg/errors"
)

const (
	maxAddressLength = 256

	// minCoinEntrySize is the smallest possible serialized CoinFrom or
	// CoinTo. It bounds the entry count a length prefix may claim.
	minCoinEntrySize = 4 + 2 + 2 + 8 + 1
	maxCoinEntries   = model.MaxTransactionSize / minCoinEntrySize
)

// SerializeCoinData returns the serialization of coinData
func SerializeCoinData(coinData *model.CoinData) ([]byte, error) {
	buf := &bytes.Buffer{}
	err := binaryserializer.PutUint32(buf, uint32(len(coinData.From)))
	if err != nil {
		return nil, err
	}
	for _, from := range coinData.From {
		err = writeCoinFrom(buf, from)
		if err != nil {
			return nil, err
		}
	}

	err = binaryserializer.PutUint32(buf, uint32(len(coinData.To)))
	if err != nil {
		return nil, err
	}
	for _, to := range coinData.To {
		err = writeCoinTo(buf, to)
		if err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func writeCoinFrom(w io.Writer, from *model.CoinFrom) error {
	err := binaryserializer.PutVarBytes(w, from.Address)
	if err != nil {
		return err
	}
	err = binaryserializer.PutUint16(w, from.AssetChainID)
	if err != nil {
		return err
	}
	err = binaryserializer.PutUint16(w, from.AssetID)
	if err != nil {
		return err
	}
	err = binaryserializer.PutUint64(w, from.Amount)
	if err != nil {
		return err
	}
	_, err = w.Write(from.Nonce[:])
	if err != nil {
		return errors.WithStack(err)
	}
	return binaryserializer.PutUint8(w, from.Locked)
}

func writeCoinTo(w io.Writer, to *model.CoinTo) error {
	err := binaryserializer.PutVarBytes(w, to.Address)
	if err != nil {
		return err
	}
	err = binaryserializer.PutUint16(w, to.AssetChainID)
	if err != nil {
		return err
	}
	err = binaryserializer.PutUint16(w, to.AssetID)
	if err != nil {
		return err
	}
	err = binaryserializer.PutUint64(w, to.Amount)
	if err != nil {
		return err
	}
	return binaryserializer.PutUint64(w, uint64(to.LockTime))
}

// DeserializeCoinData parses coin data serialized by SerializeCoinData. An
// empty input yields empty coin data.
func DeserializeCoinData(serialized []byte) (*model.CoinData, error) {
	coinData := &model.CoinData{}
	if len(serialized) == 0 {
		return coinData, nil
	}

	r := bytes.NewReader(serialized)
	fromCount, err := readEntryCount(r)
	if err != nil {
		return nil, err
	}
	coinData.From = make([]*model.CoinFrom, fromCount)
	for i := range coinData.From {
		coinData.From[i], err = readCoinFrom(r)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read input %d", i)
		}
	}

	toCount, err := readEntryCount(r)
	if err != nil {
		return nil, err
	}
	coinData.To = make([]*model.CoinTo, toCount)
	for i := range coinData.To {
		coinData.To[i], err = readCoinTo(r)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read output %d", i)
		}
	}

	if r.Len() != 0 {
		return nil, errors.Wrapf(ErrTrailingBytes, "%d bytes left in coin data", r.Len())
	}
	return coinData, nil
}

func readEntryCount(r io.Reader) (uint32, error) {
	count, err := binaryserializer.Uint32(r)
	if err != nil {
		return 0, err
	}
	if count > maxCoinEntries {
		return 0, errors.Errorf("coin data entry count %d is above %d", count, maxCoinEntries)
	}
	return count, nil
}

func readCoinFrom(r io.Reader) (*model.CoinFrom, error) {
	from := &model.CoinFrom{}
	var err error
	from.Address, err = binaryserializer.VarBytes(r, maxAddressLength)
	if err != nil {
		return nil, err
	}
	from.AssetChainID, err = binaryserializer.Uint16(r)
	if err != nil {
		return nil, err
	}
	from.AssetID, err = binaryserializer.Uint16(r)
	if err != nil {
		return nil, err
	}
	from.Amount, err = binaryserializer.Uint64(r)
	if err != nil {
		return nil, err
	}
	_, err = io.ReadFull(r, from.Nonce[:])
	if err != nil {
		return nil, errors.WithStack(err)
	}
	from.Locked, err = binaryserializer.Uint8(r)
	if err != nil {
		return nil, err
	}
	return from, nil
}

func readCoinTo(r io.Reader) (*model.CoinTo, error) {
	to := &model.CoinTo{}
	var err error
	to.Address, err = binaryserializer.VarBytes(r, maxAddressLength)
	if err != nil {
		return nil, err
	}
	to.AssetChainID, err = binaryserializer.Uint16(r)
	if err != nil {
		return nil, err
	}
	to.AssetID, err = binaryserializer.Uint16(r)
	if err != nil {
		return nil, err
	}
	to.Amount, err = binaryserializer.Uint64(r)
	if err != nil {
		return nil, err
	}
	lockTime, err := binaryserializer.Uint64(r)
	if err != nil {
		return nil, err
	}
	to.LockTime = int64(lockTime)
	return to, nil
}
