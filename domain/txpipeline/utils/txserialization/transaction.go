package txserialization

import (
	"bytes"
	"io"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/util/binaryserializer"
	"github.com/pkg/errors"
)

// ErrTrailingBytes is returned when a serialized structure is followed by
// bytes that don't belong to it
var ErrTrailingBytes = errors.New("trailing bytes after serialized data")

// ErrTransactionTooLarge is returned when a serialized transaction is above
// model.MaxTransactionSize
var ErrTransactionTooLarge = errors.New("transaction is too large")

// SerializeTransaction returns the canonical serialization of tx
func SerializeTransaction(tx *model.Transaction) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, serializedSizeHint(tx)))
	err := WriteTransaction(buf, tx, true)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTransaction writes tx to w. The signature bundle is left out when
// includeSignature is false, which is the form the transaction hash covers.
func WriteTransaction(w io.Writer, tx *model.Transaction, includeSignature bool) error {
	err := binaryserializer.PutUint16(w, tx.Type)
	if err != nil {
		return err
	}
	err = binaryserializer.PutUint64(w, uint64(tx.Time))
	if err != nil {
		return err
	}
	for _, field := range [][]byte{tx.TxData, tx.CoinData, tx.Remark} {
		err = binaryserializer.PutVarBytes(w, field)
		if err != nil {
			return err
		}
	}
	if !includeSignature {
		return nil
	}
	return binaryserializer.PutVarBytes(w, tx.Signature)
}

// DeserializeTransaction parses a transaction serialized by
// SerializeTransaction. The hash is not computed.
func DeserializeTransaction(serialized []byte) (*model.Transaction, error) {
	if len(serialized) > model.MaxTransactionSize {
		return nil, errors.Wrapf(ErrTransactionTooLarge, "size %d is above %d",
			len(serialized), model.MaxTransactionSize)
	}

	r := bytes.NewReader(serialized)
	tx := &model.Transaction{Size: len(serialized)}

	var err error
	tx.Type, err = binaryserializer.Uint16(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read type")
	}
	txTime, err := binaryserializer.Uint64(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read time")
	}
	tx.Time = int64(txTime)

	fields := []*[]byte{&tx.TxData, &tx.CoinData, &tx.Remark, &tx.Signature}
	for _, field := range fields {
		*field, err = binaryserializer.VarBytes(r, model.MaxTransactionSize)
		if err != nil {
			return nil, err
		}
	}

	if r.Len() != 0 {
		return nil, errors.Wrapf(ErrTrailingBytes, "%d bytes left", r.Len())
	}
	return tx, nil
}

func serializedSizeHint(tx *model.Transaction) int {
	const fixedSize = 2 + 8 + 4*4
	return fixedSize + len(tx.TxData) + len(tx.CoinData) + len(tx.Remark) + len(tx.Signature)
}
