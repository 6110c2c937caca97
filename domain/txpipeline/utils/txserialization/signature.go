package txserialization

import (
	"bytes"
	"io"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/util/binaryserializer"
	"github.com/pkg/errors"
)

const maxSignaturePairs = 255

// SerializeSignatureBundle returns the serialization of bundle
func SerializeSignatureBundle(bundle *model.SignatureBundle) ([]byte, error) {
	if len(bundle.Pairs) > maxSignaturePairs {
		return nil, errors.Errorf("signature bundle has %d pairs, above %d",
			len(bundle.Pairs), maxSignaturePairs)
	}
	buf := bytes.NewBuffer(make([]byte, 0,
		1+len(bundle.Pairs)*(model.SchnorrPublicKeySize+model.SchnorrSignatureSize)))
	err := binaryserializer.PutUint8(buf, uint8(len(bundle.Pairs)))
	if err != nil {
		return nil, err
	}
	for _, pair := range bundle.Pairs {
		buf.Write(pair.PublicKey[:])
		buf.Write(pair.Signature[:])
	}
	return buf.Bytes(), nil
}

// DeserializeSignatureBundle parses a bundle serialized by
// SerializeSignatureBundle
func DeserializeSignatureBundle(serialized []byte) (*model.SignatureBundle, error) {
	r := bytes.NewReader(serialized)
	count, err := binaryserializer.Uint8(r)
	if err != nil {
		return nil, err
	}

	bundle := &model.SignatureBundle{Pairs: make([]*model.SignaturePair, count)}
	for i := range bundle.Pairs {
		pair := &model.SignaturePair{}
		_, err = io.ReadFull(r, pair.PublicKey[:])
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read public key %d", i)
		}
		_, err = io.ReadFull(r, pair.Signature[:])
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read signature %d", i)
		}
		bundle.Pairs[i] = pair
	}

	if r.Len() != 0 {
		return nil, errors.Wrapf(ErrTrailingBytes, "%d bytes left in signature bundle", r.Len())
	}
	return bundle, nil
}
