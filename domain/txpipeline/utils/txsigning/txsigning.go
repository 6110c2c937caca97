package txsigning

import (
	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txhashing"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txserialization"
	"github.com/kaspanet/go-secp256k1"
	"github.com/pkg/errors"
)

// ErrNoSignatures is returned when a transaction that must be signed
// carries an empty signature bundle
var ErrNoSignatures = errors.New("transaction has no signatures")

// ErrInvalidSignature is returned when a signature pair doesn't verify
// against the transaction hash
var ErrInvalidSignature = errors.New("invalid signature")

// VerifyTransactionSignatures checks that tx carries at least one signature
// pair and that every pair signs the transaction hash.
func VerifyTransactionSignatures(tx *model.Transaction) error {
	if len(tx.Signature) == 0 {
		return errors.WithStack(ErrNoSignatures)
	}
	bundle, err := txserialization.DeserializeSignatureBundle(tx.Signature)
	if err != nil {
		return err
	}
	if len(bundle.Pairs) == 0 {
		return errors.WithStack(ErrNoSignatures)
	}

	secpHash := secp256k1.Hash(txhashing.TransactionHash(tx))
	for i, pair := range bundle.Pairs {
		publicKey, err := secp256k1.DeserializeSchnorrPubKey(pair.PublicKey[:])
		if err != nil {
			return errors.Wrapf(ErrInvalidSignature, "pair %d: malformed public key: %s", i, err)
		}
		signature, err := secp256k1.DeserializeSchnorrSignatureFromSlice(pair.Signature[:])
		if err != nil {
			return errors.Wrapf(ErrInvalidSignature, "pair %d: malformed signature: %s", i, err)
		}
		if !publicKey.SchnorrVerify(&secpHash, signature) {
			return errors.Wrapf(ErrInvalidSignature, "pair %d does not verify", i)
		}
	}
	return nil
}

// SignTransaction replaces the signature bundle of tx with signatures of
// every given key pair over the transaction hash.
func SignTransaction(tx *model.Transaction, keyPairs ...*secp256k1.SchnorrKeyPair) error {
	secpHash := secp256k1.Hash(txhashing.TransactionHash(tx))
	bundle := &model.SignatureBundle{Pairs: make([]*model.SignaturePair, len(keyPairs))}
	for i, keyPair := range keyPairs {
		signature, err := keyPair.SchnorrSign(&secpHash)
		if err != nil {
			return errors.Errorf("cannot sign transaction: %s", err)
		}
		publicKey, err := keyPair.SchnorrPublicKey()
		if err != nil {
			return err
		}
		serializedPublicKey, err := publicKey.Serialize()
		if err != nil {
			return err
		}

		pair := &model.SignaturePair{}
		copy(pair.PublicKey[:], serializedPublicKey[:])
		copy(pair.Signature[:], signature.Serialize()[:])
		bundle.Pairs[i] = pair
	}

	serializedBundle, err := txserialization.SerializeSignatureBundle(bundle)
	if err != nil {
		return err
	}
	tx.Signature = serializedBundle
	tx.Size = 0
	return nil
}
