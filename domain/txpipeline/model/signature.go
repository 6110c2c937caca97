package model

const (
	// SchnorrPublicKeySize is the size of a serialized x-only Schnorr public key
	SchnorrPublicKeySize = 32

	// SchnorrSignatureSize is the size of a serialized Schnorr signature
	SchnorrSignatureSize = 64
)

// SignaturePair is a public key and its signature over the transaction hash
type SignaturePair struct {
	PublicKey [SchnorrPublicKeySize]byte
	Signature [SchnorrSignatureSize]byte
}

// SignatureBundle holds every signature of a transaction
type SignatureBundle struct {
	Pairs []*SignaturePair
}
