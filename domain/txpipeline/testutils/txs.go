package testutils

import (
	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/registry"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txhashing"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txserialization"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txsigning"
	"github.com/kaspanet/go-secp256k1"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// Transaction types of the simulated modules
const (
	TxTypeTransfer       uint16 = 2
	TxTypeContractCall   uint16 = 16
	TxTypeContractResult uint16 = 17
	TxTypeCrossChain     uint16 = 10
	TxTypeQuotation      uint16 = 30
	TxTypeYellowCard     uint16 = 40
)

// Module codes of the simulated modules
const (
	ModuleTransfer   = "transfer"
	ModuleContract   = "contract"
	ModuleCrossChain = "crosschain"
	ModuleQuotation  = "quotation"
	ModuleConsensus  = "consensus"
)

// RegisterSimulatedTypes registers the transaction types of the simulated
// modules in r
func RegisterSimulatedTypes(r *registry.Registry) error {
	registrations := []struct {
		moduleCode string
		registers  []*model.TxRegister
	}{
		{ModuleTransfer, []*model.TxRegister{
			{TxType: TxTypeTransfer, VerifySignature: true, VerifyFee: true},
		}},
		{ModuleContract, []*model.TxRegister{
			{TxType: TxTypeContractCall, VerifySignature: true, VerifyFee: true, PackProduce: true},
			{TxType: TxTypeContractResult, SystemTx: true, AllowEmptyCoinData: true},
		}},
		{ModuleCrossChain, []*model.TxRegister{
			{TxType: TxTypeCrossChain, VerifySignature: true, VerifyFee: true, CrossChain: true, TimeWindow: true},
		}},
		{ModuleQuotation, []*model.TxRegister{
			{TxType: TxTypeQuotation, VerifySignature: true, Quotation: true, TimeWindow: true,
				AllowEmptyCoinData: true},
		}},
		{ModuleConsensus, []*model.TxRegister{
			{TxType: TxTypeYellowCard, SystemTx: true, AllowEmptyCoinData: true},
		}},
	}
	for _, registration := range registrations {
		err := r.Register(registration.moduleCode, registration.registers...)
		if err != nil {
			return err
		}
	}
	return nil
}

// Account is a key pair that tracks its own spend nonce per chain asset
type Account struct {
	KeyPair *secp256k1.SchnorrKeyPair
	Address []byte
	Nonce   [model.NonceSize]byte
}

// NewAccount derives an account from seed. The private key is the
// blake2b-256 digest of the seed, so every seed maps to a valid scalar.
func NewAccount(seed byte) (*Account, error) {
	privateKeyBytes := blake2b.Sum256([]byte{seed})
	keyPair, err := secp256k1.DeserializeSchnorrPrivateKeyFromSlice(privateKeyBytes[:])
	if err != nil {
		return nil, err
	}
	publicKey, err := keyPair.SchnorrPublicKey()
	if err != nil {
		return nil, err
	}
	serializedPublicKey, err := publicKey.Serialize()
	if err != nil {
		return nil, err
	}
	return &Account{
		KeyPair: keyPair,
		Address: serializedPublicKey[:],
	}, nil
}

// TransferSpec describes a transaction built by Account.Spend
type TransferSpec struct {
	TxType       uint16
	Time         int64
	To           []byte
	Amount       uint64
	Fee          uint64
	AssetChainID uint16
	AssetID      uint16
	TxData       []byte
	Remark       []byte
}

// Spend builds a signed transaction spending spec.Amount+spec.Fee from the
// account and advances the account nonce.
func (a *Account) Spend(spec *TransferSpec) (*model.Transaction, error) {
	if spec.Amount+spec.Fee < spec.Amount {
		return nil, errors.New("amount overflow")
	}
	coinData := &model.CoinData{
		From: []*model.CoinFrom{{
			Address:      a.Address,
			AssetChainID: spec.AssetChainID,
			AssetID:      spec.AssetID,
			Amount:       spec.Amount + spec.Fee,
			Nonce:        a.Nonce,
		}},
		To: []*model.CoinTo{{
			Address:      spec.To,
			AssetChainID: spec.AssetChainID,
			AssetID:      spec.AssetID,
			Amount:       spec.Amount,
		}},
	}
	serializedCoinData, err := txserialization.SerializeCoinData(coinData)
	if err != nil {
		return nil, err
	}

	tx := &model.Transaction{
		Type:     spec.TxType,
		Time:     spec.Time,
		TxData:   spec.TxData,
		CoinData: serializedCoinData,
		Remark:   spec.Remark,
	}
	err = txsigning.SignTransaction(tx, a.KeyPair)
	if err != nil {
		return nil, err
	}
	a.Nonce = NextNonce(txhashing.TransactionHash(tx))
	return tx, nil
}

// SignedWithoutCoinData builds a signed transaction without coin data, such as a
// quotation
func (a *Account) SignedWithoutCoinData(txType uint16, txTime int64, txData []byte) (*model.Transaction, error) {
	tx := &model.Transaction{Type: txType, Time: txTime, TxData: txData}
	err := txsigning.SignTransaction(tx, a.KeyPair)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ContractResultProducer returns a produce hook emitting one contract result
// per contract call. Calls for which mustRemove returns true are reported
// as impossible to produce instead. The state root is the hash of the last
// produced result.
func ContractResultProducer(mustRemove func(tx *model.Transaction) bool) ProduceFunc {
	return func(txs []*model.Transaction, _ uint64, blockTime int64, _ model.ProduceMode) (*model.ProduceResult, error) {
		result := &model.ProduceResult{}
		for _, tx := range txs {
			hash := txhashing.TransactionHash(tx)
			if mustRemove != nil && mustRemove(tx) {
				result.MustRemove = append(result.MustRemove, hash)
				continue
			}
			contractResult := &model.Transaction{
				Type:   TxTypeContractResult,
				Time:   blockTime,
				TxData: hash.ByteSlice(),
			}
			serialized, err := txserialization.SerializeTransaction(contractResult)
			if err != nil {
				return nil, err
			}
			result.NewTxs = append(result.NewTxs, serialized)
			resultHash := txhashing.TransactionHash(contractResult)
			result.StateRoot = resultHash.ByteSlice()
		}
		return result, nil
	}
}
