package txstore

import (
	"bytes"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txhashing"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txserialization"
	"github.com/blockpipe/txpipe/infrastructure/db/database"
	"github.com/blockpipe/txpipe/util/binaryserializer"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// ConfirmedStore persists the transactions of accepted blocks of one
// chain. Positive Has results are kept in an LRU cache since stale checks
// sit on the packaging hot path.
type ConfirmedStore struct {
	db     database.Database
	bucket *database.Bucket
	cache  *lru.Cache[model.TxHash, struct{}]
}

// NewConfirmedStore returns the confirmed store of chainID in db
func NewConfirmedStore(db database.Database, chainID uint16, cacheSize int) (*ConfirmedStore, error) {
	cache, err := lru.New[model.TxHash, struct{}](cacheSize)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create confirmed hash cache")
	}
	return &ConfirmedStore{
		db:     db,
		bucket: chainBucket(confirmedBucketName, chainID),
		cache:  cache,
	}, nil
}

// Put stores the given records in a single database transaction
func (s *ConfirmedStore) Put(records ...*model.ConfirmedTransaction) (err error) {
	dbTx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		rollbackErr := dbTx.RollbackUnlessClosed()
		if err == nil {
			err = rollbackErr
		}
	}()

	for _, record := range records {
		serialized, err := serializeConfirmedTransaction(record)
		if err != nil {
			return err
		}
		err = dbTx.Put(hashKey(s.bucket, txhashing.TransactionHash(record.Tx)), serialized)
		if err != nil {
			return err
		}
	}
	err = dbTx.Commit()
	if err != nil {
		return err
	}

	for _, record := range records {
		s.cache.Add(*record.Tx.Hash, struct{}{})
	}
	log.Tracef("Stored %d confirmed transactions", len(records))
	return nil
}

// Get returns the record stored under hash
func (s *ConfirmedStore) Get(hash model.TxHash) (*model.ConfirmedTransaction, bool, error) {
	serialized, err := s.db.Get(hashKey(s.bucket, hash))
	if err != nil {
		if database.IsNotFoundError(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	record, err := deserializeConfirmedTransaction(serialized)
	if err != nil {
		return nil, false, err
	}
	record.Tx.Hash = &hash
	return record, true, nil
}

// Has returns whether a record is stored under hash
func (s *ConfirmedStore) Has(hash model.TxHash) (bool, error) {
	if s.cache.Contains(hash) {
		return true, nil
	}
	has, err := s.db.Has(hashKey(s.bucket, hash))
	if err != nil {
		return false, err
	}
	if has {
		s.cache.Add(hash, struct{}{})
	}
	return has, nil
}

// Delete removes the given hashes in a single database transaction
func (s *ConfirmedStore) Delete(hashes ...model.TxHash) error {
	for _, hash := range hashes {
		s.cache.Remove(hash)
	}
	return deleteHashes(s.db, s.bucket, hashes)
}

func serializeConfirmedTransaction(record *model.ConfirmedTransaction) ([]byte, error) {
	buf := &bytes.Buffer{}
	err := binaryserializer.PutUint64(buf, record.BlockHeight)
	if err != nil {
		return nil, err
	}
	err = binaryserializer.PutUint8(buf, uint8(record.Status))
	if err != nil {
		return nil, err
	}
	err = txserialization.WriteTransaction(buf, record.Tx, true)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deserializeConfirmedTransaction(serialized []byte) (*model.ConfirmedTransaction, error) {
	r := bytes.NewReader(serialized)
	height, err := binaryserializer.Uint64(r)
	if err != nil {
		return nil, err
	}
	status, err := binaryserializer.Uint8(r)
	if err != nil {
		return nil, err
	}
	tx, err := txserialization.DeserializeTransaction(serialized[len(serialized)-r.Len():])
	if err != nil {
		return nil, err
	}
	return &model.ConfirmedTransaction{
		Tx:          tx,
		BlockHeight: height,
		Status:      model.TxStatus(status),
	}, nil
}
