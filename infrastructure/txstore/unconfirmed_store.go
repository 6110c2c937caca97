package txstore

import (
	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txhashing"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txserialization"
	"github.com/blockpipe/txpipe/infrastructure/db/database"
)

// UnconfirmedStore persists admitted transactions of one chain that are
// not in a confirmed block yet
type UnconfirmedStore struct {
	db     database.Database
	bucket *database.Bucket
}

// NewUnconfirmedStore returns the unconfirmed store of chainID in db
func NewUnconfirmedStore(db database.Database, chainID uint16) *UnconfirmedStore {
	return &UnconfirmedStore{
		db:     db,
		bucket: chainBucket(unconfirmedBucketName, chainID),
	}
}

// Put stores tx under its hash
func (s *UnconfirmedStore) Put(tx *model.Transaction) error {
	serialized, err := txserialization.SerializeTransaction(tx)
	if err != nil {
		return err
	}
	return s.db.Put(hashKey(s.bucket, txhashing.TransactionHash(tx)), serialized)
}

// Get returns the transaction stored under hash
func (s *UnconfirmedStore) Get(hash model.TxHash) (*model.Transaction, bool, error) {
	serialized, err := s.db.Get(hashKey(s.bucket, hash))
	if err != nil {
		if database.IsNotFoundError(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	tx, err := txserialization.DeserializeTransaction(serialized)
	if err != nil {
		return nil, false, err
	}
	tx.Hash = &hash
	return tx, true, nil
}

// Has returns whether a transaction is stored under hash
func (s *UnconfirmedStore) Has(hash model.TxHash) (bool, error) {
	return s.db.Has(hashKey(s.bucket, hash))
}

// Delete removes the given hashes in a single database transaction
func (s *UnconfirmedStore) Delete(hashes ...model.TxHash) error {
	return deleteHashes(s.db, s.bucket, hashes)
}

// Count returns the number of stored transactions
func (s *UnconfirmedStore) Count() (int, error) {
	cursor, err := s.db.Cursor(s.bucket)
	if err != nil {
		return 0, err
	}
	defer cursor.Close()

	count := 0
	for cursor.Next() {
		count++
	}
	return count, nil
}

func deleteHashes(db database.Database, bucket *database.Bucket, hashes []model.TxHash) (err error) {
	if len(hashes) == 0 {
		return nil
	}
	dbTx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		rollbackErr := dbTx.RollbackUnlessClosed()
		if err == nil {
			err = rollbackErr
		}
	}()

	for _, hash := range hashes {
		err = dbTx.Delete(hashKey(bucket, hash))
		if err != nil {
			return err
		}
	}
	return dbTx.Commit()
}
