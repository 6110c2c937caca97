package txstore

import (
	"strconv"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/infrastructure/db/database"
)

var (
	unconfirmedBucketName = []byte("unconfirmed")
	confirmedBucketName   = []byte("confirmed")
)

func chainBucket(name []byte, chainID uint16) *database.Bucket {
	return database.MakeBucket(name).Bucket([]byte(strconv.Itoa(int(chainID))))
}

func hashKey(bucket *database.Bucket, hash model.TxHash) *database.Key {
	return bucket.Key(hash.ByteSlice())
}
