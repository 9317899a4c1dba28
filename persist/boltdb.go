package persist

import (
	"errors"
	"time"

	bolt "github.com/coreos/bbolt"
)

var (
	// ErrNilEntry is returned when a bucket entry does not exist.
	ErrNilEntry = errors.New("entry does not exist")
	// ErrNilBucket is returned when a bucket does not exist.
	ErrNilBucket = errors.New("bucket does not exist")
)

// A BoltDatabase is a bolt database tagged with Metadata. The header and
// version are verified on open, so a file belonging to a different module or
// schema generation is refused instead of misread.
type BoltDatabase struct {
	Metadata
	*bolt.DB
}

// OpenDatabase opens the database at filename and checks its metadata. The
// open uses a timeout because bolt otherwise blocks forever on a file another
// process holds.
func OpenDatabase(md Metadata, filename string) (*BoltDatabase, error) {
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	boltDB := &BoltDatabase{
		Metadata: md,
		DB:       db,
	}
	if err := boltDB.checkMetadata(md); err != nil {
		db.Close()
		return nil, err
	}
	return boltDB, nil
}

// checkMetadata verifies the metadata bucket against md, writing md into a
// fresh database that has none yet.
func (db *BoltDatabase) checkMetadata(md Metadata) error {
	return db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte("Metadata"))
		if bucket == nil {
			return db.writeMetadata(tx)
		}
		if string(bucket.Get([]byte("Header"))) != md.Header {
			return ErrBadHeader
		}
		if string(bucket.Get([]byte("Version"))) != md.Version {
			return ErrBadVersion
		}
		return nil
	})
}

// writeMetadata stores the database's metadata inside tx.
func (db *BoltDatabase) writeMetadata(tx *bolt.Tx) error {
	bucket, err := tx.CreateBucketIfNotExists([]byte("Metadata"))
	if err != nil {
		return err
	}
	if err := bucket.Put([]byte("Header"), []byte(db.Header)); err != nil {
		return err
	}
	return bucket.Put([]byte("Version"), []byte(db.Version))
}
