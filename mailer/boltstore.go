package mailer

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"go.etcd.io/bbolt"
)

var propertiesBucket = []byte("properties")

// boltStore keeps properties in a single bbolt bucket.
type boltStore struct {
	db *bbolt.DB
}

func openBoltStore(path string) (*boltStore, error) {
	if path == "" {
		return nil, errors.New("bolt store needs a file path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create parent directory for bolt store")
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open bolt store")
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(propertiesBucket)
		return err
	})
	if err != nil {
		err2 := db.Close()
		return nil, appendError(errors.Wrap(err, "failed to create properties bucket"), errors.WithStack(err2))
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) GetProperty(key string) (value string, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(propertiesBucket).Get([]byte(key))
		if v != nil {
			value, ok = string(v), true
		}
		return nil
	})
	return value, ok, errors.WithStack(err)
}

func (s *boltStore) SetProperty(key, value string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(propertiesBucket).Put([]byte(key), []byte(value))
	})
	return errors.WithStack(err)
}

func (s *boltStore) Close() error {
	return errors.WithStack(s.db.Close())
}
