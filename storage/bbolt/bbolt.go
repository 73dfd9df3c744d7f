// Package bbolt provides a BBolt-backed storage store.
package bbolt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/jmcleod/certrelay/storage"
	"go.etcd.io/bbolt"
)

const (
	relationsBucket = "relations"
	bagOrderKey     = "__order"
	bagKeyPrefix    = "bag:"
)

// Store implements storage.Store backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Store = (*Store)(nil)

// NewStore returns a Store backed by the given BBolt database.
func NewStore(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewStoreFromFile opens a BBolt database at the given path and returns a new Store.
func NewStoreFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewStore(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func itob(id int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func btoi(b []byte) int {
	return int(binary.BigEndian.Uint64(b))
}

// relationBucket returns the bucket for relationID, or nil when the
// relation does not exist.
func relationBucket(tx *bbolt.Tx, relationID int) *bbolt.Bucket {
	root := tx.Bucket([]byte(relationsBucket))
	if root == nil {
		return nil
	}
	return root.Bucket(itob(relationID))
}

func (s *Store) CreateRelation() (int, error) {
	var id int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists([]byte(relationsBucket))
		if err != nil {
			return err
		}
		seq, err := root.NextSequence()
		if err != nil {
			return err
		}
		id = int(seq)
		_, err = root.CreateBucket(itob(id))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("creating relation: %w", err)
	}
	return id, nil
}

func (s *Store) DeleteRelation(relationID int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(relationsBucket))
		if root == nil || root.Bucket(itob(relationID)) == nil {
			return fmt.Errorf("%d: %w", relationID, storage.ErrRelationNotFound)
		}
		return root.DeleteBucket(itob(relationID))
	})
}

func (s *Store) Relations() ([]int, error) {
	var ids []int
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(relationsBucket))
		if root == nil {
			return nil
		}
		// Keys are big-endian ids, so cursor order is ascending id order.
		return root.ForEachBucket(func(k []byte) error {
			ids = append(ids, btoi(k))
			return nil
		})
	})
	return ids, err
}

func (s *Store) Get(relationID int, bag string) (map[string]string, error) {
	data := map[string]string{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := relationBucket(tx, relationID)
		if b == nil {
			return fmt.Errorf("%d: %w", relationID, storage.ErrRelationNotFound)
		}
		raw := b.Get([]byte(bagKeyPrefix + bag))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &data)
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) Put(relationID int, bag string, data map[string]string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := relationBucket(tx, relationID)
		if b == nil {
			return fmt.Errorf("%d: %w", relationID, storage.ErrRelationNotFound)
		}

		key := []byte(bagKeyPrefix + bag)
		existing := map[string]string{}
		if raw := b.Get(key); raw != nil {
			if err := json.Unmarshal(raw, &existing); err != nil {
				return err
			}
		} else {
			if err := appendBagOrder(b, bag); err != nil {
				return err
			}
		}
		for k, v := range data {
			existing[k] = v
		}
		merged, err := json.Marshal(existing)
		if err != nil {
			return err
		}
		return b.Put(key, merged)
	})
}

func (s *Store) Bags(relationID int) ([]string, error) {
	var bags []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := relationBucket(tx, relationID)
		if b == nil {
			return fmt.Errorf("%d: %w", relationID, storage.ErrRelationNotFound)
		}
		raw := b.Get([]byte(bagOrderKey))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &bags)
	})
	return bags, err
}

// appendBagOrder records bag in the relation's first-write order index.
func appendBagOrder(b *bbolt.Bucket, bag string) error {
	var order []string
	if raw := b.Get([]byte(bagOrderKey)); raw != nil {
		if err := json.Unmarshal(raw, &order); err != nil {
			return err
		}
	}
	order = append(order, bag)
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return b.Put([]byte(bagOrderKey), data)
}
