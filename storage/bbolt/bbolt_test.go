package bbolt

import (
	"errors"
	"os"
	"testing"

	"github.com/jmcleod/certrelay/storage"
	"go.etcd.io/bbolt"
)

func newTestDB(t *testing.T) (*bbolt.DB, func()) {
	t.Helper()
	f, err := os.CreateTemp("", "relations-test-*.db")
	if err != nil {
		t.Fatalf("could not create temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		os.Remove(path)
		t.Fatalf("could not open db: %v", err)
	}
	return db, func() {
		db.Close()
		os.Remove(path)
	}
}

func TestBBoltStore(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()

	s := NewStore(db)

	t.Run("CreateAndList", func(t *testing.T) {
		id1, err := s.CreateRelation()
		if err != nil {
			t.Fatalf("CreateRelation failed: %v", err)
		}
		id2, err := s.CreateRelation()
		if err != nil {
			t.Fatalf("CreateRelation failed: %v", err)
		}
		if id2 <= id1 {
			t.Errorf("relation ids should be increasing, got %d then %d", id1, id2)
		}

		ids, err := s.Relations()
		if err != nil {
			t.Fatalf("Relations failed: %v", err)
		}
		if len(ids) != 2 || ids[0] != id1 || ids[1] != id2 {
			t.Errorf("Relations returned %v, want [%d %d]", ids, id1, id2)
		}
	})

	t.Run("PutGetMerge", func(t *testing.T) {
		id, _ := s.CreateRelation()
		if err := s.Put(id, "unit/0", map[string]string{"a": "1"}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := s.Put(id, "unit/0", map[string]string{"b": "2"}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := s.Get(id, "unit/0")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got["a"] != "1" || got["b"] != "2" {
			t.Errorf("Put should merge keys, got %+v", got)
		}
	})

	t.Run("GetMissingBagIsEmpty", func(t *testing.T) {
		id, _ := s.CreateRelation()
		got, err := s.Get(id, "unit/9")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected empty bag, got %+v", got)
		}
	})

	t.Run("BagsInsertionOrder", func(t *testing.T) {
		id, _ := s.CreateRelation()
		s.Put(id, "unit/1", map[string]string{"k": "v"})
		s.Put(id, "unit/0", map[string]string{"k": "v"})
		s.Put(id, "unit/1", map[string]string{"k2": "v"})

		bags, err := s.Bags(id)
		if err != nil {
			t.Fatalf("Bags failed: %v", err)
		}
		if len(bags) != 2 || bags[0] != "unit/1" || bags[1] != "unit/0" {
			t.Errorf("Bags returned %v, want [unit/1 unit/0]", bags)
		}
	})

	t.Run("RelationNotFound", func(t *testing.T) {
		if _, err := s.Get(9999, "unit/0"); !errors.Is(err, storage.ErrRelationNotFound) {
			t.Errorf("Get unknown relation: want ErrRelationNotFound, got %v", err)
		}
		if err := s.Put(9999, "unit/0", nil); !errors.Is(err, storage.ErrRelationNotFound) {
			t.Errorf("Put unknown relation: want ErrRelationNotFound, got %v", err)
		}
		if err := s.DeleteRelation(9999); !errors.Is(err, storage.ErrRelationNotFound) {
			t.Errorf("Delete unknown relation: want ErrRelationNotFound, got %v", err)
		}
	})

	t.Run("DeleteRelation", func(t *testing.T) {
		id, _ := s.CreateRelation()
		s.Put(id, "unit/0", map[string]string{"k": "v"})
		if err := s.DeleteRelation(id); err != nil {
			t.Fatalf("DeleteRelation failed: %v", err)
		}
		if _, err := s.Get(id, "unit/0"); !errors.Is(err, storage.ErrRelationNotFound) {
			t.Errorf("Get after delete: want ErrRelationNotFound, got %v", err)
		}
	})

	t.Run("PersistsAcrossReopen", func(t *testing.T) {
		id, _ := s.CreateRelation()
		s.Put(id, "unit/0", map[string]string{"k": "v"})

		path := db.Path()
		db.Close()

		db2, err := bbolt.Open(path, 0600, nil)
		if err != nil {
			t.Fatalf("could not reopen db: %v", err)
		}
		defer db2.Close()

		s2 := NewStore(db2)
		got, err := s2.Get(id, "unit/0")
		if err != nil {
			t.Fatalf("Get after reopen failed: %v", err)
		}
		if got["k"] != "v" {
			t.Errorf("bag not persisted, got %+v", got)
		}
	})
}
