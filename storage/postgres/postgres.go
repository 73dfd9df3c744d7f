// Package postgres implements storage.Store backed by PostgreSQL.
//
// Relations and their bags live in three tables keyed the same way as the
// BBolt and in-memory backends: a relation row, a bag row per (relation,
// bag) recording first-write order, and one row per bag entry. Relation ids
// come from the relations table sequence.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/certrelay/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// NewStore returns a Store backed by the given pgx connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewStoreFromDSN creates a connection pool from a DSN string, ensures the
// schema exists, and returns a new Store.
func NewStoreFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewStore(pool), nil
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) CreateRelation() (int, error) {
	ctx := context.Background()
	var id int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO relations DEFAULT VALUES RETURNING id`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating relation: %w", err)
	}
	return id, nil
}

func (s *Store) DeleteRelation(relationID int) error {
	ctx := context.Background()
	tag, err := s.pool.Exec(ctx, `DELETE FROM relations WHERE id = $1`, relationID)
	if err != nil {
		return fmt.Errorf("deleting relation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%d: %w", relationID, storage.ErrRelationNotFound)
	}
	return nil
}

func (s *Store) Relations() ([]int, error) {
	ctx := context.Background()
	rows, err := s.pool.Query(ctx, `SELECT id FROM relations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing relations: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// relationExists reports whether the relation row is present.
func (s *Store) relationExists(ctx context.Context, relationID int) error {
	var id int
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM relations WHERE id = $1`, relationID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%d: %w", relationID, storage.ErrRelationNotFound)
	}
	return err
}

func (s *Store) Get(relationID int, bag string) (map[string]string, error) {
	ctx := context.Background()
	if err := s.relationExists(ctx, relationID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM bag_entries WHERE relation_id = $1 AND bag = $2`,
		relationID, bag)
	if err != nil {
		return nil, fmt.Errorf("reading bag: %w", err)
	}
	defer rows.Close()

	data := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		data[k] = v
	}
	return data, rows.Err()
}

func (s *Store) Put(relationID int, bag string, data map[string]string) error {
	ctx := context.Background()
	if err := s.relationExists(ctx, relationID); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO bags (relation_id, bag) VALUES ($1, $2)
		 ON CONFLICT (relation_id, bag) DO NOTHING`,
		relationID, bag); err != nil {
		return fmt.Errorf("upserting bag: %w", err)
	}

	for k, v := range data {
		if _, err := tx.Exec(ctx,
			`INSERT INTO bag_entries (relation_id, bag, key, value) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (relation_id, bag, key) DO UPDATE SET value = EXCLUDED.value`,
			relationID, bag, k, v); err != nil {
			return fmt.Errorf("upserting bag entry: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) Bags(relationID int) ([]string, error) {
	ctx := context.Background()
	if err := s.relationExists(ctx, relationID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT bag FROM bags WHERE relation_id = $1 ORDER BY pos`, relationID)
	if err != nil {
		return nil, fmt.Errorf("listing bags: %w", err)
	}
	defer rows.Close()

	var bags []string
	for rows.Next() {
		var bag string
		if err := rows.Scan(&bag); err != nil {
			return nil, err
		}
		bags = append(bags, bag)
	}
	return bags, rows.Err()
}
