// Package storage provides the relation-scoped key-value store backing the
// request ledger. A relation holds named bags (one per requester unit plus
// reserved bags owned by the ledger); a bag is a flat string-to-string map.
package storage

import "errors"

// ErrRelationNotFound is returned when an operation references a relation
// id that does not exist.
var ErrRelationNotFound = errors.New("relation not found")

// Store defines the interface for relation-scoped bag storage.
//
// Get on an existing relation with an unknown bag returns an empty map, not
// an error; only a missing relation is an error. Put merges the given keys
// into the bag, creating the bag on first write. Bags are reported in
// first-write order, relations in ascending id order.
type Store interface {
	CreateRelation() (int, error)
	DeleteRelation(relationID int) error
	Relations() ([]int, error)
	Get(relationID int, bag string) (map[string]string, error)
	Put(relationID int, bag string, data map[string]string) error
	Bags(relationID int) ([]string, error)
}
