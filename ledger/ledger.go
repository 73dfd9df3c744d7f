// Package ledger tracks certificate signing requests per requester unit and
// the certificates issued against them. All state lives in relation-scoped
// bags behind storage.Store: each unit's bag carries its submitted CSRs, and
// a reserved provider bag carries the issued certificate records. Whether a
// CSR is outstanding or fulfilled is derived by comparing the two, so there
// is no separate state field to keep consistent.
package ledger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jmcleod/certrelay/storage"
)

// Reserved bag names, blocked from use as unit identifiers.
const (
	providerBag = "__provider"
)

// Bag keys.
const (
	csrsKey         = "certificate_signing_requests"
	certificatesKey = "certificates"
)

// IsReservedBag reports whether name is reserved for ledger bookkeeping and
// may not be used as a requester unit identifier.
func IsReservedBag(name string) bool {
	return strings.HasPrefix(name, "__")
}

// Ledger is the source of truth for request/certificate pairings.
type Ledger struct {
	store storage.Store
}

// New creates a Ledger over the given store.
func New(store storage.Store) *Ledger {
	return &Ledger{store: store}
}

// CreateRelation opens a new relation and returns its id.
func (l *Ledger) CreateRelation() (int, error) {
	return l.store.CreateRelation()
}

// EndRelation removes a relation together with every CSR and certificate
// recorded under it. Returns storage.ErrRelationNotFound for unknown ids.
func (l *Ledger) EndRelation(relationID int) error {
	return l.store.DeleteRelation(relationID)
}

// Relations returns the ids of all open relations in ascending order.
func (l *Ledger) Relations() ([]int, error) {
	return l.store.Relations()
}

// RecordRequest appends a CSR to the unit's submission list. Re-submission
// of an identical CSR is not deduplicated; duplicates stay distinct entries,
// matching the relation-data semantics this ledger mirrors.
func (l *Ledger) RecordRequest(relationID int, unit, csrPEM string) error {
	if IsReservedBag(unit) {
		return fmt.Errorf("unit name %q is reserved", unit)
	}
	csrs, err := l.unitCSRs(relationID, unit)
	if err != nil {
		return err
	}
	csrs = append(csrs, strings.TrimSpace(csrPEM))
	data, err := json.Marshal(csrs)
	if err != nil {
		return fmt.Errorf("encoding unit requests: %w", err)
	}
	return l.store.Put(relationID, unit, map[string]string{csrsKey: string(data)})
}

// OutstandingRequests returns, grouped by requester unit, every CSR that has
// no certificate attached yet. Relations are visited in ascending id order,
// units in join order, CSRs in submission order. Units with nothing
// outstanding are omitted.
func (l *Ledger) OutstandingRequests() ([]UnitRequests, error) {
	relations, err := l.store.Relations()
	if err != nil {
		return nil, err
	}

	out := []UnitRequests{}
	for _, relationID := range relations {
		fulfilled, err := l.fulfilledCSRs(relationID)
		if err != nil {
			return nil, err
		}
		units, err := l.units(relationID)
		if err != nil {
			return nil, err
		}
		for _, unit := range units {
			csrs, err := l.unitCSRs(relationID, unit)
			if err != nil {
				return nil, err
			}
			var outstanding []string
			for _, csr := range csrs {
				if !fulfilled[csr] {
					outstanding = append(outstanding, csr)
				}
			}
			if len(outstanding) > 0 {
				out = append(out, UnitRequests{Unit: unit, UnitCSRs: outstanding})
			}
		}
	}
	return out, nil
}

// RequestsForRelation returns every CSR submitted under the relation, paired
// with its certificate record when fulfilled. Returns
// storage.ErrRelationNotFound for unknown ids.
func (l *Ledger) RequestsForRelation(relationID int) ([]UnitCertificateRequests, error) {
	issued, err := l.issuedCertificates(relationID)
	if err != nil {
		return nil, err
	}
	byCSR := make(map[string]*IssuedCertificate, len(issued))
	for i := range issued {
		byCSR[issued[i].CertificateSigningRequest] = &issued[i]
	}

	units, err := l.units(relationID)
	if err != nil {
		return nil, err
	}

	out := []UnitCertificateRequests{}
	for _, unit := range units {
		csrs, err := l.unitCSRs(relationID, unit)
		if err != nil {
			return nil, err
		}
		requests := make([]CertificateRequest, 0, len(csrs))
		for _, csr := range csrs {
			requests = append(requests, CertificateRequest{
				CertificateSigningRequest: csr,
				Certificate:               byCSR[csr],
			})
		}
		out = append(out, UnitCertificateRequests{Unit: unit, Requests: requests})
	}
	return out, nil
}

// AttachCertificate stores a certificate record against a CSR within the
// relation, moving that CSR from outstanding to fulfilled. Matching is
// scoped to the relation: an unknown relation id fails with
// storage.ErrRelationNotFound no matter what the CSR text matches
// elsewhere. Re-providing a certificate for an already fulfilled CSR
// replaces the previous record.
func (l *Ledger) AttachCertificate(relationID int, csrPEM, certificate, ca string, chain []string) error {
	csr := strings.TrimSpace(csrPEM)
	record := IssuedCertificate{
		ID:                        uuid.New().String(),
		CertificateSigningRequest: csr,
		Certificate:               certificate,
		CA:                        ca,
		Chain:                     chain,
	}

	issued, err := l.issuedCertificates(relationID)
	if err != nil {
		return err
	}
	replaced := false
	for i := range issued {
		if issued[i].CertificateSigningRequest == csr {
			issued[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		issued = append(issued, record)
	}

	data, err := json.Marshal(issued)
	if err != nil {
		return fmt.Errorf("encoding certificates: %w", err)
	}
	return l.store.Put(relationID, providerBag, map[string]string{certificatesKey: string(data)})
}

// units returns the relation's requester units in join order, skipping
// reserved bags.
func (l *Ledger) units(relationID int) ([]string, error) {
	bags, err := l.store.Bags(relationID)
	if err != nil {
		return nil, err
	}
	units := make([]string, 0, len(bags))
	for _, bag := range bags {
		if !IsReservedBag(bag) {
			units = append(units, bag)
		}
	}
	return units, nil
}

func (l *Ledger) unitCSRs(relationID int, unit string) ([]string, error) {
	bag, err := l.store.Get(relationID, unit)
	if err != nil {
		return nil, err
	}
	raw, ok := bag[csrsKey]
	if !ok {
		return nil, nil
	}
	var csrs []string
	if err := json.Unmarshal([]byte(raw), &csrs); err != nil {
		return nil, fmt.Errorf("decoding unit requests: %w", err)
	}
	return csrs, nil
}

func (l *Ledger) issuedCertificates(relationID int) ([]IssuedCertificate, error) {
	bag, err := l.store.Get(relationID, providerBag)
	if err != nil {
		return nil, err
	}
	raw, ok := bag[certificatesKey]
	if !ok {
		return nil, nil
	}
	var issued []IssuedCertificate
	if err := json.Unmarshal([]byte(raw), &issued); err != nil {
		return nil, fmt.Errorf("decoding certificates: %w", err)
	}
	return issued, nil
}

func (l *Ledger) fulfilledCSRs(relationID int) (map[string]bool, error) {
	issued, err := l.issuedCertificates(relationID)
	if err != nil {
		return nil, err
	}
	fulfilled := make(map[string]bool, len(issued))
	for _, record := range issued {
		fulfilled[record.CertificateSigningRequest] = true
	}
	return fulfilled, nil
}
