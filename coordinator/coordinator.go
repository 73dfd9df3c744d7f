// Package coordinator implements the issuance workflow on top of the
// request ledger: requester CSRs arrive through ReceiveRequest, an operator
// supplies signed certificates through ProvideCertificate, and both sides
// query the pairing state. Every issuance input is decoded and structurally
// validated before the ledger is touched, so a failed provide never leaves
// partial state behind.
package coordinator

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jmcleod/certrelay/certs"
	"github.com/jmcleod/certrelay/ledger"
	"github.com/jmcleod/certrelay/storage"
)

var (
	// ErrInvalidCSR is returned when a submitted CSR does not parse as a
	// certificate signing request.
	ErrInvalidCSR = errors.New("certificate signing request is not valid")

	// ErrNoRelations is returned by queries when no relation has been
	// created yet, distinct from referencing an unknown relation id.
	ErrNoRelations = errors.New("no relation has been created yet")
)

// Status classifies the outcome of a provide-certificate call.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusInvalidInput     Status = "invalid_input"
	StatusRelationNotFound Status = "relation_not_found"
)

// ProvideRequest carries the operator-supplied issuance inputs. All four
// payloads are base64-wrapped PEM text.
type ProvideRequest struct {
	RelationID                int
	Certificate               string
	CACertificate             string
	CertificateSigningRequest string
	CAChain                   string
}

// Result is the outcome of a provide-certificate call, with a short
// human-readable message suitable for surfacing to the operator.
type Result struct {
	Status  Status
	Message string
}

// Coordinator validates issuance requests end-to-end and commits them to
// the ledger.
type Coordinator struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithLogger sets the structured logger. If not set, a JSON logger writing
// to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// New creates a Coordinator over the given ledger.
func New(l *ledger.Ledger, opts ...Option) *Coordinator {
	c := &Coordinator{ledger: l}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return c
}

// OpenRelation starts a new requester session and returns its relation id.
func (c *Coordinator) OpenRelation() (int, error) {
	id, err := c.ledger.CreateRelation()
	if err != nil {
		return 0, err
	}
	c.logger.Info("relation created", "relation_id", id)
	return id, nil
}

// CloseRelation ends a requester session, dropping its CSRs and
// certificates.
func (c *Coordinator) CloseRelation(relationID int) error {
	if err := c.ledger.EndRelation(relationID); err != nil {
		return err
	}
	c.logger.Info("relation removed", "relation_id", relationID)
	return nil
}

// Relations returns all open relation ids.
func (c *Coordinator) Relations() ([]int, error) {
	return c.ledger.Relations()
}

// ReceiveRequest records a CSR submitted by a requester unit. The CSR must
// be structurally valid; nothing else about it is checked.
func (c *Coordinator) ReceiveRequest(relationID int, unit, csrPEM string) error {
	if !certs.CertificateSigningRequestIsValid([]byte(csrPEM)) {
		return ErrInvalidCSR
	}
	if err := c.ledger.RecordRequest(relationID, unit, csrPEM); err != nil {
		return err
	}
	outstanding, err := c.ledger.OutstandingRequests()
	if err == nil {
		c.logger.Info("certificate request received",
			"relation_id", relationID,
			"unit", unit,
			"outstanding", countCSRs(outstanding))
	}
	return nil
}

// OutstandingRequests returns every CSR without an attached certificate,
// grouped by requester unit. Fails with ErrNoRelations when no relation has
// been created yet.
func (c *Coordinator) OutstandingRequests() ([]ledger.UnitRequests, error) {
	if err := c.requireRelations(); err != nil {
		return nil, err
	}
	return c.ledger.OutstandingRequests()
}

// RequestsForRelation returns every CSR of the relation together with its
// certificate when fulfilled.
func (c *Coordinator) RequestsForRelation(relationID int) ([]ledger.UnitCertificateRequests, error) {
	if err := c.requireRelations(); err != nil {
		return nil, err
	}
	return c.ledger.RequestsForRelation(relationID)
}

// ProvideCertificate validates the operator-supplied certificate material
// and attaches it to the matching CSR. Validation is all-or-nothing: the
// ledger is only mutated once every input has been decoded and structurally
// validated.
func (c *Coordinator) ProvideCertificate(req ProvideRequest) Result {
	if err := c.requireRelations(); err != nil {
		return Result{Status: StatusRelationNotFound, Message: "no certificates relation has been created yet"}
	}

	certificate, ca, csr, chain, err := c.decodeAndValidate(req)
	if err != nil {
		c.logger.Error("invalid provide-certificate input",
			"relation_id", req.RelationID, "error", err)
		return Result{Status: StatusInvalidInput, Message: "action input is not valid"}
	}

	err = c.ledger.AttachCertificate(req.RelationID, csr, certificate, ca, chain)
	if errors.Is(err, storage.ErrRelationNotFound) {
		return Result{Status: StatusRelationNotFound, Message: "relation does not exist with the provided id"}
	}
	if err != nil {
		c.logger.Error("attaching certificate failed",
			"relation_id", req.RelationID, "error", err)
		return Result{Status: StatusInvalidInput, Message: err.Error()}
	}

	c.logger.Info("certificate provided", "relation_id", req.RelationID)
	return Result{Status: StatusSuccess, Message: "certificates successfully provided"}
}

// decodeAndValidate runs the full validation pipeline over the four base64
// inputs and returns the trimmed PEM payloads ready for the ledger.
func (c *Coordinator) decodeAndValidate(req ProvideRequest) (certificate, ca, csr string, chain []string, err error) {
	if req.Certificate == "" || req.CACertificate == "" ||
		req.CertificateSigningRequest == "" || req.CAChain == "" {
		return "", "", "", nil, errors.New("missing required field")
	}

	certificateBytes, err := certs.Decode(req.Certificate)
	if err != nil {
		return "", "", "", nil, fmt.Errorf("certificate: %w", err)
	}
	caBytes, err := certs.Decode(req.CACertificate)
	if err != nil {
		return "", "", "", nil, fmt.Errorf("ca_certificate: %w", err)
	}
	csrBytes, err := certs.Decode(req.CertificateSigningRequest)
	if err != nil {
		return "", "", "", nil, fmt.Errorf("certificate_signing_request: %w", err)
	}
	chainBytes, err := certs.Decode(req.CAChain)
	if err != nil {
		return "", "", "", nil, fmt.Errorf("ca_chain: %w", err)
	}

	if !certs.CertificateIsValid(certificateBytes) {
		return "", "", "", nil, errors.New("certificate is not valid")
	}
	if !certs.CertificateIsValid(caBytes) {
		return "", "", "", nil, errors.New("ca certificate is not valid")
	}
	if !certs.CertificateSigningRequestIsValid(csrBytes) {
		return "", "", "", nil, ErrInvalidCSR
	}

	chain = certs.ParseCAChain(string(chainBytes))
	for _, block := range chain {
		if !certs.CertificateIsValid([]byte(block)) {
			return "", "", "", nil, errors.New("ca chain contains an invalid certificate")
		}
	}

	certificate = strings.TrimSpace(string(certificateBytes))
	ca = strings.TrimSpace(string(caBytes))
	csr = strings.TrimSpace(string(csrBytes))
	return certificate, ca, csr, chain, nil
}

func (c *Coordinator) requireRelations() error {
	relations, err := c.ledger.Relations()
	if err != nil {
		return err
	}
	if len(relations) == 0 {
		return ErrNoRelations
	}
	return nil
}

func countCSRs(groups []ledger.UnitRequests) int {
	n := 0
	for _, g := range groups {
		n += len(g.UnitCSRs)
	}
	return n
}
