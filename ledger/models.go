package ledger

// IssuedCertificate is a certificate record attached to a CSR: the leaf
// certificate, the CA certificate it was issued under, and the ordered CA
// chain as provided by the operator.
type IssuedCertificate struct {
	ID                        string   `json:"id"`
	CertificateSigningRequest string   `json:"certificate_signing_request"`
	Certificate               string   `json:"certificate"`
	CA                        string   `json:"ca"`
	Chain                     []string `json:"chain"`
}

// UnitRequests groups the outstanding CSRs of a single requester unit.
type UnitRequests struct {
	Unit     string   `json:"unit"`
	UnitCSRs []string `json:"unit_csrs"`
}

// CertificateRequest pairs a CSR with its certificate record when one has
// been attached; Certificate is nil while the request is outstanding.
type CertificateRequest struct {
	CertificateSigningRequest string             `json:"certificate_signing_request"`
	Certificate               *IssuedCertificate `json:"certificate,omitempty"`
}

// UnitCertificateRequests lists every CSR of a unit within a relation,
// fulfilled or not.
type UnitCertificateRequests struct {
	Unit     string               `json:"unit"`
	Requests []CertificateRequest `json:"requests"`
}
