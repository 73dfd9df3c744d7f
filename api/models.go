package api

import "github.com/jmcleod/certrelay/ledger"

// CreateRelationResponse is returned from POST /relations.
type CreateRelationResponse struct {
	RelationID int `json:"relation_id"`
}

// ListRelationsResponse is returned from GET /relations.
type ListRelationsResponse struct {
	Relations []int `json:"relations"`
}

// SubmitRequestRequest is the JSON body for
// POST /relations/{relationID}/units/{unitID}/requests.
type SubmitRequestRequest struct {
	CSR string `json:"csr"`
}

// OutstandingRequestsResponse is returned from GET /requests/outstanding.
type OutstandingRequestsResponse struct {
	Requests []ledger.UnitRequests `json:"requests"`
}

// RelationRequestsResponse is returned from GET /relations/{relationID}/requests.
type RelationRequestsResponse struct {
	Units []ledger.UnitCertificateRequests `json:"units"`
}

// ProvideCertificateRequest is the JSON body for
// POST /relations/{relationID}/certificates. Every field is base64-wrapped
// PEM text and every field is required.
type ProvideCertificateRequest struct {
	Certificate               string `json:"certificate"`
	CACertificate             string `json:"ca_certificate"`
	CertificateSigningRequest string `json:"certificate_signing_request"`
	CAChain                   string `json:"ca_chain"`
}

// ProvideCertificateResponse is returned on a successful provide.
type ProvideCertificateResponse struct {
	Result string `json:"result"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}
