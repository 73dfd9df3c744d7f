package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/certrelay/coordinator"
)

// relationIDParam parses the relationID URL parameter, writing a 400
// response and returning ok=false when it is not an integer.
func relationIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "relationID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid relation id")
		return 0, false
	}
	return id, true
}

// CreateRelation handles POST /relations.
// Opens a new requester session and returns its relation id.
func (a *API) CreateRelation(w http.ResponseWriter, r *http.Request) {
	id, err := a.coord.OpenRelation()
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateRelationResponse{RelationID: id})
}

// ListRelations handles GET /relations.
func (a *API) ListRelations(w http.ResponseWriter, r *http.Request) {
	ids, err := a.coord.Relations()
	if err != nil {
		mapError(w, err)
		return
	}
	if ids == nil {
		ids = []int{}
	}
	writeJSON(w, http.StatusOK, ListRelationsResponse{Relations: ids})
}

// DeleteRelation handles DELETE /relations/{relationID}.
// Ends the session and drops every CSR and certificate recorded under it.
func (a *API) DeleteRelation(w http.ResponseWriter, r *http.Request) {
	id, ok := relationIDParam(w, r)
	if !ok {
		return
	}
	if err := a.coord.CloseRelation(id); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitRequest handles POST /relations/{relationID}/units/{unitID}/requests.
// Records a requester unit's CSR as outstanding.
func (a *API) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := relationIDParam(w, r)
	if !ok {
		return
	}
	unit := chi.URLParam(r, "unitID")

	req, ok := decodeJSON[SubmitRequestRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if req.CSR == "" {
		writeError(w, http.StatusBadRequest, "csr is required")
		return
	}

	if err := a.coord.ReceiveRequest(id, unit, req.CSR); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// OutstandingRequests handles GET /requests/outstanding.
// Returns every CSR that has no certificate attached yet, grouped by unit.
func (a *API) OutstandingRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := a.coord.OutstandingRequests()
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OutstandingRequestsResponse{Requests: requests})
}

// RelationRequests handles GET /relations/{relationID}/requests.
// Returns every CSR of the relation paired with its certificate when
// fulfilled.
func (a *API) RelationRequests(w http.ResponseWriter, r *http.Request) {
	id, ok := relationIDParam(w, r)
	if !ok {
		return
	}
	units, err := a.coord.RequestsForRelation(id)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RelationRequestsResponse{Units: units})
}

// ProvideCertificate handles POST /relations/{relationID}/certificates.
// Validates the operator-supplied certificate material and attaches it to
// the matching CSR.
func (a *API) ProvideCertificate(w http.ResponseWriter, r *http.Request) {
	id, ok := relationIDParam(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[ProvideCertificateRequest](w, r, maxBodySize)
	if !ok {
		return
	}

	result := a.coord.ProvideCertificate(coordinator.ProvideRequest{
		RelationID:                id,
		Certificate:               req.Certificate,
		CACertificate:             req.CACertificate,
		CertificateSigningRequest: req.CertificateSigningRequest,
		CAChain:                   req.CAChain,
	})

	switch result.Status {
	case coordinator.StatusSuccess:
		writeJSON(w, http.StatusOK, ProvideCertificateResponse{Result: result.Message})
	case coordinator.StatusRelationNotFound:
		writeError(w, http.StatusNotFound, result.Message)
	default:
		writeError(w, http.StatusBadRequest, result.Message)
	}
}
