// Package api exposes the coordinator's operations as a JSON REST surface:
// relation lifecycle, CSR submission, outstanding-request queries, and the
// operator's provide-certificate action.
package api

import (
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/certrelay/coordinator"
)

// maxBodySize bounds request bodies; certificate chains are text, nothing
// legitimate comes close to this.
const maxBodySize = 1 << 20

// API holds the dependencies needed by the REST handlers.
type API struct {
	coord  *coordinator.Coordinator
	logger *slog.Logger
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request-level events.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// New creates a new API instance.
func New(coord *coordinator.Coordinator, opts ...Option) *API {
	a := &API{coord: coord}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Post("/relations", a.CreateRelation)
	r.Get("/relations", a.ListRelations)
	r.Get("/requests/outstanding", a.OutstandingRequests)

	r.Route("/relations/{relationID}", func(r chi.Router) {
		r.Delete("/", a.DeleteRelation)
		r.Get("/requests", a.RelationRequests)
		r.Post("/units/{unitID}/requests", a.SubmitRequest)
		r.Post("/certificates", a.ProvideCertificate)
	})

	return r
}

// decodeJSON decodes the request body into T, writing a 400 response and
// returning ok=false on malformed input.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxSize int64) (T, bool) {
	var v T
	body := http.MaxBytesReader(w, r.Body, maxSize)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
		}
		return v, false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeError(w, http.StatusBadRequest, "unexpected trailing data")
		return v, false
	}
	return v, true
}
