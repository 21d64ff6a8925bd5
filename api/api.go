// Package api exposes the certificate request workflow over HTTP.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/rdurfee/certreq/request"
)

//go:embed openapi.yaml
var openapiSpec []byte

// API holds the dependencies needed by the REST handlers.
type API struct {
	ctrl  *request.Controller
	trace *traceLogger
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request tracing.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.trace = newTraceLogger(logger)
	}
}

// New creates a new API instance around the lifecycle controller.
func New(ctrl *request.Controller, opts ...Option) *API {
	a := &API{ctrl: ctrl}
	for _, opt := range opts {
		opt(a)
	}
	if a.trace == nil {
		a.trace = newTraceLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
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
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
	}, nil))

	r.Post("/certificateSigningRequests", a.Submit)
	r.Post("/certificateSigningRequests/{requestID}/verify", a.Verify)

	return r
}
