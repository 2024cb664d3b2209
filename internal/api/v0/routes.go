// Package v0 provides the REST API handlers for the crosspost engine.
package v0

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/crosspost-server/internal/config"
	"github.com/stacklok/crosspost-server/internal/entity"
	"github.com/stacklok/crosspost-server/internal/notices"
	"github.com/stacklok/crosspost-server/internal/sites"
	"github.com/stacklok/crosspost-server/internal/sync"
	"github.com/stacklok/crosspost-server/internal/versions"
)

// actionPrefix is the selection action token prefix; the site id is
// whatever follows it.
const actionPrefix = "crosspost_to_"

// SelectionRequest is a bulk selection submitted for crossposting.
type SelectionRequest struct {
	// Action is a per-site token of the form crosspost_to_<siteID>.
	// Tokens with an unknown prefix are a no-op, not an error.
	Action string  `json:"action"`
	Kind   string  `json:"kind"`
	IDs    []int64 `json:"ids"`
}

// SelectionResponse reports how a selection was handled.
type SelectionResponse struct {
	// Crossposted is the number of ids processed inline.
	Crossposted int `json:"crossposted"`
	// Scheduled is the number of ids deferred to background ticks.
	Scheduled int `json:"scheduled"`
}

// NoticesResponse wraps the notices for one (site, kind) pair.
type NoticesResponse struct {
	Notices []notices.Notice `json:"notices"`
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// Routes defines the routes for the crosspost API with dependency injection
type Routes struct {
	cfg       *config.Config
	registry  sites.Registry
	scheduler sync.Scheduler
	notices   *notices.Renderer
}

// NewRoutes creates a new Routes instance with the provided dependencies
func NewRoutes(
	cfg *config.Config,
	registry sites.Registry,
	scheduler sync.Scheduler,
	renderer *notices.Renderer,
) *Routes {
	return &Routes{
		cfg:       cfg,
		registry:  registry,
		scheduler: scheduler,
		notices:   renderer,
	}
}

// Router creates a new router for the crosspost API
func Router(
	cfg *config.Config,
	registry sites.Registry,
	scheduler sync.Scheduler,
	renderer *notices.Renderer,
) http.Handler {
	routes := NewRoutes(cfg, registry, scheduler, renderer)

	r := chi.NewRouter()

	r.Post("/selections", routes.postSelection)
	r.Get("/sites/{siteID}/notices", routes.getNotices)
	r.Get("/sites", routes.listSites)

	return r
}

// postSelection handles POST /api/v0/selections
func (rr *Routes) postSelection(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rr.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	siteID, ok := strings.CutPrefix(req.Action, actionPrefix)
	if !ok || siteID == "" {
		// Unknown action tokens pass through untouched.
		rr.writeJSONResponse(w, SelectionResponse{})
		return
	}

	kind, err := rr.resolveKind(req.Kind)
	if err != nil {
		rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := rr.scheduler.Submit(r.Context(), siteID, kind, req.IDs)
	if err != nil {
		switch {
		case errors.Is(err, sites.ErrSiteNotFound):
			rr.writeErrorResponse(w, "Unknown site: "+siteID, http.StatusNotFound)
		case errors.Is(err, sync.ErrJobActive):
			rr.writeErrorResponse(w, err.Error(), http.StatusConflict)
		case errors.Is(err, sync.ErrSelectionTooLarge), errors.Is(err, sync.ErrEmptySelection):
			rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		default:
			slog.Error("Failed to submit selection", "site", siteID, "kind", kind, "error", err)
			rr.writeErrorResponse(w, "Failed to submit selection", http.StatusInternalServerError)
		}
		return
	}

	rr.writeJSONResponse(w, SelectionResponse{
		Crossposted: result.Processed,
		Scheduled:   result.Scheduled,
	})
}

// getNotices handles GET /api/v0/sites/{siteID}/notices?kind=
//
// Reading the notices for a finished job clears it; callers get each
// outcome exactly once.
func (rr *Routes) getNotices(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "siteID")
	site, err := rr.registry.GetSite(siteID)
	if err != nil {
		rr.writeErrorResponse(w, "Unknown site: "+siteID, http.StatusNotFound)
		return
	}

	kind, err := rr.resolveKind(r.URL.Query().Get("kind"))
	if err != nil {
		rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	rendered, err := rr.notices.Render(r.Context(), site, kind)
	if err != nil {
		slog.Error("Failed to render notices", "site", siteID, "kind", kind, "error", err)
		rr.writeErrorResponse(w, "Failed to render notices", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, NoticesResponse{Notices: rendered})
}

// SiteSummary is the public view of a configured site.
type SiteSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// listSites handles GET /api/v0/sites
func (rr *Routes) listSites(w http.ResponseWriter, _ *http.Request) {
	all := rr.registry.ListSites()
	summaries := make([]SiteSummary, 0, len(all))
	for _, s := range all {
		summaries = append(summaries, SiteSummary{
			ID:   s.ID,
			Name: s.DisplayName(),
			URL:  s.BaseURL,
		})
	}
	rr.writeJSONResponse(w, summaries)
}

// resolveKind checks the requested kind against the configured ones.
func (rr *Routes) resolveKind(name string) (entity.Kind, error) {
	if name == "" {
		return "", errors.New("kind is required")
	}
	if name == string(entity.KindProduct) {
		if !rr.cfg.Sync.Commerce {
			return "", errors.New("commerce sync is disabled")
		}
		return entity.KindProduct, nil
	}
	for i := range rr.cfg.Kinds {
		if rr.cfg.Kinds[i].Name == name {
			return entity.Kind(name), nil
		}
	}
	return "", errors.New("unknown kind: " + name)
}

// HealthRouter creates a router for health check endpoints
func HealthRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler)

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// versionHandler handles version information requests
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(info); err != nil {
		slog.Error("Failed to encode version info", "error", err)
	}
}

// writeJSONResponse writes a JSON response with the given data
func (*Routes) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes a standardized error response
func (*Routes) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message}); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
