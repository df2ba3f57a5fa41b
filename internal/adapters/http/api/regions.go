// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	"github.com/okian/standings/internal/domain/model"
)

// RegionsDependencies defines the interface for region counter reads.
type RegionsDependencies interface {
	Regions(ctx context.Context) ([]model.Region, error)
}

// RegionsHandler handles region counter requests.
type RegionsHandler struct {
	deps RegionsDependencies
}

// NewRegionsHandler creates a new regions handler.
func NewRegionsHandler(deps RegionsDependencies) *RegionsHandler {
	return &RegionsHandler{deps: deps}
}

// HandleGetRegions handles GET /regions requests.
func (h *RegionsHandler) HandleGetRegions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	regions, err := h.deps.Regions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap("api.get_regions", err))
		return
	}
	writeJSON(w, http.StatusOK, regions)
}
