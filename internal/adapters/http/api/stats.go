package api

import (
	"net/http"

	service "github.com/okian/standings/internal/app"
)

// StatsProvider exposes service counters and the outcome of the last pass.
type StatsProvider interface {
	GetStats() map[string]interface{}
	LastPass() *service.PassResult
}

// StatsHandler serves GET /stats.
type StatsHandler struct {
	provider StatsProvider
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(provider StatsProvider) *StatsHandler {
	return &StatsHandler{provider: provider}
}

type statsResponse struct {
	Service  map[string]interface{} `json:"service"`
	LastPass *service.PassResult    `json:"last_pass"`
}

// HandleStats answers with the service counters and the last pass, which is
// null until the first pass finishes.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Service:  h.provider.GetStats(),
		LastPass: h.provider.LastPass(),
	})
}
