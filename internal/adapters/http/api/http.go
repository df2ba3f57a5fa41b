// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/pkg/metrics"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	LeaderboardDependencies
	RankDependencies
	RegionsDependencies
	ReconcileDependencies
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	statsHandler       *StatsHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
	regionsHandler     *RegionsHandler
	reconcileHandler   *ReconcileHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, maxLimit int) *Server {
	return &Server{
		statsHandler:       NewStatsHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, maxLimit),
		rankHandler:        NewRankHandler(deps),
		regionsHandler:     NewRegionsHandler(deps),
		reconcileHandler:   NewReconcileHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	exposition := promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})
	mux.HandleFunc("/healthz", Instrument("healthz", exposition.ServeHTTP))
	mux.HandleFunc("/stats", Instrument("stats", s.statsHandler.HandleStats))
	mux.HandleFunc("/leaderboard", Instrument("leaderboard", s.leaderboardHandler.HandleGetLeaderboard))
	mux.HandleFunc("/rank/", Instrument("rank", s.rankHandler.HandleGetRank))
	mux.HandleFunc("/regions", Instrument("regions", s.regionsHandler.HandleGetRegions))
	mux.HandleFunc("/reconcile", Instrument(reconcileEndpoint, s.reconcileHandler.HandlePostReconcile))
}

// Standing is the read shape of one persisted record.
type Standing struct {
	Rank       int                 `json:"rank"` // position for the requested ordering and scope
	EntityID   string              `json:"entity_id"`
	Name       string              `json:"name"`
	Region     string              `json:"region"`
	Score      model.Score         `json:"score"`
	Metric     float64             `json:"metric"`
	SourceRank int                 `json:"source_rank"`
	Current    model.Positions     `json:"current"`
	Previous   model.PreviousRanks `json:"previous"`
	Delta      model.Positions     `json:"delta"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func toStanding(rec model.ScoreRecord, key model.SortKey, regional bool) Standing {
	pl := rec.Current.For(key)
	rank := pl.Global
	if regional {
		rank = pl.Region
	}
	return Standing{
		Rank:       rank,
		EntityID:   rec.EntityID,
		Name:       rec.Name,
		Region:     rec.Region,
		Score:      rec.Score,
		Metric:     rec.Metric,
		SourceRank: rec.SourceRank,
		Current:    rec.Current,
		Previous:   rec.Previous,
		Delta:      model.Positions{Score: rec.Delta(model.ByScore), Metric: rec.Delta(model.ByMetric)},
		UpdatedAt:  rec.UpdatedAt,
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
