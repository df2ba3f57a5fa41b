// Package fakesource simulates the external ranking API: client-credentials
// tokens, cursor pagination and a listing that churns between drains. It
// backs local runs of the service and end-to-end tests.
package fakesource

import (
	"context"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/pkg/logger"
)

type wireEntity struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Region string      `json:"region"`
	Score  model.Score `json:"score"`
	Metric float64     `json:"metric"`
	Rank   int         `json:"rank"`
	Active bool        `json:"active"`
}

type pageResponse struct {
	Entities   []wireEntity `json:"entities"`
	NextCursor *string      `json:"next_cursor"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Stats counts requests served.
type Stats struct {
	TokensIssued int `json:"tokens_issued"`
	PagesServed  int `json:"pages_served"`
	Unauthorized int `json:"unauthorized"`
}

// Server is an http.Handler serving a generated ranking listing.
type Server struct {
	mu sync.Mutex

	numEntities  int
	pageSize     int
	regions      []string
	clientID     string
	clientSecret string
	tokenTTL     time.Duration
	inactiveRate float64
	dropRate     float64
	joinRate     float64
	seed         uint64

	rng      *rand.Rand
	entities []model.Entity
	tokens   map[string]time.Time
	joined   int
	stats    Stats

	now    func() time.Time
	logger logger.Logger
}

// New generates the initial listing.
func New(opts ...Option) *Server {
	s := &Server{
		numEntities:  defaultEntities,
		pageSize:     defaultPageSize,
		regions:      []string{"EU", "NA", "SA", "AS", "OC"},
		clientID:     defaultClientID,
		clientSecret: defaultClientSecret,
		tokenTTL:     defaultTokenTTL,
		inactiveRate: defaultInactiveRate,
		dropRate:     defaultDropRate,
		joinRate:     defaultJoinRate,
		tokens:       make(map[string]time.Time),
		now:          time.Now,
		logger:       logger.Get().Named("fakesource"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.seed == 0 {
		s.seed = rand.Uint64()
	}
	s.rng = rand.New(rand.NewPCG(s.seed, s.seed>>1|1))

	s.entities = make([]model.Entity, 0, s.numEntities)
	for i := 0; i < s.numEntities; i++ {
		s.entities = append(s.entities, s.newEntity())
	}
	sortByScore(s.entities)
	s.logger.Info(context.Background(), "listing generated",
		logger.Int("entities", len(s.entities)),
		logger.Int("pageSize", s.pageSize),
	)
	return s
}

// ClientID returns the accepted client id.
func (s *Server) ClientID() string { return s.clientID }

// ClientSecret returns the accepted client secret.
func (s *Server) ClientSecret() string { return s.clientSecret }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/oauth/token":
		s.handleToken(w, r)
	case "/rankings":
		s.handleRankings(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r.PostForm.Get("client_id") != s.clientID || r.PostForm.Get("client_secret") != s.clientSecret {
		s.stats.Unauthorized++
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	tok := uuid.NewString()
	s.tokens[tok] = s.now().Add(s.tokenTTL)
	s.stats.TokensIssued++
	writeJSON(w, tokenResponse{AccessToken: tok, ExpiresIn: int64(s.tokenTTL / time.Second)})
}

func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	const bearer = "Bearer "
	auth := r.Header.Get("Authorization")

	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.tokens[trimPrefix(auth, bearer)]
	if !ok || !s.now().Before(exp) {
		s.stats.Unauthorized++
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	offset := 0
	if c := r.URL.Query().Get("cursor"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil || n < 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		offset = n
	}
	end := min(offset+s.pageSize, len(s.entities))
	if offset > end {
		offset = end
	}

	page := pageResponse{Entities: make([]wireEntity, 0, end-offset)}
	for i := offset; i < end; i++ {
		e := s.entities[i]
		page.Entities = append(page.Entities, wireEntity{
			ID: e.ID, Name: e.Name, Region: e.Region, Score: e.Score,
			Metric: e.Metric, Rank: i + 1, Active: e.Active,
		})
	}
	if end < len(s.entities) {
		next := strconv.Itoa(end)
		page.NextCursor = &next
	}
	s.stats.PagesServed++
	writeJSON(w, page)
}

// ExpireTokens invalidates every issued token, forcing re-authentication.
func (s *Server) ExpireTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.tokens)
}

// Churn advances the listing by one round: scores drift, some entities go
// inactive or vanish, new entities join, and the listing is re-sorted by
// score.
func (s *Server) Churn() {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entities[:0]
	var dropped, deactivated int
	for _, e := range s.entities {
		switch {
		case s.rng.Float64() < s.dropRate:
			dropped++
			continue
		case e.Active && s.rng.Float64() < s.inactiveRate:
			e.Active = false
			deactivated++
		case e.Active:
			e.Score = s.drift(e.Score)
		}
		kept = append(kept, e)
	}
	s.entities = kept

	joins := int(float64(len(s.entities))*s.joinRate + 0.5)
	for i := 0; i < joins; i++ {
		s.entities = append(s.entities, s.newEntity())
	}
	sortByScore(s.entities)

	s.logger.Info(context.Background(), "listing churned",
		logger.Int("entities", len(s.entities)),
		logger.Int("dropped", dropped),
		logger.Int("deactivated", deactivated),
		logger.Int("joined", joins),
	)
}

// Entities returns a copy of the current listing in page order.
func (s *Server) Entities() []model.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Entity(nil), s.entities...)
}

// Stats returns request counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func trimPrefix(s, prefix string) string {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return ""
}
