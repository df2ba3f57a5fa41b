package fakesource

import "time"

// Default generator configuration constants.
const (
	defaultEntities     = 1000
	defaultPageSize     = 100
	defaultTokenTTL     = 24 * time.Hour
	defaultClientID     = "standings"
	defaultClientSecret = "standings-secret"
	defaultInactiveRate = 0.02
	defaultDropRate     = 0.02
	defaultJoinRate     = 0.03
)

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithEntities sets how many entities are generated initially.
func WithEntities(n int) Option {
	return func(s *Server) {
		if n >= 0 {
			s.numEntities = n
		}
	}
}

// WithPageSize sets how many entities one page carries.
func WithPageSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithRegions sets the region codes entities are spread over.
func WithRegions(regions ...string) Option {
	return func(s *Server) {
		if len(regions) > 0 {
			s.regions = regions
		}
	}
}

// WithCredentials sets the client credentials the token endpoint accepts.
func WithCredentials(id, secret string) Option {
	return func(s *Server) {
		if id != "" && secret != "" {
			s.clientID, s.clientSecret = id, secret
		}
	}
}

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.tokenTTL = d
		}
	}
}

// WithChurn sets the per-round probabilities used by Churn: an entity turns
// inactive, an entity disappears, and a new entity joins (relative to size).
func WithChurn(inactive, drop, join float64) Option {
	return func(s *Server) {
		s.inactiveRate, s.dropRate, s.joinRate = inactive, drop, join
	}
}

// WithSeed makes generation reproducible.
func WithSeed(seed uint64) Option {
	return func(s *Server) {
		s.seed = seed
	}
}
