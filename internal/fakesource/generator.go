package fakesource

import (
	"fmt"
	"math"
	"math/big"
	"slices"

	"github.com/google/uuid"

	"github.com/okian/standings/internal/domain/model"
)

// Performance tiers used to spread generated scores.
const (
	tierAverage = iota
	tierHigh
	tierLow
	tierElite
	numTiers
)

// scoreUnit scales generated scores past the int64 range.
var scoreUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil) //nolint:gochecknoglobals // constant big.Int

// newEntity creates an active entity with a random tier score.
func (s *Server) newEntity() model.Entity {
	s.joined++
	region := s.regions[s.rng.IntN(len(s.regions))]
	return model.Entity{
		ID:     uuid.NewString(),
		Name:   fmt.Sprintf("player-%d", s.joined),
		Region: region,
		Score:  s.randomScore(),
		Metric: s.randomMetric(),
		Active: true,
	}
}

// randomScore returns tier-dependent points times scoreUnit plus noise.
func (s *Server) randomScore() model.Score {
	var points int64
	switch s.rng.IntN(numTiers) {
	case tierElite:
		points = 9000 + s.rng.Int64N(1000)
	case tierHigh:
		points = 7000 + s.rng.Int64N(2000)
	case tierLow:
		points = 100 + s.rng.Int64N(2900)
	default:
		points = 3000 + s.rng.Int64N(4000)
	}
	v := new(big.Int).Mul(big.NewInt(points), scoreUnit)
	v.Add(v, big.NewInt(s.rng.Int64N(math.MaxInt64)))
	score, _ := model.ParseScore(v.String())
	return score
}

func (s *Server) randomMetric() float64 {
	return math.Round(s.rng.Float64()*10000*100) / 100
}

// drift nudges a score by up to one percent in either direction.
func (s *Server) drift(sc model.Score) model.Score {
	v, _ := new(big.Int).SetString(sc.String(), 10)
	step := new(big.Int).Div(v, big.NewInt(100))
	if step.Sign() == 0 {
		return sc
	}
	delta := new(big.Int).Mul(step, big.NewInt(s.rng.Int64N(1000)))
	delta.Div(delta, big.NewInt(1000))
	if s.rng.IntN(2) == 0 {
		delta.Neg(delta)
	}
	v.Add(v, delta)
	if v.Sign() < 0 {
		v.SetInt64(0)
	}
	out, _ := model.ParseScore(v.String())
	return out
}

func sortByScore(entities []model.Entity) {
	slices.SortStableFunc(entities, func(a, b model.Entity) int {
		return b.Score.Cmp(a.Score)
	})
}
