package model

import (
	"bytes"
	"fmt"
	"strconv"
)

// Rank is an optional 1-based rank. The zero value is NoRank, which means
// "never ranked" and is distinct from any real position.
type Rank struct {
	pos   int
	valid bool
}

// NoRank is the absent rank carried by freshly inserted records.
var NoRank = Rank{}

// RankOf wraps a 1-based position.
func RankOf(pos int) Rank {
	return Rank{pos: pos, valid: true}
}

// Valid reports whether the rank holds a position.
func (r Rank) Valid() bool { return r.valid }

// Int returns the position and whether it is present.
func (r Rank) Int() (int, bool) { return r.pos, r.valid }

func (r Rank) String() string {
	if !r.valid {
		return "none"
	}
	return strconv.Itoa(r.pos)
}

// MarshalJSON writes null for NoRank.
func (r Rank) MarshalJSON() ([]byte, error) {
	if !r.valid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(r.pos)), nil
}

// UnmarshalJSON reads null as NoRank.
func (r *Rank) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*r = NoRank
		return nil
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return fmt.Errorf("rank: %w", err)
	}
	*r = RankOf(n)
	return nil
}

// Scan implements sql.Scanner over a nullable INTEGER column.
func (r *Rank) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = NoRank
	case int64:
		*r = RankOf(int(v))
	default:
		return fmt.Errorf("rank: unsupported column type %T", src)
	}
	return nil
}

// SortKey selects which metric orders a leaderboard.
type SortKey uint8

const (
	// ByScore orders by score descending.
	ByScore SortKey = iota + 1
	// ByMetric orders by the secondary metric descending.
	ByMetric
)

// SortKeys lists every ordering the rank computer produces.
var SortKeys = []SortKey{ByScore, ByMetric}

func (k SortKey) String() string {
	switch k {
	case ByScore:
		return "score"
	case ByMetric:
		return "metric"
	default:
		return "unknown"
	}
}

// ParseSortKey maps "score" and "metric" to a SortKey. Empty means ByScore.
func ParseSortKey(s string) (SortKey, error) {
	switch s {
	case "", "score":
		return ByScore, nil
	case "metric":
		return ByMetric, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSortKey, s)
	}
}

// Placement is an entity's global and region-local position for one ordering.
type Placement struct {
	Global int `json:"global"`
	Region int `json:"region"`
}

// Positions holds placements for both orderings.
type Positions struct {
	Score  Placement `json:"score"`
	Metric Placement `json:"metric"`
}

// For returns the placement for k.
func (p Positions) For(k SortKey) Placement {
	if k == ByMetric {
		return p.Metric
	}
	return p.Score
}

// Set stores pl under k.
func (p *Positions) Set(k SortKey, pl Placement) {
	if k == ByMetric {
		p.Metric = pl
		return
	}
	p.Score = pl
}

// PreviousRanks holds the four write-once historical ranks of a record.
type PreviousRanks struct {
	RegionByScore  Rank `json:"region_by_score"`
	GlobalByScore  Rank `json:"global_by_score"`
	RegionByMetric Rank `json:"region_by_metric"`
	GlobalByMetric Rank `json:"global_by_metric"`
}

// NoPreviousRanks is the value carried by a never-ranked entity.
var NoPreviousRanks = PreviousRanks{}

// PreviousFrom turns placements into historical ranks.
func PreviousFrom(p Positions) PreviousRanks {
	return PreviousRanks{
		RegionByScore:  RankOf(p.Score.Region),
		GlobalByScore:  RankOf(p.Score.Global),
		RegionByMetric: RankOf(p.Metric.Region),
		GlobalByMetric: RankOf(p.Metric.Global),
	}
}

// Known reports whether any historical rank is present.
func (p PreviousRanks) Known() bool {
	return p.RegionByScore.Valid() || p.GlobalByScore.Valid() ||
		p.RegionByMetric.Valid() || p.GlobalByMetric.Valid()
}
