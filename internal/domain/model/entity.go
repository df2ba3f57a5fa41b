// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"time"
)

// Sentinel errors for model parsing.
var (
	ErrInvalidScore   = errors.New("invalid score")
	ErrUnknownSortKey = errors.New("unknown sort key")
)

// Entity is one ranked participant as delivered by the ranking source.
type Entity struct {
	ID         string  `json:"id"`     // stable external identifier
	Name       string  `json:"name"`   // display name
	Region     string  `json:"region"` // grouping key, e.g. country code
	Score      Score   `json:"score"`
	Metric     float64 `json:"metric"` // secondary metric, e.g. performance points
	SourceRank int     `json:"rank"`   // global rank as reported by the source
	Active     bool    `json:"active"`
}

// Snapshot is one fully paginated fetch. Entities keep fetch order, which
// is the tie-break order for ranking.
type Snapshot struct {
	Entities  []Entity
	Pages     int
	FetchedAt time.Time
}

// ScoreRecord is the persisted row for a currently active entity.
// Previous is written once at insert time; changing it means replacing the
// whole record.
type ScoreRecord struct {
	RowID      int64         `json:"row_id"`
	EntityID   string        `json:"entity_id"`
	Name       string        `json:"name"`
	Region     string        `json:"region"`
	Score      Score         `json:"score"`
	Metric     float64       `json:"metric"`
	SourceRank int           `json:"source_rank"`
	Current    Positions     `json:"current"`
	Previous   PreviousRanks `json:"previous"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Delta returns previous minus current for k on the global and region
// scale. Positive means the entity moved up. Records without history report
// zero.
func (r ScoreRecord) Delta(k SortKey) Placement {
	cur := r.Current.For(k)
	var prevGlobal, prevRegion Rank
	if k == ByMetric {
		prevGlobal, prevRegion = r.Previous.GlobalByMetric, r.Previous.RegionByMetric
	} else {
		prevGlobal, prevRegion = r.Previous.GlobalByScore, r.Previous.RegionByScore
	}
	var d Placement
	if g, ok := prevGlobal.Int(); ok {
		d.Global = g - cur.Global
	}
	if rg, ok := prevRegion.Int(); ok {
		d.Region = rg - cur.Region
	}
	return d
}

// Region aggregates inactivity counters for one grouping key.
type Region struct {
	ID             string `json:"id" db:"id"`
	Name           string `json:"name" db:"name"`
	RecentInactive int64  `json:"recent_inactive" db:"recent_inactive"`
	TotalInactive  int64  `json:"total_inactive" db:"total_inactive"`
}
