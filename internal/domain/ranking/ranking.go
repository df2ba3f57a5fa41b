// Package ranking computes dense global and region-local ranks for an
// active snapshot and the movement of each entity since its prior record.
package ranking

import (
	"math"
	"sort"

	"github.com/okian/standings/internal/domain/model"
)

// Standing is the computed ranking of one active entity.
type Standing struct {
	Entity   model.Entity
	Current  model.Positions
	Previous model.PreviousRanks // NoPreviousRanks when there is no prior record
	HasPrior bool
	Delta    model.Positions // previous - current; zero without a prior record
}

// Compute ranks active entities for every sort key. Ranks are 1-based and
// dense; equal values keep input order. prior maps entity id to the record
// persisted before this batch. The result is in input order.
func Compute(active []model.Entity, prior map[string]model.ScoreRecord) []Standing {
	out := make([]Standing, len(active))
	for i := range active {
		out[i].Entity = active[i]
	}

	for _, key := range model.SortKeys {
		order := orderBy(active, key)
		regionSeen := make(map[string]int)
		for pos, idx := range order {
			region := active[idx].Region
			regionSeen[region]++
			out[idx].Current.Set(key, model.Placement{
				Global: pos + 1,
				Region: regionSeen[region],
			})
		}
	}

	for i := range out {
		rec, ok := prior[out[i].Entity.ID]
		if !ok {
			out[i].Previous = model.NoPreviousRanks
			continue
		}
		out[i].HasPrior = true
		out[i].Previous = model.PreviousFrom(rec.Current)
		for _, key := range model.SortKeys {
			was, now := rec.Current.For(key), out[i].Current.For(key)
			out[i].Delta.Set(key, model.Placement{
				Global: was.Global - now.Global,
				Region: was.Region - now.Region,
			})
		}
	}
	return out
}

// orderBy returns indexes into entities ordered best first for key.
// sort.SliceStable keeps fetch order among equal values, so repeated runs
// over the same input assign identical ranks.
func orderBy(entities []model.Entity, key model.SortKey) []int {
	idx := make([]int, len(entities))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ea, eb := &entities[idx[a]], &entities[idx[b]]
		if key == model.ByMetric {
			return metricValue(ea.Metric) > metricValue(eb.Metric)
		}
		return ea.Score.Cmp(eb.Score) > 0
	})
	return idx
}

func metricValue(v float64) float64 {
	if math.IsNaN(v) {
		return math.Inf(-1)
	}
	return v
}

// Index maps entity id to its standing.
func Index(standings []Standing) map[string]*Standing {
	out := make(map[string]*Standing, len(standings))
	for i := range standings {
		out[standings[i].Entity.ID] = &standings[i]
	}
	return out
}

// Sort orders records best first by their stored placement for key,
// optionally restricted to one region.
func Sort(records []model.ScoreRecord, key model.SortKey, region string) []model.ScoreRecord {
	out := make([]model.ScoreRecord, 0, len(records))
	for i := range records {
		if region == "" || records[i].Region == region {
			out = append(out, records[i])
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		pa, pb := out[a].Current.For(key), out[b].Current.For(key)
		if region != "" {
			return pa.Region < pb.Region
		}
		return pa.Global < pb.Global
	})
	return out
}
