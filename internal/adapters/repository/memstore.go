package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/pkg/metrics"
)

// Default memory store configuration constants.
const (
	defaultMetricsUpdateInterval = 5 * time.Second
)

// MemoryStore is an in-memory Store. Records are indexed by row id and by
// entity id; the row id sequence is an atomic counter owned by the store.
type MemoryStore struct {
	mu       sync.RWMutex
	byRow    map[int64]model.ScoreRecord
	byEntity map[string]int64
	regions  map[string]model.Region
	seq      atomic.Int64
	closed   bool

	metricsUpdateInterval time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewMemoryStore constructs a memory store and starts its metrics updater.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	cfg := newOptions(opts...)
	s := &MemoryStore{
		byRow:                 make(map[int64]model.ScoreRecord),
		byEntity:              make(map[string]int64),
		regions:               make(map[string]model.Region),
		metricsUpdateInterval: cfg.metricsUpdateInterval,
		stopChan:              make(chan struct{}),
	}
	s.startMetricsUpdater(ctx)
	return s
}

// Close stops the metrics updater. Further calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stopChan)
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// FetchAllActive implements Store.FetchAllActive.
func (s *MemoryStore) FetchAllActive(ctx context.Context, region string) ([]model.ScoreRecord, error) {
	defer observeQuery(time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := make([]model.ScoreRecord, 0, len(s.byRow))
	for _, rec := range s.byRow {
		if region == "" || rec.Region == region {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowID < out[j].RowID })
	return out, nil
}

// FetchByExternalID implements Store.FetchByExternalID.
func (s *MemoryStore) FetchByExternalID(ctx context.Context, id string) (model.ScoreRecord, error) {
	defer observeQuery(time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.ScoreRecord{}, ErrClosed
	}

	row, ok := s.byEntity[id]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.ScoreRecord{}, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	return s.byRow[row], nil
}

// NextID implements Store.NextID.
func (s *MemoryStore) NextID(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.seq.Add(1), nil
}

// Insert implements Store.Insert.
func (s *MemoryStore) Insert(ctx context.Context, rec model.ScoreRecord) (Result, error) {
	defer observeUpdate(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Result{}, ErrClosed
	}
	if err := s.insertLocked(rec); err != nil {
		return Result{}, err
	}
	metrics.UpdateRepositoryRecordsTotal(len(s.byRow))
	return Applied(1), nil
}

func (s *MemoryStore) insertLocked(rec model.ScoreRecord) error {
	if _, ok := s.byRow[rec.RowID]; ok {
		return fmt.Errorf("row %d: %w", rec.RowID, ErrDuplicate)
	}
	if _, ok := s.byEntity[rec.EntityID]; ok {
		return fmt.Errorf("entity %s: %w", rec.EntityID, ErrDuplicate)
	}
	s.byRow[rec.RowID] = rec
	s.byEntity[rec.EntityID] = rec.RowID
	// Keep the sequence ahead of externally chosen ids.
	for {
		cur := s.seq.Load()
		if rec.RowID <= cur || s.seq.CompareAndSwap(cur, rec.RowID) {
			break
		}
	}
	return nil
}

// Delete implements Store.Delete.
func (s *MemoryStore) Delete(ctx context.Context, rowID int64) (Result, error) {
	defer observeUpdate(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Result{}, ErrClosed
	}
	if !s.deleteLocked(rowID) {
		return NotFound(), nil
	}
	metrics.UpdateRepositoryRecordsTotal(len(s.byRow))
	return Applied(1), nil
}

func (s *MemoryStore) deleteLocked(rowID int64) bool {
	rec, ok := s.byRow[rowID]
	if !ok {
		return false
	}
	delete(s.byRow, rowID)
	if s.byEntity[rec.EntityID] == rowID {
		delete(s.byEntity, rec.EntityID)
	}
	return true
}

// Replace implements Replacer. Both halves happen under one lock.
func (s *MemoryStore) Replace(ctx context.Context, oldRowID int64, rec model.ScoreRecord) (Result, error) {
	defer observeUpdate(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Result{}, ErrClosed
	}
	old, ok := s.byRow[oldRowID]
	if !ok {
		return NotFound(), nil
	}
	s.deleteLocked(oldRowID)
	if err := s.insertLocked(rec); err != nil {
		// Restore the old row so the swap is all or nothing.
		_ = s.insertLocked(old)
		return Result{}, err
	}
	return Applied(1), nil
}

// IncrementRegionCounter implements Store.IncrementRegionCounter.
func (s *MemoryStore) IncrementRegionCounter(ctx context.Context, regionID string, amount int64) (Result, error) {
	defer observeUpdate(time.Now())

	if amount <= 0 {
		return Result{}, fmt.Errorf("region %s amount %d: %w", regionID, amount, ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Result{}, ErrClosed
	}
	r, ok := s.regions[regionID]
	if !ok {
		r = model.Region{ID: regionID, Name: regionID}
	}
	r.RecentInactive += amount
	r.TotalInactive += amount
	s.regions[regionID] = r
	return Applied(1), nil
}

// Regions implements Store.Regions.
func (s *MemoryStore) Regions(ctx context.Context) ([]model.Region, error) {
	defer observeQuery(time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]model.Region, 0, len(s.regions))
	for _, r := range s.regions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ResetRecentInactive implements Store.ResetRecentInactive.
func (s *MemoryStore) ResetRecentInactive(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Result{}, ErrClosed
	}
	var n int64
	for id, r := range s.regions {
		if r.RecentInactive != 0 {
			r.RecentInactive = 0
			s.regions[id] = r
			n++
		}
	}
	return Applied(n), nil
}

// Count implements Store.Count.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.byRow), nil
}

// startMetricsUpdater starts a background goroutine that updates repository metrics.
func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.updateMetrics()
			}
		}
	}()
}

func (s *MemoryStore) updateMetrics() {
	s.mu.RLock()
	records, regions := len(s.byRow), len(s.regions)
	s.mu.RUnlock()
	metrics.UpdateRepositoryRecordsTotal(records)
	metrics.UpdateRegionCount(regions)
}

func observeQuery(start time.Time) {
	metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
}

func observeUpdate(start time.Time) {
	metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
}
