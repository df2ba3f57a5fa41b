package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/pkg/metrics"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Default SQLite configuration constants.
const (
	defaultBusyTimeout = 5 * time.Second
	recordSequence     = "score_records"
)

const schema = `
CREATE TABLE IF NOT EXISTS score_records (
	row_id                  INTEGER PRIMARY KEY,
	entity_id               TEXT    NOT NULL UNIQUE,
	name                    TEXT    NOT NULL DEFAULT '',
	region                  TEXT    NOT NULL,
	score                   TEXT    NOT NULL,
	metric                  REAL    NOT NULL DEFAULT 0,
	source_rank             INTEGER NOT NULL DEFAULT 0,
	global_rank_score       INTEGER NOT NULL,
	region_rank_score       INTEGER NOT NULL,
	global_rank_metric      INTEGER NOT NULL,
	region_rank_metric      INTEGER NOT NULL,
	prev_region_rank_score  INTEGER,
	prev_global_rank_score  INTEGER,
	prev_region_rank_metric INTEGER,
	prev_global_rank_metric INTEGER,
	updated_at              TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_score_records_region ON score_records(region);

CREATE TABLE IF NOT EXISTS regions (
	id              TEXT PRIMARY KEY,
	name            TEXT    NOT NULL,
	recent_inactive INTEGER NOT NULL DEFAULT 0,
	total_inactive  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sequences (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
INSERT OR IGNORE INTO sequences (name, value) VALUES ('score_records', 0);
`

const recordColumns = `row_id, entity_id, name, region, score, metric, source_rank,
	global_rank_score, region_rank_score, global_rank_metric, region_rank_metric,
	prev_region_rank_score, prev_global_rank_score, prev_region_rank_metric, prev_global_rank_metric,
	updated_at`

const insertRecord = `INSERT INTO score_records (` + recordColumns + `)
	VALUES (:row_id, :entity_id, :name, :region, :score, :metric, :source_rank,
	:global_rank_score, :region_rank_score, :global_rank_metric, :region_rank_metric,
	:prev_region_rank_score, :prev_global_rank_score, :prev_region_rank_metric, :prev_global_rank_metric,
	:updated_at)`

// recordRow is the column layout of score_records.
type recordRow struct {
	RowID            int64         `db:"row_id"`
	EntityID         string        `db:"entity_id"`
	Name             string        `db:"name"`
	Region           string        `db:"region"`
	Score            string        `db:"score"`
	Metric           float64       `db:"metric"`
	SourceRank       int           `db:"source_rank"`
	GlobalRankScore  int           `db:"global_rank_score"`
	RegionRankScore  int           `db:"region_rank_score"`
	GlobalRankMetric int           `db:"global_rank_metric"`
	RegionRankMetric int           `db:"region_rank_metric"`
	PrevRegionScore  sql.NullInt64 `db:"prev_region_rank_score"`
	PrevGlobalScore  sql.NullInt64 `db:"prev_global_rank_score"`
	PrevRegionMetric sql.NullInt64 `db:"prev_region_rank_metric"`
	PrevGlobalMetric sql.NullInt64 `db:"prev_global_rank_metric"`
	UpdatedAt        time.Time     `db:"updated_at"`
}

func toRow(rec model.ScoreRecord) recordRow {
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return recordRow{
		RowID:            rec.RowID,
		EntityID:         rec.EntityID,
		Name:             rec.Name,
		Region:           rec.Region,
		Score:            rec.Score.String(),
		Metric:           rec.Metric,
		SourceRank:       rec.SourceRank,
		GlobalRankScore:  rec.Current.Score.Global,
		RegionRankScore:  rec.Current.Score.Region,
		GlobalRankMetric: rec.Current.Metric.Global,
		RegionRankMetric: rec.Current.Metric.Region,
		PrevRegionScore:  nullRank(rec.Previous.RegionByScore),
		PrevGlobalScore:  nullRank(rec.Previous.GlobalByScore),
		PrevRegionMetric: nullRank(rec.Previous.RegionByMetric),
		PrevGlobalMetric: nullRank(rec.Previous.GlobalByMetric),
		UpdatedAt:        updated,
	}
}

func (r recordRow) toModel() (model.ScoreRecord, error) {
	score, err := model.ParseScore(r.Score)
	if err != nil {
		return model.ScoreRecord{}, fmt.Errorf("row %d: %w", r.RowID, err)
	}
	return model.ScoreRecord{
		RowID:      r.RowID,
		EntityID:   r.EntityID,
		Name:       r.Name,
		Region:     r.Region,
		Score:      score,
		Metric:     r.Metric,
		SourceRank: r.SourceRank,
		Current: model.Positions{
			Score:  model.Placement{Global: r.GlobalRankScore, Region: r.RegionRankScore},
			Metric: model.Placement{Global: r.GlobalRankMetric, Region: r.RegionRankMetric},
		},
		Previous: model.PreviousRanks{
			RegionByScore:  rankFrom(r.PrevRegionScore),
			GlobalByScore:  rankFrom(r.PrevGlobalScore),
			RegionByMetric: rankFrom(r.PrevRegionMetric),
			GlobalByMetric: rankFrom(r.PrevGlobalMetric),
		},
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func nullRank(r model.Rank) sql.NullInt64 {
	pos, ok := r.Int()
	return sql.NullInt64{Int64: int64(pos), Valid: ok}
}

func rankFrom(n sql.NullInt64) model.Rank {
	if !n.Valid {
		return model.NoRank
	}
	return model.RankOf(int(n.Int64))
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens a SQLite database at path and runs migrations.
func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	cfg := newOptions(opts...)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		path, cfg.busyTimeout.Milliseconds())
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time; concurrent mutations queue on the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// FetchAllActive implements Store.FetchAllActive.
func (s *SQLiteStore) FetchAllActive(ctx context.Context, region string) ([]model.ScoreRecord, error) {
	defer observeQuery(time.Now())

	query := "SELECT " + recordColumns + " FROM score_records"
	var args []any
	if region != "" {
		query += " WHERE region = ?"
		args = append(args, region)
	}
	query += " ORDER BY row_id"

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}
	out := make([]model.ScoreRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// FetchByExternalID implements Store.FetchByExternalID.
func (s *SQLiteStore) FetchByExternalID(ctx context.Context, id string) (model.ScoreRecord, error) {
	defer observeQuery(time.Now())

	var row recordRow
	err := s.db.GetContext(ctx, &row, "SELECT "+recordColumns+" FROM score_records WHERE entity_id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.ScoreRecord{}, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.ScoreRecord{}, fmt.Errorf("fetch entity %s: %w", id, err)
	}
	return row.toModel()
}

// NextID implements Store.NextID with a single atomic UPDATE ... RETURNING.
func (s *SQLiteStore) NextID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id,
		"UPDATE sequences SET value = value + 1 WHERE name = ? RETURNING value", recordSequence)
	if err != nil {
		return 0, fmt.Errorf("next id: %w", err)
	}
	return id, nil
}

// Insert implements Store.Insert.
func (s *SQLiteStore) Insert(ctx context.Context, rec model.ScoreRecord) (Result, error) {
	defer observeUpdate(time.Now())

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertTx(ctx, tx, rec); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit insert %d: %w", rec.RowID, err)
	}
	return Applied(1), nil
}

func insertTx(ctx context.Context, tx *sqlx.Tx, rec model.ScoreRecord) error {
	if _, err := tx.NamedExecContext(ctx, insertRecord, toRow(rec)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert row %d entity %s: %w", rec.RowID, rec.EntityID, ErrDuplicate)
		}
		return fmt.Errorf("insert row %d: %w", rec.RowID, err)
	}
	// Keep the sequence ahead of externally chosen ids.
	if _, err := tx.ExecContext(ctx,
		"UPDATE sequences SET value = ? WHERE name = ? AND value < ?", rec.RowID, recordSequence, rec.RowID); err != nil {
		return fmt.Errorf("advance sequence: %w", err)
	}
	return nil
}

// Delete implements Store.Delete.
func (s *SQLiteStore) Delete(ctx context.Context, rowID int64) (Result, error) {
	defer observeUpdate(time.Now())

	res, err := s.db.ExecContext(ctx, "DELETE FROM score_records WHERE row_id = ?", rowID)
	if err != nil {
		return Result{}, fmt.Errorf("delete row %d: %w", rowID, err)
	}
	return affected(res)
}

// Replace implements Replacer inside one transaction.
func (s *SQLiteStore) Replace(ctx context.Context, oldRowID int64, rec model.ScoreRecord) (Result, error) {
	defer observeUpdate(time.Now())

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("begin replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM score_records WHERE row_id = ?", oldRowID)
	if err != nil {
		return Result{}, fmt.Errorf("replace delete row %d: %w", oldRowID, err)
	}
	r, err := affected(res)
	if err != nil || r.Outcome == OutcomeNotFound {
		return r, err
	}
	if err := insertTx(ctx, tx, rec); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit replace %d->%d: %w", oldRowID, rec.RowID, err)
	}
	return Applied(1), nil
}

// IncrementRegionCounter implements Store.IncrementRegionCounter.
func (s *SQLiteStore) IncrementRegionCounter(ctx context.Context, regionID string, amount int64) (Result, error) {
	defer observeUpdate(time.Now())

	if amount <= 0 {
		return Result{}, fmt.Errorf("region %s amount %d: %w", regionID, amount, ErrInvalidAmount)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO regions (id, name, recent_inactive, total_inactive)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			recent_inactive = recent_inactive + excluded.recent_inactive,
			total_inactive = total_inactive + excluded.total_inactive
	`, regionID, regionID, amount, amount)
	if err != nil {
		return Result{}, fmt.Errorf("increment region %s: %w", regionID, err)
	}
	return affected(res)
}

// Regions implements Store.Regions.
func (s *SQLiteStore) Regions(ctx context.Context) ([]model.Region, error) {
	defer observeQuery(time.Now())

	var out []model.Region
	if err := s.db.SelectContext(ctx, &out,
		"SELECT id, name, recent_inactive, total_inactive FROM regions ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	return out, nil
}

// ResetRecentInactive implements Store.ResetRecentInactive.
func (s *SQLiteStore) ResetRecentInactive(ctx context.Context) (Result, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE regions SET recent_inactive = 0 WHERE recent_inactive <> 0")
	if err != nil {
		return Result{}, fmt.Errorf("reset recent inactive: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Result{}, fmt.Errorf("rows affected: %w", err)
	}
	return Applied(n), nil
}

// Count implements Store.Count.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM score_records"); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	metrics.UpdateRepositoryRecordsTotal(n)
	return n, nil
}

func affected(res sql.Result) (Result, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return Result{}, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return NotFound(), nil
	}
	return Applied(n), nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY")
}
