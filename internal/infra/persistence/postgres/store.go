// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics while keeping one table per entity type.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"baboard/internal/infra/persistence/memory"
	"baboard/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/baboard?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// schema creates the normalized tables. Circular references between
// firefighters and their custom models are not enforced by foreign keys.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS pressure_models (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		slope DOUBLE PRECISION NOT NULL,
		intercept DOUBLE PRECISION NOT NULL,
		min_pressure INTEGER NOT NULL,
		max_pressure INTEGER NOT NULL,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		firefighter_id TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS firefighters (
		id TEXT PRIMARY KEY,
		badge_number TEXT NOT NULL UNIQUE,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		active BOOLEAN NOT NULL,
		custom_model_id TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ba_entries (
		id TEXT PRIMARY KEY,
		firefighter_id TEXT NOT NULL REFERENCES firefighters(id),
		calculation_model_id TEXT NOT NULL REFERENCES pressure_models(id),
		initial_pressure INTEGER NOT NULL,
		current_pressure INTEGER NOT NULL,
		entry_time TIMESTAMPTZ NOT NULL,
		updated_time TIMESTAMPTZ NOT NULL,
		location TEXT NOT NULL,
		remarks TEXT NOT NULL DEFAULT '',
		estimated_time INTEGER NOT NULL,
		active BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS historical_ba_entries (
		id TEXT PRIMARY KEY,
		entry_id TEXT NOT NULL UNIQUE REFERENCES ba_entries(id),
		firefighter_id TEXT NOT NULL REFERENCES firefighters(id),
		calculation_model_id TEXT NOT NULL REFERENCES pressure_models(id),
		session_date TIMESTAMPTZ NOT NULL,
		initial_pressure INTEGER NOT NULL,
		final_pressure INTEGER NOT NULL,
		duration INTEGER NOT NULL,
		location TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS historical_ba_entries_firefighter_idx ON historical_ba_entries(firefighter_id)`,
}

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to DefaultDSN).
// It ensures the schema exists and hydrates the in-memory store from the tables.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

// RunInTransaction applies the provided function within a transaction and
// rewrites the Postgres tables before the new state is swapped into memory.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	return s.Store.RunInTransactionWithCommit(ctx, fn, s.persist)
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func applySchema(ctx context.Context, db execer) error {
	for _, stmt := range schema {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

const (
	firefighterColumns = "id, badge_number, first_name, last_name, active, custom_model_id, created_at, updated_at"
	modelColumns       = "id, name, description, slope, intercept, min_pressure, max_pressure, is_default, firefighter_id, created_at, updated_at"
	entryColumns       = "id, firefighter_id, calculation_model_id, initial_pressure, current_pressure, entry_time, updated_time, location, remarks, estimated_time, active, created_at, updated_at"
	historicalColumns  = "id, entry_id, firefighter_id, calculation_model_id, session_date, initial_pressure, final_pressure, duration, location, created_at, updated_at"
)

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	snapshot := memory.Snapshot{
		Firefighters: map[string]domain.Firefighter{},
		Models:       map[string]domain.PressureCalculationModel{},
		Entries:      map[string]domain.BAEntry{},
		Historical:   map[string]domain.HistoricalBAEntry{},
	}
	if err := queryRows(ctx, db, "pressure_models", modelColumns, func(rows *sql.Rows) error {
		var m domain.PressureCalculationModel
		var owner sql.NullString
		if err := rows.Scan(&m.ID, &m.Name, &m.Description, &m.Slope, &m.Intercept, &m.MinPressure, &m.MaxPressure, &m.IsDefault, &owner, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return err
		}
		m.FirefighterID = stringPtr(owner)
		snapshot.Models[m.ID] = m
		return nil
	}); err != nil {
		return memory.Snapshot{}, err
	}
	if err := queryRows(ctx, db, "firefighters", firefighterColumns, func(rows *sql.Rows) error {
		var f domain.Firefighter
		var custom sql.NullString
		if err := rows.Scan(&f.ID, &f.BadgeNumber, &f.FirstName, &f.LastName, &f.Active, &custom, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return err
		}
		f.CustomModelID = stringPtr(custom)
		snapshot.Firefighters[f.ID] = f
		return nil
	}); err != nil {
		return memory.Snapshot{}, err
	}
	if err := queryRows(ctx, db, "ba_entries", entryColumns, func(rows *sql.Rows) error {
		var e domain.BAEntry
		if err := rows.Scan(&e.ID, &e.FirefighterID, &e.ModelID, &e.InitialPressure, &e.CurrentPressure, &e.EntryTime, &e.UpdatedTime, &e.Location, &e.Remarks, &e.EstimatedTime, &e.Active, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return err
		}
		snapshot.Entries[e.ID] = e
		return nil
	}); err != nil {
		return memory.Snapshot{}, err
	}
	if err := queryRows(ctx, db, "historical_ba_entries", historicalColumns, func(rows *sql.Rows) error {
		var h domain.HistoricalBAEntry
		if err := rows.Scan(&h.ID, &h.EntryID, &h.FirefighterID, &h.ModelID, &h.SessionDate, &h.InitialPressure, &h.FinalPressure, &h.Duration, &h.Location, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return err
		}
		snapshot.Historical[h.ID] = h
		return nil
	}); err != nil {
		return memory.Snapshot{}, err
	}
	return snapshot, nil
}

func queryRows(ctx context.Context, db *sql.DB, table, columns string, scan func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, "SELECT "+columns+" FROM "+table)
	if err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", table, err)
	}
	return nil
}

func (s *Store) persist(ctx context.Context, snapshot memory.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `TRUNCATE TABLE historical_ba_entries, ba_entries, firefighters, pressure_models`); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	for _, m := range sortedValues(snapshot.Models) {
		if err := insert(ctx, tx, "pressure_models", modelColumns,
			m.ID, m.Name, m.Description, m.Slope, m.Intercept, m.MinPressure, m.MaxPressure, m.IsDefault, nullString(m.FirefighterID), m.CreatedAt, m.UpdatedAt); err != nil {
			return err
		}
	}
	for _, f := range sortedValues(snapshot.Firefighters) {
		if err := insert(ctx, tx, "firefighters", firefighterColumns,
			f.ID, f.BadgeNumber, f.FirstName, f.LastName, f.Active, nullString(f.CustomModelID), f.CreatedAt, f.UpdatedAt); err != nil {
			return err
		}
	}
	for _, e := range sortedValues(snapshot.Entries) {
		if err := insert(ctx, tx, "ba_entries", entryColumns,
			e.ID, e.FirefighterID, e.ModelID, e.InitialPressure, e.CurrentPressure, e.EntryTime, e.UpdatedTime, e.Location, e.Remarks, e.EstimatedTime, e.Active, e.CreatedAt, e.UpdatedAt); err != nil {
			return err
		}
	}
	for _, h := range sortedValues(snapshot.Historical) {
		if err := insert(ctx, tx, "historical_ba_entries", historicalColumns,
			h.ID, h.EntryID, h.FirefighterID, h.ModelID, h.SessionDate, h.InitialPressure, h.FinalPressure, h.Duration, h.Location, h.CreatedAt, h.UpdatedAt); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func insert(ctx context.Context, tx execer, table, columns string, args ...any) error {
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := "INSERT INTO " + table + " (" + columns + ") VALUES (" + strings.Join(placeholders, ", ") + ")"
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// sortedValues returns map values ordered by key so inserts are deterministic.
func sortedValues[T any](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(m))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
