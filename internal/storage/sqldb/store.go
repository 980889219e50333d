// Package sqldb provides a feature and space store on SQLite or PostgreSQL.
// Every write adds a row per feature version; the head of a feature is its
// row with the highest version.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/heremaps/xyz-hub-sub003/internal/core/domain"
	"github.com/heremaps/xyz-hub-sub003/internal/core/ports"
	"github.com/heremaps/xyz-hub-sub003/internal/storage"
	"github.com/heremaps/xyz-hub-sub003/internal/storage/dialect"
)

// Store is a SQL implementation of ports.Store that supports multiple
// database dialects.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ ports.Store = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *Store) initSchema() error {
	doc := s.dialect.DocumentType()
	ts := s.dialect.TimestampType()
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS features (
space_id TEXT NOT NULL,
id TEXT NOT NULL,
version BIGINT NOT NULL,
deleted %s NOT NULL,
data %s NOT NULL,
updated_at %s NOT NULL,
PRIMARY KEY (space_id, id, version)
)`, s.dialect.BooleanType(), doc, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS spaces (
id TEXT PRIMARY KEY,
owner TEXT NOT NULL,
data %s NOT NULL,
updated_at %s NOT NULL
)`, doc, ts),
		`CREATE INDEX IF NOT EXISTS idx_features_space ON features(space_id)`,
		`CREATE INDEX IF NOT EXISTS idx_spaces_owner ON spaces(owner)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(s.dialect.Rebind(stmt)); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

type featureRow struct {
	ID      string `db:"id"`
	Version int64  `db:"version"`
	Deleted bool   `db:"deleted"`
	Data    string `db:"data"`
}

func (r featureRow) feature() (*domain.Feature, error) {
	f, err := domain.ParseFeature([]byte(r.Data))
	if err != nil {
		return nil, fmt.Errorf("feature %s version %d: %w", r.ID, r.Version, err)
	}
	return f, nil
}

func (s *Store) LoadFeatures(ctx context.Context, spaceID string, refs []ports.FeatureRef) ([]*domain.Feature, error) {
	defer storage.Observe(s.dialect.Name(), "load")()

	var heads []string
	var out []*domain.Feature
	for _, ref := range refs {
		if ref.Version == domain.NoVersion {
			heads = append(heads, ref.ID)
			continue
		}
		var row featureRow
		query := s.dialect.Rebind(`SELECT id, version, deleted, data FROM features
		          WHERE space_id = ? AND id = ? AND version = ?`)
		err := s.db.GetContext(ctx, &row, query, spaceID, ref.ID, ref.Version)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load feature version: %w", err)
		}
		f, err := row.feature()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if len(heads) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT f.id, f.version, f.deleted, f.data FROM features f
	          WHERE f.space_id = ? AND f.id IN (?)
	          AND f.version = (SELECT MAX(v.version) FROM features v WHERE v.space_id = f.space_id AND v.id = f.id)`,
		spaceID, heads)
	if err != nil {
		return nil, fmt.Errorf("failed to build head query: %w", err)
	}
	var rows []featureRow
	if err := s.db.SelectContext(ctx, &rows, s.dialect.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load features: %w", err)
	}
	for _, row := range rows {
		if row.Deleted {
			continue
		}
		f, err := row.feature()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *Store) CountFeatures(ctx context.Context, spaceID string) (int64, error) {
	var n int64
	query := s.dialect.Rebind(`SELECT COUNT(*) FROM features f
	          WHERE f.space_id = ? AND f.deleted = ?
	          AND f.version = (SELECT MAX(v.version) FROM features v WHERE v.space_id = f.space_id AND v.id = f.id)`)
	if err := s.db.GetContext(ctx, &n, query, spaceID, false); err != nil {
		return 0, fmt.Errorf("failed to count features: %w", err)
	}
	return n, nil
}

func (s *Store) WriteFeatures(ctx context.Context, req *ports.WriteRequest) (*ports.WriteResult, error) {
	defer storage.Observe(s.dialect.Name(), "write")()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res := &ports.WriteResult{}
	now := time.Now().UTC()
	for _, c := range storage.Plan(req) {
		id := c.Feature.ID()
		latest, headVersion, err := s.latest(ctx, tx, req.SpaceID, id)
		if err != nil {
			return nil, err
		}
		if msg := storage.Check(c, headVersion); msg != "" {
			res.Failed = append(res.Failed, ports.WriteFailure{ID: id, Message: msg})
			continue
		}

		written := storage.Stamp(c.Feature, latest)
		deleted := c.Kind == storage.ChangeDelete
		if deleted && !req.History {
			query := s.dialect.Rebind(`DELETE FROM features WHERE space_id = ? AND id = ?`)
			if _, err := tx.ExecContext(ctx, query, req.SpaceID, id); err != nil {
				return nil, fmt.Errorf("failed to delete feature: %w", err)
			}
			storage.Record(res, c, nil)
			continue
		}

		ok, err := s.insertVersion(ctx, tx, req.SpaceID, written, deleted, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			res.Failed = append(res.Failed, ports.WriteFailure{ID: id, Message: fmt.Sprintf("feature %s was modified concurrently", id)})
			continue
		}
		if !req.History {
			query := s.dialect.Rebind(`DELETE FROM features WHERE space_id = ? AND id = ? AND version < ?`)
			if _, err := tx.ExecContext(ctx, query, req.SpaceID, id, written.Version()); err != nil {
				return nil, fmt.Errorf("failed to prune feature history: %w", err)
			}
		}
		if deleted {
			written = nil
		}
		storage.Record(res, c, written)
	}

	if req.Atomic && len(res.Failed) > 0 {
		// the deferred rollback discards the applied changes
		return &ports.WriteResult{Failed: res.Failed}, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit write: %w", err)
	}
	return res, nil
}

// latest returns the highest stored version of a feature (0 when it never
// existed) and its head version (NoVersion when absent or deleted).
func (s *Store) latest(ctx context.Context, tx *sqlx.Tx, spaceID, id string) (int64, int64, error) {
	var row struct {
		Version int64 `db:"version"`
		Deleted bool  `db:"deleted"`
	}
	query := s.dialect.Rebind(`SELECT version, deleted FROM features
	          WHERE space_id = ? AND id = ?
	          ORDER BY version DESC LIMIT 1` + s.dialect.LockClause())
	err := tx.GetContext(ctx, &row, query, spaceID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.NoVersion, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read feature head: %w", err)
	}
	if row.Deleted {
		return row.Version, domain.NoVersion, nil
	}
	return row.Version, row.Version, nil
}

// insertVersion adds a feature row. It reports false when a concurrent
// writer already took the version.
func (s *Store) insertVersion(ctx context.Context, tx *sqlx.Tx, spaceID string, f *domain.Feature, deleted bool, now time.Time) (bool, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return false, fmt.Errorf("failed to marshal feature: %w", err)
	}
	query := s.dialect.Rebind(`INSERT INTO features (space_id, id, version, deleted, data, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?) ` + s.dialect.UpsertClause([]string{"space_id", "id", "version"}, nil))
	result, err := tx.ExecContext(ctx, query, spaceID, f.ID(), f.Version(), deleted, string(data), now)
	if err != nil {
		return false, fmt.Errorf("failed to insert feature: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert feature: %w", err)
	}
	return n == 1, nil
}

func (s *Store) DeleteSpaceFeatures(ctx context.Context, spaceID string) error {
	defer storage.Observe(s.dialect.Name(), "purge")()
	query := s.dialect.Rebind(`DELETE FROM features WHERE space_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, spaceID); err != nil {
		return fmt.Errorf("failed to delete features of space %s: %w", spaceID, err)
	}
	return nil
}

func (s *Store) GetSpace(ctx context.Context, id string) (*domain.Space, error) {
	var data string
	query := s.dialect.Rebind(`SELECT data FROM spaces WHERE id = ?`)
	err := s.db.GetContext(ctx, &data, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("space %s: %w", id, domain.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get space: %w", err)
	}
	var space domain.Space
	if err := json.Unmarshal([]byte(data), &space); err != nil {
		return nil, fmt.Errorf("failed to unmarshal space: %w", err)
	}
	return &space, nil
}

func (s *Store) ListSpaces(ctx context.Context, owner string) ([]*domain.Space, error) {
	var (
		docs []string
		err  error
	)
	if owner == "" {
		err = s.db.SelectContext(ctx, &docs, `SELECT data FROM spaces ORDER BY id`)
	} else {
		err = s.db.SelectContext(ctx, &docs, s.dialect.Rebind(`SELECT data FROM spaces WHERE owner = ? ORDER BY id`), owner)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list spaces: %w", err)
	}

	spaces := make([]*domain.Space, 0, len(docs))
	for _, data := range docs {
		var space domain.Space
		if err := json.Unmarshal([]byte(data), &space); err != nil {
			return nil, fmt.Errorf("failed to unmarshal space: %w", err)
		}
		spaces = append(spaces, &space)
	}
	return spaces, nil
}

func (s *Store) PutSpace(ctx context.Context, space *domain.Space) error {
	data, err := json.Marshal(space)
	if err != nil {
		return fmt.Errorf("failed to marshal space: %w", err)
	}
	query := s.dialect.Rebind(`INSERT INTO spaces (id, owner, data, updated_at) VALUES (?, ?, ?, ?) ` +
		s.dialect.UpsertClause([]string{"id"}, []string{"owner", "data", "updated_at"}))
	if _, err := s.db.ExecContext(ctx, query, space.ID, space.Owner, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to put space: %w", err)
	}
	return nil
}

func (s *Store) DeleteSpace(ctx context.Context, id string) error {
	query := s.dialect.Rebind(`DELETE FROM spaces WHERE id = ?`)
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete space: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("space %s: %w", id, domain.ErrRecordNotFound)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
