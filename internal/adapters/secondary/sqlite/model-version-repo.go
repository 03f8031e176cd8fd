package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"model-serving-gateway/internal/core/domain"
	"model-serving-gateway/internal/core/ports/output"
)

const schema = `
CREATE TABLE IF NOT EXISTS model_versions (
  id              INTEGER PRIMARY KEY AUTOINCREMENT,
  name            TEXT    NOT NULL,
  version         TEXT    NOT NULL,
  accuracy        REAL    NOT NULL,
  framework       TEXT    NOT NULL,
  artifact_path   TEXT    NOT NULL,
  artifact_digest TEXT    NOT NULL DEFAULT '',
  artifact_size   INTEGER NOT NULL DEFAULT 0,
  file_name       TEXT    NOT NULL DEFAULT '',
  created_at      INTEGER NOT NULL,
  UNIQUE (name, version)
);
`

// DB is an open sqlite registry database.
type DB struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a private in-memory database.
func Open(path string) (*DB, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// One writer keeps sqlite from returning SQLITE_BUSY and keeps a
	// ":memory:" database alive on a single connection.
	db.SetMaxOpenConns(1)

	d := &DB{db: db}
	if err := d.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate sqlite schema: %w", err)
	}

	// Databases created before uploads kept their file name lack the column.
	var n int
	err := d.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM pragma_table_info('model_versions') WHERE name = 'file_name'`)
	if err != nil {
		return fmt.Errorf("inspect sqlite schema: %w", err)
	}
	if n == 0 {
		if _, err := d.db.ExecContext(ctx, `ALTER TABLE model_versions ADD COLUMN file_name TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("add file_name column: %w", err)
		}
	}
	return nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

type modelVersionRepo struct {
	db *sqlx.DB
}

func NewModelVersionRepository(d *DB) ports.ModelVersionRepository {
	return &modelVersionRepo{db: d.db}
}

type modelVersionRow struct {
	ID             int64   `db:"id"`
	Name           string  `db:"name"`
	Version        string  `db:"version"`
	Accuracy       float64 `db:"accuracy"`
	Framework      string  `db:"framework"`
	ArtifactPath   string  `db:"artifact_path"`
	ArtifactDigest string  `db:"artifact_digest"`
	ArtifactSize   int64   `db:"artifact_size"`
	FileName       string  `db:"file_name"`
	CreatedAt      int64   `db:"created_at"`
}

func (r modelVersionRow) toDomain() *domain.ModelVersion {
	return &domain.ModelVersion{
		ID:             r.ID,
		Name:           r.Name,
		Version:        r.Version,
		Accuracy:       r.Accuracy,
		Framework:      domain.Framework(r.Framework),
		ArtifactPath:   r.ArtifactPath,
		ArtifactDigest: r.ArtifactDigest,
		ArtifactSize:   r.ArtifactSize,
		FileName:       r.FileName,
		CreatedAt:      time.Unix(0, r.CreatedAt).UTC(),
	}
}

const selectColumns = `id, name, version, accuracy, framework, artifact_path, artifact_digest, artifact_size, file_name, created_at`

func (r *modelVersionRepo) Create(ctx context.Context, version *domain.ModelVersion) error {
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO model_versions
			(name, version, accuracy, framework, artifact_path, artifact_digest, artifact_size, file_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	err := r.db.QueryRowxContext(ctx, query,
		version.Name, version.Version, version.Accuracy, string(version.Framework),
		version.ArtifactPath, version.ArtifactDigest, version.ArtifactSize, version.FileName,
		version.CreatedAt.UnixNano(),
	).Scan(&version.ID)
	if err != nil {
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return domain.ErrDuplicateVersion
		}
		return fmt.Errorf("create model version: %w", err)
	}
	return nil
}

func (r *modelVersionRepo) GetByID(ctx context.Context, id int64) (*domain.ModelVersion, error) {
	var row modelVersionRow
	err := r.db.GetContext(ctx, &row, `SELECT `+selectColumns+` FROM model_versions WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrModelNotFound
		}
		return nil, fmt.Errorf("get model version by id: %w", err)
	}
	return row.toDomain(), nil
}

func (r *modelVersionRepo) GetByNameVersion(ctx context.Context, name, version string) (*domain.ModelVersion, error) {
	var row modelVersionRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+selectColumns+` FROM model_versions WHERE name = ? AND version = ?`, name, version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrModelNotFound
		}
		return nil, fmt.Errorf("get model version by name and version: %w", err)
	}
	return row.toDomain(), nil
}

func (r *modelVersionRepo) List(ctx context.Context) ([]*domain.ModelVersion, error) {
	var rows []modelVersionRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+selectColumns+` FROM model_versions ORDER BY id ASC`); err != nil {
		return nil, fmt.Errorf("list model versions: %w", err)
	}

	versions := make([]*domain.ModelVersion, 0, len(rows))
	for _, row := range rows {
		versions = append(versions, row.toDomain())
	}
	return versions, nil
}

func (r *modelVersionRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
