package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"model-serving-gateway/internal/core/domain"
	"model-serving-gateway/internal/core/ports/output"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS model_versions (
	id              BIGSERIAL PRIMARY KEY,
	name            TEXT             NOT NULL,
	version         TEXT             NOT NULL,
	accuracy        DOUBLE PRECISION NOT NULL,
	framework       TEXT             NOT NULL,
	artifact_path   TEXT             NOT NULL,
	artifact_digest TEXT             NOT NULL DEFAULT '',
	artifact_size   BIGINT           NOT NULL DEFAULT 0,
	file_name       TEXT             NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
	CONSTRAINT model_versions_name_version_key UNIQUE (name, version)
);
ALTER TABLE model_versions ADD COLUMN IF NOT EXISTS file_name TEXT NOT NULL DEFAULT '';
`

// Migrate creates the registry table if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate postgres schema: %w", err)
	}
	return nil
}

type modelVersionRepo struct {
	pool *pgxpool.Pool
}

func NewModelVersionRepository(pool *pgxpool.Pool) ports.ModelVersionRepository {
	return &modelVersionRepo{pool: pool}
}

const selectColumns = `id, name, version, accuracy, framework, artifact_path, artifact_digest, artifact_size, file_name, created_at`

func (r *modelVersionRepo) Create(ctx context.Context, version *domain.ModelVersion) error {
	query := `
		INSERT INTO model_versions
			(name, version, accuracy, framework, artifact_path, artifact_digest, artifact_size, file_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	err := r.pool.QueryRow(ctx, query,
		version.Name, version.Version, version.Accuracy, string(version.Framework),
		version.ArtifactPath, version.ArtifactDigest, version.ArtifactSize, version.FileName, version.CreatedAt,
	).Scan(&version.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateVersion
		}
		return fmt.Errorf("create model version: %w", err)
	}
	return nil
}

func (r *modelVersionRepo) GetByID(ctx context.Context, id int64) (*domain.ModelVersion, error) {
	query := `SELECT ` + selectColumns + ` FROM model_versions WHERE id = $1`
	v, err := scanVersion(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrModelNotFound
		}
		return nil, fmt.Errorf("get model version by id: %w", err)
	}
	return v, nil
}

func (r *modelVersionRepo) GetByNameVersion(ctx context.Context, name, version string) (*domain.ModelVersion, error) {
	query := `SELECT ` + selectColumns + ` FROM model_versions WHERE name = $1 AND version = $2`
	v, err := scanVersion(r.pool.QueryRow(ctx, query, name, version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrModelNotFound
		}
		return nil, fmt.Errorf("get model version by name and version: %w", err)
	}
	return v, nil
}

func (r *modelVersionRepo) List(ctx context.Context) ([]*domain.ModelVersion, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+selectColumns+` FROM model_versions ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list model versions: %w", err)
	}
	defer rows.Close()

	versions := []*domain.ModelVersion{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan model version row: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate model version rows: %w", err)
	}
	return versions, nil
}

func (r *modelVersionRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// scanVersion scans one row in selectColumns order; pgx.Rows satisfies pgx.Row.
func scanVersion(row pgx.Row) (*domain.ModelVersion, error) {
	v := &domain.ModelVersion{}
	var framework string
	err := row.Scan(
		&v.ID, &v.Name, &v.Version, &v.Accuracy, &framework,
		&v.ArtifactPath, &v.ArtifactDigest, &v.ArtifactSize, &v.FileName, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.Framework = domain.Framework(framework)
	v.CreatedAt = v.CreatedAt.UTC()
	return v, nil
}
