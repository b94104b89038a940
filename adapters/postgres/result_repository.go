// Package postgres persists run reports in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"gopade/domain/core"
	"gopade/domain/run"
	"gopade/internal/errors"
	"gopade/ports"
)

const defaultListLimit = 50

// Open connects to the database at url using the lib/pq driver.
func Open(ctx context.Context, url string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", url)
	if err != nil {
		return nil, dbError("connect", err)
	}
	return db, nil
}

// jsonDoc is a JSONB column holding raw JSON.
type jsonDoc []byte

// Value implements driver.Valuer. Text keeps lib/pq from sending bytea.
func (j jsonDoc) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner.
func (j *jsonDoc) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append(jsonDoc(nil), v...)
	case string:
		*j = jsonDoc(v)
	default:
		return fmt.Errorf("cannot scan %T into json", value)
	}
	return nil
}

// ResultRepository implements ports.ResultRepository on a pade_runs table.
type ResultRepository struct {
	db *sqlx.DB
}

var _ ports.ResultRepository = (*ResultRepository)(nil)

// NewResultRepository creates a repository. Run the Migrator first.
func NewResultRepository(db *sqlx.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// SaveReport inserts the report, replacing any report with the same run id.
func (r *ResultRepository) SaveReport(ctx context.Context, report *run.Report) error {
	if report == nil {
		return errors.InvalidInput("nil report")
	}
	m := report.Manifest
	if err := m.Validate(); err != nil {
		return errors.WithCode(errors.CodeValidationError, err)
	}
	manifest, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "failed to encode manifest")
	}
	body, err := json.Marshal(report)
	if err != nil {
		return errors.Wrap(err, "failed to encode report")
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO pade_runs (run_id, fingerprint, matrix_hash, schema_hash, config_hash, seed, code_version,
			statistic, iterations, features, excluded_features, manifest, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			statistic = excluded.statistic,
			iterations = excluded.iterations,
			features = excluded.features,
			excluded_features = excluded.excluded_features,
			manifest = excluded.manifest,
			report = excluded.report
	`), string(m.RunID), m.Fingerprint.String(), m.MatrixHash.String(), m.SchemaHash.String(), m.ConfigHash.String(),
		m.Seed, m.CodeVersion, string(report.Config.Statistic), report.Resampling.Iterations,
		len(report.Features), report.Excluded, jsonDoc(manifest), jsonDoc(body))
	if err != nil {
		return dbError("save report", err)
	}
	return nil
}

// GetReport loads a report by run id.
func (r *ResultRepository) GetReport(ctx context.Context, runID core.RunID) (*run.Report, error) {
	var body jsonDoc
	err := r.db.GetContext(ctx, &body, r.db.Rebind("SELECT report FROM pade_runs WHERE run_id = ?"), string(runID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithCode(errors.CodeNotFound, core.NewNotFoundError("run", string(runID)))
	}
	if err != nil {
		return nil, dbError("get report", err)
	}
	var report run.Report
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, errors.Wrapf(err, "failed to decode report %s", runID)
	}
	return &report, nil
}

// ListRuns returns manifests newest first. Run ids are time ordered.
func (r *ResultRepository) ListRuns(ctx context.Context, limit, offset int) ([]run.Manifest, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	var docs []jsonDoc
	err := r.db.SelectContext(ctx, &docs,
		r.db.Rebind("SELECT manifest FROM pade_runs ORDER BY run_id DESC LIMIT ? OFFSET ?"), limit, offset)
	if err != nil {
		return nil, dbError("list runs", err)
	}
	return decodeManifests(docs)
}

// FindByFingerprint returns the manifests of earlier runs whose results
// must be identical to a run with fingerprint fp.
func (r *ResultRepository) FindByFingerprint(ctx context.Context, fp core.Hash) ([]run.Manifest, error) {
	var docs []jsonDoc
	err := r.db.SelectContext(ctx, &docs,
		r.db.Rebind("SELECT manifest FROM pade_runs WHERE fingerprint = ? ORDER BY run_id DESC"), fp.String())
	if err != nil {
		return nil, dbError("find by fingerprint", err)
	}
	return decodeManifests(docs)
}

func decodeManifests(docs []jsonDoc) ([]run.Manifest, error) {
	out := make([]run.Manifest, 0, len(docs))
	for _, d := range docs {
		var m run.Manifest
		if err := json.Unmarshal(d, &m); err != nil {
			return nil, errors.Wrap(err, "failed to decode manifest")
		}
		out = append(out, m)
	}
	return out, nil
}

// dbError tags err as a database error, naming the postgres error class
// when there is one.
func dbError(op string, err error) error {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return errors.WithCode(errors.CodeDatabaseError,
			fmt.Errorf("%s: postgres %s (%s): %w", op, pqErr.Code.Name(), pqErr.Code, err))
	}
	return errors.WithCode(errors.CodeDatabaseError, fmt.Errorf("%s: %w", op, err))
}
