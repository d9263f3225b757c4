package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compliance-cli/internal/db"
	"github.com/sells-group/compliance-cli/internal/model"
	"github.com/sells-group/compliance-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`

	// ConnectRetry governs the initial ping. Zero value uses the defaults.
	ConnectRetry resilience.RetryConfig `yaml:"-" mapstructure:"-"`
}

// NewPostgres creates a PostgresStore with a connection pool. The initial
// ping is retried so a database that is still starting does not fail the
// command outright.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	retryCfg := resilience.DefaultRetryConfig()
	if poolCfg != nil {
		if poolCfg.ConnectRetry.MaxAttempts > 0 {
			retryCfg = poolCfg.ConnectRetry
		}
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}

	retryCfg.ShouldRetry = resilience.IsTransient
	retryCfg.OnRetry = resilience.RetryLogger("postgres", "ping")
	if err := resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
		return pool.Ping(ctx)
	}); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS scanned_products (
	id                TEXT PRIMARY KEY,
	url               TEXT NOT NULL,
	source_ref        TEXT NOT NULL DEFAULT '',
	category_ref      TEXT NOT NULL DEFAULT '',
	product_name      TEXT NOT NULL,
	brand             TEXT NOT NULL DEFAULT '',
	price             DOUBLE PRECISION,
	weight            TEXT NOT NULL DEFAULT '',
	country_of_origin TEXT NOT NULL DEFAULT '',
	manufacturer      TEXT NOT NULL DEFAULT '',
	extracted_data    JSONB NOT NULL DEFAULT '{}',
	compliance_status TEXT NOT NULL DEFAULT 'pending',
	violation_count   INTEGER NOT NULL DEFAULT 0,
	compliance_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_scanned      TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS violations (
	id               TEXT PRIMARY KEY,
	product_id       TEXT NOT NULL REFERENCES scanned_products(id) ON DELETE CASCADE,
	rule_id          TEXT NOT NULL,
	violation_type   TEXT NOT NULL,
	severity         TEXT NOT NULL,
	description      TEXT NOT NULL,
	rule_reference   TEXT NOT NULL DEFAULT '',
	evidence         JSONB NOT NULL DEFAULT '{}',
	status           TEXT NOT NULL DEFAULT 'open',
	assigned_to      TEXT NOT NULL DEFAULT '',
	resolution_notes TEXT NOT NULL DEFAULT '',
	detected_at      TIMESTAMPTZ NOT NULL,
	resolved_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS scan_history (
	id                TEXT PRIMARY KEY,
	product_id        TEXT NOT NULL REFERENCES scanned_products(id) ON DELETE CASCADE,
	source_ref        TEXT NOT NULL DEFAULT '',
	compliance_status TEXT NOT NULL,
	compliance_score  DOUBLE PRECISION NOT NULL,
	violation_count   INTEGER NOT NULL,
	rule_ids          JSONB NOT NULL DEFAULT '[]',
	scanned_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scanned_products_source ON scanned_products(source_ref);
CREATE INDEX IF NOT EXISTS idx_scanned_products_last_scanned ON scanned_products(last_scanned);
CREATE INDEX IF NOT EXISTS idx_violations_product ON violations(product_id);
CREATE INDEX IF NOT EXISTS idx_violations_status ON violations(status);
CREATE INDEX IF NOT EXISTS idx_scan_history_product ON scan_history(product_id, scanned_at DESC);
CREATE INDEX IF NOT EXISTS idx_scan_history_scanned_at ON scan_history(scanned_at);
`

var productColumnList = []string{
	"id", "url", "source_ref", "category_ref", "product_name", "brand", "price", "weight",
	"country_of_origin", "manufacturer", "extracted_data", "compliance_status", "violation_count",
	"compliance_score", "last_scanned", "created_at", "updated_at",
}

var violationColumnList = []string{
	"id", "product_id", "rule_id", "violation_type", "severity", "description",
	"rule_reference", "evidence", "status", "assigned_to", "resolution_notes", "detected_at", "resolved_at",
}

// created_at is kept from the first insert.
var productUpdateColumns = []string{
	"url", "source_ref", "category_ref", "product_name", "brand", "price", "weight",
	"country_of_origin", "manufacturer", "extracted_data", "compliance_status", "violation_count",
	"compliance_score", "last_scanned", "updated_at",
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) FindByIdentity(ctx context.Context, id string) (*model.ScannedProduct, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM scanned_products WHERE id = $1`, id)
	p, err := scanPgProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find product %s", id)
	}
	return p, nil
}

// Upsert writes the product, replaces its violation set via COPY and
// appends a history row in one transaction.
func (s *PostgresStore) Upsert(ctx context.Context, p *model.ScannedProduct, violations []model.Violation) (*model.ScannedProduct, error) {
	fieldsJSON, err := json.Marshal(p.Fields)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal extracted data")
	}
	hist := historyRecord(uuid.NewString(), p, violations)
	ruleIDsJSON, err := json.Marshal(hist.RuleIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal rule ids")
	}

	rows := make([][]any, len(violations))
	for i, v := range violations {
		evidence, err := json.Marshal(v.Evidence)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: marshal evidence %s", v.ID)
		}
		rows[i] = []any{
			v.ID, p.ID, v.RuleID, string(v.Category), string(v.Severity), v.Description,
			v.Reference, evidence, string(v.Status), v.AssignedTo, v.ResolutionNotes,
			v.DetectedAt.UTC(), v.ResolvedAt,
		}
	}

	upsertSQL, err := db.UpsertSQL("scanned_products", productColumnList, []string{"id"}, productUpdateColumns)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build upsert")
	}

	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, upsertSQL,
			p.ID, p.URL, p.SourceRef, p.CategoryRef, p.Name, p.Brand, p.Price, p.Weight,
			p.CountryOfOrigin, p.Manufacturer, fieldsJSON, string(p.ComplianceStatus), p.ViolationCount,
			p.Score, p.LastScannedAt, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert product %s", p.ID)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM violations WHERE product_id = $1`, p.ID); err != nil {
			return eris.Wrapf(err, "postgres: clear violations for %s", p.ID)
		}

		n, err := db.CopyFrom(ctx, tx, "violations", violationColumnList, rows)
		if err != nil {
			return eris.Wrap(err, "postgres: copy violations")
		}
		if int(n) != len(rows) {
			return eris.Errorf("postgres: copied %d of %d violations", n, len(rows))
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO scan_history (id, product_id, source_ref, compliance_status, compliance_score, violation_count, rule_ids, scanned_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			hist.ID, hist.ProductID, hist.SourceRef, string(hist.ComplianceStatus), hist.Score,
			hist.ViolationCount, ruleIDsJSON, hist.ScannedAt.UTC(),
		)
		return eris.Wrap(err, "postgres: insert scan history")
	})
	if err != nil {
		return nil, err
	}

	out := *p
	return &out, nil
}

func (s *PostgresStore) ListBySource(ctx context.Context, sourceRef string, limit int) ([]model.ScannedProduct, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+productColumns+` FROM scanned_products
		 WHERE source_ref = $1 ORDER BY created_at, id LIMIT $2`,
		sourceRef, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list products")
	}
	defer rows.Close()

	var out []model.ScannedProduct
	for rows.Next() {
		p, err := scanPgProduct(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan product")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list products iterate")
}

func (s *PostgresStore) GetViolation(ctx context.Context, id string) (*model.Violation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+violationColumns+` FROM violations WHERE id = $1`, id)
	v, err := scanPgViolation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "violation %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get violation %s", id)
	}
	return v, nil
}

func (s *PostgresStore) ListViolations(ctx context.Context, filter ViolationFilter) ([]model.Violation, error) {
	query := `SELECT ` + violationColumns + ` FROM violations WHERE 1=1`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		query += " AND " + clause + " = $" + strconv.Itoa(len(args))
	}

	if filter.ProductID != "" {
		add("product_id", filter.ProductID)
	}
	if filter.Status != "" {
		add("status", string(filter.Status))
	}
	if filter.Severity != "" {
		add("severity", string(filter.Severity))
	}
	if filter.RuleID != "" {
		add("rule_id", filter.RuleID)
	}
	args = append(args, listLimit(filter.Limit))
	query += ` ORDER BY detected_at DESC, rule_id LIMIT $` + strconv.Itoa(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list violations")
	}
	defer rows.Close()

	var out []model.Violation
	for rows.Next() {
		v, err := scanPgViolation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan violation")
		}
		out = append(out, *v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list violations iterate")
}

func (s *PostgresStore) UpdateViolationStatus(ctx context.Context, id string, update StatusUpdate) (*model.Violation, error) {
	var out *model.Violation
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		v, err := scanPgViolation(tx.QueryRow(ctx,
			`SELECT `+violationColumns+` FROM violations WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "violation %s", id)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: load violation %s", id)
		}

		if err := applyUpdate(v, update, time.Now()); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx,
			`UPDATE violations SET status = $1, assigned_to = $2, resolution_notes = $3, resolved_at = $4 WHERE id = $5`,
			string(v.Status), v.AssignedTo, v.ResolutionNotes, v.ResolvedAt, id,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: update violation %s", id)
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrNotFound, "violation %s", id)
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("postgres: violation status updated",
		zap.String("violation_id", id),
		zap.String("status", string(out.Status)),
	)
	return out, nil
}

func (s *PostgresStore) ListScanHistory(ctx context.Context, productID string, limit int) ([]model.ScanRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, source_ref, compliance_status, compliance_score, violation_count, rule_ids, scanned_at
		 FROM scan_history WHERE product_id = $1 ORDER BY scanned_at DESC LIMIT $2`,
		productID, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scan history")
	}
	defer rows.Close()

	var out []model.ScanRecord
	for rows.Next() {
		var r model.ScanRecord
		var ruleIDs []byte
		if err := rows.Scan(&r.ID, &r.ProductID, &r.SourceRef, &r.ComplianceStatus, &r.Score,
			&r.ViolationCount, &ruleIDs, &r.ScannedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan history row")
		}
		if err := json.Unmarshal(ruleIDs, &r.RuleIDs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal rule ids")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list scan history iterate")
}

func (s *PostgresStore) ScanStats(ctx context.Context, since time.Time) (*ScanStats, error) {
	var st ScanStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE compliance_status = $1),
			COUNT(*) FILTER (WHERE compliance_status = $2),
			COALESCE(AVG(compliance_score), 0)
		 FROM scan_history WHERE scanned_at >= $3`,
		string(model.StatusCompliant), string(model.StatusNonCompliant), since.UTC(),
	).Scan(&st.Scans, &st.Compliant, &st.NonCompliant, &st.AvgScore)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan stats")
	}
	return &st, nil
}

func (s *PostgresStore) CountStale(ctx context.Context, before time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM scanned_products WHERE last_scanned IS NULL OR last_scanned < $1`,
		before.UTC(),
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count stale")
}

func scanPgProduct(row pgx.Row) (*model.ScannedProduct, error) {
	var p model.ScannedProduct
	var fieldsJSON []byte
	err := row.Scan(&p.ID, &p.URL, &p.SourceRef, &p.CategoryRef, &p.Name, &p.Brand, &p.Price, &p.Weight,
		&p.CountryOfOrigin, &p.Manufacturer, &fieldsJSON, &p.ComplianceStatus, &p.ViolationCount,
		&p.Score, &p.LastScannedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &p.Fields); err != nil {
			return nil, eris.Wrap(err, "unmarshal extracted data")
		}
	}
	return &p, nil
}

func scanPgViolation(row pgx.Row) (*model.Violation, error) {
	var v model.Violation
	var evidence []byte
	err := row.Scan(&v.ID, &v.ProductID, &v.RuleID, &v.Category, &v.Severity, &v.Description,
		&v.Reference, &evidence, &v.Status, &v.AssignedTo, &v.ResolutionNotes, &v.DetectedAt, &v.ResolvedAt)
	if err != nil {
		return nil, err
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &v.Evidence); err != nil {
			return nil, eris.Wrap(err, "unmarshal evidence")
		}
	}
	return &v, nil
}
