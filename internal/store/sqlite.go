package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/compliance-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// SQLite allows one writer; batch workers queue on the pool instead of
	// failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS scanned_products (
	id                TEXT PRIMARY KEY,
	url               TEXT NOT NULL,
	source_ref        TEXT NOT NULL DEFAULT '',
	category_ref      TEXT NOT NULL DEFAULT '',
	product_name      TEXT NOT NULL,
	brand             TEXT NOT NULL DEFAULT '',
	price             REAL,
	weight            TEXT NOT NULL DEFAULT '',
	country_of_origin TEXT NOT NULL DEFAULT '',
	manufacturer      TEXT NOT NULL DEFAULT '',
	extracted_data    TEXT NOT NULL DEFAULT '{}',
	compliance_status TEXT NOT NULL DEFAULT 'pending',
	violation_count   INTEGER NOT NULL DEFAULT 0,
	compliance_score  REAL NOT NULL DEFAULT 0,
	last_scanned      DATETIME,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS violations (
	id               TEXT PRIMARY KEY,
	product_id       TEXT NOT NULL REFERENCES scanned_products(id) ON DELETE CASCADE,
	rule_id          TEXT NOT NULL,
	violation_type   TEXT NOT NULL,
	severity         TEXT NOT NULL,
	description      TEXT NOT NULL,
	rule_reference   TEXT NOT NULL DEFAULT '',
	evidence         TEXT NOT NULL DEFAULT '{}',
	status           TEXT NOT NULL DEFAULT 'open',
	assigned_to      TEXT NOT NULL DEFAULT '',
	resolution_notes TEXT NOT NULL DEFAULT '',
	detected_at      DATETIME NOT NULL,
	resolved_at      DATETIME
);

CREATE TABLE IF NOT EXISTS scan_history (
	id                TEXT PRIMARY KEY,
	product_id        TEXT NOT NULL REFERENCES scanned_products(id) ON DELETE CASCADE,
	source_ref        TEXT NOT NULL DEFAULT '',
	compliance_status TEXT NOT NULL,
	compliance_score  REAL NOT NULL,
	violation_count   INTEGER NOT NULL,
	rule_ids          TEXT NOT NULL DEFAULT '[]',
	scanned_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scanned_products_source ON scanned_products(source_ref);
CREATE INDEX IF NOT EXISTS idx_scanned_products_last_scanned ON scanned_products(last_scanned);
CREATE INDEX IF NOT EXISTS idx_violations_product ON violations(product_id);
CREATE INDEX IF NOT EXISTS idx_violations_status ON violations(status);
CREATE INDEX IF NOT EXISTS idx_scan_history_product ON scan_history(product_id);
CREATE INDEX IF NOT EXISTS idx_scan_history_scanned_at ON scan_history(scanned_at);
`

const productColumns = `id, url, source_ref, category_ref, product_name, brand, price, weight,
	country_of_origin, manufacturer, extracted_data, compliance_status, violation_count,
	compliance_score, last_scanned, created_at, updated_at`

const violationColumns = `id, product_id, rule_id, violation_type, severity, description,
	rule_reference, evidence, status, assigned_to, resolution_notes, detected_at, resolved_at`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FindByIdentity(ctx context.Context, id string) (*model.ScannedProduct, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM scanned_products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find product %s", id)
	}
	return p, nil
}

// Upsert writes the product, replaces its violation set and appends a
// history row in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, p *model.ScannedProduct, violations []model.Violation) (*model.ScannedProduct, error) {
	fieldsJSON, err := json.Marshal(p.Fields)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal extracted data")
	}
	hist := historyRecord(uuid.NewString(), p, violations)
	ruleIDsJSON, err := json.Marshal(hist.RuleIDs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal rule ids")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO scanned_products (`+productColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			source_ref = excluded.source_ref,
			category_ref = excluded.category_ref,
			product_name = excluded.product_name,
			brand = excluded.brand,
			price = excluded.price,
			weight = excluded.weight,
			country_of_origin = excluded.country_of_origin,
			manufacturer = excluded.manufacturer,
			extracted_data = excluded.extracted_data,
			compliance_status = excluded.compliance_status,
			violation_count = excluded.violation_count,
			compliance_score = excluded.compliance_score,
			last_scanned = excluded.last_scanned,
			updated_at = excluded.updated_at`,
		p.ID, p.URL, p.SourceRef, p.CategoryRef, p.Name, p.Brand, nullFloat(p.Price), p.Weight,
		p.CountryOfOrigin, p.Manufacturer, string(fieldsJSON), string(p.ComplianceStatus), p.ViolationCount,
		p.Score, nullTime(p.LastScannedAt), p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert product %s", p.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM violations WHERE product_id = ?`, p.ID); err != nil {
		return nil, eris.Wrapf(err, "sqlite: clear violations for %s", p.ID)
	}

	if len(violations) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO violations (`+violationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: prepare violation insert")
		}
		defer stmt.Close() //nolint:errcheck

		for _, v := range violations {
			evidence, err := json.Marshal(v.Evidence)
			if err != nil {
				return nil, eris.Wrapf(err, "sqlite: marshal evidence %s", v.ID)
			}
			_, err = stmt.ExecContext(ctx,
				v.ID, p.ID, v.RuleID, string(v.Category), string(v.Severity), v.Description,
				v.Reference, string(evidence), string(v.Status), v.AssignedTo, v.ResolutionNotes,
				v.DetectedAt.UTC(), nullTime(v.ResolvedAt),
			)
			if err != nil {
				return nil, eris.Wrapf(err, "sqlite: insert violation %s", v.RuleID)
			}
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO scan_history (id, product_id, source_ref, compliance_status, compliance_score, violation_count, rule_ids, scanned_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		hist.ID, hist.ProductID, hist.SourceRef, string(hist.ComplianceStatus), hist.Score,
		hist.ViolationCount, string(ruleIDsJSON), hist.ScannedAt.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert scan history")
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit upsert")
	}

	out := *p
	return &out, nil
}

func (s *SQLiteStore) ListBySource(ctx context.Context, sourceRef string, limit int) ([]model.ScannedProduct, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM scanned_products
		 WHERE source_ref = ? ORDER BY created_at, id LIMIT ?`,
		sourceRef, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list products")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ScannedProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan product")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list products iterate")
}

func (s *SQLiteStore) GetViolation(ctx context.Context, id string) (*model.Violation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+violationColumns+` FROM violations WHERE id = ?`, id)
	v, err := scanViolation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "violation %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get violation %s", id)
	}
	return v, nil
}

func (s *SQLiteStore) ListViolations(ctx context.Context, filter ViolationFilter) ([]model.Violation, error) {
	query := `SELECT ` + violationColumns + ` FROM violations WHERE 1=1`
	var args []any

	if filter.ProductID != "" {
		query += ` AND product_id = ?`
		args = append(args, filter.ProductID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(filter.Severity))
	}
	if filter.RuleID != "" {
		query += ` AND rule_id = ?`
		args = append(args, filter.RuleID)
	}
	query += ` ORDER BY detected_at DESC, rule_id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list violations")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Violation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan violation")
		}
		out = append(out, *v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list violations iterate")
}

func (s *SQLiteStore) UpdateViolationStatus(ctx context.Context, id string, update StatusUpdate) (*model.Violation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	v, err := scanViolation(tx.QueryRowContext(ctx,
		`SELECT `+violationColumns+` FROM violations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "violation %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load violation %s", id)
	}

	if err := applyUpdate(v, update, time.Now()); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE violations SET status = ?, assigned_to = ?, resolution_notes = ?, resolved_at = ? WHERE id = ?`,
		string(v.Status), v.AssignedTo, v.ResolutionNotes, nullTime(v.ResolvedAt), id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update violation %s", id)
	}
	if err := checkRowsAffected(res, "violation", id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit violation update")
	}

	zap.L().Info("sqlite: violation status updated",
		zap.String("violation_id", id),
		zap.String("status", string(v.Status)),
	)
	return v, nil
}

func (s *SQLiteStore) ListScanHistory(ctx context.Context, productID string, limit int) ([]model.ScanRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, source_ref, compliance_status, compliance_score, violation_count, rule_ids, scanned_at
		 FROM scan_history WHERE product_id = ? ORDER BY scanned_at DESC LIMIT ?`,
		productID, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scan history")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ScanRecord
	for rows.Next() {
		var r model.ScanRecord
		var ruleIDs string
		if err := rows.Scan(&r.ID, &r.ProductID, &r.SourceRef, &r.ComplianceStatus, &r.Score,
			&r.ViolationCount, &ruleIDs, &r.ScannedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history row")
		}
		if err := json.Unmarshal([]byte(ruleIDs), &r.RuleIDs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal rule ids")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list scan history iterate")
}

func (s *SQLiteStore) ScanStats(ctx context.Context, since time.Time) (*ScanStats, error) {
	var st ScanStats
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN compliance_status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN compliance_status = ? THEN 1 ELSE 0 END), 0),
			AVG(compliance_score)
		 FROM scan_history WHERE scanned_at >= ?`,
		string(model.StatusCompliant), string(model.StatusNonCompliant), since.UTC(),
	).Scan(&st.Scans, &st.Compliant, &st.NonCompliant, &avg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan stats")
	}
	st.AvgScore = avg.Float64
	return &st, nil
}

func (s *SQLiteStore) CountStale(ctx context.Context, before time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scanned_products WHERE last_scanned IS NULL OR last_scanned < ?`,
		before.UTC(),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count stale")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanProduct(row scannable) (*model.ScannedProduct, error) {
	var p model.ScannedProduct
	var price sql.NullFloat64
	var fieldsJSON string
	var lastScanned sql.NullTime

	err := row.Scan(&p.ID, &p.URL, &p.SourceRef, &p.CategoryRef, &p.Name, &p.Brand, &price, &p.Weight,
		&p.CountryOfOrigin, &p.Manufacturer, &fieldsJSON, &p.ComplianceStatus, &p.ViolationCount,
		&p.Score, &lastScanned, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if price.Valid {
		p.Price = model.Float64(price.Float64)
	}
	if lastScanned.Valid {
		t := lastScanned.Time.UTC()
		p.LastScannedAt = &t
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &p.Fields); err != nil {
		return nil, eris.Wrap(err, "unmarshal extracted data")
	}
	return &p, nil
}

func scanViolation(row scannable) (*model.Violation, error) {
	var v model.Violation
	var evidence string
	var resolvedAt sql.NullTime

	err := row.Scan(&v.ID, &v.ProductID, &v.RuleID, &v.Category, &v.Severity, &v.Description,
		&v.Reference, &evidence, &v.Status, &v.AssignedTo, &v.ResolutionNotes, &v.DetectedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		v.ResolvedAt = &t
	}
	if err := json.Unmarshal([]byte(evidence), &v.Evidence); err != nil {
		return nil, eris.Wrap(err, "unmarshal evidence")
	}
	return &v, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
