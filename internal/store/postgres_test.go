package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compliance-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var pgProductCols = []string{
	"id", "url", "source_ref", "category_ref", "product_name", "brand", "price", "weight",
	"country_of_origin", "manufacturer", "extracted_data", "compliance_status", "violation_count",
	"compliance_score", "last_scanned", "created_at", "updated_at",
}

var pgViolationCols = []string{
	"id", "product_id", "rule_id", "violation_type", "severity", "description",
	"rule_reference", "evidence", "status", "assigned_to", "resolution_notes", "detected_at", "resolved_at",
}

func TestPostgresStore_FindByIdentity_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM scanned_products WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	p, err := s.FindByIdentity(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByIdentity(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	scanned := baseTime

	mock.ExpectQuery(`SELECT .+ FROM scanned_products WHERE id = \$1`).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows(pgProductCols).AddRow(
			"p1", "https://shop.example/p/p1", "src", "tea", "Masala Chai", "Acme", model.Float64(199), "250 g",
			"India", "", []byte(`{"product_name":"Masala Chai","extras":{"price_text":"₹199"}}`), "non_compliant", 1,
			75.0, &scanned, baseTime, baseTime,
		))

	p, err := s.FindByIdentity(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Masala Chai", p.Name)
	assert.Equal(t, model.StatusNonCompliant, p.ComplianceStatus)
	assert.Equal(t, 199.0, *p.Price)
	assert.Equal(t, "₹199", p.Fields.Extras["price_text"])
	require.NotNil(t, p.LastScannedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Upsert_ReplacesViolationsInTx(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	vs := []model.Violation{
		testViolation("v1", "p1", "LM001", model.SeverityHigh),
		testViolation("v2", "p1", "LM003", model.SeverityMedium),
	}
	p := withOutcome(testProduct("p1", "src", baseTime), vs, 75)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "scanned_products" .+ ON CONFLICT \("id"\) DO UPDATE SET`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM violations WHERE product_id = \$1`).
		WithArgs("p1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"violations"}, pgViolationCols).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO scan_history`).
		WithArgs(pgxmock.AnyArg(), "p1", "src", "non_compliant", 75.0, 2, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	saved, err := s.Upsert(context.Background(), p, vs)
	require.NoError(t, err)
	assert.Equal(t, 2, saved.ViolationCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Upsert_NoViolationsSkipsCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	p := withOutcome(testProduct("p1", "src", baseTime), nil, 100)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "scanned_products"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM violations`).WithArgs("p1").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO scan_history`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	_, err := s.Upsert(context.Background(), p, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Upsert_RollsBackOnFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	vs := []model.Violation{testViolation("v1", "p1", "LM003", model.SeverityMedium)}
	p := withOutcome(testProduct("p1", "src", baseTime), vs, 90)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "scanned_products"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM violations`).WithArgs("p1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"violations"}, pgViolationCols).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := s.Upsert(context.Background(), p, vs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy violations")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListBySource(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM scanned_products\s+WHERE source_ref = \$1 ORDER BY created_at, id LIMIT \$2`).
		WithArgs("src", 100).
		WillReturnRows(pgxmock.NewRows(pgProductCols).
			AddRow("p1", "https://a/1", "src", "", "One", "", nil, "", "", "", []byte(`{}`), "compliant", 0,
				100.0, nil, baseTime, baseTime).
			AddRow("p2", "https://a/2", "src", "", "Two", "", nil, "", "", "", []byte(`{}`), "pending", 0,
				0.0, nil, baseTime, baseTime))

	got, err := s.ListBySource(context.Background(), "src", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p2", got[1].ID)
	assert.Nil(t, got[0].Price)
	assert.Nil(t, got[0].LastScannedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetViolation_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM violations WHERE id = \$1`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetViolation(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListViolations_Filter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`AND product_id = \$1 AND status = \$2 ORDER BY detected_at DESC, rule_id LIMIT \$3 OFFSET \$4`).
		WithArgs("p1", "open", 10, 5).
		WillReturnRows(pgxmock.NewRows(pgViolationCols).AddRow(
			"v1", "p1", "LM003", "country_of_origin", "medium", "Country of Origin: ...",
			"Rule 8", []byte(`{"rule_id":"LM003"}`), "open", "", "", baseTime, nil,
		))

	got, err := s.ListViolations(context.Background(), ViolationFilter{
		ProductID: "p1", Status: model.ViolationOpen, Limit: 10, Offset: 5,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "LM003", got[0].Evidence.RuleID)
	assert.Equal(t, model.SeverityMedium, got[0].Severity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateViolationStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM violations WHERE id = \$1 FOR UPDATE`).
		WithArgs("v1").
		WillReturnRows(pgxmock.NewRows(pgViolationCols).AddRow(
			"v1", "p1", "LM003", "country_of_origin", "medium", "desc",
			"Rule 8", []byte(`{}`), "open", "", "", baseTime, nil,
		))
	mock.ExpectExec(`UPDATE violations SET status = \$1`).
		WithArgs("dismissed", "", "duplicate listing", pgxmock.AnyArg(), "v1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	v, err := s.UpdateViolationStatus(context.Background(), "v1",
		StatusUpdate{Status: model.ViolationDismissed, Notes: "duplicate listing"})
	require.NoError(t, err)
	assert.Equal(t, model.ViolationDismissed, v.Status)
	require.NotNil(t, v.ResolvedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateViolationStatus_InvalidTransition(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM violations WHERE id = \$1 FOR UPDATE`).
		WithArgs("v1").
		WillReturnRows(pgxmock.NewRows(pgViolationCols).AddRow(
			"v1", "p1", "LM003", "country_of_origin", "medium", "desc",
			"Rule 8", []byte(`{}`), "resolved", "", "", baseTime, nil,
		))
	mock.ExpectRollback()

	_, err := s.UpdateViolationStatus(context.Background(), "v1", StatusUpdate{Status: model.ViolationInProgress})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ScanStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := baseTime.Add(-24 * time.Hour)

	mock.ExpectQuery(`FROM scan_history WHERE scanned_at >= \$3`).
		WithArgs("compliant", "non_compliant", since).
		WillReturnRows(pgxmock.NewRows([]string{"count", "compliant", "non_compliant", "avg"}).
			AddRow(10, 6, 4, 82.5))

	st, err := s.ScanStats(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 10, st.Scans)
	assert.Equal(t, 4, st.NonCompliant)
	assert.Equal(t, 82.5, st.AvgScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountStale(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM scanned_products WHERE last_scanned IS NULL OR last_scanned < \$1`).
		WithArgs(baseTime).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.CountStale(context.Background(), baseTime)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS scanned_products`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
