package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/compliance-cli/internal/model"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = eris.New("store: not found")

// ViolationFilter specifies criteria for listing violations.
type ViolationFilter struct {
	ProductID string                `json:"product_id,omitempty"`
	Status    model.ViolationStatus `json:"status,omitempty"`
	Severity  model.Severity        `json:"severity,omitempty"`
	RuleID    string                `json:"rule_id,omitempty"`
	Limit     int                   `json:"limit,omitempty"`
	Offset    int                   `json:"offset,omitempty"`
}

// StatusUpdate moves a violation through its workflow.
type StatusUpdate struct {
	Status   model.ViolationStatus `json:"status"`
	Assignee string                `json:"assigned_to,omitempty"`
	Notes    string                `json:"resolution_notes,omitempty"`
}

// ScanStats aggregates scan history over a window.
type ScanStats struct {
	Scans        int     `json:"scans"`
	Compliant    int     `json:"compliant"`
	NonCompliant int     `json:"non_compliant"`
	AvgScore     float64 `json:"avg_score"`
}

// Store defines the persistence interface for scanned products and their
// violations.
type Store interface {
	// Products
	FindByIdentity(ctx context.Context, id string) (*model.ScannedProduct, error)
	Upsert(ctx context.Context, p *model.ScannedProduct, violations []model.Violation) (*model.ScannedProduct, error)
	ListBySource(ctx context.Context, sourceRef string, limit int) ([]model.ScannedProduct, error)

	// Violations
	GetViolation(ctx context.Context, id string) (*model.Violation, error)
	ListViolations(ctx context.Context, filter ViolationFilter) ([]model.Violation, error)
	UpdateViolationStatus(ctx context.Context, id string, update StatusUpdate) (*model.Violation, error)

	// History
	ListScanHistory(ctx context.Context, productID string, limit int) ([]model.ScanRecord, error)
	ScanStats(ctx context.Context, since time.Time) (*ScanStats, error)
	CountStale(ctx context.Context, before time.Time) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// historyRecord builds the append-only row written with every upsert.
func historyRecord(id string, p *model.ScannedProduct, violations []model.Violation) model.ScanRecord {
	ids := make([]string, len(violations))
	for i, v := range violations {
		ids[i] = v.RuleID
	}
	scannedAt := p.UpdatedAt
	if p.LastScannedAt != nil {
		scannedAt = *p.LastScannedAt
	}
	return model.ScanRecord{
		ID:               id,
		ProductID:        p.ID,
		SourceRef:        p.SourceRef,
		ComplianceStatus: p.ComplianceStatus,
		Score:            p.Score,
		ViolationCount:   len(violations),
		RuleIDs:          ids,
		ScannedAt:        scannedAt,
	}
}

// applyUpdate loads, transitions and returns the violation to persist.
func applyUpdate(v *model.Violation, update StatusUpdate, now time.Time) error {
	return v.ApplyTransition(update.Status, update.Assignee, update.Notes, now)
}
