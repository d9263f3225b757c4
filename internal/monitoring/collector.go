package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/compliance-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of compliance health.
type MetricsSnapshot struct {
	// Scan metrics (within lookback window).
	Scans             int     `json:"scans"`
	Compliant         int     `json:"compliant"`
	NonCompliant      int     `json:"non_compliant"`
	NoncomplianceRate float64 `json:"noncompliance_rate"`
	AvgScore          float64 `json:"avg_score"`

	// Products not rescanned within StaleAfterHours.
	StaleProducts int `json:"stale_products"`

	// Metadata.
	LookbackHours   int       `json:"lookback_hours"`
	StaleAfterHours int       `json:"stale_after_hours"`
	CollectedAt     time.Time `json:"collected_at"`
}

// StatsQuerier is the slice of store.Store the collector reads.
type StatsQuerier interface {
	ScanStats(ctx context.Context, since time.Time) (*store.ScanStats, error)
	CountStale(ctx context.Context, before time.Time) (int, error)
}

// Collector gathers metrics from the scan history.
type Collector struct {
	store   StatsQuerier
	nowFunc func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st StatsQuerier) *Collector {
	return &Collector{store: st, nowFunc: time.Now}
}

// Collect gathers a snapshot over the lookback window. Products whose last
// scan is older than staleAfterHours count as stale; zero disables that
// check.
func (c *Collector) Collect(ctx context.Context, lookbackHours, staleAfterHours int) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		LookbackHours:   lookbackHours,
		StaleAfterHours: staleAfterHours,
		CollectedAt:     now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	stats, err := c.store.ScanStats(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: scan stats")
	}
	snap.Scans = stats.Scans
	snap.Compliant = stats.Compliant
	snap.NonCompliant = stats.NonCompliant
	snap.AvgScore = stats.AvgScore
	if stats.Scans > 0 {
		snap.NoncomplianceRate = float64(stats.NonCompliant) / float64(stats.Scans)
	}

	if staleAfterHours > 0 {
		before := now.Add(-time.Duration(staleAfterHours) * time.Hour)
		stale, err := c.store.CountStale(ctx, before)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: count stale")
		}
		snap.StaleProducts = stale
	}

	return snap, nil
}
