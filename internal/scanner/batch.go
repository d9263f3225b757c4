package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/compliance-cli/internal/model"
	"github.com/sells-group/compliance-cli/internal/resilience"
)

// DefaultConcurrency bounds batch workers when none is configured.
const DefaultConcurrency = 10

// Item outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// ProductScanner runs a single scan.
type ProductScanner interface {
	Scan(ctx context.Context, req Request) (*Result, error)
}

// ProductLister loads the products a batch rescans.
type ProductLister interface {
	ListBySource(ctx context.Context, sourceRef string, limit int) ([]model.ScannedProduct, error)
}

// Item is the per-product detail of a batch run.
type Item struct {
	Identity  string  `json:"identity"`
	URL       string  `json:"url"`
	Outcome   string  `json:"outcome"`
	Result    *Result `json:"result,omitempty"`
	Error     string  `json:"error,omitempty"`
	Stage     Stage   `json:"stage,omitempty"`
	ErrorType string  `json:"error_type,omitempty"`
}

// StatusBreakdown counts product statuses after the batch. Failed items
// count under the status they kept.
type StatusBreakdown struct {
	Compliant    int `json:"compliant"`
	NonCompliant int `json:"non_compliant"`
	Pending      int `json:"pending"`
	UnderReview  int `json:"under_review"`
}

func (b *StatusBreakdown) add(s model.ComplianceStatus) {
	switch s {
	case model.StatusCompliant:
		b.Compliant++
	case model.StatusNonCompliant:
		b.NonCompliant++
	case model.StatusUnderReview:
		b.UnderReview++
	default:
		b.Pending++
	}
}

// BatchResult aggregates a batch run.
type BatchResult struct {
	SourceRef       string          `json:"source_ref"`
	TotalScanned    int             `json:"total_scanned"`
	SuccessfulScans int             `json:"successful_scans"`
	FailedScans     int             `json:"failed_scans"`
	Skipped         int             `json:"skipped"`
	StatusBreakdown StatusBreakdown `json:"status_breakdown"`
	Items           []Item          `json:"items"`
	Duration        time.Duration   `json:"duration_ns"`
}

// Coordinator rescans the stored products of one source with a bounded
// worker pool.
type Coordinator struct {
	scanner     ProductScanner
	lister      ProductLister
	concurrency int
}

// NewCoordinator returns a Coordinator. concurrency <= 0 uses
// DefaultConcurrency.
func NewCoordinator(sc ProductScanner, lister ProductLister, concurrency int) *Coordinator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Coordinator{scanner: sc, lister: lister, concurrency: concurrency}
}

// Run rescans up to limit products of sourceRef. Only a failure to load the
// product list is returned as an error; per-item failures are recorded in
// the result. Cancelling ctx stops new scans from starting; scans already
// running finish.
func (c *Coordinator) Run(ctx context.Context, sourceRef string, limit int) (*BatchResult, error) {
	start := time.Now()
	products, err := c.lister.ListBySource(ctx, sourceRef, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "scanner: list products for %q", sourceRef)
	}

	zap.L().Info("scanner: batch starting",
		zap.String("source_ref", sourceRef),
		zap.Int("products", len(products)),
		zap.Int("concurrency", c.concurrency),
	)

	items := make([]Item, len(products))
	var g errgroup.Group
	g.SetLimit(c.concurrency)

	scanCtx := context.WithoutCancel(ctx)
	for i, p := range products {
		items[i] = Item{Identity: p.ID, URL: p.URL, Outcome: OutcomeSkipped}
		if ctx.Err() != nil {
			continue
		}
		g.Go(func() error {
			// g.Go blocks while the pool is full; the batch may have been
			// cancelled while this item waited for a slot.
			if ctx.Err() != nil {
				return nil
			}
			items[i] = c.scanOne(scanCtx, p)
			return nil
		})
	}
	_ = g.Wait()

	res := &BatchResult{SourceRef: sourceRef, Items: items}
	for i, it := range items {
		switch it.Outcome {
		case OutcomeSuccess:
			res.TotalScanned++
			res.SuccessfulScans++
			res.StatusBreakdown.add(it.Result.ComplianceStatus)
		case OutcomeFailed:
			res.TotalScanned++
			res.FailedScans++
			res.StatusBreakdown.add(products[i].ComplianceStatus)
		default:
			res.Skipped++
		}
	}
	res.Duration = time.Since(start)

	zap.L().Info("scanner: batch complete",
		zap.String("source_ref", sourceRef),
		zap.Int("scanned", res.TotalScanned),
		zap.Int("succeeded", res.SuccessfulScans),
		zap.Int("failed", res.FailedScans),
		zap.Int("skipped", res.Skipped),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (c *Coordinator) scanOne(ctx context.Context, p model.ScannedProduct) (item Item) {
	item = Item{Identity: p.ID, URL: p.URL}
	defer func() {
		if r := recover(); r != nil {
			item.Outcome = OutcomeFailed
			item.Result = nil
			item.Error = fmt.Sprintf("panic: %v", r)
			item.ErrorType = resilience.ErrorPermanent
			zap.L().Error("scanner: batch item panicked",
				zap.String("url", p.URL),
				zap.Any("panic", r),
			)
		}
	}()

	res, err := c.scanner.Scan(ctx, Request{URL: p.URL})
	if err != nil {
		item.Outcome = OutcomeFailed
		item.Error = err.Error()
		item.ErrorType = resilience.ClassifyError(err)
		if stage, ok := StageOf(err); ok {
			item.Stage = stage
		}
		zap.L().Error("scanner: batch item failed",
			zap.String("url", p.URL),
			zap.String("stage", string(item.Stage)),
			zap.Error(err),
		)
		return item
	}
	item.Outcome = OutcomeSuccess
	item.Result = res
	return item
}
