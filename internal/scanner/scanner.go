// Package scanner runs end-to-end compliance scans: resolve the source
// config, fetch, extract, evaluate and persist, one product at a time or
// in batches.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/compliance-cli/internal/fetcher"
	"github.com/sells-group/compliance-cli/internal/model"
	"github.com/sells-group/compliance-cli/internal/rules"
)

// Stage names the step at which a scan failed.
type Stage string

const (
	StageInvalidURL Stage = "invalid_url"
	StageFetch      Stage = "fetch"
	StageExtract    Stage = "extract"
	StagePersist    Stage = "persist"
)

// ScanError is a failed scan. For every stage but persist nothing was
// written; a persist failure rolled back, so nothing was written either.
type ScanError struct {
	Stage Stage
	URL   string
	Err   error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %s: %v", e.URL, e.Stage, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// StageOf returns the stage of a ScanError anywhere in err's chain.
func StageOf(err error) (Stage, bool) {
	var se *ScanError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// Resolver maps a URL to its source config.
type Resolver interface {
	Resolve(rawURL string) model.SourceConfig
}

// Fetcher retrieves a page with the strategy the config asks for.
type Fetcher interface {
	Fetch(ctx context.Context, url string, cfg model.SourceConfig) fetcher.RawContent
}

// Extractor parses fetched content into product fields.
type Extractor interface {
	Extract(raw fetcher.RawContent, cfg model.SourceConfig) (model.ExtractedFields, error)
}

// ProductStore is the part of the store a scan needs.
type ProductStore interface {
	FindByIdentity(ctx context.Context, id string) (*model.ScannedProduct, error)
	Upsert(ctx context.Context, p *model.ScannedProduct, violations []model.Violation) (*model.ScannedProduct, error)
}

// Request is one scan invocation. SourceRef and CategoryRef are stored
// opaquely; empty values keep what the product already has.
type Request struct {
	URL         string `json:"url"`
	SourceRef   string `json:"source_ref,omitempty"`
	CategoryRef string `json:"category_ref,omitempty"`
}

// Result is the outcome of a successful scan.
type Result struct {
	Identity         string                 `json:"identity"`
	URL              string                 `json:"url"`
	ProductName      string                 `json:"product_name"`
	ComplianceStatus model.ComplianceStatus `json:"compliance_status"`
	Score            float64                `json:"compliance_score"`
	ViolationCount   int                    `json:"violation_count"`
	Violations       []model.Violation      `json:"violations"`
	ExtractedFields  model.ExtractedFields  `json:"extracted_data"`
	Strategy         model.FetchStrategy    `json:"strategy"`
	Created          bool                   `json:"created"`
	ScannedAt        time.Time              `json:"scanned_at"`
}

// Scanner drives single-product scans. It is safe for concurrent use;
// writes for the same identity are serialised.
type Scanner struct {
	resolver  Resolver
	fetcher   Fetcher
	extractor Extractor
	engine    *rules.Engine
	store     ProductStore
	locks     *keyedMutex
	nowFunc   func() time.Time
}

// New builds a Scanner from its collaborators.
func New(resolver Resolver, f Fetcher, ex Extractor, engine *rules.Engine, st ProductStore) *Scanner {
	return &Scanner{
		resolver:  resolver,
		fetcher:   f,
		extractor: ex,
		engine:    engine,
		store:     st,
		locks:     newKeyedMutex(),
		nowFunc:   time.Now,
	}
}

// Scan runs one end-to-end scan. A fetch failure returns a ScanError with
// StageFetch wrapping the *fetcher.Error and leaves stored state untouched.
func (s *Scanner) Scan(ctx context.Context, req Request) (*Result, error) {
	normalized, err := NormalizeURL(req.URL)
	if err != nil {
		return nil, &ScanError{Stage: StageInvalidURL, URL: req.URL, Err: err}
	}
	// The normalised form only keys the identity; fetches and the stored
	// record use the URL as submitted.
	target := strings.TrimSpace(req.URL)
	id := Identity(normalized)
	log := zap.L().With(zap.String("url", target), zap.String("identity", id))

	cfg := s.resolver.Resolve(target)
	raw := s.fetcher.Fetch(ctx, target, cfg)
	if !raw.OK() {
		log.Warn("scanner: fetch failed",
			zap.String("kind", string(raw.Err.Kind)),
			zap.Error(raw.Err),
		)
		return nil, &ScanError{Stage: StageFetch, URL: req.URL, Err: raw.Err}
	}

	fields, err := s.extractor.Extract(raw, cfg)
	if err != nil {
		return nil, &ScanError{Stage: StageExtract, URL: req.URL, Err: err}
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	existing, err := s.store.FindByIdentity(ctx, id)
	if err != nil {
		return nil, &ScanError{Stage: StagePersist, URL: req.URL, Err: err}
	}

	now := s.nowFunc().UTC()
	p := existing
	created := p == nil
	if created {
		p = &model.ScannedProduct{
			ID:               id,
			ComplianceStatus: model.StatusPending,
			CreatedAt:        now,
		}
	}
	p.URL = target
	if req.SourceRef != "" {
		p.SourceRef = req.SourceRef
	}
	if req.CategoryRef != "" {
		p.CategoryRef = req.CategoryRef
	}
	p.ApplyFields(fields)

	violations, score := s.engine.Evaluate(id, p.Snapshot(), fields, now)
	p.Score = score
	p.ViolationCount = len(violations)
	p.ComplianceStatus = model.StatusCompliant
	if len(violations) > 0 {
		p.ComplianceStatus = model.StatusNonCompliant
	}
	p.LastScannedAt = &now
	p.UpdatedAt = now

	saved, err := s.store.Upsert(ctx, p, violations)
	if err != nil {
		log.Error("scanner: persist failed", zap.Error(err))
		return nil, &ScanError{Stage: StagePersist, URL: req.URL, Err: err}
	}

	log.Info("scanner: scan complete",
		zap.String("status", string(saved.ComplianceStatus)),
		zap.Float64("score", saved.Score),
		zap.Int("violations", saved.ViolationCount),
		zap.String("strategy", string(raw.Strategy)),
		zap.Bool("created", created),
	)

	if violations == nil {
		violations = []model.Violation{}
	}
	return &Result{
		Identity:         saved.ID,
		URL:              saved.URL,
		ProductName:      saved.Name,
		ComplianceStatus: saved.ComplianceStatus,
		Score:            saved.Score,
		ViolationCount:   saved.ViolationCount,
		Violations:       violations,
		ExtractedFields:  fields,
		Strategy:         raw.Strategy,
		Created:          created,
		ScannedAt:        now,
	}, nil
}
