// Package fetcher retrieves product pages with either a single HTTP request
// or a headless-browser render.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/compliance-cli/internal/model"
)

// ErrorKind classifies a failed fetch.
type ErrorKind string

const (
	KindNetwork ErrorKind = "network"
	KindTimeout ErrorKind = "timeout"
	KindRender  ErrorKind = "render"
)

// Error is a failed fetch. It is recoverable: nothing has been stored.
type Error struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d): %v", e.URL, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout lets callers treat timeouts as net.Error-style timeouts.
func (e *Error) Timeout() bool { return e.Kind == KindTimeout }

// RawContent is the outcome of one fetch attempt. Err is nil on success.
type RawContent struct {
	URL        string
	HTML       string
	Strategy   model.FetchStrategy
	StatusCode int
	FetchedAt  time.Time
	Err        *Error
}

// OK reports whether the fetch produced content.
func (r RawContent) OK() bool { return r.Err == nil }

// Fetcher retrieves a page. Failures are reported in RawContent.Err, never
// as a separate error.
type Fetcher interface {
	Fetch(ctx context.Context, url string) RawContent
}

// Dispatcher routes each fetch to the strategy the source config asks for.
type Dispatcher struct {
	static   Fetcher
	rendered Fetcher
}

// NewDispatcher returns a Dispatcher. A nil rendered fetcher makes rendered
// sources fall back to static fetching.
func NewDispatcher(static, rendered Fetcher) *Dispatcher {
	return &Dispatcher{static: static, rendered: rendered}
}

// Fetch retrieves url using cfg.Strategy.
func (d *Dispatcher) Fetch(ctx context.Context, url string, cfg model.SourceConfig) RawContent {
	if cfg.Strategy == model.StrategyRendered {
		if d.rendered != nil {
			return d.rendered.Fetch(ctx, url)
		}
		zap.L().Debug("fetcher: rendering disabled, fetching statically",
			zap.String("url", url),
			zap.String("source", cfg.Name),
		)
	}
	return d.static.Fetch(ctx, url)
}

// RenderingEnabled reports whether rendered sources are actually rendered.
func (d *Dispatcher) RenderingEnabled() bool { return d.rendered != nil }

func failed(url string, strategy model.FetchStrategy, kind ErrorKind, status int, err error) RawContent {
	return RawContent{
		URL:        url,
		Strategy:   strategy,
		StatusCode: status,
		FetchedAt:  time.Now().UTC(),
		Err:        &Error{Kind: kind, URL: url, StatusCode: status, Err: err},
	}
}

// isTimeout reports deadline overruns from either the context or the
// transport.
func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
