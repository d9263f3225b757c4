package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compliance-cli/internal/model"
)

// ErrNavigationTimeout is returned by a Session whose page load overran its
// timeout.
var ErrNavigationTimeout = eris.New("navigation timeout")

// Launcher opens browser sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Session is one isolated browser page.
type Session interface {
	Navigate(url string, timeout time.Duration) (status int, err error)
	WaitReady(selector string, timeout time.Duration) error
	Content() (string, error)
	Close() error
}

// RenderOptions configures RenderedFetcher.
type RenderOptions struct {
	MaxSessions   int
	NavTimeout    time.Duration
	ReadyTimeout  time.Duration
	SettleDelay   time.Duration
	ReadySelector string
}

// RenderedFetcher loads pages in a browser, waits for the document body,
// lets scripts settle, then captures the DOM.
type RenderedFetcher struct {
	launcher Launcher
	opts     RenderOptions
	sem      chan struct{}
}

// NewRenderedFetcher applies defaults (2 sessions, 30s navigation, 10s
// readiness, 2s settle) and returns a fetcher.
func NewRenderedFetcher(l Launcher, opts RenderOptions) *RenderedFetcher {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 2
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 30 * time.Second
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 10 * time.Second
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.ReadySelector == "" {
		opts.ReadySelector = "body"
	}
	return &RenderedFetcher{launcher: l, opts: opts, sem: make(chan struct{}, opts.MaxSessions)}
}

// Fetch renders rawURL. The session is always closed before returning.
func (f *RenderedFetcher) Fetch(ctx context.Context, rawURL string) RawContent {
	select {
	case f.sem <- struct{}{}:
	case <-ctx.Done():
		return f.fail(ctx, rawURL, 0, KindTimeout, eris.Wrap(ctx.Err(), "wait for browser session"))
	}
	defer func() { <-f.sem }()

	sess, err := f.launcher.Launch(ctx)
	if err != nil {
		return f.fail(ctx, rawURL, 0, KindRender, eris.Wrap(err, "launch browser"))
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			zap.L().Debug("fetcher: close browser session", zap.Error(cerr))
		}
	}()

	status, err := sess.Navigate(rawURL, f.opts.NavTimeout)
	if err != nil {
		kind := KindRender
		if errors.Is(err, ErrNavigationTimeout) {
			kind = KindTimeout
		}
		return f.fail(ctx, rawURL, status, kind, eris.Wrap(err, "navigate"))
	}
	if err := ctx.Err(); err != nil {
		return f.fail(ctx, rawURL, status, KindTimeout, err)
	}

	if err := sess.WaitReady(f.opts.ReadySelector, f.opts.ReadyTimeout); err != nil {
		return f.fail(ctx, rawURL, status, KindRender, eris.Wrapf(err, "wait for %s", f.opts.ReadySelector))
	}

	if f.opts.SettleDelay > 0 {
		t := time.NewTimer(f.opts.SettleDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return f.fail(ctx, rawURL, status, KindTimeout, eris.Wrap(ctx.Err(), "settle"))
		case <-t.C:
		}
	}

	html, err := sess.Content()
	if err != nil {
		return f.fail(ctx, rawURL, status, KindRender, eris.Wrap(err, "capture content"))
	}
	return RawContent{
		URL:        rawURL,
		HTML:       html,
		Strategy:   model.StrategyRendered,
		StatusCode: status,
		FetchedAt:  time.Now().UTC(),
	}
}

func (f *RenderedFetcher) fail(ctx context.Context, rawURL string, status int, kind ErrorKind, err error) RawContent {
	if kind != KindTimeout && isTimeout(ctx, err) {
		kind = KindTimeout
	}
	zap.L().Warn("fetcher: rendered fetch failed",
		zap.String("url", rawURL),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	return failed(rawURL, model.StrategyRendered, kind, status, err)
}
