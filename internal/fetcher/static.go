package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compliance-cli/internal/model"
	"github.com/sells-group/compliance-cli/internal/resilience"
)

// DefaultUserAgent is sent by the static fetcher unless overridden.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// StaticOptions configures StaticFetcher.
type StaticOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	RatePerSec   float64
	Burst        int
	Circuit      resilience.CircuitBreakerConfig
	// Client overrides the HTTP client. Tests use it.
	Client *http.Client
}

// StaticFetcher issues one GET per fetch.
type StaticFetcher struct {
	client   *http.Client
	opts     StaticOptions
	limiters *hostLimiters
	breakers *resilience.HostBreakers
}

// NewStaticFetcher applies defaults (30s timeout, 5 MiB body cap, 2 req/s
// per host) and returns a fetcher.
func NewStaticFetcher(opts StaticOptions) *StaticFetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 << 20
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	circuit := opts.Circuit
	if circuit.ShouldTrip == nil {
		circuit.ShouldTrip = resilience.IsTransient
	}
	return &StaticFetcher{
		client:   client,
		opts:     opts,
		limiters: newHostLimiters(opts.RatePerSec, opts.Burst),
		breakers: resilience.NewHostBreakers(circuit),
	}
}

type page struct {
	status int
	body   string
}

// Fetch downloads rawURL.
func (f *StaticFetcher) Fetch(ctx context.Context, rawURL string) RawContent {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return failed(rawURL, model.StrategyStatic, KindNetwork, 0, eris.Errorf("invalid url %q", rawURL))
	}
	host := u.Host

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	limiter := f.limiters.get(host)
	if err := limiter.Wait(ctx); err != nil {
		return f.fail(ctx, rawURL, 0, eris.Wrap(err, "rate limiter wait"))
	}

	p, err := resilience.ExecuteVal(ctx, f.breakers.Get(host), func(ctx context.Context) (page, error) {
		return f.get(ctx, rawURL, limiter, host)
	})
	if err != nil {
		return f.fail(ctx, rawURL, p.status, err)
	}

	limiter.OnSuccess()
	return RawContent{
		URL:        rawURL,
		HTML:       p.body,
		Strategy:   model.StrategyStatic,
		StatusCode: p.status,
		FetchedAt:  time.Now().UTC(),
	}
}

// get performs the request. Errors that should count against the host's
// circuit are returned as transient.
func (f *StaticFetcher) get(ctx context.Context, rawURL string, limiter *AdaptiveLimiter, host string) (page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return page{}, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-IN,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return page{}, eris.Wrap(err, "get")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		return page{status: resp.StatusCode}, eris.Wrap(err, "read body")
	}
	p := page{status: resp.StatusCode, body: string(body)}

	if resp.StatusCode == http.StatusTooManyRequests {
		limiter.OnRateLimit(host)
	}
	if blocked, kind := DetectBlock(resp, body); blocked {
		return p, resilience.NewTransientError(eris.Errorf("blocked (%s)", kind), resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := eris.Errorf("unexpected status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return p, resilience.NewTransientError(err, resp.StatusCode)
		}
		return p, err
	}
	if strings.TrimSpace(p.body) == "" {
		return p, eris.New("empty body")
	}
	return p, nil
}

func (f *StaticFetcher) fail(ctx context.Context, rawURL string, status int, err error) RawContent {
	kind := KindNetwork
	if isTimeout(ctx, err) {
		kind = KindTimeout
	}
	zap.L().Warn("fetcher: static fetch failed",
		zap.String("url", rawURL),
		zap.String("kind", string(kind)),
		zap.Int("status", status),
		zap.Error(err),
	)
	return failed(rawURL, model.StrategyStatic, kind, status, err)
}

// CircuitStates exposes per-host breaker states for health reporting.
func (f *StaticFetcher) CircuitStates() map[string]resilience.CircuitState {
	return f.breakers.States()
}
