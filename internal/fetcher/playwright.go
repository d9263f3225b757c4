package fetcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// PlaywrightOptions configures PlaywrightLauncher.
type PlaywrightOptions struct {
	// Browser is chromium, firefox or webkit. Default: chromium.
	Browser   string
	Headless  bool
	UserAgent string
}

// PlaywrightLauncher starts one browser on first use and gives every
// session its own browser context.
type PlaywrightLauncher struct {
	opts PlaywrightOptions

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewPlaywrightLauncher returns a launcher. Nothing starts until Launch.
func NewPlaywrightLauncher(opts PlaywrightOptions) *PlaywrightLauncher {
	if opts.Browser == "" {
		opts.Browser = "chromium"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	return &PlaywrightLauncher{opts: opts}
}

func (l *PlaywrightLauncher) ensureBrowser() (playwright.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.browser != nil && l.browser.IsConnected() {
		return l.browser, nil
	}
	if l.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return nil, eris.Wrap(err, "playwright: start driver")
		}
		l.pw = pw
	}

	var bt playwright.BrowserType
	switch strings.ToLower(l.opts.Browser) {
	case "firefox":
		bt = l.pw.Firefox
	case "webkit":
		bt = l.pw.WebKit
	default:
		bt = l.pw.Chromium
	}
	b, err := bt.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.opts.Headless),
		Args:     []string{"--no-sandbox", "--disable-dev-shm-usage"},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "playwright: launch %s", l.opts.Browser)
	}
	zap.L().Info("fetcher: browser started", zap.String("browser", l.opts.Browser))
	l.browser = b
	return b, nil
}

// Launch opens a fresh browser context and page.
func (l *PlaywrightLauncher) Launch(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := l.ensureBrowser()
	if err != nil {
		return nil, err
	}
	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(l.opts.UserAgent),
	})
	if err != nil {
		return nil, eris.Wrap(err, "playwright: new context")
	}
	p, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, eris.Wrap(err, "playwright: new page")
	}
	return &playwrightSession{bctx: bctx, page: p}, nil
}

// Close stops the browser and the driver.
func (l *PlaywrightLauncher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	if l.browser != nil {
		errs = append(errs, l.browser.Close())
		l.browser = nil
	}
	if l.pw != nil {
		errs = append(errs, l.pw.Stop())
		l.pw = nil
	}
	return errors.Join(errs...)
}

type playwrightSession struct {
	bctx playwright.BrowserContext
	page playwright.Page
}

func ms(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

func (s *playwrightSession) Navigate(url string, timeout time.Duration) (int, error) {
	resp, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   ms(timeout),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return 0, eris.Wrap(ErrNavigationTimeout, err.Error())
		}
		return 0, err
	}
	if resp == nil {
		return 0, nil
	}
	return resp.Status(), nil
}

func (s *playwrightSession) WaitReady(selector string, timeout time.Duration) error {
	_, err := s.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: ms(timeout),
	})
	return err
}

func (s *playwrightSession) Content() (string, error) {
	return s.page.Content()
}

func (s *playwrightSession) Close() error {
	return errors.Join(s.page.Close(), s.bctx.Close())
}
