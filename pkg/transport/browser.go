package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/richard-senior/kicktipp/internal/logger"
)

// BrowserRenderer loads pages in headless Chromium, for tipp forms that are
// assembled by javascript. It reuses the cookies of a Session so it sees the
// same logged in state.
type BrowserRenderer struct {
	session *Session
	timeout time.Duration

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewBrowserRenderer creates a renderer. Chromium is started lazily on first Fetch.
func NewBrowserRenderer(session *Session, timeout time.Duration) *BrowserRenderer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &BrowserRenderer{session: session, timeout: timeout}
}

func (b *BrowserRenderer) start() error {
	if b.browser != nil {
		return nil
	}
	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		pw.Stop()
		return fmt.Errorf("failed to launch chromium: %w", err)
	}
	b.pw = pw
	b.browser = browser
	logger.Info("Started headless chromium")
	return nil
}

// Fetch renders rawURL and returns the resulting DOM as HTML
func (b *BrowserRenderer) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.start(); err != nil {
		return nil, err
	}

	opts := playwright.BrowserNewContextOptions{}
	if b.session != nil {
		opts.UserAgent = playwright.String(b.session.UserAgent())
	}
	bctx, err := b.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	defer bctx.Close()

	if b.session != nil {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
		}
		var cookies []playwright.OptionalCookie
		for _, c := range b.session.Cookies(u) {
			cookies = append(cookies, playwright.OptionalCookie{
				Name:   c.Name,
				Value:  c.Value,
				Domain: playwright.String(u.Hostname()),
				Path:   playwright.String("/"),
			})
		}
		if len(cookies) > 0 {
			if err := bctx.AddCookies(cookies); err != nil {
				return nil, fmt.Errorf("failed to copy session cookies: %w", err)
			}
		}
	}

	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	if _, err := page.Goto(rawURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(b.timeout.Milliseconds())),
	}); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", rawURL, err)
	}
	content, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered page: %w", err)
	}
	return []byte(content), nil
}

// Close shuts chromium down if it was started
func (b *BrowserRenderer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	if stopErr := b.pw.Stop(); err == nil {
		err = stopErr
	}
	b.browser = nil
	b.pw = nil
	return err
}
