package transport

import "context"

// Fetcher returns the HTML of a page
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

var (
	_ Fetcher = (*Session)(nil)
	_ Fetcher = (*BrowserRenderer)(nil)
)
