// Package fetcher handles RSS feed downloading and parsing.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	defaultUserAgent = "socialbot/1.0"
	maxBodySize      = 5 * 1024 * 1024
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and parses RSS feeds.
type Fetcher struct {
	client    HTTPClient
	userAgent string
	timeout   time.Duration
}

// New creates a Fetcher with the given HTTP client. An empty userAgent
// falls back to a default, a zero timeout disables the per-request limit.
func New(client HTTPClient, userAgent string, timeout time.Duration) *Fetcher {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Fetcher{
		client:    client,
		userAgent: userAgent,
		timeout:   timeout,
	}
}

// Fetch downloads and parses an RSS feed from the given URL.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// EntryTime returns the publication time of item, falling back to its
// update time. ok is false when the entry carries neither.
func EntryTime(item *gofeed.Item) (t time.Time, ok bool) {
	switch {
	case item.PublishedParsed != nil:
		return *item.PublishedParsed, true
	case item.UpdatedParsed != nil:
		return *item.UpdatedParsed, true
	}
	return time.Time{}, false
}

// Latest returns the entry with the most recent EntryTime. Entries without a
// timestamp are ignored; nil is returned when no entry qualifies.
func Latest(feed *gofeed.Feed) (*gofeed.Item, time.Time) {
	var (
		latest *gofeed.Item
		at     time.Time
	)
	if feed == nil {
		return nil, at
	}
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		t, ok := EntryTime(item)
		if !ok {
			continue
		}
		if latest == nil || t.After(at) {
			latest, at = item, t
		}
	}
	return latest, at
}
