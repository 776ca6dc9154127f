// Package poller extracts the freshest unseen entry from a feed.
package poller

import (
	"context"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"socialbot/internal/fetcher"
	"socialbot/internal/model"
	"socialbot/internal/sanitize"
)

// Fetcher downloads and parses a feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*gofeed.Feed, error)
}

// Seen reports whether a link has already been handled.
type Seen interface {
	Contains(link string) bool
}

// Sanitizer converts description HTML to plain text.
type Sanitizer interface {
	Text(src string) string
}

// Commentator produces an AI comment for an article link.
type Commentator interface {
	Comment(ctx context.Context, link string) string
}

// Poller turns a feed into at most one candidate item per poll.
type Poller struct {
	fetcher     Fetcher
	seen        Seen
	sanitizer   Sanitizer
	commentator Commentator
	log         *slog.Logger
}

// New creates a Poller. commentator may be nil when AI comments are disabled.
func New(f Fetcher, seen Seen, s Sanitizer, commentator Commentator, log *slog.Logger) *Poller {
	return &Poller{
		fetcher:     f,
		seen:        seen,
		sanitizer:   s,
		commentator: commentator,
		log:         log,
	}
}

// Poll fetches feed and returns its newest entry if it was published at or
// after cutoff and has not been seen before. Failures are logged and yield nil.
func (p *Poller) Poll(ctx context.Context, feed model.Feed, cutoff time.Time) *model.Item {
	parsed, err := p.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		p.log.Error("fetch feed", "feed_url", feed.URL, "error", err)
		return nil
	}

	entry, published := fetcher.Latest(parsed)
	if entry == nil {
		p.log.Debug("no dated entries", "feed_url", feed.URL)
		return nil
	}
	link := strings.TrimSpace(entry.Link)
	if link == "" {
		p.log.Warn("latest entry has no link", "feed_url", feed.URL)
		return nil
	}
	if published.Before(cutoff) {
		p.log.Debug("no recent entries", "feed_url", feed.URL, "latest", published, "cutoff", cutoff)
		return nil
	}
	if p.seen.Contains(link) {
		p.log.Debug("already processed", "feed_url", feed.URL, "link", link)
		return nil
	}

	desc := entry.Description
	if strings.TrimSpace(desc) == "" {
		desc = entry.Content
	}

	item := &model.Item{
		FeedURL:     feed.URL,
		Link:        link,
		PublishedAt: published,
		Title:       strings.TrimSpace(html.UnescapeString(entry.Title)),
		Description: p.sanitizer.Text(desc),
		Categories:  append([]string(nil), entry.Categories...),
		ShortLink:   strings.TrimSpace(entry.GUID),
		ImageLink:   imageLink(entry),
	}

	if feed.AI && p.commentator != nil {
		item.AIComment = p.commentator.Comment(ctx, link)
		if item.AIComment != "" {
			p.log.Info("generated comment", "link", link, "comment", item.AIComment)
		}
	}

	p.log.Info("new item", "feed_url", feed.URL, "link", link, "published", published)
	return item
}

// imageLink returns the first image attached to entry: media content,
// image enclosures, the item image, then the first <img> in the body.
func imageLink(entry *gofeed.Item) string {
	if media, ok := entry.Extensions["media"]; ok {
		for _, key := range []string{"content", "thumbnail"} {
			for _, ext := range media[key] {
				if u := strings.TrimSpace(ext.Attrs["url"]); u != "" {
					return u
				}
			}
		}
	}
	for _, enc := range entry.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	if entry.Image != nil && entry.Image.URL != "" {
		return entry.Image.URL
	}
	if img := sanitize.FirstImage(entry.Content); img != "" {
		return img
	}
	return sanitize.FirstImage(entry.Description)
}
