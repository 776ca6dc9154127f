// Package publish delivers rendered posts to chat, microblog and
// professional network accounts.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"socialbot/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// stdClient returns client as an *http.Client for libraries that need one.
func stdClient(client HTTPClient) *http.Client {
	if hc, ok := client.(*http.Client); ok {
		return hc
	}
	return &http.Client{Transport: doerTransport{client}}
}

// doerTransport adapts an HTTPClient to http.RoundTripper.
type doerTransport struct {
	client HTTPClient
}

func (t doerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.client.Do(req)
}

// Post is the platform-neutral content of one publication.
type Post struct {
	Title       string
	Description string
	// Body is the AI comment when present, otherwise title and description.
	Body       string
	Link       string
	Categories []string
	ImageLink  string
}

// Render builds the post for item. The short link is preferred when it is a
// valid http(s) URL.
func Render(item model.Item) Post {
	body := item.AIComment
	if body == "" {
		var parts []string
		for _, s := range []string{item.Title, item.Description} {
			if s = strings.TrimSpace(s); s != "" {
				parts = append(parts, s)
			}
		}
		body = strings.Join(parts, "\n")
	}

	link := item.Link
	if ValidURL(item.ShortLink) {
		link = item.ShortLink
	}

	return Post{
		Title:       item.Title,
		Description: item.Description,
		Body:        body,
		Link:        link,
		Categories:  item.Categories,
		ImageLink:   item.ImageLink,
	}
}

// ValidURL reports whether s is an absolute http or https URL.
func ValidURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Options configures the platform publishers.
type Options struct {
	HTTPClient       HTTPClient
	UserAgent        string
	MaxHashtags      int
	TelegramEndpoint string
	BlueskyService   string
	LinkedInAPIURL   string
}

// Publishers routes a post to the publisher matching the account type.
type Publishers struct {
	telegram *Telegram
	discord  *Discord
	bluesky  *Bluesky
	linkedin *LinkedIn
	log      *slog.Logger
}

// New creates the publishers for every supported account kind.
func New(opts Options, log *slog.Logger) *Publishers {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Publishers{
		telegram: NewTelegram(opts.HTTPClient, opts.TelegramEndpoint),
		discord:  NewDiscord(),
		bluesky:  NewBluesky(opts.HTTPClient, opts.BlueskyService, opts.UserAgent, log),
		linkedin: NewLinkedIn(opts.HTTPClient, opts.LinkedInAPIURL, opts.UserAgent, opts.MaxHashtags),
		log:      log,
	}
}

// Publish sends post through acc.
func (p *Publishers) Publish(ctx context.Context, acc model.Account, post Post) error {
	p.log.Debug("publish", "platform", acc.Platform(), "bot", acc.BotName(), "link", post.Link)

	switch a := acc.(type) {
	case model.ChatAccount:
		switch a.Service {
		case model.ChatTelegram:
			return p.telegram.Send(ctx, a, post)
		case model.ChatDiscord:
			return p.discord.Send(ctx, a, post)
		}
		return fmt.Errorf("unknown chat service %q", a.Service)
	case model.MicroblogAccount:
		return p.bluesky.Send(ctx, a, post)
	case model.ProfessionalAccount:
		return p.linkedin.Send(ctx, a, post)
	}
	return fmt.Errorf("unsupported account type %T", acc)
}

// chatText is the message sent to chat services.
func chatText(post Post) string {
	if post.Body == "" {
		return post.Link
	}
	return post.Body + "\n" + post.Link
}
