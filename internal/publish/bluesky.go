package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	comatproto "github.com/bluesky-social/indigo/api/atproto"
	appbsky "github.com/bluesky-social/indigo/api/bsky"
	lexutil "github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"

	"socialbot/internal/model"
)

const (
	// DefaultBlueskyService is the PDS used when an account has none.
	DefaultBlueskyService = "https://bsky.social"

	// MaxThumbSize is the largest image uploaded as a link card thumbnail.
	MaxThumbSize = 1_000_000

	maxPostLength  = 299
	maxCardDesc    = 300
	maxCardTitle   = 250
	maxPageSize    = 5 * 1024 * 1024
	postCollection = "app.bsky.feed.post"
)

var errThumbTooLarge = errors.New("image exceeds thumbnail size limit")

// Bluesky posts to an AT Protocol service through XRPC.
type Bluesky struct {
	client    *http.Client
	service   string
	userAgent string
	log       *slog.Logger
	now       func() time.Time
}

// NewBluesky creates a Bluesky publisher. service is the fallback PDS for
// accounts without one.
func NewBluesky(client HTTPClient, service, userAgent string, log *slog.Logger) *Bluesky {
	if service == "" {
		service = DefaultBlueskyService
	}
	return &Bluesky{
		client:    stdClient(client),
		service:   strings.TrimRight(service, "/"),
		userAgent: userAgent,
		log:       log,
		now:       time.Now,
	}
}

// Send authenticates with the account credentials and creates a post with a
// link facet and an external link card. The card carries a thumbnail when
// one can be fetched and uploaded.
func (b *Bluesky) Send(ctx context.Context, acc model.MicroblogAccount, post Post) error {
	xc := &xrpc.Client{Client: b.client, Host: b.service}
	if s := strings.TrimRight(acc.Service, "/"); s != "" {
		xc.Host = s
	}
	if b.userAgent != "" {
		ua := b.userAgent
		xc.UserAgent = &ua
	}

	sess, err := comatproto.ServerCreateSession(ctx, xc, &comatproto.ServerCreateSession_Input{
		Identifier: acc.Handle,
		Password:   acc.Password,
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	xc.Auth = &xrpc.AuthInfo{
		AccessJwt:  sess.AccessJwt,
		RefreshJwt: sess.RefreshJwt,
		Handle:     sess.Handle,
		Did:        sess.Did,
	}

	text := PostText(post.Body, post.Link)
	record := &appbsky.FeedPost{
		Text:      text,
		CreatedAt: b.now().UTC().Format(time.RFC3339),
		Facets:    linkFacets(text, post.Link),
	}
	if card := b.linkCard(ctx, xc, post); card != nil {
		record.Embed = &appbsky.FeedPost_Embed{EmbedExternal: card}
	}

	_, err = comatproto.RepoCreateRecord(ctx, xc, &comatproto.RepoCreateRecord_Input{
		Collection: postCollection,
		Repo:       sess.Did,
		Record:     &lexutil.LexiconTypeDecoder{Val: record},
	})
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

// PostText composes the post text within the length limit. The link is
// appended on its own line when it fits, and body is shortened with an
// ellipsis to make room for it.
func PostText(body, link string) string {
	if link == "" {
		return ellipsize(body, maxPostLength)
	}
	if body == "" {
		return ellipsize(link, maxPostLength)
	}
	available := maxPostLength - len([]rune(link)) - 1
	if available <= 3 {
		return ellipsize(body, maxPostLength)
	}
	return ellipsize(body, available) + "\n" + link
}

// linkFacets marks every occurrence of link in text. Offsets are UTF-8 byte
// positions.
func linkFacets(text, link string) []*appbsky.RichtextFacet {
	if link == "" {
		return nil
	}
	var facets []*appbsky.RichtextFacet
	offset := 0
	for {
		i := strings.Index(text[offset:], link)
		if i < 0 {
			break
		}
		start := offset + i
		end := start + len(link)
		facets = append(facets, &appbsky.RichtextFacet{
			Index: &appbsky.RichtextFacet_ByteSlice{ByteStart: int64(start), ByteEnd: int64(end)},
			Features: []*appbsky.RichtextFacet_Features_Elem{
				{RichtextFacet_Link: &appbsky.RichtextFacet_Link{Uri: link}},
			},
		})
		offset = end
	}
	return facets
}

func (b *Bluesky) linkCard(ctx context.Context, xc *xrpc.Client, post Post) *appbsky.EmbedExternal {
	if post.Link == "" {
		return nil
	}
	title := ellipsize(post.Title, maxCardTitle)
	if title == "" {
		title = "Link Preview"
	}
	return &appbsky.EmbedExternal{
		External: &appbsky.EmbedExternal_External{
			Uri:         post.Link,
			Title:       title,
			Description: ellipsize(post.Description, maxCardDesc),
			Thumb:       b.thumbnail(ctx, xc, post),
		},
	}
}

// thumbnail uploads the item image, or the article's og:image when the item
// has none. Any failure leaves the card without a thumbnail.
func (b *Bluesky) thumbnail(ctx context.Context, xc *xrpc.Client, post Post) *lexutil.LexBlob {
	src := post.ImageLink
	if src == "" {
		var err error
		if src, err = b.ogImage(ctx, post.Link); err != nil {
			b.log.Debug("no preview image", "link", post.Link, "error", err)
			return nil
		}
	}
	if src == "" {
		return nil
	}

	data, err := b.download(ctx, src)
	if err != nil {
		b.log.Warn("fetch thumbnail", "image", src, "error", err)
		return nil
	}
	out, err := comatproto.RepoUploadBlob(ctx, xc, bytes.NewReader(data))
	if err != nil {
		b.log.Warn("upload thumbnail", "image", src, "error", err)
		return nil
	}
	b.log.Debug("uploaded thumbnail", "image", src, "size", len(data))
	return out.Blob
}

// ogImage returns the absolute og:image URL of the page at link, or "".
func (b *Bluesky) ogImage(ctx context.Context, link string) (string, error) {
	resp, err := b.get(ctx, link, "text/html,application/xhtml+xml")
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}
	content, _ := doc.Find(`meta[property="og:image"]`).First().Attr("content")
	if content = strings.TrimSpace(content); content == "" {
		return "", nil
	}

	base, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse link: %w", err)
	}
	ref, err := url.Parse(content)
	if err != nil {
		return "", fmt.Errorf("parse og:image: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (b *Bluesky) download(ctx context.Context, src string) ([]byte, error) {
	resp, err := b.get(ctx, src, "image/*")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.ContentLength > MaxThumbSize {
		return nil, errThumbTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxThumbSize+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) > MaxThumbSize {
		return nil, errThumbTooLarge
	}
	return data, nil
}

func (b *Bluesky) get(ctx context.Context, target, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	if b.userAgent != "" {
		req.Header.Set("User-Agent", b.userAgent)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp, nil
}

// ellipsize cuts s to n runes, replacing the tail with "..." when it is cut.
func ellipsize(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
