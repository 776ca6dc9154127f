package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"socialbot/internal/model"
)

// DefaultLinkedInAPIURL is the LinkedIn v2 REST base URL.
const DefaultLinkedInAPIURL = "https://api.linkedin.com/v2"

// LinkedIn shares article posts through the UGC Posts API.
type LinkedIn struct {
	client      HTTPClient
	apiURL      string
	userAgent   string
	maxHashtags int
}

// NewLinkedIn creates a LinkedIn publisher. client is the transport the
// OAuth2 bearer client is layered on.
func NewLinkedIn(client HTTPClient, apiURL, userAgent string, maxHashtags int) *LinkedIn {
	if apiURL == "" {
		apiURL = DefaultLinkedInAPIURL
	}
	if maxHashtags <= 0 {
		maxHashtags = DefaultMaxHashtags
	}
	return &LinkedIn{
		client:      client,
		apiURL:      strings.TrimRight(apiURL, "/"),
		userAgent:   userAgent,
		maxHashtags: maxHashtags,
	}
}

type ugcPost struct {
	Author          string            `json:"author"`
	LifecycleState  string            `json:"lifecycleState"`
	SpecificContent ugcContent        `json:"specificContent"`
	Visibility      map[string]string `json:"visibility"`
}

type ugcContent struct {
	ShareContent ugcShare `json:"com.linkedin.ugc.ShareContent"`
}

type ugcShare struct {
	ShareCommentary    ugcText    `json:"shareCommentary"`
	ShareMediaCategory string     `json:"shareMediaCategory"`
	Media              []ugcMedia `json:"media"`
}

type ugcText struct {
	Text string `json:"text"`
}

type ugcMedia struct {
	Status      string `json:"status"`
	OriginalURL string `json:"originalUrl"`
}

// Send publishes post as an article share authored by the account URN.
func (l *LinkedIn) Send(ctx context.Context, acc model.ProfessionalAccount, post Post) error {
	payload := ugcPost{
		Author:         authorURN(acc.URN),
		LifecycleState: "PUBLISHED",
		SpecificContent: ugcContent{ShareContent: ugcShare{
			ShareCommentary:    ugcText{Text: l.shareText(post)},
			ShareMediaCategory: "ARTICLE",
			Media:              []ugcMedia{{Status: "READY", OriginalURL: post.Link}},
		}},
		Visibility: map[string]string{"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode post: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.apiURL+"/ugcPosts", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}

	resp, err := l.bearerClient(ctx, acc.AccessToken).Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

func (l *LinkedIn) bearerClient(ctx context.Context, token string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, stdClient(l.client))
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
}

func (l *LinkedIn) shareText(post Post) string {
	text := post.Body + "\n\n🔗 " + post.Link
	if tags := Hashtags(post.Categories, l.maxHashtags, nil); len(tags) > 0 {
		text += "\n\n" + strings.Join(tags, " ")
	}
	return text
}

func authorURN(urn string) string {
	if strings.HasPrefix(urn, "urn:li:") {
		return urn
	}
	return "urn:li:person:" + urn
}
