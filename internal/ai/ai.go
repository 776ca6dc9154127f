// Package ai writes short commentary for articles through an
// OpenAI-compatible chat completions API.
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"socialbot/internal/sanitize"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "https://api.openai.com/v1"

const maxArticleSize = 5 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the chat completion settings.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxChars  int
	Language  string
	Timeout   time.Duration
	UserAgent string
}

// Client generates article comments.
type Client struct {
	http HTTPClient
	api  openai.Client
	cfg  Config
	log  *slog.Logger
}

// New creates a Client. An empty BaseURL uses DefaultBaseURL.
func New(client HTTPClient, cfg Config, log *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Client{
		http: client,
		api:  newAPI(client, cfg.BaseURL, cfg.APIKey),
		cfg:  cfg,
		log:  log,
	}
}

// newAPI returns an OpenAI-compatible client for baseURL. Calls are not
// retried.
func newAPI(client HTTPClient, baseURL, apiKey string) openai.Client {
	return openai.NewClient(
		option.WithHTTPClient(client),
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	)
}

// Comment fetches the article at link and returns a colloquial summary with
// a personal comment. Any failure is logged and yields "".
func (c *Client) Comment(ctx context.Context, link string) string {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	text, err := c.articleText(ctx, link)
	if err != nil {
		c.log.Error("fetch article", "link", link, "error", err)
		return ""
	}
	if text == "" {
		c.log.Warn("no article text extracted", "link", link)
		return ""
	}

	comment, err := c.complete(ctx, text)
	if err != nil {
		c.log.Error("generate comment", "link", link, "model", c.cfg.Model, "error", err)
		return ""
	}
	c.log.Debug("generated comment", "link", link, "chars", len([]rune(comment)))
	return comment
}

func (c *Client) articleText(ctx context.Context, link string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxArticleSize))
	if err != nil {
		return "", fmt.Errorf("parse article: %w", err)
	}
	return strings.Join(sanitize.Paragraphs(doc), " "), nil
}

func (c *Client) complete(ctx context.Context, article string) (string, error) {
	lang := LanguageName(c.cfg.Language)
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt(lang, c.cfg.MaxChars)),
			openai.UserMessage(UserPrompt(lang, article)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return truncate(strings.TrimSpace(resp.Choices[0].Message.Content), c.cfg.MaxChars), nil
}

// LanguageName maps a language code to the name used in prompts. Unknown
// codes are passed through unchanged.
func LanguageName(code string) string {
	switch strings.ToLower(code) {
	case "", "en":
		return "English"
	case "it":
		return "Italian"
	}
	return code
}

// SystemPrompt returns the system message for the given language and limit.
func SystemPrompt(lang string, maxChars int) string {
	return fmt.Sprintf("You are an expert article commentator. Summarize and comment in a "+
		"colloquial style without advertising. Reply in %s, max %d characters.", lang, maxChars)
}

// UserPrompt returns the user message carrying the article text.
func UserPrompt(lang, article string) string {
	return fmt.Sprintf("Read and summarize the following article in a colloquial, natural way "+
		"in %s, then add a personal comment as if you had read it:\n\n%s", lang, article)
}

// truncate cuts s to at most n runes. n <= 0 leaves s unchanged.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// AutoModel selects the cheapest listed model at startup.
const AutoModel = "auto"

// DefaultModelsURL is the catalogue queried for AutoModel.
const DefaultModelsURL = "https://openrouter.ai/api/v1"

// ModelPrice is a listed model with its USD price per token.
type ModelPrice struct {
	ID         string
	Prompt     float64
	Completion float64
}

// PerMillion returns the prompt and completion prices per million tokens.
func (m ModelPrice) PerMillion() (prompt, completion float64) {
	return m.Prompt * 1e6, m.Completion * 1e6
}

type modelList struct {
	Data []struct {
		ID      string `json:"id"`
		Pricing struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		} `json:"pricing"`
	} `json:"data"`
}

// CheapestModel lists the models at baseURL and returns the one with the
// lowest prompt plus completion price whose ID contains filter, ignoring
// case. Models without complete pricing, or with a negative total, are
// skipped.
func CheapestModel(ctx context.Context, client HTTPClient, baseURL, apiKey, filter string, log *slog.Logger) (ModelPrice, error) {
	if baseURL == "" {
		baseURL = DefaultModelsURL
	}
	api := newAPI(client, baseURL, apiKey)

	var list modelList
	if err := api.Get(ctx, "models", nil, &list); err != nil {
		return ModelPrice{}, fmt.Errorf("list models: %w", err)
	}

	filter = strings.ToLower(filter)
	var (
		best  ModelPrice
		found bool
	)
	for _, m := range list.Data {
		if filter != "" && !strings.Contains(strings.ToLower(m.ID), filter) {
			continue
		}
		prompt, perr := strconv.ParseFloat(m.Pricing.Prompt, 64)
		completion, cerr := strconv.ParseFloat(m.Pricing.Completion, 64)
		if perr != nil || cerr != nil {
			log.Debug("model without pricing", "model", m.ID)
			continue
		}
		total := prompt + completion
		if total < 0 {
			continue
		}
		if !found || total < best.Prompt+best.Completion {
			best, found = ModelPrice{ID: m.ID, Prompt: prompt, Completion: completion}, true
		}
	}
	if !found {
		return ModelPrice{}, fmt.Errorf("no priced model matches %q among %d listed", filter, len(list.Data))
	}

	in, out := best.PerMillion()
	log.Info("selected cheapest ai model", "model", best.ID, "input_per_million", in, "output_per_million", out)
	return best, nil
}
