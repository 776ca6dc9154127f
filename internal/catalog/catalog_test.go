package catalog

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"socialbot/internal/model"
	"socialbot/internal/storage"
)

const sampleCatalog = `
accounts:
  chat:
    - name: news_tg
      service: telegram
      token: "123:abc"
      chat_id: "@news"
    - name: news_dc
      service: discord
      token: dc-token
      chat_id: "987654321"
      mute: true
  microblog:
    - name: news_bsky
      handle: news.bsky.social
      password: app-pass
  professional:
    - name: company
      urn: urn:li:organization:42
      access_token: li-token
feeds:
  - url: https://a.example/rss
    ai: true
    targets:
      chat: [news_tg, news_dc]
      microblog: [news_bsky]
  - url: https://b.example/atom
    targets:
      professional: [company]
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParse(t *testing.T) {
	c, err := Parse(strings.NewReader(sampleCatalog))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	want := []model.Account{
		model.ChatAccount{Name: "news_tg", Service: model.ChatTelegram, Token: "123:abc", ChatID: "@news"},
		model.ChatAccount{Name: "news_dc", Service: model.ChatDiscord, Token: "dc-token", ChatID: "987654321", Mute: true},
		model.MicroblogAccount{Name: "news_bsky", Handle: "news.bsky.social", Password: "app-pass"},
		model.ProfessionalAccount{Name: "company", URN: "urn:li:organization:42", AccessToken: "li-token"},
	}
	if diff := cmp.Diff(want, c.AllAccounts()); diff != "" {
		t.Errorf("accounts mismatch (-want +got):\n%s", diff)
	}
	if len(c.Feeds) != 2 {
		t.Errorf("expected 2 feeds, got %d", len(c.Feeds))
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{
			name:    "unknown platform",
			input:   "feeds:\n  - url: https://a.example/rss\n    targets:\n      fax: [x]\n",
			wantErr: `unknown platform "fax"`,
		},
		{
			name:    "invalid url",
			input:   "feeds:\n  - url: ftp://a.example/rss\n",
			wantErr: "invalid url",
		},
		{
			name:    "duplicate feed",
			input:   "feeds:\n  - url: https://a.example/rss\n  - url: https://a.example/rss\n",
			wantErr: "duplicate url",
		},
		{
			name:    "invalid account",
			input:   "accounts:\n  chat:\n    - name: x\n      service: irc\n      token: t\n      chat_id: c\n",
			wantErr: `unknown chat service "irc"`,
		},
		{
			name:    "duplicate account",
			input:   "accounts:\n  professional:\n    - {name: c, urn: u, access_token: t}\n    - {name: c, urn: u, access_token: t}\n",
			wantErr: "duplicate professional account",
		},
		{
			name:    "unknown key",
			input:   "feedz: []\n",
			wantErr: "parse catalog",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	c, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(c.AllAccounts()) != 0 || len(c.Feeds) != 0 {
		t.Errorf("expected empty catalog, got %+v", c)
	}
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.UnlockSecrets(ctx, "k"); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	c, err := Parse(strings.NewReader(sampleCatalog))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	res, err := Import(ctx, store, c, nil, testLogger())
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if diff := cmp.Diff(Result{Accounts: 4, Feeds: 2}, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	// Importing twice updates in place.
	if _, err := Import(ctx, store, c, nil, testLogger()); err != nil {
		t.Fatalf("re-import: %v", err)
	}

	feeds, err := store.ListFeeds(ctx)
	if err != nil {
		t.Fatalf("list feeds: %v", err)
	}
	wantFeeds := []model.Feed{
		{
			ID:  feeds[0].ID,
			URL: "https://a.example/rss",
			AI:  true,
			Targets: map[model.Platform][]string{
				model.PlatformChat:      {"news_tg", "news_dc"},
				model.PlatformMicroblog: {"news_bsky"},
			},
		},
		{
			ID:      feeds[1].ID,
			URL:     "https://b.example/atom",
			Targets: map[model.Platform][]string{model.PlatformProfessional: {"company"}},
		},
	}
	if diff := cmp.Diff(wantFeeds, feeds); diff != "" {
		t.Errorf("feeds mismatch (-want +got):\n%s", diff)
	}

	acc, err := store.LookupAccount(ctx, model.PlatformChat, "news_dc")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	want := model.ChatAccount{Name: "news_dc", Service: model.ChatDiscord, Token: "dc-token", ChatID: "987654321", Mute: true}
	if diff := cmp.Diff(model.Account(want), acc); diff != "" {
		t.Errorf("account mismatch (-want +got):\n%s", diff)
	}
}

func TestImportLockedStore(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	c, err := Parse(strings.NewReader(sampleCatalog))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Import(ctx, store, c, nil, testLogger()); err == nil {
		t.Error("expected error importing into a locked store")
	}
}
