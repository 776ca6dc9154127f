// Package catalog imports bot accounts and feed bindings from a YAML file.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"socialbot/internal/model"
)

// Catalog is the import file layout.
type Catalog struct {
	Accounts Accounts `yaml:"accounts"`
	Feeds    []Feed   `yaml:"feeds"`
}

// Accounts groups account credentials by platform.
type Accounts struct {
	Chat         []model.ChatAccount         `yaml:"chat"`
	Microblog    []model.MicroblogAccount    `yaml:"microblog"`
	Professional []model.ProfessionalAccount `yaml:"professional"`
}

// Feed is a feed URL with the bots that publish its items, keyed by
// platform name.
type Feed struct {
	URL     string              `yaml:"url"`
	AI      bool                `yaml:"ai"`
	Targets map[string][]string `yaml:"targets"`
}

// Store receives imported records.
type Store interface {
	SaveAccount(ctx context.Context, acc model.Account) error
	SaveFeed(ctx context.Context, feed *model.Feed) error
}

// Result counts what an import stored.
type Result struct {
	Accounts int
	Feeds    int
}

// Load reads and validates the catalog file at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes and validates a catalog. Unknown keys are rejected.
func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// AllAccounts returns every account in platform order.
func (c *Catalog) AllAccounts() []model.Account {
	var out []model.Account
	for _, a := range c.Accounts.Chat {
		out = append(out, a)
	}
	for _, a := range c.Accounts.Microblog {
		out = append(out, a)
	}
	for _, a := range c.Accounts.Professional {
		out = append(out, a)
	}
	return out
}

// Validate checks accounts, feed URLs and target platforms.
func (c *Catalog) Validate() error {
	var errs []error

	seen := make(map[string]bool)
	for _, acc := range c.AllAccounts() {
		if err := acc.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		key := string(acc.Platform()) + "/" + acc.BotName()
		if seen[key] {
			errs = append(errs, fmt.Errorf("duplicate %s account %q", acc.Platform(), acc.BotName()))
		}
		seen[key] = true
	}

	urls := make(map[string]bool)
	for i, f := range c.Feeds {
		if _, err := f.toModel(); err != nil {
			errs = append(errs, fmt.Errorf("feed %d: %w", i+1, err))
			continue
		}
		if urls[f.URL] {
			errs = append(errs, fmt.Errorf("feed %d: duplicate url %q", i+1, f.URL))
		}
		urls[f.URL] = true
	}
	return errors.Join(errs...)
}

func (f Feed) toModel() (model.Feed, error) {
	u, err := url.Parse(f.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return model.Feed{}, fmt.Errorf("invalid url %q", f.URL)
	}
	out := model.Feed{URL: f.URL, AI: f.AI, Targets: make(map[model.Platform][]string)}
	for name, bots := range f.Targets {
		p, err := model.ParsePlatform(name)
		if err != nil {
			return model.Feed{}, err
		}
		out.Targets[p] = append(out.Targets[p], bots...)
	}
	return out, nil
}

// Import stores every account and feed of c. Feeds with the same URL are
// updated in place. Targets naming bots absent from both the catalog and
// known are reported as warnings only, since dispatch skips them.
func Import(ctx context.Context, store Store, c *Catalog, known map[string]bool, log *slog.Logger) (Result, error) {
	var res Result

	for _, acc := range c.AllAccounts() {
		if err := store.SaveAccount(ctx, acc); err != nil {
			return res, fmt.Errorf("save %s account %q: %w", acc.Platform(), acc.BotName(), err)
		}
		res.Accounts++
		log.Debug("imported account", "platform", acc.Platform(), "bot", acc.BotName())
	}

	names := make(map[string]bool, len(known))
	for k := range known {
		names[k] = true
	}
	for _, acc := range c.AllAccounts() {
		names[string(acc.Platform())+"/"+acc.BotName()] = true
	}

	for _, f := range c.Feeds {
		feed, err := f.toModel()
		if err != nil {
			return res, err
		}
		for _, p := range model.Platforms {
			for _, bot := range feed.Targets[p] {
				if !names[string(p)+"/"+bot] {
					log.Warn("feed target has no account", "feed", feed.URL, "platform", p, "bot", bot)
				}
			}
		}
		if err := store.SaveFeed(ctx, &feed); err != nil {
			return res, fmt.Errorf("save feed %s: %w", feed.URL, err)
		}
		res.Feeds++
		log.Debug("imported feed", "id", feed.ID, "url", feed.URL)
	}

	log.Info("catalog imported", "accounts", res.Accounts, "feeds", res.Feeds)
	return res, nil
}
