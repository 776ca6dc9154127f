package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"socialbot/internal/model"
	"socialbot/internal/secret"
	"socialbot/migrations"
)

const (
	timeLayout = "2006-01-02T15:04:05Z"
	saltKey    = "secret_salt"
)

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB

	mu  sync.RWMutex
	box *secret.Box
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// shared across callers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrations.Run(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// DB exposes the underlying handle for tooling such as migrations.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// UnlockSecrets derives the credential key from passphrase. The salt is
// created on first use and stored in the meta table.
func (s *SQLite) UnlockSecrets(ctx context.Context, passphrase string) error {
	if passphrase == "" {
		return errors.New("secret key is empty")
	}

	var salt []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, saltKey).Scan(&salt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		salt, err = secret.NewSalt()
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, saltKey, salt); err != nil {
			return fmt.Errorf("store salt: %w", err)
		}
	case err != nil:
		return fmt.Errorf("load salt: %w", err)
	}

	box, err := secret.NewBox(passphrase, salt)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.box = box
	s.mu.Unlock()
	return nil
}

func (s *SQLite) secrets() (*secret.Box, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.box == nil {
		return nil, ErrLocked
	}
	return s.box, nil
}

// ListFeeds returns all feeds with their target bindings.
func (s *SQLite) ListFeeds(ctx context.Context) ([]model.Feed, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, url, ai FROM feeds ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var feeds []model.Feed
	index := make(map[int64]int)
	for rows.Next() {
		var f model.Feed
		var ai int
		if err := rows.Scan(&f.ID, &f.URL, &ai); err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		f.AI = ai == 1
		f.Targets = make(map[model.Platform][]string)
		index[f.ID] = len(feeds)
		feeds = append(feeds, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()

	trows, err := s.db.QueryContext(ctx, `SELECT feed_id, platform, bot_name FROM feed_targets ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query feed targets: %w", err)
	}
	defer func() { _ = trows.Close() }()

	for trows.Next() {
		var feedID int64
		var platform, bot string
		if err := trows.Scan(&feedID, &platform, &bot); err != nil {
			return nil, fmt.Errorf("scan feed target: %w", err)
		}
		i, ok := index[feedID]
		if !ok {
			continue
		}
		p, err := model.ParsePlatform(platform)
		if err != nil {
			return nil, fmt.Errorf("feed %d target %q: %w", feedID, bot, err)
		}
		feeds[i].Targets[p] = append(feeds[i].Targets[p], bot)
	}
	return feeds, trows.Err()
}

// SaveFeed inserts the feed or updates the one with the same URL, replacing
// its target bindings. Targets on unknown platforms are rejected. The feed ID
// is populated on return.
func (s *SQLite) SaveFeed(ctx context.Context, feed *model.Feed) error {
	for p := range feed.Targets {
		if _, err := model.ParsePlatform(string(p)); err != nil {
			return fmt.Errorf("feed %s: %w", feed.URL, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)
	err = tx.QueryRowContext(ctx,
		`INSERT INTO feeds (url, ai, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (url) DO UPDATE SET ai = excluded.ai
		 RETURNING id`,
		feed.URL, boolToInt(feed.AI), now,
	).Scan(&feed.ID)
	if err != nil {
		return fmt.Errorf("upsert feed: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM feed_targets WHERE feed_id = ?`, feed.ID); err != nil {
		return fmt.Errorf("delete feed targets: %w", err)
	}
	for _, p := range model.Platforms {
		for _, bot := range feed.Targets[p] {
			_, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO feed_targets (feed_id, platform, bot_name) VALUES (?, ?, ?)`,
				feed.ID, string(p), bot,
			)
			if err != nil {
				return fmt.Errorf("insert feed target: %w", err)
			}
		}
	}
	return tx.Commit()
}

// DeleteFeed removes a feed and its target bindings.
func (s *SQLite) DeleteFeed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM feeds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveAccount seals the account credentials and stores them, replacing any
// account with the same platform and name.
func (s *SQLite) SaveAccount(ctx context.Context, acc model.Account) error {
	if err := acc.Validate(); err != nil {
		return err
	}
	box, err := s.secrets()
	if err != nil {
		return err
	}

	plain, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	sealed, err := box.Seal(plain)
	if err != nil {
		return fmt.Errorf("seal account: %w", err)
	}

	now := time.Now().UTC().Format(timeLayout)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO accounts (platform, name, mute, secret, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (platform, name) DO UPDATE SET mute = excluded.mute, secret = excluded.secret`,
		string(acc.Platform()), acc.BotName(), boolToInt(acc.Muted()), sealed, now,
	)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// LookupAccount returns the decrypted account for platform and name.
func (s *SQLite) LookupAccount(ctx context.Context, platform model.Platform, name string) (model.Account, error) {
	box, err := s.secrets()
	if err != nil {
		return nil, err
	}

	var sealed []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT secret FROM accounts WHERE platform = ? AND name = ?`, string(platform), name,
	).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s account %q: %w", platform, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}

	plain, err := box.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("open %s account %q: %w", platform, name, err)
	}
	return decodeAccount(platform, plain)
}

// ListAccounts returns the non-secret fields of every stored account.
func (s *SQLite) ListAccounts(ctx context.Context) ([]AccountInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT platform, name, mute FROM accounts ORDER BY platform, name`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AccountInfo
	for rows.Next() {
		var a AccountInfo
		var platform string
		var mute int
		if err := rows.Scan(&platform, &a.Name, &mute); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		if a.Platform, err = model.ParsePlatform(platform); err != nil {
			return nil, fmt.Errorf("account %q: %w", a.Name, err)
		}
		a.Mute = mute == 1
		out = append(out, a)
	}
	return out, rows.Err()
}

// LoadRetention returns every retained link.
func (s *SQLite) LoadRetention(ctx context.Context) ([]model.RetentionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT link, first_seen_at FROM retention`)
	if err != nil {
		return nil, fmt.Errorf("query retention: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.RetentionEntry
	for rows.Next() {
		var e model.RetentionEntry
		var seen string
		if err := rows.Scan(&e.Link, &seen); err != nil {
			return nil, fmt.Errorf("scan retention: %w", err)
		}
		e.FirstSeenAt, err = time.Parse(timeLayout, seen)
		if err != nil {
			return nil, fmt.Errorf("retention entry %q: parse first_seen_at: %w", e.Link, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// InsertRetention records a link. An existing entry keeps its original
// first-seen time.
func (s *SQLite) InsertRetention(ctx context.Context, entry model.RetentionEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO retention (link, first_seen_at) VALUES (?, ?)`,
		entry.Link, entry.FirstSeenAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert retention: %w", err)
	}
	return nil
}

// PurgeRetention deletes entries first seen strictly before cutoff and
// returns how many were removed.
func (s *SQLite) PurgeRetention(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM retention WHERE first_seen_at < ?`, cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("purge retention: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func decodeAccount(platform model.Platform, data []byte) (model.Account, error) {
	var (
		acc model.Account
		err error
	)
	switch platform {
	case model.PlatformChat:
		var a model.ChatAccount
		err = json.Unmarshal(data, &a)
		acc = a
	case model.PlatformMicroblog:
		var a model.MicroblogAccount
		err = json.Unmarshal(data, &a)
		acc = a
	case model.PlatformProfessional:
		var a model.ProfessionalAccount
		err = json.Unmarshal(data, &a)
		acc = a
	default:
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s account: %w", platform, err)
	}
	return acc, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
