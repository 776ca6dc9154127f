// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"socialbot/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrLocked is returned by account operations before UnlockSecrets succeeds.
var ErrLocked = errors.New("secrets are locked")

// Storage is the interface for all persistence operations.
type Storage interface {
	ListFeeds(ctx context.Context) ([]model.Feed, error)
	SaveFeed(ctx context.Context, feed *model.Feed) error
	DeleteFeed(ctx context.Context, id int64) error

	SaveAccount(ctx context.Context, acc model.Account) error
	LookupAccount(ctx context.Context, platform model.Platform, name string) (model.Account, error)
	ListAccounts(ctx context.Context) ([]AccountInfo, error)

	LoadRetention(ctx context.Context) ([]model.RetentionEntry, error)
	InsertRetention(ctx context.Context, entry model.RetentionEntry) error
	PurgeRetention(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}

// AccountInfo is the non-secret part of a stored account.
type AccountInfo struct {
	Platform model.Platform
	Name     string
	Mute     bool
}
