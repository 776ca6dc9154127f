// Package model defines the domain types used across the application.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies a kind of publishing network.
type Platform string

// Supported platforms.
const (
	PlatformChat         Platform = "chat"
	PlatformMicroblog    Platform = "microblog"
	PlatformProfessional Platform = "professional"
)

// Platforms lists the supported platforms in dispatch order.
var Platforms = []Platform{PlatformChat, PlatformMicroblog, PlatformProfessional}

// ParsePlatform converts a configuration value into a Platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PlatformChat, PlatformMicroblog, PlatformProfessional:
		return p, nil
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// Feed is an RSS feed together with the bots its new items are published to.
type Feed struct {
	ID      int64
	URL     string
	AI      bool
	Targets map[Platform][]string
}

// Item is the freshest new entry extracted from a single feed poll.
type Item struct {
	FeedURL     string
	Link        string
	PublishedAt time.Time
	Title       string
	Description string
	Categories  []string
	ShortLink   string
	ImageLink   string
	AIComment   string
}

// RetentionEntry records a link that has already been handled.
type RetentionEntry struct {
	Link        string
	FirstSeenAt time.Time
}

// Target is a resolved publishing destination.
type Target struct {
	Platform Platform
	BotName  string
	Account  Account
}

// OutcomeStatus describes what happened to one dispatch attempt.
type OutcomeStatus string

// Dispatch outcome statuses.
const (
	OutcomeSent    OutcomeStatus = "sent"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeMuted   OutcomeStatus = "muted"
)

// Outcome is the result of dispatching one item to one target.
type Outcome struct {
	Platform Platform
	BotName  string
	Status   OutcomeStatus
	Reason   string
}

// DispatchReport collects every outcome for a single item.
type DispatchReport struct {
	Link     string
	Outcomes []Outcome
}

// Count returns the number of outcomes with the given status.
func (r DispatchReport) Count(status OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// CycleReport summarizes one poll, dispatch and persist iteration.
type CycleReport struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Muted      bool      `json:"muted"`
	Purged     int       `json:"purged"`
	Feeds      int       `json:"feeds"`
	NewItems   int       `json:"new_items"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	MutedSkips int       `json:"muted_skips"`
	NextRun    time.Time `json:"next_run"`
	Err        string    `json:"error,omitempty"`
}

// Add folds a dispatch report into the cycle counters.
func (c *CycleReport) Add(r DispatchReport) {
	c.Sent += r.Count(OutcomeSent)
	c.Failed += r.Count(OutcomeFailed)
	c.Skipped += r.Count(OutcomeSkipped)
	c.MutedSkips += r.Count(OutcomeMuted)
}
