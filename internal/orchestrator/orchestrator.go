// Package orchestrator runs the purge, poll, dispatch and record cycle.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"socialbot/internal/config"
	"socialbot/internal/dispatch"
	"socialbot/internal/model"
	"socialbot/internal/mute"
	"socialbot/internal/scheduler"
)

// FeedSource lists the configured feeds.
type FeedSource interface {
	ListFeeds(ctx context.Context) ([]model.Feed, error)
}

// Retention is the dedup log.
type Retention interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	Record(ctx context.Context, link string, observedAt time.Time) bool
	Flush(ctx context.Context) error
}

// Poller extracts the newest unseen item of a feed.
type Poller interface {
	Poll(ctx context.Context, feed model.Feed, cutoff time.Time) *model.Item
}

// Dispatcher publishes an item to its targets.
type Dispatcher interface {
	Dispatch(ctx context.Context, item model.Item, targets map[model.Platform][]string, muted bool, s dispatch.Settings) model.DispatchReport
}

// Reporter receives every finished cycle report.
type Reporter interface {
	Publish(r model.CycleReport)
}

// Settings are the reloadable cycle parameters.
type Settings struct {
	DaysOfNews         int
	DaysOfRetention    int
	Mute               *mute.Window
	Enabled            map[model.Platform]bool
	PollWorkers        int
	PublishTimeout     time.Duration
	ProfessionalJitter time.Duration
}

// SettingsFromConfig derives cycle settings. An invalid mute window disables
// muting and is logged.
func SettingsFromConfig(cfg *config.Config, log *slog.Logger) Settings {
	window, err := mute.New(cfg.Mute.From, cfg.Mute.To)
	if err != nil {
		log.Warn("invalid mute window, muting disabled", "from", cfg.Mute.From, "to", cfg.Mute.To, "error", err)
		window = mute.Never()
	}
	return Settings{
		DaysOfNews:         cfg.DaysOfNews,
		DaysOfRetention:    cfg.DaysOfRetention,
		Mute:               window,
		Enabled:            cfg.Enabled(),
		PollWorkers:        cfg.Dispatch.PollWorkers,
		PublishTimeout:     cfg.Dispatch.PublishTimeout,
		ProfessionalJitter: cfg.Dispatch.ProfessionalJitter,
	}
}

// Orchestrator runs cycles.
type Orchestrator struct {
	feeds     FeedSource
	retention Retention
	poller    Poller
	router    Dispatcher
	reporter  Reporter
	log       *slog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	settings Settings
}

// New creates an Orchestrator. reporter may be nil.
func New(feeds FeedSource, ret Retention, p Poller, router Dispatcher, reporter Reporter, s Settings, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		feeds:     feeds,
		retention: ret,
		poller:    p,
		router:    router,
		reporter:  reporter,
		log:       log,
		now:       time.Now,
		settings:  s,
	}
}

// SetSettings replaces the settings used from the next cycle on.
func (o *Orchestrator) SetSettings(s Settings) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settings = s
}

// Settings returns the current settings.
func (o *Orchestrator) Settings() Settings {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.settings
}

// Run executes cycles on the schedule until ctx is cancelled. A cycle that
// fails is logged and retried at the next activation.
func (o *Orchestrator) Run(ctx context.Context, sched *scheduler.Scheduler) {
	sched.Run(ctx, func(ctx context.Context, now time.Time) {
		report, err := o.RunCycle(ctx, now)
		if err != nil {
			o.log.Error("run cycle", "cycle", report.ID, "error", err)
		}
		report.NextRun = sched.Next(o.now())
		if o.reporter != nil {
			o.reporter.Publish(report)
		}
	})
}

type candidate struct {
	item    model.Item
	targets map[model.Platform][]string
}

// RunCycle performs one purge, poll, dispatch and record pass for now.
func (o *Orchestrator) RunCycle(ctx context.Context, now time.Time) (model.CycleReport, error) {
	s := o.Settings()
	report := model.CycleReport{ID: uuid.NewString(), StartedAt: now}
	log := o.log.With("cycle", report.ID)

	purgeBefore := startOfDay(now.AddDate(0, 0, -s.DaysOfRetention))
	purged, err := o.retention.PurgeOlderThan(ctx, purgeBefore)
	if err != nil {
		log.Error("purge retention", "before", purgeBefore, "error", err)
	}
	report.Purged = purged
	log.Debug("retention purged", "before", purgeBefore, "removed", purged)

	cutoff := startOfDay(now.AddDate(0, 0, -s.DaysOfNews))
	report.Muted = s.Mute != nil && s.Mute.IsMuted(now)

	feeds, err := o.feeds.ListFeeds(ctx)
	if err != nil {
		report.Err = err.Error()
		report.FinishedAt = o.now()
		return report, fmt.Errorf("list feeds: %w", err)
	}
	report.Feeds = len(feeds)
	log.Debug("polling feeds", "feeds", len(feeds), "cutoff", cutoff, "muted", report.Muted)

	candidates := o.pollAll(ctx, feeds, cutoff, s.PollWorkers)
	report.NewItems = len(candidates)

	for _, r := range o.dispatchAll(ctx, candidates, report.Muted, s, now) {
		report.Add(r)
	}

	if err := o.retention.Flush(context.WithoutCancel(ctx)); err != nil {
		log.Error("flush retention", "error", err)
	}

	report.FinishedAt = o.now()
	log.Info("cycle finished",
		"feeds", report.Feeds,
		"new_items", report.NewItems,
		"sent", report.Sent,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"muted", report.MutedSkips,
		"purged", report.Purged,
		"duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
	)
	return report, nil
}

// pollAll polls every feed with at most workers concurrent fetches and
// merges items that share a link, keeping feed order.
func (o *Orchestrator) pollAll(ctx context.Context, feeds []model.Feed, cutoff time.Time, workers int) []candidate {
	results := make([]*model.Item, len(feeds))

	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, feed := range feeds {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = o.poller.Poll(ctx, feed, cutoff)
			return nil
		})
	}
	_ = g.Wait()

	var out []candidate
	index := make(map[string]int)
	for i, item := range results {
		if item == nil {
			continue
		}
		if j, ok := index[item.Link]; ok {
			o.log.Debug("merging duplicate link", "link", item.Link, "feed_url", feeds[i].URL)
			mergeTargets(out[j].targets, feeds[i].Targets)
			continue
		}
		targets := make(map[model.Platform][]string, len(feeds[i].Targets))
		mergeTargets(targets, feeds[i].Targets)
		index[item.Link] = len(out)
		out = append(out, candidate{item: *item, targets: targets})
	}
	return out
}

// dispatchAll dispatches every candidate concurrently and records each link
// once its dispatch returns.
func (o *Orchestrator) dispatchAll(ctx context.Context, candidates []candidate, muted bool, s Settings, now time.Time) []model.DispatchReport {
	ds := dispatch.Settings{
		Enabled:            s.Enabled,
		PublishTimeout:     s.PublishTimeout,
		ProfessionalJitter: s.ProfessionalJitter,
	}
	reports := make([]model.DispatchReport, len(candidates))

	var wg sync.WaitGroup
	for i, c := range candidates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := o.router.Dispatch(ctx, c.item, c.targets, muted, ds)
			reports[i] = r
			if interrupted(r) {
				o.log.Warn("dispatch interrupted by shutdown, link not recorded", "link", c.item.Link)
				return
			}
			o.retention.Record(context.WithoutCancel(ctx), c.item.Link, now)
		}()
	}
	wg.Wait()
	return reports
}

// interrupted reports whether shutdown kept any target from being attempted.
func interrupted(r model.DispatchReport) bool {
	return slices.ContainsFunc(r.Outcomes, func(o model.Outcome) bool {
		return o.Status == model.OutcomeSkipped && o.Reason == dispatch.ReasonShutdown
	})
}

func mergeTargets(dst, src map[model.Platform][]string) {
	for p, bots := range src {
		for _, b := range bots {
			if !slices.Contains(dst[p], b) {
				dst[p] = append(dst[p], b)
			}
		}
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
