// Package dispatch fans a new item out to its publishing targets.
package dispatch

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"socialbot/internal/model"
	"socialbot/internal/publish"
)

// Skip reasons recorded in outcomes.
const (
	ReasonDisabled = "platform disabled"
	ReasonShutdown = "shutdown"
)

// Credentials resolves a bot name to its account.
type Credentials interface {
	LookupAccount(ctx context.Context, platform model.Platform, name string) (model.Account, error)
}

// Publisher sends a rendered post through an account.
type Publisher interface {
	Publish(ctx context.Context, acc model.Account, post publish.Post) error
}

// Settings are the per-cycle dispatch parameters.
type Settings struct {
	Enabled            map[model.Platform]bool
	PublishTimeout     time.Duration
	ProfessionalJitter time.Duration
}

// Router dispatches items to their targets. Publish attempts from every
// concurrent Dispatch call share one bounded pool.
type Router struct {
	creds  Credentials
	pub    Publisher
	pool   *semaphore.Weighted
	log    *slog.Logger
	jitter func(max time.Duration) time.Duration
}

// New creates a Router. pool bounds concurrent publish attempts; nil means
// unbounded.
func New(creds Credentials, pub Publisher, pool *semaphore.Weighted, log *slog.Logger) *Router {
	return &Router{
		creds:  creds,
		pub:    pub,
		pool:   pool,
		log:    log,
		jitter: randomJitter,
	}
}

// Dispatch publishes item to every bound target and returns one outcome per
// target, ordered chat, microblog, professional. It returns after every
// attempt has completed. Attempts already started when ctx is cancelled run
// to completion; those not yet started are skipped.
func (r *Router) Dispatch(ctx context.Context, item model.Item, targets map[model.Platform][]string, muted bool, s Settings) model.DispatchReport {
	post := publish.Render(item)
	report := model.DispatchReport{Link: item.Link}

	type pending struct {
		idx int
		acc model.Account
	}
	var attempts []pending

	for _, platform := range model.Platforms {
		for _, name := range targets[platform] {
			report.Outcomes = append(report.Outcomes, model.Outcome{Platform: platform, BotName: name})
			idx := len(report.Outcomes) - 1

			if !s.Enabled[platform] {
				r.skip(&report.Outcomes[idx], model.OutcomeSkipped, ReasonDisabled, item)
				continue
			}
			if ctx.Err() != nil {
				r.skip(&report.Outcomes[idx], model.OutcomeSkipped, ReasonShutdown, item)
				continue
			}
			acc, err := r.creds.LookupAccount(ctx, platform, name)
			if err != nil {
				r.skip(&report.Outcomes[idx], model.OutcomeSkipped, err.Error(), item)
				continue
			}
			if acc.Muted() && muted {
				r.skip(&report.Outcomes[idx], model.OutcomeMuted, "muted", item)
				continue
			}
			attempts = append(attempts, pending{idx: idx, acc: acc})
		}
	}

	var wg sync.WaitGroup
	for _, p := range attempts {
		out := &report.Outcomes[p.idx]
		if ctx.Err() != nil {
			r.skip(out, model.OutcomeSkipped, ReasonShutdown, item)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.attempt(ctx, out, p.acc, post, s)
		}()
	}
	wg.Wait()

	r.log.Info("dispatched item",
		"link", item.Link,
		"sent", report.Count(model.OutcomeSent),
		"failed", report.Count(model.OutcomeFailed),
		"skipped", report.Count(model.OutcomeSkipped),
		"muted", report.Count(model.OutcomeMuted),
	)
	return report
}

func (r *Router) attempt(ctx context.Context, out *model.Outcome, acc model.Account, post publish.Post, s Settings) {
	if acc.Platform() == model.PlatformProfessional && s.ProfessionalJitter > 0 {
		delay := r.jitter(s.ProfessionalJitter)
		r.log.Debug("back-off before professional post", "bot", out.BotName, "delay", delay)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			out.Status, out.Reason = model.OutcomeSkipped, ReasonShutdown
			return
		case <-t.C:
		}
	}

	if r.pool != nil {
		if err := r.pool.Acquire(ctx, 1); err != nil {
			out.Status, out.Reason = model.OutcomeSkipped, ReasonShutdown
			return
		}
		defer r.pool.Release(1)
	}

	pctx := context.WithoutCancel(ctx)
	if s.PublishTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(pctx, s.PublishTimeout)
		defer cancel()
	}

	if err := r.pub.Publish(pctx, acc, post); err != nil {
		out.Status, out.Reason = model.OutcomeFailed, err.Error()
		r.log.Error("publish item",
			"platform", out.Platform, "bot", out.BotName, "link", post.Link, "error", err)
		return
	}
	out.Status = model.OutcomeSent
	r.log.Info("published item", "platform", out.Platform, "bot", out.BotName, "link", post.Link)
}

func (r *Router) skip(out *model.Outcome, status model.OutcomeStatus, reason string, item model.Item) {
	out.Status, out.Reason = status, reason
	r.log.Debug("skip target",
		"platform", out.Platform, "bot", out.BotName, "link", item.Link, "status", status, "reason", reason)
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
