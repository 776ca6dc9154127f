package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"socialbot/internal/ai"
	"socialbot/internal/config"
	"socialbot/internal/dispatch"
	"socialbot/internal/fetcher"
	"socialbot/internal/orchestrator"
	"socialbot/internal/poller"
	"socialbot/internal/publish"
	"socialbot/internal/retention"
	"socialbot/internal/sanitize"
	"socialbot/internal/scheduler"
	"socialbot/internal/status"
)

func runCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll feeds on the cron schedule and publish new items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags)
		},
	}
}

// statusInfo exposes live process state to the status endpoint.
type statusInfo struct {
	sched     *scheduler.Scheduler
	retention *retention.Store
}

func (s statusInfo) State() string { return s.sched.State().String() }
func (s statusInfo) Retained() int { return s.retention.Len() }

func run(ctx context.Context, flags *globalFlags) error {
	cfg, logger, store, err := setup(ctx, flags)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	defer func() { _ = logger.Sync() }()
	log := logger.Logger

	feeds, err := store.ListFeeds(ctx)
	if err != nil {
		return err
	}
	if len(feeds) == 0 {
		return errors.New("no feeds configured, run \"socialbot import\" first")
	}

	ret := retention.New(store, log)
	if err := ret.Load(ctx); err != nil {
		return err
	}

	client := &http.Client{}

	aiModel, aiPrice := resolveAIModel(ctx, client, cfg.AI, log)
	var commentator poller.Commentator
	if aiModel != "" {
		commentator = ai.New(client, ai.Config{
			BaseURL:   cfg.AI.BaseURL,
			APIKey:    cfg.AI.APIKey,
			Model:     aiModel,
			MaxChars:  cfg.AI.MaxChars,
			Language:  cfg.AI.Language,
			Timeout:   cfg.AI.Timeout,
			UserAgent: cfg.Feed.UserAgent,
		}, log)
	}

	p := poller.New(
		fetcher.New(client, cfg.Feed.UserAgent, cfg.Feed.Timeout),
		ret,
		sanitize.New(cfg.Feed.CutMarkers, cfg.Feed.FirstParagraphOnly),
		commentator,
		log,
	)
	// The Telegram client has no per-request context; the client timeout
	// bounds its requests.
	pubs := publish.New(publish.Options{
		HTTPClient:  &http.Client{Timeout: cfg.Dispatch.PublishTimeout},
		UserAgent:   cfg.Feed.UserAgent,
		MaxHashtags: cfg.Dispatch.MaxHashtags,
	}, log)
	router := dispatch.New(store, pubs, semaphore.NewWeighted(int64(cfg.Dispatch.Workers)), log)

	sched, err := scheduler.New(cfg.Cron, log)
	if err != nil {
		return err
	}
	holder := status.NewHolder()
	orch := orchestrator.New(store, ret, p, router, holder, orchestrator.SettingsFromConfig(cfg, log), log)

	settings := orch.Settings()
	aiIn, aiOut := aiPrice.PerMillion()
	log.Info("starting socialbot",
		"version", version,
		"cron", cfg.Cron,
		"mute_window", settings.Mute.String(),
		"muted_now", settings.Mute.IsMuted(time.Now()),
		"platforms", cfg.EnabledNames(),
		"days_of_news", cfg.DaysOfNews,
		"days_of_retention", cfg.DaysOfRetention,
		"feeds", len(feeds),
		"retained", ret.Len(),
		"ai_model", aiModel,
		"ai_input_price_per_million", aiIn,
		"ai_output_price_per_million", aiOut,
		"ai_enabled", aiModel != "",
		"ai_language", cfg.AI.Language,
		"ai_max_chars", cfg.AI.MaxChars,
	)

	g, gctx := errgroup.WithContext(ctx)

	if flags.configPath != "" {
		g.Go(func() error {
			err := config.Watch(gctx, flags.configPath, log, func(c *config.Config) {
				orch.SetSettings(orchestrator.SettingsFromConfig(c, log))
				if err := sched.SetExpr(c.Cron); err != nil {
					log.Error("apply cron", "error", err)
				}
				if !flags.debug {
					logger.SetLevel(c.LogLevel)
				}
			})
			if err != nil {
				log.Error("watch config", "path", flags.configPath, "error", err)
			}
			return nil
		})
	}

	if cfg.StatusAddr != "" {
		g.Go(func() error {
			info := statusInfo{sched: sched, retention: ret}
			return status.Serve(gctx, cfg.StatusAddr, status.NewRouter(holder, info, log), log)
		})
	}

	g.Go(func() error {
		orch.Run(gctx, sched)
		return nil
	})

	err = g.Wait()
	log.Info("socialbot stopped")
	return err
}

// resolveAIModel returns the model used for comments, or "" when comments are
// disabled. The auto model is resolved against the models catalogue; its
// prices are zero otherwise.
func resolveAIModel(ctx context.Context, client ai.HTTPClient, cfg config.AIConfig, log *slog.Logger) (string, ai.ModelPrice) {
	if !cfg.Enabled() {
		return "", ai.ModelPrice{}
	}
	if cfg.Model != ai.AutoModel {
		return cfg.Model, ai.ModelPrice{ID: cfg.Model}
	}

	price, err := ai.CheapestModel(ctx, client, cfg.ModelsURL, cfg.APIKey, cfg.ModelFilter, log)
	if err != nil {
		log.Error("select ai model, comments disabled", "error", err)
		return "", ai.ModelPrice{}
	}
	return price.ID, price
}
