// Package app wires the engine together and owns the process lifecycle:
// store, generator, trigger detector, summarizer, proactive scheduler,
// Telegram transport, and the health endpoint.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/bot"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/chatlock"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/config"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/history"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/llm"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/proactive"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/store"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/summary"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/telegram"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/timewin"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/trigger"
)

// App is the assembled application.
type App struct {
	cfg       *config.Config
	store     *store.Store
	telegram  *telegram.Client
	handler   *bot.Handler
	scheduler *proactive.Scheduler
	health    *HealthServer
	logger    *slog.Logger
}

// New builds the full object graph from configuration. Nothing starts
// running until Run.
func New(cfg *config.Config) (*App, error) {
	logger := slog.Default()

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	st, err := store.New(cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}
	if err := st.SeedPrivileged(context.Background(), cfg.PrivilegedUserIDs); err != nil {
		st.Close()
		return nil, fmt.Errorf("app: seed privileged profiles: %w", err)
	}

	gen := llm.NewOpenAIGenerator(llm.OpenAIConfig{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
		TopP:        cfg.OpenAI.TopP,
		Timeout:     time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second,
	})

	tg, err := telegram.New(cfg.Telegram.Token, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	quiet := timewin.HourWindow{Start: cfg.Proactive.Quiet.Start, End: cfg.Proactive.Quiet.End}
	locks := chatlock.NewRegistry()
	sum := summary.New(st, gen, summary.Config{
		TriggerCount:  cfg.Summary.TriggerCount,
		MinCount:      cfg.Summary.MinCount,
		TimeThreshold: time.Duration(cfg.Summary.TimeThresholdHours) * time.Hour,
		MinInterval:   time.Duration(cfg.Summary.MinIntervalMinutes) * time.Minute,
		MaxWindow:     cfg.Summary.MaxWindow,
	}, logger)

	det := trigger.New(trigger.Config{
		AddressPrefixes: cfg.Interjection.AddressPrefixes,
		Cooldown:        time.Duration(cfg.Interjection.CooldownSeconds) * time.Second,
		HourlyCap:       cfg.Interjection.HourlyCap,
		Probability:     cfg.Interjection.Probability,
		Quiet:           quiet,
		Location:        loc,
	})

	handler := bot.New(
		st,
		history.NewBuilder(st, history.Config{
			GeneralLimit: cfg.History.GeneralLimit,
			UserLimit:    cfg.History.UserLimit,
		}),
		sum, det, locks, gen, tg,
		bot.Config{
			Persona:         cfg.Persona,
			FallbackReplies: cfg.FallbackReplies,
			TypingPerRune:   time.Duration(cfg.Typing.PerRuneMillis) * time.Millisecond,
			TypingMin:       time.Duration(cfg.Typing.MinSeconds) * time.Second,
			TypingMax:       time.Duration(cfg.Typing.MaxSeconds) * time.Second,
			MaxOutputTokens: cfg.MaxOutputTokens,
		},
		logger,
	)

	sched := proactive.New(st, sum, locks, gen, tg, proactive.Config{
		TickInterval:       time.Duration(cfg.Proactive.TickSeconds) * time.Second,
		DailyCapPrivate:    cfg.Proactive.DailyCapPrivate,
		DailyCapGroup:      cfg.Proactive.DailyCapGroup,
		GlobalCooldown:     time.Duration(cfg.Proactive.GlobalCooldownMinutes) * time.Minute,
		Quiet:              quiet,
		Morning:            timewin.HourWindow{Start: cfg.Proactive.Morning.Start, End: cfg.Proactive.Morning.End},
		Evening:            timewin.HourWindow{Start: cfg.Proactive.Evening.Start, End: cfg.Proactive.Evening.End},
		MorningProbPrivate: cfg.Proactive.MorningProbPrivate,
		MorningProbGroup:   cfg.Proactive.MorningProbGroup,
		EveningProbPrivate: cfg.Proactive.EveningProbPrivate,
		EveningProbGroup:   cfg.Proactive.EveningProbGroup,
		CheckinMinHours:    cfg.Proactive.CheckinMinHours,
		CheckinMaxHours:    cfg.Proactive.CheckinMaxHours,
		CheckinProb:        cfg.Proactive.CheckinProb,
		AmbientIdleMinutes: cfg.Proactive.AmbientIdleMinutes,
		AmbientProb:        cfg.Proactive.AmbientProb,
		TypingPerRune:      time.Duration(cfg.Typing.PerRuneMillis) * time.Millisecond,
		TypingMin:          time.Duration(cfg.Typing.MinSeconds) * time.Second,
		TypingMax:          time.Duration(cfg.Typing.MaxSeconds) * time.Second,
		Location:           loc,
		Persona:            cfg.Persona,
	}, logger)

	app := &App{
		cfg:       cfg,
		store:     st,
		telegram:  tg,
		handler:   handler,
		scheduler: sched,
		logger:    logger,
	}
	if cfg.HealthAddr != "" {
		app.health = NewHealthServer(cfg.HealthAddr, sched)
	}
	return app, nil
}

// Run starts the background tasks and blocks until an interrupt arrives.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.health != nil {
		if err := a.health.Start(ctx); err != nil {
			a.logger.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	go supervise(ctx, a.logger, "proactive scheduler", a.scheduler.Run)
	go supervise(ctx, a.logger, "telegram listener", func(ctx context.Context) {
		a.telegram.Listen(ctx, a.handler)
	})

	a.logger.Info("yui is running; press Ctrl+C to stop", "bot", a.telegram.Username())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutting down")
	return nil
}

// Stop releases resources. Safe to call after Run returns.
func (a *App) Stop() {
	if a.health != nil {
		a.health.Stop()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close", "err", err)
	}
}

// supervise runs fn and restarts it if it panics or returns while the
// context is still live, logging the failure reason each time.
func supervise(ctx context.Context, logger *slog.Logger, name string, fn func(context.Context)) {
	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("background task panicked", "task", name, "panic", r)
				}
			}()
			fn(ctx)
		}()
		if ctx.Err() != nil {
			return
		}
		logger.Warn("background task exited, restarting", "task", name)
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}
