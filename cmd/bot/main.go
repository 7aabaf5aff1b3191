package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"adwatch/internal/ai"
	"adwatch/internal/api"
	"adwatch/internal/bot"
	"adwatch/internal/browser"
	"adwatch/internal/config"
	"adwatch/internal/extract"
	"adwatch/internal/fetcher"
	"adwatch/internal/match"
	"adwatch/internal/notify"
	"adwatch/internal/scheduler"
	"adwatch/internal/session"
	"adwatch/internal/site"
	"adwatch/internal/storage"
)

const recentAds = 50

func main() {
	cfg, err := config.Load()
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	profile, err := site.Load(cfg.SiteProfile)
	if err != nil {
		log.Error("load site profile", "path", cfg.SiteProfile, "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var fallback extract.AI
	if cfg.GeminiAPIKey != "" {
		g, err := ai.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Error("create gemini client", "error", err)
			os.Exit(1)
		}
		fallback = g
		log.Info("AI extraction fallback enabled", "model", cfg.GeminiModel)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	newTransport := func() browser.Transport {
		return browser.NewHTTP(httpClient, browser.Options{
			UserAgent: cfg.UserAgent,
			Attempts:  cfg.FetchAttempts,
		}, log)
	}
	f := fetcher.New(newTransport, profile, log)

	b, err := bot.New(cfg.TelegramBotToken, store, nil, profile, cfg, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	recent := api.NewRecent(recentAds)
	dispatcher := notify.NewDispatcher(b, store, log)
	dispatcher.SetOnNewAd(recent.Add)
	if cfg.NotificationChannelID != 0 {
		dispatcher.SetBroadcast(cfg.NotificationChannelID)
	}

	sched := scheduler.New(store, f, extract.New(profile, fallback, log), match.New(profile.RecencyPhrases), dispatcher, scheduler.Config{
		Interval: cfg.PollInterval,
		IdleWait: cfg.IdleWait,
		AdDelay:  cfg.AdDelay,
		MaxPages: cfg.MaxPages,
	}, log)
	if profile.Detail.Enabled() {
		sched.SetEnricher(extract.NewDetailer(newTransport, profile, log))
	}

	sessions := session.NewManager(sched.Run, store, cfg.StopTimeout, cfg.SessionRetention, log)
	sessions.SetOnFatal(b.ReportFatal)
	b.SetSessions(sessions)

	if cfg.HTTPAddr != "" {
		srv := api.NewServer(api.NewHandler(store, sessions, recent, log), log)
		go func() {
			if err := api.Serve(ctx, cfg.HTTPAddr, srv, log); err != nil {
				log.Error("status API stopped", "error", err)
			}
		}()
	}

	log.Info("starting bot", "site", profile.Name, "filters_db", cfg.DatabasePath)

	b.Run(ctx)

	sessions.Shutdown(context.Background())
	log.Info("bot stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
