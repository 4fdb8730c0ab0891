package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/telebot.v4"

	"gpsp-bot/internal/config"
	"gpsp-bot/internal/handler"
	"gpsp-bot/internal/heartbeat"
	"gpsp-bot/internal/ingest"
	"gpsp-bot/internal/llm"
	"gpsp-bot/internal/logging"
	"gpsp-bot/internal/media"
	"gpsp-bot/internal/metrics"
	"gpsp-bot/internal/platform"
	"gpsp-bot/internal/platform/discord"
	"gpsp-bot/internal/platform/telegram"
	"gpsp-bot/internal/server"
	"gpsp-bot/internal/storage"
)

type Options struct {
	Config   string `short:"c" long:"config" description:"Path to a TOML configuration file"`
	LogLevel string `long:"log-level" description:"Override the configured log level"`
	Args     struct {
		Platform string `positional-arg-name:"platform" description:"telegram or discord"`
	} `positional-args:"yes" required:"yes"`
}

// shutdownTimeout bounds how long in-flight workflows may run after a signal.
const shutdownTimeout = 2 * time.Minute

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Usage = "[OPTIONS] <telegram|discord>"

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	p, err := config.ParsePlatform(opts.Args.Platform)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		parser.WriteHelp(os.Stderr)
		os.Exit(1)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if err := cfg.Validate(p); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Output, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	logger.Infof("Starting gpsp-bot for %s", p)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, p, cfg, logger); err != nil {
		logger.Fatalf("Bot stopped with error: %v", err)
	}
	logger.Info("Bot shutdown complete")
}

func run(ctx context.Context, p config.Platform, cfg *config.Config, logger *log.Logger) error {
	entry := logger.WithField("platform", string(p))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, err := storage.NewStore(storage.Options{Type: "dir", Dir: cfg.Media.TmpDir})
	if err != nil {
		return err
	}
	runner := media.NewPoolRunner(media.ExecRunner{}, cfg.Workers.MaxProcesses)
	defer runner.Stop()
	metrics.WatchProcessQueue(reg, runner.Waiting)

	pipeline := media.New(runner, store, media.Options{
		YtDlp:         cfg.Media.YtDlp,
		FFmpeg:        cfg.Media.FFmpeg,
		FFprobe:       cfg.Media.FFprobe,
		MaxResolution: cfg.Media.MaxResolution,
		MaxDownload:   cfg.Media.MaxDownload,
		Proxies:       cfg.Media.Proxies,
		Observer:      m,
	}, entry.WithField("component", "media"))

	var client llm.Client = llm.DisabledClient{}
	if cfg.LLM.APIKey != "" {
		client = llm.NewAnthropicClient(cfg.LLM.APIKey, cfg.LLM.Model, time.Duration(cfg.LLM.Timeout)*time.Second)
	} else {
		entry.Warn("No LLM API key configured, rewording and cut instructions are disabled")
	}
	language := llm.NewService(client, entry.WithField("component", "llm"))

	var messenger platform.Messenger
	var front func(context.Context, *ingest.Dispatcher) error

	switch p {
	case config.Telegram:
		bot, err := telebot.NewBot(telebot.Settings{
			Token:   cfg.Telegram.Token,
			Client:  &http.Client{Timeout: time.Duration(cfg.Telegram.PollingTimeout+30) * time.Second},
			Offline: false,
			Verbose: cfg.Logging.Level == "trace",
		})
		if err != nil {
			return fmt.Errorf("create telegram bot: %w", err)
		}
		entry.Infof("Telegram bot authorized as @%s", bot.Me.Username)

		tg := telegram.New(bot)
		messenger = tg
		front = func(ctx context.Context, d *ingest.Dispatcher) error {
			poller := ingest.NewPoller(tg, d, cfg.Telegram.PollingTimeout,
				time.Duration(cfg.Telegram.GracePeriodMs)*time.Millisecond, m, entry)
			return poller.Run(ctx)
		}

	case config.Discord:
		session, err := discordgo.New("Bot " + cfg.Discord.Token)
		if err != nil {
			return fmt.Errorf("create discord session: %w", err)
		}
		messenger = discord.New(session)
		front = func(ctx context.Context, d *ingest.Dispatcher) error {
			return discord.NewGateway(session, d, entry).Run(ctx)
		}
	}

	soft, hard := cfg.SizeLimits(p)
	hb := heartbeat.New(messenger, time.Duration(cfg.Heartbeat.IntervalMs)*time.Millisecond,
		platform.ActionUploadVideo, entry.WithField("component", "heartbeat"))
	bot := handler.NewBot(messenger, pipeline, language, hb, store, m, handler.Options{
		Limits:         platform.Limits{Soft: soft, Hard: hard},
		AnimationDelay: time.Duration(cfg.Roll.AnimationDelayMs) * time.Millisecond,
		RevealDelay:    time.Duration(cfg.Roll.RevealDelayMs) * time.Millisecond,
		SweepAge:       time.Duration(cfg.Media.SweepAgeHours) * time.Hour,
	}, entry)

	// Workflows keep running after intake stops so they can clean up.
	work, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	dispatcher := ingest.NewDispatcher(work, bot, cfg.Workers.MaxConcurrentUpdates, m, entry)

	var serving atomic.Bool
	serving.Store(true)
	if cfg.Metrics.Addr != "" {
		srv := server.New(cfg.Metrics.Addr, server.NewRouter(reg, string(p), serving.Load), entry)
		if _, err := srv.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if removed, err := store.Sweep(time.Duration(cfg.Media.SweepAgeHours) * time.Hour); err != nil {
		entry.WithError(err).Warn("Initial sweep failed")
	} else if len(removed) > 0 {
		entry.WithField("count", len(removed)).Info("Removed stale artifacts")
	}

	entry.Info("Bot is now running. Press Ctrl+C to exit.")
	err = front(ctx, dispatcher)
	serving.Store(false)
	entry.Info("Intake stopped, waiting for in-flight workflows")

	done := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		entry.Warn("Workflows did not finish in time, cancelling")
		cancelWork()
		<-done
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
