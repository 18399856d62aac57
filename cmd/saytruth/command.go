package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"saytruth/internal/bot"
	"saytruth/internal/cipher"
	"saytruth/internal/clock"
	"saytruth/internal/config"
	"saytruth/internal/httpapi"
	"saytruth/internal/idgen"
	"saytruth/internal/logging"
	"saytruth/internal/metrics"
	"saytruth/internal/ratelimit"
	"saytruth/internal/service"
	"saytruth/internal/storage"
	"saytruth/internal/sweeper"
)

const shutdownTimeout = 15 * time.Second

type Options struct {
	ConfigPath string
}

func (o *Options) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&o.ConfigPath, "config", "c", "./configs", "directory holding config.yaml")
}

func NewServeCommand() *cobra.Command {
	opts := &Options{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API, the sweeper and the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Serve(opts)
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

func NewSweepCommand() *cobra.Command {
	opts := &Options{}
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "expire due links and purge old ones once, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Sweep(opts)
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

// app holds the wired components shared by every command.
type app struct {
	cfg      config.Config
	log      *logrus.Logger
	repo     *storage.BadgerRepository
	metrics  *metrics.Metrics
	registry *service.Registry
	messages *service.Messages
	sweeper  *sweeper.Sweeper
}

func setup(opts *Options) (*app, error) {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"badgerdb_path": cfg.BadgerDBPath,
		"http_addr":     cfg.HTTPAddr,
	}).Info("Configuration loaded successfully")

	c, err := cipher.New([]byte(cfg.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	digestKey, err := c.DeriveKey("saytruth.ratelimit.v1")
	if err != nil {
		return nil, fmt.Errorf("derive rate limit key: %w", err)
	}

	repo, err := storage.NewBadgerRepository(cfg.BadgerDBPath, log)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	clk := clock.System{}
	m := metrics.New()
	limiter := ratelimit.New(repo, cfg.Budgets(), clk, digestKey, log)
	svcOpts := []service.Option{service.WithLimiter(limiter), service.WithRecorder(m)}
	registry := service.NewRegistry(repo, idgen.New(), clk, cfg.Policy(), log, svcOpts...)

	return &app{
		cfg:      cfg,
		log:      log,
		repo:     repo,
		metrics:  m,
		registry: registry,
		messages: service.NewMessages(registry, repo, c, idgen.New(), clk, cfg.Policy(), log, svcOpts...),
		sweeper:  sweeper.New(repo, clk, cfg.Sweeper(), m, log),
	}, nil
}

func (a *app) close() {
	a.log.Info("Closing database...")
	if err := a.repo.Close(); err != nil {
		a.log.WithError(err).Error("Error closing database")
	}
	_ = logging.Close(a.log)
}

func Serve(opts *Options) error {
	a, err := setup(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting saytruth: %v\n", err)
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.sweeper.Start(ctx); err != nil {
		return err
	}
	defer a.sweeper.Stop()

	// The bot is built first so a bad token fails before anything listens.
	var handler *bot.Handler
	if a.cfg.TelegramBotToken != "" {
		commands := bot.NewCommands(a.registry, a.messages, a.cfg.PublicURL, a.log)
		handler, err = bot.NewHandler(a.cfg.TelegramBotToken, commands, a.log)
		if err != nil {
			return err
		}
	} else {
		a.log.Info("TELEGRAM_BOT_TOKEN not set, bot disabled")
	}

	api := httpapi.NewServer(a.registry, a.messages, httpapi.Options{
		Identity:       httpapi.NewHeaderResolver(a.cfg.IdentityHeader),
		Metrics:        a.metrics,
		Timeout:        a.cfg.RequestTimeout,
		TrustedProxies: a.cfg.Proxies(),
	}, a.log)
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.log.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	botDone := make(chan struct{})
	if handler != nil {
		go func() {
			defer close(botDone)
			handler.Start(ctx)
		}()
	} else {
		close(botDone)
	}

	a.log.Info("SayTruth is running. Press Ctrl+C to exit.")

	var failed error
	select {
	case <-ctx.Done():
	case failed = <-serveErr:
		if failed != nil {
			a.log.WithError(failed).Error("HTTP server failed")
		}
	}

	a.log.Info("Shutting down SayTruth...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Error("HTTP server shutdown failed")
	}
	<-botDone
	if failed != nil {
		return failed
	}
	a.log.Info("SayTruth shut down gracefully.")
	return nil
}

func Sweep(opts *Options) error {
	a, err := setup(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting saytruth: %v\n", err)
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	expired, err := a.sweeper.RunOnce(ctx)
	if err != nil {
		return err
	}
	purged, err := a.sweeper.Purge(ctx)
	if err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{
		"expired": expired.Rows,
		"purged":  purged.Rows,
	}).Info("Sweep finished")
	return nil
}
