package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"pgmonitor/clock"
	"pgmonitor/collector"
	"pgmonitor/config"
	"pgmonitor/logger"
	"pgmonitor/publisher"
	"pgmonitor/publisher/librato"
	"pgmonitor/publisher/pushgateway"
)

func main() {
	flags := newFlagSet(pflag.ExitOnError)
	_ = flags.Parse(os.Args[1:])

	path := config.DefaultPath
	if flags.NArg() > 0 {
		path = flags.Arg(0)
	}
	once, _ := flags.GetBool("once")

	if err := run(path, flags, once); err != nil {
		fmt.Fprintln(os.Stderr, "pgmonitor:", err)
		os.Exit(1)
	}
}

func newFlagSet(handling pflag.ErrorHandling) *pflag.FlagSet {
	flags := pflag.NewFlagSet("pgmonitor", handling)
	flags.String("log-level", "", "Override the configured log level (debug|info|warn|error)")
	flags.String("backend", "", "Override the configured publisher (librato|pushgateway|log)")
	flags.Bool("once", false, "Run a single collection cycle and exit")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pgmonitor [flags] [config-path]\n\nconfig-path defaults to %s\n\n", config.DefaultPath)
		flags.PrintDefaults()
	}
	return flags
}

func run(path string, flags *pflag.FlagSet, once bool) error {
	cfg, err := config.Load(path, flags)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("setting up logger: %w", err)
	}
	defer logger.Flush(log.Logger)
	log.Logger.Info("config loaded",
		zap.String("path", path),
		zap.Int("databases", len(cfg.Databases)),
		zap.String("backend", cfg.Backend),
		zap.Duration("interval", cfg.IntervalDuration()),
	)

	pub, err := newPublisher(cfg, log.Logger)
	if err != nil {
		return err
	}

	reporter := collector.LogReporter{Log: log.Logger}
	dialer := collector.PgxDialer{
		ConnectTimeout:  cfg.ConnectTimeoutDuration(),
		ApplicationName: cfg.ApplicationName,
	}
	loop := &collector.Loop{
		Targets:     cfg.Databases,
		Collector:   collector.NewSourceCollector(dialer, cfg.MetricPrefix, reporter, log.Logger),
		Publisher:   pub,
		Interval:    cfg.IntervalDuration(),
		Concurrency: cfg.Concurrency,
		Clock:       clock.Real(),
		Reporter:    reporter,
		Log:         log.Logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if once {
		return loop.RunCycle(ctx).Err
	}

	err = loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Logger.Info("shutting down")
		return nil
	}
	return err
}

func newPublisher(cfg *config.Config, log *zap.Logger) (publisher.Publisher, error) {
	switch cfg.Backend {
	case config.BackendLibrato:
		return librato.New(cfg.Librato.URL, cfg.Librato.User, cfg.Librato.Token, log), nil
	case config.BackendPushgateway:
		return pushgateway.New(cfg.Pushgateway.URL, cfg.Pushgateway.Job, log), nil
	case config.BackendLog:
		return publisher.NewLogPublisher(log), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
