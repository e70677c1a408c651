package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/casualjim/strix"
	"github.com/casualjim/strix/broker"
	"github.com/casualjim/strix/events"
	"github.com/casualjim/strix/pkg/natsx"
	"github.com/casualjim/strix/pkg/slogx"
	"github.com/casualjim/strix/trigger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		configPath string
		timeout    time.Duration
	)
	flag.StringVar(&configPath, "config", "", "path to a TOML config file")
	flag.DurationVar(&timeout, "timeout", time.Minute, "give up after this long")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	zl := zerolog.New(output).With().Timestamp().Logger()
	logger := slog.New(zeroslog.NewHandler(zl, &zeroslog.HandlerOptions{Level: cfg.level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("demo failed", slogx.Error(err))
		os.Exit(1)
	}
}

func openBroker(cfg config) (broker.Broker, func(), error) {
	switch cfg.Broker {
	case "", "local":
		b, err := broker.NewLocal(broker.WithSlowSubscriberTimeout(cfg.SlowSubscriber.Duration))
		if err != nil {
			return nil, nil, err
		}
		return b, func() {}, nil
	case "nats":
		nc, err := natsx.NewClient()
		if err != nil {
			return nil, nil, fmt.Errorf("connect to %s: %w", natsx.URL(), err)
		}
		return broker.NATS(nc), nc.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	b, closeBroker, err := openBroker(cfg)
	if err != nil {
		return err
	}
	defer closeBroker()

	topic := b.Topic(ctx, cfg.Topic)
	out := newPrinter(os.Stdout)
	sub, err := topic.Subscribe(ctx, events.NewCompositeHook(out, events.LoggingHook()))
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	s := strix.New(
		strix.WithName(cfg.Name),
		strix.WithLogger(logger),
		strix.WithObserver(strix.NewCompositeObserver(
			strix.LoggingObserver(logger),
			events.NewObserver(topic),
		)),
	)

	p := &pipeline{latency: cfg.Latency.Duration, total: len(cfg.Questions), logger: logger}
	first, err := p.question(0, cfg.Questions[0])
	if err != nil {
		return err
	}

	var asked atomic.Int64
	asked.Store(1)
	trig, err := trigger.New(s, func(time.Time) *strix.Job {
		if !s.Running() {
			return nil
		}
		n := int(asked.Load())
		if n >= len(cfg.Questions) {
			return nil
		}
		job, err := p.question(n, cfg.Questions[n])
		if err != nil {
			logger.Error("building question", slog.Int("n", n), slogx.Error(err))
			return nil
		}
		asked.Add(1)
		return job
	},
		trigger.Schedule(trigger.Every(cfg.Interval.Duration)),
		trigger.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	finished := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(finished)
		result, err := s.Run(gctx, strix.WithJobs(first))
		if err != nil {
			return err
		}
		logger.Info("scheduler finished", slog.Any("result", result))
		return nil
	})
	g.Go(func() error {
		trig.Start()
		select {
		case <-finished:
		case <-gctx.Done():
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := trig.Stop(stopCtx); err != nil {
			return fmt.Errorf("stop trigger: %w", err)
		}
		fired, skipped := trig.Stats()
		logger.Debug("trigger stopped", slog.Int("fired", fired), slog.Int("skipped", skipped))
		return nil
	})
	runErr := g.Wait()

	select {
	case <-out.stopped:
	case <-time.After(time.Second):
	}
	return runErr
}
