package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"bourse/internal/account"
	"bourse/internal/api"
	"bourse/internal/config"
	"bourse/internal/exchange"
	"bourse/internal/feed"
	"bourse/internal/net"
)

func main() {
	envPath := flag.String("env", "", "Path to a .env file")
	flag.Parse()

	cfg, err := config.Load(*envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("exchange stopped")
	}
}

func setupLogging(cfg config.Log) {
	zerolog.SetGlobalLevel(cfg.Level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
}

func run(ctx context.Context, cfg config.Config) error {
	// Setup the exchange and list the boot instruments.
	ex := exchange.New(account.NewManager(cfg.Exchange.InitialBalance))
	for _, symbol := range cfg.Exchange.Instruments {
		if err := ex.ListInstrument(symbol); err != nil {
			return fmt.Errorf("listing %q: %w", symbol, err)
		}
	}

	// Fills are pushed to connected traders, then to the feed.
	srv := net.New(cfg.Server.Address, cfg.Server.OrderPort, ex, cfg.Server.Workers)
	ex.SetReporter(srv)

	if len(cfg.Feed.KafkaBrokers) > 0 {
		publisher := feed.NewPublisher(cfg.Feed.KafkaBrokers, cfg.Feed.KafkaTopic)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Error().Err(err).Msg("unable to close fill feed")
			}
		}()
		ex.SetReporter(publisher)
		log.Info().
			Strs("brokers", cfg.Feed.KafkaBrokers).
			Str("topic", cfg.Feed.KafkaTopic).
			Msg("fill feed enabled")
	}

	httpServer := api.NewServer(ex, cfg.Server.CORSOrigins)
	httpAddress := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.HTTPPort)

	t, ctx := tomb.WithContext(ctx)
	t.Go(func() error { return srv.Run(ctx) })
	t.Go(func() error { return httpServer.Run(ctx, httpAddress) })

	err := t.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
