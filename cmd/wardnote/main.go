// Wardnote is the offline-first sync daemon behind the geo-notes app: it
// keeps the local ward dataset consistent with the central server through
// an append-only event log and a versioned pull ledger, and answers
// proximity queries against wards and geotagged notes.
//
// Usage:
//
//	wardnote daemon [--config <path>]     # run background sync + location watch
//	wardnote sync-once [--config <path>]  # one push + pull cycle, then exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tigawanna/geo-notes-sub000/internal/auth"
	"github.com/tigawanna/geo-notes-sub000/internal/config"
	"github.com/tigawanna/geo-notes-sub000/internal/location"
	"github.com/tigawanna/geo-notes-sub000/internal/store"
	"github.com/tigawanna/geo-notes-sub000/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: wardnote <daemon|sync-once> [--config <path>]")
		return errors.New("missing command")
	}

	switch cmd := os.Args[1]; cmd {
	case "daemon":
		return runSync(os.Args[2:], true)
	case "sync-once":
		return runSync(os.Args[2:], false)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runSync(args []string, daemon bool) error {
	fs := flag.NewFlagSet("wardnote", flag.ContinueOnError)
	configPath := fs.String("config", "wardnote.yaml", "path to config file")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clientID, err := st.EnsureClientID(ctx)
	if err != nil {
		return err
	}

	var token syncer.TokenFunc
	if cfg.TokenSecret != "" {
		token = auth.NewTokenSource(cfg.TokenSecret, cfg.UserID, clientID, 0).Token
	}
	sync := syncer.New(st, cfg.SyncURL, clientID, token, cfg.HTTPTimeout, logger)

	if !daemon {
		if _, err := sync.PushAllEvents(ctx); err != nil {
			return err
		}
		result, err := sync.PullAndReplayEvents(ctx)
		if err != nil {
			return err
		}
		if result.NoNewChanges {
			logger.Info("pull: nothing new past the watermark")
		}
		return nil
	}

	sched := syncer.NewScheduler(logger)
	sched.Register("push-ward-events", cfg.SyncInterval, func(ctx context.Context) error {
		_, err := sync.PushAllEvents(ctx)
		return err
	})
	sched.Register("pull-ward-updates", cfg.SyncInterval, func(ctx context.Context) error {
		_, err := sync.PullAndReplayEvents(ctx)
		return err
	})

	go watchLocation(ctx, st, cfg, logger)

	// Initialization done: let the background tasks loose.
	sched.SetReady()
	logger.Info("wardnote daemon started", "database", cfg.Database, "sync_url", cfg.SyncURL)

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// watchLocation logs the containing ward for each location sample. The
// sample source is a placeholder until a real device provider is wired.
func watchLocation(ctx context.Context, st *store.Store, cfg *config.Config, logger *slog.Logger) {
	provider := location.Static(-1.2206, 36.8985, cfg.LocationInterval) // Kasarani by default
	for sample := range provider.Samples(ctx) {
		region, err := st.FindContainingRegion(ctx, sample.Latitude, sample.Longitude)
		if errors.Is(err, store.ErrRegionNotFound) {
			logger.Debug("location outside known wards", "lat", sample.Latitude, "lng", sample.Longitude)
			continue
		}
		if err != nil {
			logger.Error("containment query failed", "error", err)
			continue
		}
		logger.Info("current ward", "ward", region.Ward, "county", region.County)
	}
}
