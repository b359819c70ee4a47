package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gj2101/boutview/internal/config"
	"github.com/gj2101/boutview/internal/geoip"
	"github.com/gj2101/boutview/internal/kv"
	"github.com/gj2101/boutview/internal/layout"
	"github.com/gj2101/boutview/internal/media"
	"github.com/gj2101/boutview/internal/review"
	"github.com/gj2101/boutview/internal/server"
	"github.com/gj2101/boutview/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	var (
		port      int
		servePath string
		storeDSN  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve dataset files with byte ranges plus the review and annotation API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Port = port
			}
			if cmd.Flags().Changed("path") {
				a.cfg.ServePath = servePath
			}
			if cmd.Flags().Changed("store") {
				a.cfg.StoreDSN = storeDSN
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a.cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 8091, "listen port")
	cmd.Flags().StringVar(&servePath, "path", "", "directory to serve (overrides SERVE_PATH)")
	cmd.Flags().StringVar(&storeDSN, "store", "", "state store: memory, a SQLite path, or a postgres:// URL")
	return cmd
}

func mediaSource(ctx context.Context, cfg *config.Config) (media.Source, error) {
	if cfg.S3.Enabled() {
		st, err := storage.New(ctx, storage.Config{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("connect storage: %w", err)
		}
		slog.Info("serving media from bucket", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix)
		return media.NewBucketSource(st), nil
	}

	source, err := media.NewDirSource(cfg.ServePath)
	if err != nil {
		return nil, err
	}
	slog.Info("serving media from directory", "path", source.Root())
	return source, nil
}

// runServe blocks until ctx is cancelled, then drains the server.
func runServe(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, closeStore, err := kv.Open(ctx, cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			slog.Warn("store close failed", "error", err)
		}
	}()

	source, err := mediaSource(ctx, cfg)
	if err != nil {
		return err
	}

	geo, err := geoip.New(cfg.GeoIPDB)
	if err != nil {
		return fmt.Errorf("geoip: %w", err)
	}
	defer func() { _ = geo.Close() }()

	registry := review.NewRegistry(review.Config{
		Store:       store,
		Mode:        cfg.DurationMode,
		FixedTotal:  cfg.FixedDuration,
		Layout:      layout.DefaultOptions(),
		IdleTimeout: cfg.SessionIdleTimeout,
	})

	var pinger server.Pinger
	if p, ok := store.(server.Pinger); ok {
		pinger = p
	}

	srv := server.New(server.Config{
		Addr:         cfg.Addr(),
		Media:        media.NewHandler(source),
		Registry:     registry,
		Pinger:       pinger,
		Geo:          geo,
		CORSOrigins:  cfg.CORSOrigins,
		DatasetHosts: cfg.DatasetHosts,
	})
	if err := srv.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	slog.Info("shutdown complete")
	return nil
}
