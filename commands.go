package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/onnwee/livechat-harvester/chat"
	"github.com/onnwee/livechat-harvester/config"
	"github.com/onnwee/livechat-harvester/db"
	"github.com/onnwee/livechat-harvester/oauth"
	"github.com/onnwee/livechat-harvester/server"
	"github.com/onnwee/livechat-harvester/sink"
	"github.com/onnwee/livechat-harvester/telemetry"
	"github.com/onnwee/livechat-harvester/youtubeapi"
)

const flushTimeout = 60 * time.Second

// overrides are command-line values that take precedence over the environment.
type overrides struct {
	channel   string
	outputDir string
	sinks     string
	httpAddr  string
}

func (o *overrides) apply(cfg *config.Config) {
	if o.channel != "" {
		cfg.ChannelID = o.channel
	}
	if o.outputDir != "" {
		cfg.OutputDir = o.outputDir
	}
	if o.sinks != "" {
		cfg.Sinks = config.ParseSinks(o.sinks)
	}
	if o.httpAddr != "" {
		cfg.HTTPAddr = o.httpAddr
	}
}

func newRootCommand() *cobra.Command {
	var ov overrides

	loadConfig := func() (*config.Config, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		ov.apply(cfg)
		return cfg, nil
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Wait for the channel to go live and harvest its chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runHarvest(cmd.Context(), cfg)
		},
	}

	rootCmd := &cobra.Command{
		Use:           "harvester",
		Short:         "YouTube live chat harvester",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCmd.RunE,
	}
	rootCmd.PersistentFlags().StringVar(&ov.channel, "channel", "", "YouTube channel id to monitor (overrides CHANNEL_ID)")
	rootCmd.PersistentFlags().StringVar(&ov.outputDir, "output-dir", "", "Directory for CSV transcripts (overrides OUTPUT_DIR)")
	rootCmd.PersistentFlags().StringVar(&ov.sinks, "sinks", "", "Comma separated transcript sinks: csv,postgres (overrides TRANSCRIPT_SINKS)")
	rootCmd.PersistentFlags().StringVar(&ov.httpAddr, "http-addr", "", "Listen address for health/status/metrics (overrides HTTP_ADDR)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run only the HTTP server, e.g. to complete the YouTube OAuth consent flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			database, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return database.Close()
		},
	})
	return rootCmd
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	database, err := db.Connect(ctx, cfg.DBDsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(ctx, database); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return database, nil
}

func initTelemetry() (func(), error) {
	telemetry.Init()
	shutdown, err := telemetry.InitTracing("livechat-harvester", version)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	return shutdown, nil
}

// lockChannel prevents two harvesters from writing transcripts for the same channel.
func lockChannel(cfg *config.Config) (*flock.Flock, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	lock := flock.New(filepath.Join(cfg.OutputDir, ".harvest-"+sink.SanitizeTitle(cfg.ChannelID)+".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another harvester is already monitoring channel %s", cfg.ChannelID)
	}
	return lock, nil
}

func buildSink(cfg *config.Config, database *sql.DB) chat.Sink {
	var out sink.Multi
	for _, kind := range cfg.Sinks {
		switch kind {
		case config.SinkCSV:
			out = append(out, sink.Named{Name: kind, Sink: sink.NewCSV(cfg.OutputDir)})
		case config.SinkPostgres:
			out = append(out, sink.Named{Name: kind, Sink: &sink.Postgres{DB: database}})
		}
	}
	return out
}

func runHarvest(parent context.Context, cfg *config.Config) error {
	if err := cfg.ValidateHarvestReady(); err != nil {
		return err
	}
	stopTracing, err := initTelemetry()
	if err != nil {
		return err
	}
	defer stopTracing()

	lock, err := lockChannel(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var database *sql.DB
	var tokens youtubeapi.TokenStore
	if cfg.NeedsDatabase() {
		if database, err = openDatabase(ctx, cfg); err != nil {
			return err
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		tokens = &db.TokenStoreAdapter{DB: database}
	}

	api, err := youtubeapi.NewClient(ctx, cfg, tokens)
	if err != nil {
		return err
	}
	if cfg.UsesOAuth() {
		oauth.StartRefresher(ctx, tokens, "youtube", 10*time.Minute, 20*time.Minute, youtubeapi.New(cfg, tokens).RefreshToken)
	}

	h := chat.New(api, buildSink(cfg, database), chat.Options{
		ChannelID:       cfg.ChannelID,
		DiscoveryRetry:  cfg.DiscoveryRetry,
		ResolveRetry:    cfg.ResolveRetry,
		PollRetry:       cfg.PollRetry,
		MinPollInterval: cfg.MinPollInterval,
		RequestTimeout:  cfg.RequestTimeout,
		FlushTimeout:    flushTimeout,
		ErrorCeiling:    cfg.ErrorCeiling,
		DefaultTitle:    cfg.DefaultTitle,
	})

	// The HTTP server outlives the signal so /status reports the flush.
	srvCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
	defer stopServer()
	if cfg.HTTPAddr != "" {
		go func() {
			if err := server.Start(srvCtx, cfg.HTTPAddr, server.NewMux(srvCtx, cfg, h, database)); err != nil {
				slog.Error("http server exited with error", slog.Any("err", err))
			}
		}()
	}

	res, runErr := h.Run(ctx)
	slog.Info("harvest finished",
		slog.String("reason", string(res.Reason)),
		slog.Int("messages", res.Records),
		slog.Bool("skipped", res.Skipped))
	return errors.Join(runErr, res.Err)
}

func runServe(parent context.Context, cfg *config.Config) error {
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	stopTracing, err := initTelemetry()
	if err != nil {
		return err
	}
	defer stopTracing()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var database *sql.DB
	if cfg.NeedsDatabase() {
		if database, err = openDatabase(ctx, cfg); err != nil {
			return err
		}
		defer func() { _ = database.Close() }()
	}
	return server.Start(ctx, cfg.HTTPAddr, server.NewMux(ctx, cfg, nil, database))
}
