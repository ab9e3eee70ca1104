package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vaultbot/internal/bus"
	"vaultbot/internal/cache"
	"vaultbot/internal/command"
	"vaultbot/internal/config"
	"vaultbot/internal/domain"
	"vaultbot/internal/ephemeral"
	"vaultbot/internal/ingress"
	"vaultbot/internal/metrics"
	"vaultbot/internal/mirror"
	"vaultbot/internal/recovery"
	"vaultbot/internal/store"
	"vaultbot/internal/transport"

	"github.com/spf13/cobra"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "vaultbot",
		Short: "VaultBot: ephemeral message retention and recovery agent",
		Long:  "VaultBot caches incoming messages and recovers deleted and view-once content to your own chat.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.vaultbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			logger.Info("next: set general.ownerId and the transport credentials, then run 'vaultbot run'")
			return nil
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the retention engine",
		Long:  "Starts the webhook listener, cache, and recovery pipeline. Press Ctrl+C to stop.",
		RunE:  runEngine,
	}
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.General.OwnerID == "" {
		return fmt.Errorf("general.ownerId is not set in %s", cfgPath)
	}

	logger = buildLogger(cfg.General)
	command.SetVersion(version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventBus := bus.New(100, logger)
	defer eventBus.Close()

	db, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	db.SetSeed(userSeed(cfg))

	cacheStore := cache.New(logger)
	markers := recovery.NewMarkerSet()

	cacheSweeper := cache.NewSweeper(cache.SweeperConfig{
		Interval:  time.Duration(cfg.Cache.SweepIntervalSeconds) * time.Second,
		Retention: time.Duration(cfg.Cache.RetentionMinutes) * time.Minute,
		Logger:    logger,
	}, cacheStore)
	go cacheSweeper.Start(ctx)

	// Dedup markers outlive cache entries so late duplicate signals for an
	// evicted message still resolve to "already notified".
	markerSweeper := cache.NewSweeper(cache.SweeperConfig{
		Interval:  time.Duration(cfg.Cache.SweepIntervalSeconds) * time.Second,
		Retention: time.Duration(cfg.Recovery.MarkerTTLMinutes) * time.Minute,
		Logger:    logger,
	}, markers)
	go markerSweeper.Start(ctx)

	adapter := ingress.NewAdapter(logger)
	cloud := transport.NewCloud(transport.CloudConfig{
		Config:  cfg.Transport,
		OwnerID: cfg.General.OwnerID,
		Adapter: adapter,
		Bus:     eventBus,
		Logger:  logger,
	})

	var mirrorSink recovery.Mirror
	if cfg.Mirror.Enabled {
		tg, err := mirror.NewTelegram(mirror.TelegramConfig{
			Token:  cfg.Mirror.Token,
			ChatID: cfg.Mirror.ChatID,
			Logger: logger,
		})
		if err != nil {
			logger.Warn("telegram mirror unavailable, continuing without it", "err", err)
		} else {
			mirrorSink = tg
		}
	}

	extractor := ephemeral.NewExtractor(cacheStore, logger)
	composer := recovery.NewComposer(recovery.ComposerConfig{
		Store:       cacheStore,
		Transport:   cloud,
		Configs:     db,
		Notified:    markers,
		Audit:       db,
		Mirror:      mirrorSink,
		SendTimeout: time.Duration(cfg.Recovery.SendTimeoutSeconds) * time.Second,
		Logger:      logger,
	})

	registry := command.NewRegistry(logger)
	command.RegisterBuiltins(registry)
	gate := command.NewGate(command.GateConfig{
		Registry: registry,
		Env: command.Env{
			Store:     cacheStore,
			Transport: cloud,
			Configs:   db,
			Audit:     db,
			Logger:    logger,
			StartedAt: time.Now(),
		},
		ReplyTimeout: time.Duration(cfg.Commands.ReplySeconds) * time.Second,
		Logger:       logger,
	})

	loop := ingress.NewLoop(ingress.LoopConfig{
		Bus:         eventBus,
		Store:       cacheStore,
		Extractor:   extractor,
		Composer:    composer,
		Gate:        gate,
		Concurrency: cfg.General.Concurrency,
		Logger:      logger,
	})

	loopErr := make(chan error, 1)
	go func() { loopErr <- loop.Run(ctx) }()

	if cfg.Transport.HistoryOnConnect {
		go func() {
			syncCtx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			if err := cloud.SyncHistory(syncCtx); err != nil {
				logger.Warn("history sync failed", "err", err)
			}
		}()
	}

	go pruneAuditLoop(ctx, db)

	server := buildServer(cfg, cloud)
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("webhook listener started", "addr", server.Addr, "path", cfg.Transport.WebhookPath)
		serverErr <- server.ListenAndServe()
	}()

	logger.Info("vaultbot running", "version", version, "owner", cfg.General.OwnerID)

	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case err := <-loopErr:
		if err != nil {
			logger.Error("ingestion loop failed", "err", err)
			stop()
			shutdownServer(server)
			return err
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("webhook listener failed", "err", err)
			return err
		}
	}

	shutdownServer(server)
	logger.Info("shutdown complete")
	return nil
}

// userSeed derives the owner's first-run settings from the app config's
// commands section; later changes go through the command gate, not here.
func userSeed(cfg *config.Config) func(string) domain.UserConfig {
	return func(ownerID string) domain.UserConfig {
		uc := domain.DefaultUserConfig(ownerID)
		if cfg.Commands.Prefix != "" {
			uc.Prefix = cfg.Commands.Prefix
		}
		uc.AutoReply = cfg.Commands.AutoReply
		if cfg.Commands.AutoReplyText != "" {
			uc.AutoReplyText = cfg.Commands.AutoReplyText
		}
		return uc
	}
}

func buildLogger(gc config.GeneralConfig) *slog.Logger {
	level := slog.LevelInfo
	switch gc.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := os.Stderr
	if gc.LogFile != "" {
		if f, err := os.OpenFile(gc.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			out = f
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func buildServer(cfg *config.Config, cloud *transport.Cloud) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/", cloud.Handler())
	if cfg.Metrics.Enabled {
		mux.HandleFunc("GET "+cfg.Metrics.Endpoint, metrics.Collector.Handler())
	}
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Transport.Host, cfg.Transport.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func shutdownServer(server *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("webhook listener shutdown", "err", err)
	}
}

// pruneAuditLoop trims the recovery log once a day.
func pruneAuditLoop(ctx context.Context, db *store.SQLiteStore) {
	const auditRetention = 90 * 24 * time.Hour

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := db.PruneRecoveries(ctx, auditRetention); err != nil {
				logger.Warn("audit prune failed", "err", err)
			} else if n > 0 {
				logger.Info("audit log pruned", "removed", n)
			}
		}
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show installation status and recent recoveries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				return err
			}
			logger.Info("config", "path", cfgPath, "loaded", true, "owner", cfg.General.OwnerID)

			db, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer db.Close()

			recs, err := db.RecentRecoveries(cmd.Context(), 10)
			if err != nil {
				return fmt.Errorf("recovery log: %w", err)
			}
			logger.Info("recovery log", "recent", len(recs))
			for _, r := range recs {
				fmt.Printf("  %s  %-10s  %-8s  %s\n",
					r.At.Format(time.RFC3339), r.Outcome, orDash(r.MediaKind), r.TargetID)
			}
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. cache.retentionMinutes)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. cache.retentionMinutes 45)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
