package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"ubibot-go-home/internal/coordinator"
	"ubibot-go-home/internal/entity"
	"ubibot-go-home/internal/store"
	"ubibot-go-home/internal/ubibot"
	"ubibot-go-home/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	API struct {
		BaseURL    string `yaml:"base_url"`
		AccountKey string `yaml:"account_key"`
	} `yaml:"api"`
	Channels []struct {
		ChannelID string `yaml:"channel_id"`
		Name      string `yaml:"name"`
	} `yaml:"channels"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	if c.API.AccountKey == "" {
		return fmt.Errorf("api.account_key is required")
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	// Create configured logger.
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("ubibot-go-home starting", "version", version)

	// Open store and seed the entry configuration from config.yaml when the
	// store is empty; after first run the store copy is authoritative.
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := seedEntryConfig(db, cfg); err != nil {
		logger.Error("seed entry config", "err", err)
		os.Exit(1)
	}

	client := ubibot.NewClient(cfg.API.BaseURL, cfg.API.AccountKey, logger)
	events := coordinator.NewEventBus(logger)
	manager := coordinator.NewManager(client, db, events, logger)

	// First refresh failures mean the vendor is unreachable or the account
	// key is wrong; keep retrying so a flaky start heals itself.
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	if err := initializeWithRetry(runCtx, manager, logger); err != nil {
		logger.Error("entry setup", "err", err)
		os.Exit(1)
	}
	defer manager.Unload()

	// One registry feeds every surface, so they actuate the same entities.
	entities := entity.NewRegistry(manager)

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(manager, entities, cfg, logger)

	// Start web server.
	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))
	webOpts = append(webOpts, autoWebOpts...)

	webServer := web.NewServer(manager, entities, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(manager, entities, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)
	stopRun()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	manager.Unload()

	logger.Info("goodbye")
}

// seedEntryConfig writes the config-file channel selection into the store on
// first run only. Later edits go through PUT /api/options.
func seedEntryConfig(db store.Store, cfg *Config) error {
	_, err := db.GetEntryConfig()
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if len(cfg.Channels) == 0 {
		return fmt.Errorf("no entry config in store and no channels in config file")
	}

	entry := &store.EntryConfig{AccountKey: cfg.API.AccountKey}
	for _, ch := range cfg.Channels {
		if ch.ChannelID == "" {
			return fmt.Errorf("channel entry without channel_id")
		}
		entry.Channels = append(entry.Channels, store.ChannelRef{
			ChannelID: ch.ChannelID,
			Name:      ch.Name,
		})
	}
	return db.SaveEntryConfig(entry)
}

// initializeWithRetry keeps attempting entry setup while it reports
// not-ready. Anything else is fatal.
func initializeWithRetry(ctx context.Context, manager *coordinator.Manager, logger *slog.Logger) error {
	const retryEvery = 30 * time.Second

	for {
		err := manager.Initialize(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, coordinator.ErrNotReady) {
			return err
		}
		logger.Warn("entry not ready, retrying", "err", err, "in", retryEvery)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryEvery):
		}
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = ubibot.DefaultBaseURL
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "ubibot-home.db"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "ubibot"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
