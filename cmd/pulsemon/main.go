// PulseMon - uptime monitoring agent.
//
// Probes a configurable set of remote services and reports each check as a
// pulse, either to per-monitor heartbeat URLs (file mode) or to a central
// server over a persistent control channel (server mode).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sureshkrishnan-v/pulsemon/internal/config"
	"github.com/sureshkrishnan-v/pulsemon/internal/heartbeat"
	"github.com/sureshkrishnan-v/pulsemon/internal/pulse"
	"github.com/sureshkrishnan-v/pulsemon/internal/scheduler"
	"github.com/sureshkrishnan-v/pulsemon/internal/telemetry"
	"github.com/sureshkrishnan-v/pulsemon/internal/wsclient"
)

const version = "0.5.0"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "pulsemon",
		Short:   "PulseMon uptime monitoring agent",
		Version: version,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			return run(configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.toml",
		"path to config.toml (optional if using PULSE_SERVER_URL)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	logger, err := buildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	logger.Info("PulseMon starting", zap.String("version", version))

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Optional self-telemetry endpoint.
	var tele *telemetry.Server
	if addr := os.Getenv("PULSE_METRICS_ADDR"); addr != "" {
		tele = telemetry.NewServer(addr, logger)
		go func() {
			if err := tele.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Telemetry server exited with error", zap.Error(err))
			}
		}()
	}

	serverURL := os.Getenv("PULSE_SERVER_URL")
	token := os.Getenv("PULSE_TOKEN")

	switch {
	case serverURL != "" && token != "":
		logger.Info("Mode: server", zap.String("server_url", serverURL))
		return runServerMode(ctx, logger, tele, serverURL, token)

	case fileExists(configPath):
		logger.Info("Mode: local config file", zap.String("config", configPath))
		return runFileMode(ctx, logger, tele, configPath)

	default:
		logger.Warn("To use server mode, set these environment variables:\n" +
			"  PULSE_SERVER_URL=http://localhost:3000\n" +
			"  PULSE_TOKEN=your_token_here\n" +
			"Or create a config.toml file.")
		return fmt.Errorf(
			"no configuration found: set PULSE_SERVER_URL and PULSE_TOKEN, or provide a config file at %q",
			configPath)
	}
}

// runFileMode schedules the monitors from a local TOML document; each
// monitor delivers through its own heartbeat URL.
func runFileMode(ctx context.Context, logger *zap.Logger, tele *telemetry.Server, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger.Info("Configuration loaded", zap.Int("monitors", len(cfg.Monitors)))

	dispatcher := heartbeat.NewDispatcher(logger, "", nil, pulse.QueueConfigFromEnv())
	sched := scheduler.New(cfg.ConcurrentChecks(), dispatcher, logger)
	sched.Apply(cfg)

	if tele != nil {
		tele.SetReady()
	}

	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("PulseMon stopped")
	return nil
}

// runServerMode connects the control channel and re-targets the scheduler
// at every monitor set the server pushes.
func runServerMode(ctx context.Context, logger *zap.Logger, tele *telemetry.Server, serverURL, token string) error {
	queueCfg := pulse.QueueConfigFromEnv()
	queue := pulse.NewQueue(queueCfg, logger)
	slot := pulse.NewSlot()

	dispatcher := heartbeat.NewDispatcher(logger, serverURL, slot, queueCfg)
	sched := scheduler.New(config.EnvInt("PULSE_MAX_CONCURRENT_CHECKS", 5000), dispatcher, logger)
	client := wsclient.New(serverURL, token, queue, slot, logger)

	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Control channel exited with error", zap.Error(err))
		}
	}()
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Scheduler exited with error", zap.Error(err))
		}
	}()

	if tele != nil {
		tele.SetReady()
	}

	logger.Info("Waiting for configuration from server...")
	for {
		select {
		case <-ctx.Done():
			logger.Info("PulseMon stopped", zap.Int("pending_pulses", queue.Pending()))
			return nil
		case cfg := <-client.ConfigUpdates():
			logger.Info("Applying new configuration", zap.Int("monitors", len(cfg.Monitors)))
			sched.Apply(cfg)
		}
	}
}

func buildLogger() (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	logConfig.EncoderConfig.TimeKey = "ts"
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if level := os.Getenv("PULSE_LOG_LEVEL"); level != "" {
		if parsed, err := zapcore.ParseLevel(level); err == nil {
			logConfig.Level = zap.NewAtomicLevelAt(parsed)
		}
	}
	return logConfig.Build()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
