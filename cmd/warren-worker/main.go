// ABOUTME: Entry point for the warren worker process.
// ABOUTME: Persistent polling mode (run) and stdin one-shot mode (once).

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/warren/internal/backend"
	"github.com/2389/warren/internal/config"
	"github.com/2389/warren/internal/wire"
	"github.com/2389/warren/internal/worker"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
    ╭────────────────────────────────────╮
    │                                    │
    │   ╻ ╻┏━┓┏━┓┏━┓┏━╸┏┓╻              │
    │   ┃╻┃┣━┫┣┳┛┣┳┛┣╸ ┃┗┫              │
    │   ┗┻┛╹ ╹╹┗╸╹┗╸┗━╸╹ ╹  worker      │
    │                                    │
    ╰────────────────────────────────────╯
`

// getConfigPath returns the worker config file path.
// Priority: WARREN_WORKER_CONFIG env var > XDG_CONFIG_HOME/warren/worker.toml
// > ~/.config/warren/worker.toml
func getConfigPath() string {
	if envPath := os.Getenv("WARREN_WORKER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "worker.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "warren", "worker.toml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: warren-worker <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  run  [--root DIR] [--config FILE]  Poll the channel for requests")
		fmt.Println("  once [--root DIR] [--config FILE] [--id ID]  Execute one request from stdin")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runLoop(ctx)
	case "once":
		os.Exit(runOnce(ctx))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags extracts --root, --config, and --id from the remaining
// arguments. --id is only meaningful in one-shot mode.
func parseFlags(args []string) (root, configPath, reqID string, err error) {
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--root" && i+1 < len(args):
			root = args[i+1]
			i++
		case args[i] == "--config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case args[i] == "--id" && i+1 < len(args):
			reqID = args[i+1]
			i++
		default:
			return "", "", "", fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	return root, configPath, reqID, nil
}

// loadConfig merges flags over the config file. A missing default config
// file is fine; an explicitly requested one must exist.
func loadConfig(root, configPath string) (*config.WorkerConfig, error) {
	explicit := configPath != ""
	if configPath == "" {
		configPath = getConfigPath()
	}

	cfg := &config.WorkerConfig{}
	if _, statErr := os.Stat(configPath); statErr == nil || explicit {
		loaded, err := config.LoadWorker(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", configPath, err)
		}
		cfg = loaded
	}

	if root != "" {
		cfg.Channel.Root = root
	}
	if cfg.Channel.Root == "" {
		return nil, fmt.Errorf("channel root is required (--root or channel.root in config)")
	}
	if cfg.Agent.Provider == "" {
		cfg.Agent.Provider = "claude"
	}
	if cfg.Agent.Binary == "" {
		cfg.Agent.Binary = "claude"
	}
	return cfg, nil
}

func buildRunner(cfg *config.WorkerConfig, logger *slog.Logger) *worker.Runner {
	cli := backend.NewCLIBackend(cfg.Agent.Binary)
	cli.ExtraArgs = cfg.Agent.ExtraArgs
	cli.DefaultModel = cfg.Agent.Model
	cli.DefaultWorkDir = cfg.Agent.WorkDir

	registry := backend.NewRegistry(cfg.Agent.Provider)
	registry.Register(cfg.Agent.Provider, cli)

	return &worker.Runner{
		Channel:  wire.Channel{Root: cfg.Channel.Root},
		Registry: registry,
		Logger:   logger,
	}
}

func runLoop(ctx context.Context) error {
	root, configPath, _, err := parseFlags(os.Args[2:])
	if err != nil {
		return err
	}

	cfg, err := loadConfig(root, configPath)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging.Level)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Channel:  %s\n", cfg.Channel.Root)
	green.Print("    ▶ ")
	fmt.Printf("Provider: %s (%s)\n", cfg.Agent.Provider, cfg.Agent.Binary)
	fmt.Println()

	loop := &worker.Loop{
		Runner:            buildRunner(cfg, logger),
		Logger:            logger,
		PollInterval:      cfg.Loop.PollInterval,
		HeartbeatInterval: cfg.Loop.HeartbeatInterval,
	}
	return loop.Run(ctx)
}

// runOnce reads one request from stdin and writes the framed response to
// stdout. Nothing else may touch stdout; diagnostics go to stderr.
func runOnce(ctx context.Context) int {
	root, configPath, reqID, err := parseFlags(os.Args[2:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(root, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	return worker.OneShot(ctx, buildRunner(cfg, logger), reqID, os.Stdin, os.Stdout)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
}
