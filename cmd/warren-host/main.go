// ABOUTME: Entry point for the warren host: Matrix bridge, worker supervision,
// ABOUTME: and the streaming pipeline, wired over the filesystem channel.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/warren/internal/chat"
	"github.com/2389/warren/internal/config"
	"github.com/2389/warren/internal/pipeline"
	"github.com/2389/warren/internal/store"
	"github.com/2389/warren/internal/supervisor"
	"github.com/2389/warren/internal/wire"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
    ╭────────────────────────────────────╮
    │                                    │
    │   ╻ ╻┏━┓┏━┓┏━┓┏━╸┏┓╻              │
    │   ┃╻┃┣━┫┣┳┛┣┳┛┣╸ ┃┗┫              │
    │   ┗┻┛╹ ╹╹┗╸╹┗╸┗━╸╹ ╹  host        │
    │                                    │
    ╰────────────────────────────────────╯
`

// getConfigPath returns the host config file path.
// Priority: WARREN_CONFIG env var > XDG_CONFIG_HOME/warren/host.yaml
// > ~/.config/warren/host.yaml
func getConfigPath() string {
	if envPath := os.Getenv("WARREN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "host.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "warren", "host.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: warren-host <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve   Start the host")
		fmt.Println("  health  Check worker liveness via the heartbeat file")
		fmt.Println("  cancel  Request cancellation of the in-flight prompt")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth()
	case "cancel":
		err = runCancel()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.LoadHost(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Channel:    %s\n", cfg.Channel.Root)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("User:       %s\n", cfg.Matrix.UserID)
	green.Print("    ▶ ")
	fmt.Printf("Worker:     %s\n", cfg.Worker.Binary)
	fmt.Println()

	ch := wire.Channel{Root: cfg.Channel.Root}
	if err := ch.EnsureDirs(); err != nil {
		return fmt.Errorf("preparing channel: %w", err)
	}

	db, err := store.NewStore(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	launcher := &supervisor.ProcessLauncher{
		Binary:     cfg.Worker.Binary,
		Root:       cfg.Channel.Root,
		ConfigPath: cfg.Worker.ConfigPath,
		Logger:     logger,
	}
	if err := launcher.Start(ctx); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	defer launcher.Stop()

	sup := supervisor.New(ch, launcher, logger)
	defer sup.Close()
	applySupervisorConfig(sup, cfg.Supervisor)

	// Dispatch already restarts on in-flight death; this covers idle death.
	go sup.Monitor.Run(ctx, func() {
		logger.Warn("idle worker heartbeat stale, restarting")
		if err := launcher.Start(ctx); err != nil {
			logger.Error("worker restart failed", "error", err)
		}
	})

	tailer := supervisor.NewStatusTailer(ch, logger)
	go tailer.Run(ctx)

	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, id.UserID(cfg.Matrix.UserID), cfg.Matrix.AccessToken)
	if err != nil {
		return fmt.Errorf("creating matrix client: %w", err)
	}
	delivery := chat.NewMatrix(client, logger)

	host := &host{
		cfg:      cfg,
		store:    db,
		sup:      sup,
		tailer:   tailer,
		delivery: delivery,
		logger:   logger,
	}

	bridge := chat.NewBridge(client, host.handlePrompt, chat.BridgeOptions{
		UserID:          cfg.Matrix.UserID,
		AllowedRooms:    cfg.Matrix.AllowedRooms,
		CommandPrefix:   cfg.Matrix.CommandPrefix,
		TypingIndicator: cfg.Matrix.TypingIndicator,
	}, logger)

	logger.Info("warren host running")
	return bridge.Run(ctx)
}

func applySupervisorConfig(sup *supervisor.Supervisor, cfg config.SupervisorConfig) {
	if cfg.HeartbeatInterval > 0 {
		sup.Monitor.Interval = cfg.HeartbeatInterval
		sup.Monitor.StaleAfter = supervisor.DefaultStaleMultiplier * cfg.HeartbeatInterval
	}
	if cfg.StaleAfter > 0 {
		sup.Monitor.StaleAfter = cfg.StaleAfter
	}
	if cfg.ResponseTimeout > 0 {
		sup.ResponseTimeout = cfg.ResponseTimeout
	}
	if cfg.ResponsePoll > 0 {
		sup.ResponsePoll = cfg.ResponsePoll
	}
	if cfg.MaxRestarts > 0 {
		sup.MaxRestarts = cfg.MaxRestarts
	}
	if cfg.QueueCap > 0 {
		sup.QueueCap = cfg.QueueCap
	}
}

// host carries the wiring one prompt needs from arrival to final reply.
type host struct {
	cfg      *config.HostConfig
	store    *store.Store
	sup      *supervisor.Supervisor
	tailer   *supervisor.StatusTailer
	delivery *chat.Matrix
	logger   *slog.Logger
}

// handlePrompt runs a single prompt end to end: session lookup, dispatch,
// status streaming into the pipeline, session persistence, audit.
func (h *host) handlePrompt(ctx context.Context, roomID, sender, prompt string) (string, error) {
	sessionID, err := h.store.Session(ctx, roomID)
	if err != nil {
		h.logger.Warn("session lookup failed, starting fresh", "room", roomID, "error", err)
	}

	req := &wire.Request{
		Prompt:      prompt,
		SessionID:   sessionID,
		GroupFolder: h.cfg.Worker.WorkDir,
		ChatJID:     roomID,
		IsMain:      true,
		Provider:    h.cfg.Worker.Provider,
		Model:       h.cfg.Worker.Model,
	}

	// The request id doubles as the audit run id, and is minted here so the
	// status subscription can filter on it before the request is published.
	reqID := wire.NewID(time.Now())
	if err := h.store.BeginRun(ctx, reqID, roomID); err != nil {
		h.logger.Warn("audit insert failed", "run", reqID, "error", err)
	}

	pipe := pipeline.NewRun(h.delivery, h.logger, pipeline.Options{
		ChatID:       roomID,
		ShowThinking: h.cfg.Pipeline.ShowThinking,
		Verbose:      h.cfg.Pipeline.Verbose,
		EditInterval: h.cfg.Pipeline.EditInterval,
		MaxMessage:   h.cfg.Pipeline.MaxMessage,
	})
	pipe.Start(ctx)

	events, subID := h.tailer.Subscribe(ctx, reqID)
	consumeDone := make(chan struct{})
	go func() {
		defer close(consumeDone)
		pipe.Consume(ctx, events)
	}()

	resp, err := h.sup.Dispatch(ctx, reqID, req)

	h.tailer.Unsubscribe(subID)
	<-consumeDone
	pipe.Finish(ctx)

	if err != nil {
		h.finishRun(reqID, "error", err.Error())
		return "", err
	}

	if resp.Status == wire.StatusError {
		h.finishRun(reqID, "error", resp.Error)
		return "", fmt.Errorf("worker error: %s", resp.Error)
	}

	if resp.NewSessionID != "" && resp.NewSessionID != sessionID {
		if err := h.store.SaveSession(ctx, roomID, resp.NewSessionID); err != nil {
			h.logger.Warn("session save failed", "room", roomID, "error", err)
		}
	}
	h.finishRun(reqID, "success", "")

	if resp.Result == nil {
		return "", nil
	}
	return *resp.Result, nil
}

func (h *host) finishRun(runID, status, errMsg string) {
	// Audit writes use a fresh context so a cancelled prompt still records.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.store.FinishRun(ctx, runID, status, errMsg); err != nil {
		h.logger.Warn("audit update failed", "run", runID, "error", err)
	}
}

func runHealth() error {
	cfg, err := config.LoadHost(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ch := wire.Channel{Root: cfg.Channel.Root}
	var hb wire.Heartbeat
	if err := wire.ReadJSON(ch.HeartbeatPath(), &hb); err != nil {
		color.Red("✗ worker heartbeat missing")
		return fmt.Errorf("no heartbeat at %s", ch.HeartbeatPath())
	}

	age := hb.Age(time.Now())
	staleAfter := cfg.Supervisor.StaleAfter
	if staleAfter == 0 {
		staleAfter = supervisor.DefaultStaleMultiplier * supervisor.DefaultHeartbeatInterval
	}

	if age < staleAfter {
		color.Green("✓ worker alive (pid %d, heartbeat %s old)", hb.PID, age.Round(time.Second))
		return nil
	}
	color.Red("✗ worker stale (pid %d, heartbeat %s old)", hb.PID, age.Round(time.Second))
	return fmt.Errorf("heartbeat stale")
}

func runCancel() error {
	cfg, err := config.LoadHost(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ch := wire.Channel{Root: cfg.Channel.Root}
	if err := wire.WriteAtomic(ch.CancelPath(), []byte("cancel\n")); err != nil {
		return fmt.Errorf("writing cancel sentinel: %w", err)
	}
	fmt.Println("cancellation requested")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
