// ABOUTME: Entry point for the coven-turns ambient scheduler
// ABOUTME: Wires store, directory, and scheduler behind a console chat backend

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/coven-turns/internal/config"
	"github.com/2389/coven-turns/internal/directory"
	"github.com/2389/coven-turns/internal/lease"
	"github.com/2389/coven-turns/internal/presence"
	"github.com/2389/coven-turns/internal/runner"
	"github.com/2389/coven-turns/internal/scheduler"
	"github.com/2389/coven-turns/internal/store"
	"github.com/2389/coven-turns/internal/tick"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                 _
  ___ _____   _____ _ __        | |_ _   _ _ __ _ __  ___
 / __/ _ \ \ / / _ \ '_ \ _____ | __| | | | '__| '_ \/ __|
| (_| (_) \ V /  __/ | | |_____|| |_| |_| | |  | | | \__ \
 \___\___/ \_/ \___|_| |_|       \__|\__,_|_|  |_| |_|___/
`

// getConfigPath returns the path to the turns config file.
// Priority: COVEN_TURNS_CONFIG env var > XDG_CONFIG_HOME/coven/turns.yaml > ~/.config/coven/turns.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_TURNS_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "turns.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "turns.yaml")
}

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coven-turns <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the scheduler with a console chat backend")
		fmt.Println("  init      Create a starter config file")
		fmt.Println("  version   Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "version":
		fmt.Println(version)
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

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	agentCount := 0
	channelCount := 0
	for _, community := range cfg.Communities {
		agentCount += len(community.Agents)
		channelCount += len(community.Channels)
	}

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Sweep:     every %v ± %v, budget %d\n",
		cfg.Scheduler.TickInterval, cfg.Scheduler.TickJitter, cfg.Scheduler.SweepBudget)
	green.Print("    ▶ ")
	fmt.Printf("Roster:    %d agents across %d channels\n", agentCount, channelCount)
	fmt.Println()

	logger.Info("starting coven-turns",
		"config", configPath,
		"database", cfg.Database.Path,
		"tick_interval", cfg.Scheduler.TickInterval,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	dir := directory.FromConfig(cfg.Communities)
	console := newConsoleGateway(dir, st)

	sched := scheduler.New(cfg.Scheduler, scheduler.Deps{
		Ticks:     tick.NewManager(st, logger),
		Leases:    lease.NewManager(st, lease.DefaultTTL, logger),
		Presence:  presence.NewGateway(st, cfg.Scheduler.AgentCooldown, logger),
		Directory: dir,
		Chat:      console,
		Delivery:  console,
	}, logger)
	defer sched.Close()

	tasks := runner.New(cfg.Scheduler.TickJitter, logger)
	sched.Start(tasks)
	defer tasks.Stop()

	gray.Println("    type messages as:  <channel> <sender>: <text>")
	fmt.Println()

	go readConsole(ctx, st, sched, logger)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// readConsole feeds stdin lines into the scheduler as human messages.
// Format: "<channel> <sender>: <text>". EOF or context cancellation ends it.
func readConsole(ctx context.Context, st store.Store, sched *scheduler.Scheduler, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		msg, err := parseConsoleLine(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  %v\n", err)
			continue
		}

		if err := st.TouchChannelActivity(ctx, msg.ChannelID, msg.SenderID, true, msg.SentAt); err != nil {
			logger.Warn("recording activity failed", "channel_id", msg.ChannelID, "error", err)
		}

		replied, err := sched.HandleHumanMessage(ctx, msg)
		if err != nil {
			logger.Error("fast lane failed", "channel_id", msg.ChannelID, "error", err)
			continue
		}
		if !replied {
			logger.Debug("no immediate reply", "channel_id", msg.ChannelID)
		}
	}
}

// parseConsoleLine turns "<channel> <sender>: <text>" into a HumanMessage.
func parseConsoleLine(line string) (*scheduler.HumanMessage, error) {
	header, text, found := strings.Cut(line, ":")
	if !found {
		return nil, fmt.Errorf("expected <channel> <sender>: <text>, got %q", line)
	}
	fields := strings.Fields(header)
	if len(fields) != 2 {
		return nil, fmt.Errorf("expected <channel> <sender> before the colon, got %q", header)
	}

	return &scheduler.HumanMessage{
		ID:         uuid.NewString(),
		ChannelID:  fields[0],
		SenderID:   strings.ToLower(fields[1]),
		SenderName: fields[1],
		Text:       strings.TrimSpace(text),
		SentAt:     time.Now(),
	}, nil
}

func runInit() error {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "turns.db")

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# coven-turns configuration
# Generated by coven-turns init

database:
  path: "%s"

scheduler:
  tick_interval: "90s"
  tick_jitter: "15s"
  suppression_window: "4s"
  human_activity_window: "10m"
  agent_cooldown: "10m"
  sweep_budget: 8
  max_turns_per_tick: 3
  channel_scan_limit: 50

logging:
  level: "info"
  format: "text"

communities:
  - id: "example"
    channels: ["general"]
    agents:
      - id: "rook"
        display_name: "Rook"
        emoji: "🐦"
`, dbPath)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", configPath)
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

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&colorHandler{level: level})
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu    sync.Mutex
	level slog.Level
	attrs []slog.Attr
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{level: h.level, attrs: newAttrs}
}

func (h *colorHandler) WithGroup(_ string) slog.Handler {
	return h
}
