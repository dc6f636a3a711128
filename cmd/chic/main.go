// Command chic is a terminal chat client that drives multiple Claude
// Code agents across directories and git worktrees.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jeffs/claudechic/internal/backend"
	"github.com/jeffs/claudechic/internal/config"
	"github.com/jeffs/claudechic/internal/eventlog"
	"github.com/jeffs/claudechic/internal/logging"
	"github.com/jeffs/claudechic/internal/orchestrator"
	"github.com/jeffs/claudechic/internal/tui"
	"github.com/jeffs/claudechic/internal/worktree"
)

// Version is set at build time
var Version = "dev"

var (
	cfg *config.Config

	flagResume string
	flagPick   bool
	flagDir    string
	flagModel  string
)

var rootCmd = &cobra.Command{
	Use:   "chic",
	Short: "Multi-agent chat for Claude Code",
	Long: `chic runs Claude Code agents as chat sessions, one per directory or
git worktree, behind a single terminal interface. Tool invocations
pause for approval; worktrees are created, merged, and cleaned up
without leaving the chat.`,
	RunE:          runChat,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List resumable conversations for this directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessions()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "", "Working directory for the default agent (default: cwd)")
	rootCmd.Flags().StringVar(&flagResume, "resume", "", "Resume a conversation by session id")
	rootCmd.Flags().BoolVar(&flagPick, "pick", false, "Pick a conversation to resume interactively")
	rootCmd.Flags().StringVar(&flagModel, "model", "", "Model override for new sessions")
	rootCmd.AddCommand(sessionsCmd)
}

func main() {
	os.Exit(run())
}

func run() (exitCode int) {
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, "component", "main")
			fmt.Fprintf(os.Stderr, "FATAL: unrecovered panic: %v\n", r)
			exitCode = 2
		}
	}()

	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runChat(cmd *cobra.Command, args []string) error {
	dir := flagDir
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	// Stderr is the TUI's; logs go to the configured file.
	if err := logging.Init(logging.Config{
		Level:     parseLogLevel(cfg.Logging.Level),
		SentryDSN: cfg.Logging.SentryDSN,
		Env:       getEnv(),
		Version:   Version,
		LogFile:   cfg.Logging.File,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	defer logging.Flush(2 * time.Second)

	log := openEventLog()
	defer log.Close()

	var manager *worktree.Manager
	if m, err := worktree.NewManager(dir); err == nil {
		manager = m
	} else {
		logging.Debug("worktree support disabled", "error", err)
	}

	model := cfg.Agent.Model
	if flagModel != "" {
		model = flagModel
	}
	connector := &backend.ClaudeConnector{
		Model:          model,
		PermissionMode: cfg.Agent.PermissionMode,
	}

	orch := orchestrator.New(connector, manager, log, cfg.Agent.AutoAllowTools)
	defer orch.Shutdown()

	if _, err := orch.Startup(dir, flagResume); err != nil {
		return err
	}

	var picker []backend.HistoryEntry
	if flagPick && flagResume == "" {
		entries, err := backend.RecentSessions(dir, 15)
		if err != nil {
			logging.Warn("history scan failed", "error", err)
		}
		picker = entries
	}

	logging.Info("starting chic", "version", Version, "dir", dir, "model", model)

	p := tea.NewProgram(tui.New(orch, picker), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func runSessions() error {
	dir := flagDir
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return err
		}
	}
	entries, err := backend.RecentSessions(dir, 25)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No resumable conversations for this directory.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-19s  %4d msgs  %s\n",
			e.ResumeToken, e.ModifiedAt.Format("2006-01-02 15:04"), e.MessageCount, e.Title)
	}
	return nil
}

// openEventLog prefers the configured SQLite database, falling back to
// the bounded in-memory log so a broken database path never blocks
// startup.
func openEventLog() eventlog.Log {
	if cfg.Events.MemoryOnly || cfg.Events.Database == "" {
		return eventlog.NewMemory(1000)
	}
	log, err := eventlog.NewSQLite(cfg.Events.Database)
	if err != nil {
		logging.Warn("event log unavailable, using memory", "error", err)
		return eventlog.NewMemory(1000)
	}
	return log
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv() string {
	if env := os.Getenv("CLAUDECHIC_ENV"); env != "" {
		return env
	}
	return "development"
}
