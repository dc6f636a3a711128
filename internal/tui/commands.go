package tui

import (
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// runCommand executes a /slash command typed into the input.
func (m Model) runCommand(text string) (Model, tea.Cmd) {
	fields := strings.Fields(strings.TrimPrefix(text, "/"))
	if len(fields) == 0 {
		return m, nil
	}
	cmd, args := fields[0], fields[1:]

	var err error
	switch cmd {
	case "agent":
		err = m.cmdAgent(args)
	case "worktree", "wt":
		err = m.cmdWorktree(args)
	case "quit", "exit":
		return m, tea.Quit
	default:
		err = fmt.Errorf("unknown command /%s", cmd)
	}

	if err != nil {
		m.err = err
		return m, clearStatusAfter(5 * time.Second)
	}
	m.refreshChat()
	m.chat.GotoBottom()
	return m, clearStatusAfter(5 * time.Second)
}

// cmdAgent: /agent lists, /agent <name> [path] creates and switches,
// /agent close [name] closes.
func (m *Model) cmdAgent(args []string) error {
	if len(args) == 0 {
		names := make([]string, 0)
		for _, s := range m.orch.Registry().List() {
			names = append(names, fmt.Sprintf("%s (%s)", s.Name, s.Status()))
		}
		m.statusMsg = "agents: " + strings.Join(names, ", ")
		return nil
	}

	if args[0] == "close" {
		name := ""
		if len(args) > 1 {
			name = args[1]
		}
		if err := m.orch.CloseAgent(name); err != nil {
			return err
		}
		m.statusMsg = "agent closed"
		return nil
	}

	// Existing name switches; a new one creates.
	name := args[0]
	if s := m.orch.Registry().FindByName(name); s != nil {
		_, err := m.orch.SwitchAgent(name)
		return err
	}
	dir, _ := os.Getwd()
	if len(args) > 1 {
		dir = args[1]
	}
	s, err := m.orch.NewAgent(name, dir)
	if err != nil {
		return err
	}
	m.statusMsg = fmt.Sprintf("agent %s created in %s", s.Name, dir)
	return nil
}

// cmdWorktree: /worktree lists, /worktree <name> creates-or-switches,
// /worktree finish merges the active one, /worktree cleanup [name]
// reclaims.
func (m *Model) cmdWorktree(args []string) error {
	if len(args) == 0 {
		mgr := m.orch.Worktrees()
		if mgr == nil {
			m.statusMsg = "not inside a git repository"
			return nil
		}
		names := make([]string, 0)
		for _, wt := range mgr.List() {
			names = append(names, fmt.Sprintf("%s (%s)", wt.Name, wt.State))
		}
		if len(names) == 0 {
			m.statusMsg = "no worktrees"
		} else {
			m.statusMsg = "worktrees: " + strings.Join(names, ", ")
		}
		return nil
	}

	switch args[0] {
	case "finish":
		if err := m.orch.FinishActiveWorktree(); err != nil {
			return err
		}
		m.statusMsg = "worktree merged and removed"
		return nil
	case "cleanup":
		name := ""
		if len(args) > 1 {
			name = args[1]
		}
		reclaimed, err := m.orch.CleanupWorktree(name)
		if err != nil {
			return err
		}
		if len(reclaimed) == 0 {
			m.statusMsg = "nothing to clean up"
		} else {
			m.statusMsg = "cleaned up: " + strings.Join(reclaimed, ", ")
		}
		return nil
	default:
		s, err := m.orch.SwitchWorktree(args[0])
		if err != nil {
			return err
		}
		m.statusMsg = fmt.Sprintf("on worktree %s (agent %s)", args[0], s.Name)
		return nil
	}
}
