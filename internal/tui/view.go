package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeffs/claudechic/internal/session"
)

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}
	if m.pickerMode {
		return m.viewPicker()
	}

	var b strings.Builder
	b.WriteString(m.viewTabs())
	b.WriteString("\n")
	b.WriteString(m.chat.View())
	b.WriteString("\n")
	if m.pending != nil {
		b.WriteString(m.viewApproval())
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.viewStatusLine())
	return b.String()
}

func (m Model) viewTabs() string {
	sessions := m.orch.Registry().List()
	active := m.orch.Registry().Active()

	parts := make([]string, 0, len(sessions))
	for _, s := range sessions {
		label := s.Name
		status := s.Status()
		dot := lipgloss.NewStyle().Foreground(statusColor(status.String())).Render("●")
		if status == session.StatusBusy {
			dot = m.spinner.View()
		}
		text := dot + " " + label
		if active != nil && s.ID == active.ID {
			parts = append(parts, styleTabActive.Render(text))
		} else {
			parts = append(parts, styleTab.Render(text))
		}
	}
	if wts := m.worktreeBadge(); wts != "" {
		parts = append(parts, styleStatus.Render(wts))
	}
	return lipgloss.JoinHorizontal(lipgloss.Bottom, parts...)
}

// worktreeBadge summarizes the active session's worktree binding.
func (m Model) worktreeBadge() string {
	s := m.orch.Registry().Active()
	if s == nil || s.Worktree == nil {
		return ""
	}
	return fmt.Sprintf("  ⎇ %s", s.Worktree.BranchName)
}

// viewTranscript renders the active session's transcript plus the
// live streaming tail.
func (m Model) viewTranscript() string {
	s := m.orch.Registry().Active()
	if s == nil {
		return styleStatus.Render("no active agent; use /agent <name> to start one")
	}

	var b strings.Builder
	for _, it := range m.transcripts[s.ID] {
		switch it.kind {
		case itemUser:
			b.WriteString(styleUser.Render("> " + it.text))
		case itemAssistant:
			if it.rendered != "" {
				b.WriteString(it.rendered)
			} else {
				b.WriteString(it.text)
			}
		case itemTool:
			b.WriteString(styleTool.Render(it.text))
		case itemError:
			b.WriteString(styleError.Render("✗ " + it.text))
		case itemNotice:
			b.WriteString(styleStatus.Render("· " + it.text))
		}
		b.WriteString("\n\n")
	}

	if tail := s.StreamedText(); tail != "" && s.Status() != session.StatusIdle {
		b.WriteString(tail)
		b.WriteString("\n")
	}
	return b.String()
}

// refreshChat re-renders the viewport content for the active session.
func (m *Model) refreshChat() {
	if !m.ready {
		return
	}
	m.chat.SetContent(m.viewTranscript())
}

func (m Model) viewApproval() string {
	input := truncate(string(m.pending.ToolInput), 200)
	body := fmt.Sprintf("%s wants to run %s\n%s\n%s",
		m.sessionName(m.pending.SessionID),
		lipgloss.NewStyle().Bold(true).Render(m.pending.ToolName),
		styleTool.Render(input),
		styleHelp.Render("[y] allow  [a] always allow  [n] deny"),
	)
	return styleApproval.Width(m.width - 2).Render(body)
}

func (m Model) sessionName(id string) string {
	if s := m.orch.Registry().Find(id); s != nil {
		return s.Name
	}
	return "agent"
}

func (m Model) viewStatusLine() string {
	if m.err != nil {
		return styleError.Render(m.err.Error())
	}
	if m.statusMsg != "" {
		return styleStatus.Render(m.statusMsg)
	}
	help := "enter send · esc interrupt · tab next agent · /agent /worktree · ctrl+c quit"
	return styleHelp.Render(help)
}

func (m Model) viewPicker() string {
	var b strings.Builder
	b.WriteString(stylePickerTitle.Render("Resume a conversation"))
	b.WriteString("\n")
	for i, e := range m.pickerItems {
		line := fmt.Sprintf("%-50s %3d msgs  %s",
			truncate(e.Title, 50), e.MessageCount, e.ModifiedAt.Format("Jan 2 15:04"))
		if i == m.pickerIdx {
			b.WriteString(stylePickerSelected.Render("▸ " + line))
		} else {
			b.WriteString(stylePickerNormal.Render("  " + line))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(styleHelp.Render("enter resume · esc start fresh"))
	return b.String()
}
