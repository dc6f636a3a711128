package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeffs/claudechic/internal/backend"
	"github.com/jeffs/claudechic/internal/orchestrator"
	"github.com/jeffs/claudechic/internal/router"
	"github.com/jeffs/claudechic/internal/session"
)

const (
	inputHeightMin = 1
	inputHeightMax = 5
	chromeHeight   = 4 // tab bar + input border + help line
)

// itemKind discriminates transcript entries.
type itemKind int

const (
	itemUser itemKind = iota
	itemAssistant
	itemTool
	itemError
	itemNotice
)

// chatItem is one rendered entry in a session's transcript.
type chatItem struct {
	kind     itemKind
	text     string
	rendered string // glamour output for assistant items
}

// Messages
type (
	notificationMsg router.Notification
	approvalMsg     *approval
	errMsg          error
	clearStatusMsg  struct{}
)

// approval mirrors the bridge's request for the view layer.
type approval struct {
	RequestID string
	SessionID string
	ToolName  string
	ToolInput json.RawMessage
}

// Model is the root bubbletea model.
type Model struct {
	orch *orchestrator.Orchestrator

	// Transcript state, keyed by session id. The streaming tail of the
	// current response lives on the session itself and is appended at
	// render time.
	transcripts map[string][]chatItem

	// Resume picker, shown before the first prompt when prior
	// conversations exist and no explicit resume was given.
	pickerMode  bool
	pickerItems []backend.HistoryEntry
	pickerIdx   int

	// Pending tool approval, nil when none. Further requests queue.
	pending       *approval
	approvalQueue []*approval

	input    textarea.Model
	chat     viewport.Model
	spinner  spinner.Model
	markdown *glamour.TermRenderer

	width     int
	height    int
	ready     bool
	statusMsg string
	err       error
}

// New builds the chat model. picker lists resumable conversations; an
// empty slice skips the picker.
func New(orch *orchestrator.Orchestrator, picker []backend.HistoryEntry) Model {
	ti := textarea.New()
	ti.Placeholder = "Message, or /agent, /worktree ..."
	ti.Prompt = "┃ "
	ti.CharLimit = 0
	ti.SetHeight(inputHeightMin)
	ti.ShowLineNumbers = false
	ti.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorAccent)

	return Model{
		orch:        orch,
		transcripts: make(map[string][]chatItem),
		pickerMode:  len(picker) > 0,
		pickerItems: picker,
		input:       ti,
		spinner:     sp,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
		m.listenNotifications(),
		m.listenApprovals(),
	)
}

// listenNotifications pulls one routed event; Update re-subscribes.
func (m Model) listenNotifications() tea.Cmd {
	return func() tea.Msg {
		n, ok := <-m.orch.Notifications()
		if !ok {
			return nil
		}
		return notificationMsg(n)
	}
}

// listenApprovals pulls one pending tool decision; Update re-subscribes.
func (m Model) listenApprovals() tea.Cmd {
	return func() tea.Msg {
		req, ok := <-m.orch.ApprovalRequests()
		if !ok {
			return nil
		}
		return approvalMsg(&approval{
			RequestID: req.ID,
			SessionID: req.SessionID,
			ToolName:  req.ToolName,
			ToolInput: req.ToolInput,
		})
	}
}

func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return clearStatusMsg{} })
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.pickerMode {
			return m.handlePickerKey(msg)
		}
		if m.pending != nil {
			if handled, next, cmd := m.handleApprovalKey(msg); handled {
				return next, cmd
			}
		}
		return m.handleChatKey(msg)

	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case notificationMsg:
		next, cmd := m.handleNotification(router.Notification(msg))
		return next, tea.Batch(cmd, next.listenNotifications())

	case approvalMsg:
		if m.pending == nil {
			m.pending = msg
		} else {
			m.approvalQueue = append(m.approvalQueue, msg)
		}
		return m, m.listenApprovals()

	case errMsg:
		m.err = msg
		return m, clearStatusAfter(5 * time.Second)

	case clearStatusMsg:
		m.statusMsg = ""
		m.err = nil
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleResize(msg tea.WindowSizeMsg) (Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.input.SetWidth(msg.Width - 2)

	chatHeight := msg.Height - m.input.Height() - chromeHeight
	if chatHeight < 1 {
		chatHeight = 1
	}
	if !m.ready {
		m.chat = viewport.New(msg.Width, chatHeight)
		m.ready = true
	} else {
		m.chat.Width = msg.Width
		m.chat.Height = chatHeight
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(min(msg.Width-2, 120)),
	)
	if err == nil {
		m.markdown = r
	}
	m.refreshChat()
	return m, nil
}

func (m Model) handlePickerKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.pickerIdx > 0 {
			m.pickerIdx--
		}
	case "down", "j":
		if m.pickerIdx < len(m.pickerItems)-1 {
			m.pickerIdx++
		}
	case "enter":
		chosen := m.pickerItems[m.pickerIdx]
		if s := m.orch.Registry().Active(); s != nil {
			s.SetResumeToken(chosen.ResumeToken)
			m.appendItem(s.ID, chatItem{
				kind: itemNotice,
				text: fmt.Sprintf("resuming %q (%d messages)", chosen.Title, chosen.MessageCount),
			})
		}
		m.pickerMode = false
		m.refreshChat()
	case "esc":
		m.pickerMode = false
	}
	return m, nil
}

// handleApprovalKey consumes y/a/n while a tool decision is pending.
// Other keys fall through to the normal input handler.
func (m Model) handleApprovalKey(msg tea.KeyMsg) (bool, Model, tea.Cmd) {
	var d backend.Decision
	switch msg.String() {
	case "y":
		d = backend.Allow
	case "a":
		d = backend.AllowAll
	case "n", "esc":
		d = backend.Deny
	default:
		return false, m, nil
	}

	req := m.pending
	if err := m.orch.Resolve(req.RequestID, d); err != nil {
		m.err = err
	} else {
		m.appendItem(req.SessionID, chatItem{
			kind: itemNotice,
			text: fmt.Sprintf("%s: %s", req.ToolName, d),
		})
	}
	m.pending = nil
	if len(m.approvalQueue) > 0 {
		m.pending = m.approvalQueue[0]
		m.approvalQueue = m.approvalQueue[1:]
	}
	m.refreshChat()
	return true, m, nil
}

func (m Model) handleChatKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		if s := m.activeSession(); s != nil && s.Status() != session.StatusIdle {
			m.orch.CancelInteraction(s)
			m.appendItem(s.ID, chatItem{kind: itemNotice, text: "interrupted"})
			m.refreshChat()
		}
		return m, nil
	case "ctrl+n", "tab":
		return m.cycleSession(1), nil
	case "shift+tab":
		return m.cycleSession(-1), nil
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		m.input.SetHeight(inputHeightMin)
		if strings.HasPrefix(text, "/") {
			return m.runCommand(text)
		}
		return m.sendPrompt(text)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.growInput()
	return m, cmd
}

// growInput expands the textarea up to a cap as the draft wraps.
func (m *Model) growInput() {
	lines := m.input.LineCount()
	if lines < inputHeightMin {
		lines = inputHeightMin
	}
	if lines > inputHeightMax {
		lines = inputHeightMax
	}
	if lines != m.input.Height() {
		m.input.SetHeight(lines)
		chatHeight := m.height - lines - chromeHeight
		if chatHeight >= 1 {
			m.chat.Height = chatHeight
		}
	}
}

func (m Model) sendPrompt(text string) (Model, tea.Cmd) {
	s := m.activeSession()
	if s == nil {
		m.err = fmt.Errorf("no active agent")
		return m, clearStatusAfter(5 * time.Second)
	}
	if err := m.orch.Send(s, text); err != nil {
		m.err = err
		return m, clearStatusAfter(5 * time.Second)
	}
	m.appendItem(s.ID, chatItem{kind: itemUser, text: text})
	m.refreshChat()
	m.chat.GotoBottom()
	return m, nil
}

func (m Model) cycleSession(delta int) Model {
	sessions := m.orch.Registry().List()
	if len(sessions) < 2 {
		return m
	}
	active := m.activeSession()
	idx := 0
	for i, s := range sessions {
		if active != nil && s.ID == active.ID {
			idx = i
			break
		}
	}
	idx = (idx + delta + len(sessions)) % len(sessions)
	if err := m.orch.Registry().SetActive(sessions[idx].ID); err == nil {
		m.refreshChat()
		m.chat.GotoBottom()
	}
	return m
}

func (m *Model) activeSession() *session.Session {
	return m.orch.Registry().Active()
}

func (m *Model) appendItem(sessionID string, it chatItem) {
	if it.kind == itemAssistant && m.markdown != nil {
		if out, err := m.markdown.Render(it.text); err == nil {
			it.rendered = strings.TrimRight(out, "\n")
		}
	}
	m.transcripts[sessionID] = append(m.transcripts[sessionID], it)
}

// handleNotification folds one routed backend event into the
// transcript. Stream chunks are cheap: the accumulated text lives on
// the session, so only a re-render happens here.
func (m Model) handleNotification(n router.Notification) (Model, tea.Cmd) {
	ev := n.Event
	s := m.orch.Registry().Find(ev.SessionID)
	if s == nil {
		return m, nil
	}

	switch ev.Kind {
	case backend.EventStreamChunk:
		// Tail rendered live from session.StreamedText.
	case backend.EventToolStarted:
		m.appendItem(ev.SessionID, chatItem{
			kind: itemTool,
			text: "→ " + ev.ToolName,
		})
	case backend.EventToolResult:
		if out := strings.TrimSpace(ev.Text); out != "" {
			m.appendItem(ev.SessionID, chatItem{
				kind: itemTool,
				text: truncate(out, 400),
			})
		}
	case backend.EventResponseComplete:
		if text := s.StreamedText(); text != "" {
			m.appendItem(ev.SessionID, chatItem{kind: itemAssistant, text: text})
		}
		s.ResetStream()
	case backend.EventError:
		m.appendItem(ev.SessionID, chatItem{kind: itemError, text: ev.Text})
	}

	active := m.activeSession()
	if active != nil && active.ID == ev.SessionID {
		atBottom := m.chat.AtBottom()
		m.refreshChat()
		if atBottom {
			m.chat.GotoBottom()
		}
	}
	return m, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

