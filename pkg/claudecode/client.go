package claudecode

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/jeffs/claudechic/internal/executil"
)

// Process represents a running Claude Code process.
type Process struct {
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     io.ReadCloser
	stderrPipe io.ReadCloser

	events    chan *Event
	errors    chan error
	stderrOut chan string
	done      chan struct{}

	mu       sync.Mutex
	running  bool
	exitCode int
	pid      int
}

// Spawn starts a new Claude Code process with the given options.
func Spawn(ctx context.Context, opts *SpawnOptions) (*Process, error) {
	cmd, err := executil.CommandContext(ctx, "claude", opts.Args()...)
	if err != nil {
		return nil, err
	}
	cmd.Dir = opts.WorkDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderrPipe.Close()
		return nil, fmt.Errorf("failed to start claude: %w", err)
	}

	p := &Process{
		cmd:        cmd,
		pid:        cmd.Process.Pid,
		stdin:      stdin,
		stdout:     stdout,
		stderrPipe: stderrPipe,
		events:     make(chan *Event, 100),
		errors:     make(chan error, 10),
		stderrOut:  make(chan string, 100),
		done:       make(chan struct{}),
		running:    true,
	}

	go p.readLoop()
	go p.stderrLoop()
	go p.waitLoop()

	return p, nil
}

// Events returns the stream of parsed events.
func (p *Process) Events() <-chan *Event {
	return p.events
}

// Errors returns transport and parse errors.
func (p *Process) Errors() <-chan error {
	return p.errors
}

// Stderr returns stderr lines for debugging.
func (p *Process) Stderr() <-chan string {
	return p.stderrOut
}

// Done closes when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// PID returns the process id.
func (p *Process) PID() int {
	return p.pid
}

// ExitCode is valid only after Done closes.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// IsRunning reports whether the process is still alive.
func (p *Process) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

type userMessageEnvelope struct {
	Type    string      `json:"type"`
	Message userMessage `json:"message"`
}

type userMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SendUserMessage sends a user prompt in the stream-json input format.
func (p *Process) SendUserMessage(content string) error {
	return p.sendJSON(userMessageEnvelope{
		Type:    "user",
		Message: userMessage{Role: "user", Content: content},
	})
}

// controlResponseEnvelope answers a control_request line.
type controlResponseEnvelope struct {
	Type     string          `json:"type"`
	Response controlResponse `json:"response"`
}

type controlResponse struct {
	Subtype   string            `json:"subtype"`
	RequestID string            `json:"request_id"`
	Response  permissionVerdict `json:"response"`
}

type permissionVerdict struct {
	Behavior string `json:"behavior"`
	Message  string `json:"message,omitempty"`
}

// RespondPermission answers a can_use_tool control request. The CLI
// does not run the tool until this response arrives.
func (p *Process) RespondPermission(requestID string, allow bool, message string) error {
	behavior := "deny"
	if allow {
		behavior = "allow"
	}
	return p.sendJSON(controlResponseEnvelope{
		Type: "control_response",
		Response: controlResponse{
			Subtype:   "success",
			RequestID: requestID,
			Response:  permissionVerdict{Behavior: behavior, Message: message},
		},
	})
}

func (p *Process) sendJSON(msg any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return fmt.Errorf("process not running")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = p.stdin.Write(append(data, '\n'))
	return err
}

// Interrupt sends SIGINT, cancelling the in-flight prompt without
// killing the process.
func (p *Process) Interrupt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	return p.cmd.Process.Signal(os.Interrupt)
}

// Kill terminates the process.
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *Process) readLoop() {
	scanner := bufio.NewScanner(p.stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		event, err := ParseEvent(line)
		if err != nil {
			parseErr := fmt.Errorf("parse error: %w (raw: %s)", err, truncate(string(line), 200))
			select {
			case p.errors <- parseErr:
			default:
			}
			continue
		}

		select {
		case p.events <- event:
		case <-p.done:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case p.errors <- err:
		default:
		}
	}
	close(p.events)
}

func (p *Process) stderrLoop() {
	scanner := bufio.NewScanner(p.stderrPipe)
	for scanner.Scan() {
		select {
		case p.stderrOut <- scanner.Text():
		case <-p.done:
			return
		default:
			// Drop if channel full.
		}
	}
}

func (p *Process) waitLoop() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.running = false
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	p.mu.Unlock()

	if err != nil {
		select {
		case p.errors <- err:
		default:
		}
	}

	close(p.done)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
