// Package claudecode wraps the Claude Code CLI's stream-json interface:
// spawning the process, parsing its event stream, and answering its
// tool-permission control requests.
package claudecode

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType represents the type of event from Claude Code.
type EventType string

const (
	EventTypeSystem         EventType = "system"
	EventTypeAssistant      EventType = "assistant"
	EventTypeUser           EventType = "user"
	EventTypeToolUse        EventType = "tool_use"
	EventTypeToolResult     EventType = "tool_result"
	EventTypeResult         EventType = "result"
	EventTypeError          EventType = "error"
	EventTypeControlRequest EventType = "control_request"
)

// Event is a parsed event from the CLI's stream-json output.
type Event struct {
	Type      EventType       `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`

	// RequestID is set when Type == EventTypeControlRequest.
	RequestID string `json:"request_id,omitempty"`

	Timestamp time.Time `json:"-"`
}

// messageWrapper represents the CLI's nested message format.
type messageWrapper struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// controlRequest is the payload of a control_request line.
type controlRequest struct {
	Subtype   string          `json:"subtype"`
	ToolName  string          `json:"tool_name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
}

// ParseEvent parses one raw JSON line into an Event. It understands the
// CLI's nested message format:
//
//	{"type":"assistant","message":{"content":[{"type":"text","text":"..."}]}}
//	{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1","name":"Bash","input":{}}]}}
//	{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","content":"..."}]}}
//	{"type":"control_request","request_id":"r1","request":{"subtype":"can_use_tool",...}}
func ParseEvent(data []byte) (*Event, error) {
	var raw struct {
		Type      EventType       `json:"type"`
		Subtype   string          `json:"subtype,omitempty"`
		SessionID string          `json:"session_id,omitempty"`
		Content   string          `json:"content,omitempty"`
		Name      string          `json:"name,omitempty"`
		Input     json.RawMessage `json:"input,omitempty"`
		Message   *messageWrapper `json:"message,omitempty"`
		RequestID string          `json:"request_id,omitempty"`
		Request   *controlRequest `json:"request,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	event := &Event{
		Type:      raw.Type,
		Subtype:   raw.Subtype,
		SessionID: raw.SessionID,
		Content:   raw.Content,
		Name:      raw.Name,
		Input:     raw.Input,
		Timestamp: time.Now(),
	}

	if raw.Type == EventTypeControlRequest && raw.Request != nil {
		event.Subtype = raw.Request.Subtype
		event.RequestID = raw.RequestID
		event.Name = raw.Request.ToolName
		event.Input = raw.Request.Input
		event.ToolUseID = raw.Request.ToolUseID
		return event, nil
	}

	if raw.Message != nil && len(raw.Message.Content) > 0 {
		for _, cb := range raw.Message.Content {
			switch cb.Type {
			case "text":
				event.Subtype = "text"
				event.Content += cb.Text
			case "tool_use":
				event.Type = EventTypeToolUse
				event.Name = cb.Name
				event.Input = cb.Input
				event.ToolUseID = cb.ID
			case "tool_result":
				event.Type = EventTypeToolResult
				event.ToolUseID = cb.ToolUseID
				event.Content = extractToolResultContent(cb.Content)
			}
		}
	}

	return event, nil
}

// IsComplete returns true if this event terminates the prompt's stream.
func (e *Event) IsComplete() bool {
	return e.Type == EventTypeResult
}

// IsError returns true if this event represents a failure.
func (e *Event) IsError() bool {
	return e.Type == EventTypeError || (e.Type == EventTypeResult && e.Subtype == "error")
}

// IsPermissionRequest returns true for a can_use_tool control request.
func (e *Event) IsPermissionRequest() bool {
	return e.Type == EventTypeControlRequest && e.Subtype == "can_use_tool"
}

// extractToolResultContent handles tool_result content which can be a
// plain string or an array of content blocks.
func extractToolResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var strContent string
	if err := json.Unmarshal(raw, &strContent); err == nil {
		return strContent
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var result strings.Builder
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				if result.Len() > 0 {
					result.WriteString("\n")
				}
				result.WriteString(b.Text)
			}
		}
		return result.String()
	}

	return string(raw)
}
