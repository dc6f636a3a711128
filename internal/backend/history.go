package backend

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// HistoryEntry describes one resumable prior conversation.
type HistoryEntry struct {
	ResumeToken  string
	Title        string
	MessageCount int
	ModifiedAt   time.Time
}

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// historyDir returns the backend's session directory for a project.
// Claude stores sessions in ~/.claude/projects/<path with slashes
// replaced by dashes>.
func historyDir(workingDirectory string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	abs, err := filepath.Abs(workingDirectory)
	if err != nil {
		abs = workingDirectory
	}
	key := strings.ReplaceAll(abs, "/", "-")
	return filepath.Join(home, ".claude", "projects", key)
}

// RecentSessions lists resumable conversations for a working directory,
// newest first, at most limit entries. Internal agent-* session files
// are skipped; only uuid-named conversations are resumable.
func RecentSessions(workingDirectory string, limit int) ([]HistoryEntry, error) {
	dir := historyDir(workingDirectory)
	if dir == "" {
		return nil, nil
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil || len(files) == 0 {
		return nil, err
	}

	var entries []HistoryEntry
	for _, f := range files {
		stem := strings.TrimSuffix(filepath.Base(f), ".jsonl")
		if !uuidPattern.MatchString(strings.ToLower(stem)) {
			continue
		}
		info, err := os.Stat(f)
		if err != nil || info.Size() == 0 {
			continue
		}
		title, count := scanSessionFile(f)
		if count == 0 {
			continue
		}
		entries = append(entries, HistoryEntry{
			ResumeToken:  stem,
			Title:        title,
			MessageCount: count,
			ModifiedAt:   info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModifiedAt.After(entries[j].ModifiedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// scanSessionFile extracts a title (the stored summary, else the first
// user message) and user message count from a session transcript.
func scanSessionFile(path string) (string, int) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0
	}
	defer f.Close()

	var summary, firstUser string
	count := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var d struct {
			Type    string `json:"type"`
			Summary string `json:"summary"`
			IsMeta  bool   `json:"isMeta"`
			Message struct {
				Content json.RawMessage `json:"content"`
			} `json:"message"`
		}
		if err := json.Unmarshal(line, &d); err != nil {
			continue
		}
		switch d.Type {
		case "summary":
			summary = d.Summary
		case "user":
			if d.IsMeta {
				continue
			}
			var text string
			if json.Unmarshal(d.Message.Content, &text) != nil {
				continue
			}
			text = strings.TrimSpace(text)
			// Slash command transcripts are XML-wrapped; skip them.
			if text == "" || strings.HasPrefix(text, "<") {
				continue
			}
			count++
			if firstUser == "" {
				firstUser = strings.ReplaceAll(text, "\n", " ")
				if len(firstUser) > 100 {
					firstUser = firstUser[:100]
				}
			}
		}
	}

	title := summary
	if title == "" {
		title = firstUser
	}
	return title, count
}
