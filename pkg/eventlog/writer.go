// Package eventlog provides a JSONL journal of workflow run activity with
// daily file rotation.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event types recorded in the journal.
const (
	EventRunStarted     = "run_started"
	EventStageStarted   = "stage_started"
	EventAgentCompleted = "agent_completed"
	EventAgentFailed    = "agent_failed"
	EventGateAttempt    = "gate_attempt"
	EventTransition     = "transition"
	EventEscalated      = "escalated"
	EventRunFinished    = "run_finished"
)

// Event is one journal record. Every gate attempt gets its own event, cache
// hits included, so the journal is the complete diagnostic trail for a run.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	RunID     string         `json:"run_id"`
	Workflow  string         `json:"workflow,omitempty"`
	Stage     string         `json:"stage,omitempty"`
	Gate      string         `json:"gate,omitempty"`
	Status    string         `json:"status,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Writer appends events to daily rotated JSONL files.
type Writer struct {
	logDir       string
	currentFile  *os.File
	currentDate  string
	mu           sync.Mutex
	rotationHour int // Hour of day to rotate (0-23)
}

// NewWriter creates an event journal writer rooted at logDir, creating the
// directory if needed.
func NewWriter(logDir string, rotationHours int) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Default to 24 hours (daily rotation at midnight) if invalid
	if rotationHours <= 0 {
		rotationHours = 24
	}

	writer := &Writer{
		logDir:       logDir,
		rotationHour: rotationHours,
	}

	if err := writer.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize log file: %w", err)
	}

	return writer, nil
}

// Write appends one event to the current journal file, rotating first when
// the date has changed. The timestamp is filled in when absent.
func (w *Writer) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	if _, err := w.currentFile.Write(jsonData); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if _, err := w.currentFile.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Ensure data is written to disk.
	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	return nil
}

func (w *Writer) rotateIfNeeded() error {
	newDate := time.Now().Format("2006-01-02")

	if w.currentFile == nil || w.currentDate != newDate {
		return w.rotate(newDate)
	}

	return nil
}

func (w *Writer) rotate(newDate string) error {
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
	}

	filename := fmt.Sprintf("events-%s.jsonl", newDate)
	path := filepath.Join(w.logDir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644) //nolint:gosec // Log file under operator-chosen dir
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	w.currentFile = file
	w.currentDate = newDate

	return nil
}

// Close closes the current journal file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile != nil {
		err := w.currentFile.Close()
		w.currentFile = nil
		if err != nil {
			return fmt.Errorf("failed to close event log file: %w", err)
		}
	}

	return nil
}

// GetCurrentLogFile returns the path of the currently active journal file.
func (w *Writer) GetCurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return ""
	}

	return filepath.Join(w.logDir, fmt.Sprintf("events-%s.jsonl", w.currentDate))
}

// ReadEvents reads and parses all events from a journal file.
func ReadEvents(logFilePath string) ([]*Event, error) {
	data, err := os.ReadFile(logFilePath) //nolint:gosec // Journal path comes from ListLogFiles
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	if len(data) == 0 {
		return []*Event{}, nil
	}

	var events []*Event
	line := []byte{}
	for _, b := range data {
		if b == '\n' {
			if len(line) > 0 {
				event := &Event{}
				if err := json.Unmarshal(line, event); err != nil {
					return nil, fmt.Errorf("failed to parse event: %w", err)
				}
				events = append(events, event)
				line = []byte{}
			}
		} else {
			line = append(line, b)
		}
	}

	// Handle last line if no trailing newline.
	if len(line) > 0 {
		event := &Event{}
		if err := json.Unmarshal(line, event); err != nil {
			return nil, fmt.Errorf("failed to parse final event: %w", err)
		}
		events = append(events, event)
	}

	return events, nil
}

// ListLogFiles returns all event journal files in the log directory.
func ListLogFiles(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "events-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}

	return files, nil
}
