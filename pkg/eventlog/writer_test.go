package eventlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewWriter(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewWriter(tmpDir, 24)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	// Check that log directory was created.
	if _, err := os.Stat(tmpDir); os.IsNotExist(err) {
		t.Error("Log directory was not created")
	}

	// Check that current log file exists.
	currentFile := writer.GetCurrentLogFile()
	if currentFile == "" {
		t.Error("No current log file set")
	}

	if _, err := os.Stat(currentFile); os.IsNotExist(err) {
		t.Error("Current log file does not exist")
	}
}

func TestWriteEvent(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewWriter(tmpDir, 24)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	event := &Event{
		Type:     EventGateAttempt,
		RunID:    "run-001",
		Workflow: "dev-pipeline",
		Stage:    "coding",
		Gate:     "lint",
		Detail:   "cache miss",
		Fields:   map[string]any{"cached": false, "passed": true},
	}

	if err := writer.Write(event); err != nil {
		t.Fatalf("Failed to write event: %v", err)
	}

	if event.Timestamp.IsZero() {
		t.Error("Write should fill in a missing timestamp")
	}

	// Verify file was written.
	currentFile := writer.GetCurrentLogFile()
	data, err := os.ReadFile(currentFile)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	if len(data) == 0 {
		t.Error("Log file is empty")
	}

	// Verify the line ends with a newline (JSONL format).
	if data[len(data)-1] != '\n' {
		t.Error("Log line should end with newline")
	}
}

func TestWriteMultipleEvents(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewWriter(tmpDir, 24)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	events := []*Event{
		{Type: EventRunStarted, RunID: "run-001", Stage: "planning"},
		{Type: EventGateAttempt, RunID: "run-001", Stage: "coding", Gate: "lint"},
		{Type: EventRunFinished, RunID: "run-001", Status: "complete"},
	}

	for i, event := range events {
		if err := writer.Write(event); err != nil {
			t.Fatalf("Failed to write event %d: %v", i, err)
		}
	}

	// Read back and verify.
	currentFile := writer.GetCurrentLogFile()
	readEvents, err := ReadEvents(currentFile)
	if err != nil {
		t.Fatalf("Failed to read events: %v", err)
	}

	if len(readEvents) != len(events) {
		t.Fatalf("Expected %d events, got %d", len(events), len(readEvents))
	}

	for i, readEvent := range readEvents {
		if readEvent.Type != events[i].Type {
			t.Errorf("Event %d type mismatch: expected %s, got %s", i, events[i].Type, readEvent.Type)
		}
		if readEvent.RunID != events[i].RunID {
			t.Errorf("Event %d run id mismatch: expected %s, got %s", i, events[i].RunID, readEvent.RunID)
		}
	}
}

func TestDailyRotation(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewWriter(tmpDir, 24)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	if err := writer.Write(&Event{Type: EventRunStarted, RunID: "run-001"}); err != nil {
		t.Fatalf("Failed to write first event: %v", err)
	}

	initialFile := writer.GetCurrentLogFile()

	// Manually rotate to a different date.
	writer.mu.Lock()
	err = writer.rotate("2030-01-01")
	writer.mu.Unlock()
	if err != nil {
		t.Fatalf("Failed to manually rotate: %v", err)
	}

	// Write directly without going through Write to avoid auto-rotation
	// back to today's file.
	second := &Event{Type: EventRunFinished, RunID: "run-001", Timestamp: time.Now().UTC()}
	jsonData, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("Failed to serialize event: %v", err)
	}

	writer.mu.Lock()
	_, err = writer.currentFile.Write(append(jsonData, '\n'))
	writer.mu.Unlock()
	if err != nil {
		t.Fatalf("Failed to write second event: %v", err)
	}

	rotatedFile := writer.GetCurrentLogFile()
	if rotatedFile == initialFile {
		t.Errorf("Expected file to rotate from %s, but still using same file", initialFile)
	}

	// Both files should hold exactly one event each.
	for _, file := range []string{initialFile, rotatedFile} {
		events, err := ReadEvents(file)
		if err != nil {
			t.Fatalf("Failed to read %s: %v", file, err)
		}
		if len(events) != 1 {
			t.Errorf("Expected 1 event in %s, got %d", file, len(events))
		}
	}
}

func TestWriteAfterClose(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewWriter(tmpDir, 24)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	if writer.currentFile != nil {
		t.Error("Expected current file to be nil after close")
	}

	// Writing after close reopens the current file.
	if err := writer.Write(&Event{Type: EventRunStarted, RunID: "run-002"}); err != nil {
		t.Fatalf("Writing after close should reopen the file, got error: %v", err)
	}
	defer writer.Close()
}

func TestConcurrentWrites(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewWriter(tmpDir, 24)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func(id int) {
			writeErr := writer.Write(&Event{
				Type:   EventGateAttempt,
				RunID:  "run-001",
				Fields: map[string]any{"id": id},
			})
			if writeErr != nil {
				t.Errorf("Failed to write event %d: %v", id, writeErr)
			}
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	events, err := ReadEvents(writer.GetCurrentLogFile())
	if err != nil {
		t.Fatalf("Failed to read events: %v", err)
	}
	if len(events) != 10 {
		t.Errorf("Expected 10 events, got %d", len(events))
	}
}

func TestReadEventsEmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "events-2030-01-01.jsonl")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("Failed to create empty file: %v", err)
	}

	events, err := ReadEvents(path)
	if err != nil {
		t.Fatalf("ReadEvents failed on empty file: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Expected no events, got %d", len(events))
	}
}

func TestReadEventsNoTrailingNewline(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "events-2030-01-01.jsonl")
	content := `{"type":"run_started","run_id":"a"}` + "\n" + `{"type":"run_finished","run_id":"a"}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	events, err := ReadEvents(path)
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("Expected 2 events, got %d", len(events))
	}
}

func TestListLogFiles(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewWriter(tmpDir, 24)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	if err := writer.Write(&Event{Type: EventRunStarted, RunID: "run-001"}); err != nil {
		t.Fatalf("Failed to write event: %v", err)
	}

	// An unrelated file must not be listed.
	if err := os.WriteFile(filepath.Join(tmpDir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write unrelated file: %v", err)
	}

	files, err := ListLogFiles(tmpDir)
	if err != nil {
		t.Fatalf("ListLogFiles failed: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("Expected 1 journal file, got %d: %v", len(files), files)
	}
}
