package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// rotatingFileWriter appends log lines to a dated file, opening a fresh file
// when the date changes. Rotation is checked on every write.
type rotatingFileWriter struct {
	logDir        string
	currentFile   *os.File
	currentDate   string
	rotationHours int
	mu            sync.Mutex
}

func (w *rotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return 0, err
	}
	return w.currentFile.Write(p)
}

func (w *rotatingFileWriter) rotateIfNeeded() error {
	newDate := time.Now().Format("2006-01-02")
	if w.currentFile != nil && w.currentDate == newDate {
		return nil
	}

	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
	}

	path := filepath.Join(w.logDir, fmt.Sprintf("conductor-%s.log", newDate))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	w.currentFile = file
	w.currentDate = newDate
	return nil
}

func (w *rotatingFileWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	if err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

var activeFileWriter *rotatingFileWriter

// InitializeLogFile routes all subsequent log output to daily rotated files
// under logDir. With tee set, lines also go to stderr. Call before any
// logging so startup messages land in the file too.
func InitializeLogFile(logDir string, rotationHours int, tee bool) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	if rotationHours <= 0 {
		rotationHours = 24
	}

	writer := &rotatingFileWriter{
		logDir:        logDir,
		rotationHours: rotationHours,
	}
	if err := writer.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to initialize log file: %w", err)
	}

	logWriterLock.Lock()
	defer logWriterLock.Unlock()

	activeFileWriter = writer
	if tee {
		logWriter = io.MultiWriter(writer, os.Stderr)
	} else {
		logWriter = writer
	}
	return nil
}

// CloseLogFile closes the active log file and restores stderr output.
func CloseLogFile() error {
	logWriterLock.Lock()
	writer := activeFileWriter
	activeFileWriter = nil
	logWriter = nil
	logWriterLock.Unlock()

	if writer == nil {
		return nil
	}
	return writer.close()
}

// CurrentLogFile returns the path of the active log file, or "" when logging
// to stderr only.
func CurrentLogFile() string {
	logWriterLock.RLock()
	writer := activeFileWriter
	logWriterLock.RUnlock()

	if writer == nil {
		return ""
	}

	writer.mu.Lock()
	defer writer.mu.Unlock()
	if writer.currentFile == nil {
		return ""
	}
	return filepath.Join(writer.logDir, fmt.Sprintf("conductor-%s.log", writer.currentDate))
}
