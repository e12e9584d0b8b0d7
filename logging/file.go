package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// FileLogger writes the daemon's operational log. Every line carries a
// timestamp; lines go to the log file and are echoed to stderr so the
// daemon stays readable when run in the foreground.
type FileLogger struct {
	mu     sync.Mutex
	file   *os.File
	echo   io.Writer
	closed bool
}

// NewFileLogger opens the daemon log at path, creating the file or
// appending to it. An empty path gives a logger that writes to stderr
// only.
func NewFileLogger(path string) (*FileLogger, error) {
	l := &FileLogger{echo: os.Stderr}
	if path == "" {
		return l, nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("NewFileLogger: %w", err)
	}
	l.file = file
	return l, nil
}

// Log writes one timestamped line. Safe to call from any goroutine.
func (l *FileLogger) Log(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	line := fmt.Sprintf("%s %s\n",
		time.Now().Format("2006-01-02 15:04:05.000"),
		fmt.Sprintf(format, args...))
	if l.file != nil {
		io.WriteString(l.file, line)
	}
	if l.echo != nil {
		io.WriteString(l.echo, line)
	}
}

// Close closes the log file. Later Log calls are dropped.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
