package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestNewFileLogger(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("creates new file", func(t *testing.T) {
		path := filepath.Join(tmpDir, "daemon.log")
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger: %v", err)
		}
		defer logger.Close()

		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Error("log file was not created")
		}
	})

	t.Run("appends to existing file", func(t *testing.T) {
		path := filepath.Join(tmpDir, "existing.log")
		if err := os.WriteFile(path, []byte("earlier run\n"), 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}

		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger: %v", err)
		}
		logger.echo = nil
		logger.Log("polling started")
		logger.Close()

		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if !strings.Contains(string(content), "earlier run") {
			t.Error("existing content was overwritten")
		}
		if !strings.Contains(string(content), "polling started") {
			t.Error("new line was not appended")
		}
	})

	t.Run("empty path logs to stderr only", func(t *testing.T) {
		logger, err := NewFileLogger("")
		if err != nil {
			t.Fatalf("NewFileLogger: %v", err)
		}
		defer logger.Close()

		if logger.file != nil {
			t.Error("empty path opened a file")
		}
		var buf bytes.Buffer
		logger.echo = &buf
		logger.Log("gateway connected")
		if !strings.Contains(buf.String(), "gateway connected") {
			t.Errorf("echo output = %q", buf.String())
		}
	})

	t.Run("returns error for invalid path", func(t *testing.T) {
		if _, err := NewFileLogger("/nonexistent/directory/daemon.log"); err == nil {
			t.Error("expected error for invalid path")
		}
	})
}

func TestFileLoggerEchoesToBothSinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	defer logger.Close()

	var buf bytes.Buffer
	logger.echo = &buf
	logger.Log("polling %d items every %s", 12, "30s")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "polling 12 items every 30s"
	if !strings.Contains(string(content), want) {
		t.Errorf("file content = %q, want %q", content, want)
	}
	if !strings.Contains(buf.String(), want) {
		t.Errorf("echo content = %q, want %q", buf.String(), want)
	}
	// Lines open with a "YYYY-MM-DD HH:MM:SS.mmm" timestamp.
	if len(buf.String()) < 24 || buf.String()[4] != '-' || buf.String()[10] != ' ' {
		t.Errorf("line %q lacks the timestamp prefix", buf.String())
	}
}

func TestFileLoggerClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	var buf bytes.Buffer
	logger.echo = &buf

	if err := logger.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	logger.Log("after close")
	if buf.Len() != 0 {
		t.Errorf("logged after close: %q", buf.String())
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	defer logger.Close()
	logger.echo = nil

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Log("poll cycle %d done", n)
		}(i)
	}
	wg.Wait()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 100 {
		t.Errorf("lines = %d, want 100", len(lines))
	}
}
