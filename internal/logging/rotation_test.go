package logging

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates nested directories", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "nested", "dir", "test.log")

		rw, err := NewRotatingWriter(logPath, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		defer func() { _ = rw.Close() }()

		if _, err := os.Stat(logPath); os.IsNotExist(err) {
			t.Errorf("log file was not created at %s", logPath)
		}
		if rw.FilePath() != logPath {
			t.Errorf("FilePath() = %q, want %q", rw.FilePath(), logPath)
		}
	})

	t.Run("appends to existing file", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "test.log")
		if err := os.WriteFile(logPath, []byte("initial\n"), 0644); err != nil {
			t.Fatal(err)
		}

		rw, err := NewRotatingWriter(logPath, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		if rw.CurrentSize() != int64(len("initial\n")) {
			t.Errorf("CurrentSize() = %d, want %d", rw.CurrentSize(), len("initial\n"))
		}
		if _, err := rw.Write([]byte("appended\n")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		_ = rw.Close()

		content, _ := os.ReadFile(logPath)
		if string(content) != "initial\nappended\n" {
			t.Errorf("content = %q", content)
		}
	})
}

func TestRotatingWriterRotation(t *testing.T) {
	chunk := bytes.Repeat([]byte("x"), 700*1024)

	t.Run("rotates past max size and keeps backups", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "test.log")
		rw, err := NewRotatingWriter(logPath, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
		if err != nil {
			t.Fatal(err)
		}

		for i := 0; i < 4; i++ {
			if _, err := rw.Write(chunk); err != nil {
				t.Fatalf("Write %d failed: %v", i, err)
			}
		}
		_ = rw.Close()

		for _, p := range []string{logPath, logPath + ".1", logPath + ".2"} {
			if _, err := os.Stat(p); err != nil {
				t.Errorf("expected %s to exist: %v", p, err)
			}
		}
		if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
			t.Errorf("expected only 2 backups, found %s.3", logPath)
		}
	})

	t.Run("no backups truncates", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "test.log")
		rw, err := NewRotatingWriter(logPath, RotationConfig{MaxSizeMB: 1, MaxBackups: 0})
		if err != nil {
			t.Fatal(err)
		}
		_, _ = rw.Write(chunk)
		_, _ = rw.Write(chunk)
		_ = rw.Close()

		if _, err := os.Stat(logPath + ".1"); !os.IsNotExist(err) {
			t.Error("no backup should be kept when MaxBackups is 0")
		}
		info, err := os.Stat(logPath)
		if err != nil {
			t.Fatal(err)
		}
		if info.Size() != int64(len(chunk)) {
			t.Errorf("size = %d, want %d", info.Size(), len(chunk))
		}
	})

	t.Run("compresses rotated files", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "test.log")
		rw, err := NewRotatingWriter(logPath, RotationConfig{MaxSizeMB: 1, MaxBackups: 1, Compress: true})
		if err != nil {
			t.Fatal(err)
		}
		_, _ = rw.Write(chunk)
		_, _ = rw.Write(chunk)
		_ = rw.Close()

		f, err := os.Open(logPath + ".1.gz")
		if err != nil {
			t.Fatalf("compressed backup missing: %v", err)
		}
		defer f.Close()
		zr, err := gzip.NewReader(f)
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(zr)
		if err != nil {
			t.Fatal(err)
		}
		if len(data) != len(chunk) {
			t.Errorf("decompressed size = %d, want %d", len(data), len(chunk))
		}
	})
}

func TestRotatingWriterConcurrency(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	rw, err := NewRotatingWriter(logPath, DefaultRotationConfig())
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = rw.Write([]byte("line\n"))
			}
		}()
	}
	wg.Wait()
	_ = rw.Close()

	content, _ := os.ReadFile(logPath)
	if got := strings.Count(string(content), "line\n"); got != 500 {
		t.Errorf("line count = %d, want 500", got)
	}
}

func TestRotatingWriterClosed(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "test.log"), DefaultRotationConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if _, err := rw.Write([]byte("x")); err == nil {
		t.Error("Write after Close should fail")
	}
}
