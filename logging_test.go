package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogFileNameForDate(t *testing.T) {
	when := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	if got := logFileNameForDate(when); got != "22-Jan-2026.log" {
		t.Fatalf("expected log filename to be 22-Jan-2026.log, got %q", got)
	}
}

func TestParseLogFileDate(t *testing.T) {
	parsed, ok := parseLogFileDate("22-Jan-2026.log")
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if parsed.Year() != 2026 || parsed.Month() != time.January || parsed.Day() != 22 {
		t.Fatalf("unexpected parsed date: %s", parsed.Format(time.RFC3339))
	}
	if _, ok := parseLogFileDate("notes.txt"); ok {
		t.Fatalf("expected non-log file to be rejected")
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"20-Jan-2026.log",
		"21-Jan-2026.log",
		"22-Jan-2026.log",
		"notes.txt",
	}
	for _, name := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	now := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	if err := cleanupOldLogs(dir, now, 2); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "20-Jan-2026.log")); err == nil {
		t.Fatalf("expected 20-Jan-2026.log to be removed")
	} else if !os.IsNotExist(err) {
		t.Fatalf("stat: %v", err)
	}
	for _, name := range []string{"21-Jan-2026.log", "22-Jan-2026.log", "notes.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to remain: %v", name, err)
		}
	}
}

func TestDailyFileSinkRotatesOnDayChange(t *testing.T) {
	dir := t.TempDir()
	sink, err := newDailyFileSink(dir, 7)
	if err != nil {
		t.Fatalf("newDailyFileSink: %v", err)
	}
	defer sink.Close()

	day1 := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	sink.WriteLine("first", day1)
	sink.WriteLine("second", day2)

	first, err := os.ReadFile(filepath.Join(dir, "22-Jan-2026.log"))
	if err != nil {
		t.Fatalf("read day1 log: %v", err)
	}
	if !strings.Contains(string(first), "first") {
		t.Errorf("day1 log missing line: %q", first)
	}
	second, err := os.ReadFile(filepath.Join(dir, "23-Jan-2026.log"))
	if err != nil {
		t.Fatalf("read day2 log: %v", err)
	}
	if !strings.Contains(string(second), "second") {
		t.Errorf("day2 log missing line: %q", second)
	}
	if strings.Contains(string(first), "second") {
		t.Errorf("day1 log should not contain day2 line")
	}
}

type captureSink struct {
	lines []string
}

func (c *captureSink) WriteLine(line string, now time.Time) {
	c.lines = append(c.lines, line)
}

func (c *captureSink) Close() error { return nil }

func TestLogFanoutSplitsLines(t *testing.T) {
	console := &captureSink{}
	file := &captureSink{}
	fanout := newLogFanout(console, file)

	fanout.Write([]byte("one\ntwo\npar"))
	fanout.Write([]byte("tial\n"))

	want := []string{"one", "two", "partial"}
	for _, sink := range []*captureSink{console, file} {
		if len(sink.lines) != len(want) {
			t.Fatalf("expected %d lines, got %v", len(want), sink.lines)
		}
		for i := range want {
			if sink.lines[i] != want[i] {
				t.Errorf("line %d: got %q, want %q", i, sink.lines[i], want[i])
			}
		}
	}
}

func TestLogFanoutFileOnlyLine(t *testing.T) {
	console := &captureSink{}
	file := &captureSink{}
	fanout := newLogFanout(console, file)

	fanout.WriteFileOnlyLine("stats snapshot", time.Now().UTC())

	if len(console.lines) != 0 {
		t.Errorf("console should not receive file-only lines: %v", console.lines)
	}
	if len(file.lines) != 1 || file.lines[0] != "stats snapshot" {
		t.Errorf("file sink missing file-only line: %v", file.lines)
	}
}
