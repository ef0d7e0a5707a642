package sink

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestFileName(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 59, 59, 0, time.Local)

	tests := []struct {
		kind Kind
		want string
	}{
		{KindEvents, "events-20240115-10.jsonl"},
		{KindDLQ, "dlq-20240115-10.jsonl"},
		{KindMetrics, "metrics-20240115-10.jsonl"},
	}

	for _, tt := range tests {
		if got := FileName(tt.kind, ts); got != tt.want {
			t.Errorf("FileName(%s) = %s, want %s", tt.kind, got, tt.want)
		}
	}

	if FileName(KindEvents, ts.Add(time.Second)) != "events-20240115-11.jsonl" {
		t.Error("Expected the next hour to get a new bucket")
	}
}

func TestAppend(t *testing.T) {
	tmpDir := t.TempDir()
	s, err := New(filepath.Join(tmpDir, "out"))
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}

	ts := time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local)
	records := []map[string]any{
		{"n": 1, "msg": "a<b>&c"},
		{"n": 2, "msg": "naïve"},
	}
	for _, r := range records {
		if err := s.Append(KindEvents, ts, r); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	lines := readLines(t, s.Path(KindEvents, ts))
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"a<b>&c"`) {
		t.Errorf("HTML characters should not be escaped: %s", lines[0])
	}
	if !strings.Contains(lines[1], "naïve") {
		t.Errorf("Non-ASCII should be written verbatim: %s", lines[1])
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
		t.Fatalf("Line is not valid JSON: %v", err)
	}
	if decoded["n"].(float64) != 2 {
		t.Errorf("Unexpected record %v", decoded)
	}
}

func TestAppendSeparatesKinds(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	ts := time.Now()

	if err := s.Append(KindDLQ, ts, map[string]string{"reason": "empty_line"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(KindMetrics, ts, map[string]int{"ts": 1}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if _, err := os.Stat(s.Path(KindEvents, ts)); !os.IsNotExist(err) {
		t.Error("events file should not exist")
	}
	if len(readLines(t, s.Path(KindDLQ, ts))) != 1 || len(readLines(t, s.Path(KindMetrics, ts))) != 1 {
		t.Error("Expected one record per kind")
	}
}

func TestAppendRecreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s, err := New(dir)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("Failed to remove dir: %v", err)
	}

	if err := s.Append(KindEvents, time.Now(), map[string]int{"a": 1}); err != nil {
		t.Fatalf("Append should recreate the directory: %v", err)
	}
}

func TestAppendWriteError(t *testing.T) {
	tmpDir := t.TempDir()
	s, err := New(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}

	ts := time.Now()
	// A directory where the bucket file should be makes the open fail
	if err := os.Mkdir(s.Path(KindEvents, ts), 0755); err != nil {
		t.Fatalf("Failed to create blocking dir: %v", err)
	}

	err = s.Append(KindEvents, ts, map[string]int{"a": 1})
	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("Expected WriteError, got %v", err)
	}
	if we.Kind != KindEvents || we.Path != s.Path(KindEvents, ts) {
		t.Errorf("Unexpected error fields %+v", we)
	}
}

func TestAppendEncodeError(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}

	err = s.Append(KindEvents, time.Now(), map[string]any{"ch": make(chan int)})
	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("Expected WriteError, got %v", err)
	}
}

// BenchmarkAppend benchmarks a synced append of a small record
func BenchmarkAppend(b *testing.B) {
	s, err := New(b.TempDir())
	if err != nil {
		b.Fatal(err)
	}
	record := map[string]interface{}{"schema_version": 1, "raw": "Jan 15 10:23:45 fw01 type=traffic"}
	now := time.Now()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := s.Append(KindEvents, now, record); err != nil {
			b.Fatal(err)
		}
	}

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "records/sec")
}
