package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Kind names a record family and the prefix of its files
type Kind string

const (
	KindEvents  Kind = "events"
	KindDLQ     Kind = "dlq"
	KindMetrics Kind = "metrics"
)

// bucketLayout is the local-time hour bucket in file names
const bucketLayout = "20060102-15"

// bufferPool holds encode buffers; buffers that grew past 64KB are dropped
var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() < 64*1024 {
		bufferPool.Put(buf)
	}
}

// WriteError reports a record that could not be persisted
type WriteError struct {
	Kind Kind
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s record to %s: %v", e.Kind, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Sink appends JSON lines to hour-bucketed files. A successful Append has
// been fsynced.
type Sink struct {
	dir string
	mu  sync.Mutex
}

// New creates a sink rooted at dir
func New(dir string) (*Sink, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Sink{dir: dir}, nil
}

// Dir returns the output directory
func (s *Sink) Dir() string {
	return s.dir
}

// FileName returns the bucket file name for kind at ts, e.g.
// events-20240115-10.jsonl
func FileName(kind Kind, ts time.Time) string {
	return fmt.Sprintf("%s-%s.jsonl", kind, ts.Local().Format(bucketLayout))
}

// Path returns the full path of the bucket file for kind at ts
func (s *Sink) Path(kind Kind, ts time.Time) string {
	return filepath.Join(s.dir, FileName(kind, ts))
}

// Append writes record as one JSON line to the bucket for ts. The file is
// opened, written, synced and closed before returning.
func (s *Sink) Append(kind Kind, ts time.Time, record any) error {
	path := s.Path(kind, ts)

	buf := getBuffer()
	defer putBuffer(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(record); err != nil {
		return &WriteError{Kind: kind, Path: path, Err: fmt.Errorf("encode: %w", err)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return &WriteError{Kind: kind, Path: path, Err: err}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return &WriteError{Kind: kind, Path: path, Err: err}
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return &WriteError{Kind: kind, Path: path, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &WriteError{Kind: kind, Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &WriteError{Kind: kind, Path: path, Err: err}
	}

	return nil
}
