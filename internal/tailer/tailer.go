package tailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/checkpoint"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/logging"
)

var (
	// ErrActiveMissing is returned when the active file does not exist
	ErrActiveMissing = errors.New("active file missing")
)

// ReadError wraps an I/O failure on an input file
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Options tune active-file polling
type Options struct {
	// PollMaxWait bounds how long Poll waits when no complete line is available
	PollMaxWait time.Duration
	// PollInterval is the fallback re-read tick when no fsnotify event arrives
	PollInterval time.Duration
	// MaxLineBytes delivers an unterminated fragment once it grows this large
	MaxLineBytes int
	// MaxBatchBytes stops a single Poll from reading further once reached
	MaxBatchBytes int
	// ReadBufferSize is the chunk size of each read
	ReadBufferSize int
}

// DefaultOptions returns the standard polling options
func DefaultOptions() Options {
	return Options{
		PollMaxWait:    500 * time.Millisecond,
		PollInterval:   50 * time.Millisecond,
		MaxLineBytes:   1 << 20,
		MaxBatchBytes:  1 << 20,
		ReadBufferSize: 64 * 1024,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.PollMaxWait <= 0 {
		o.PollMaxWait = d.PollMaxWait
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = d.MaxLineBytes
	}
	if o.MaxBatchBytes <= 0 {
		o.MaxBatchBytes = d.MaxBatchBytes
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = d.ReadBufferSize
	}
}

// Cursor is the read position in the active file
type Cursor struct {
	Inode  uint64
	Offset int64
}

// ActiveLine is a complete line and the byte offset just past it
type ActiveLine struct {
	Text      string
	EndOffset int64
}

// Batch is the result of one Poll. An empty batch without Rotated means the
// idle wait elapsed with nothing new.
type Batch struct {
	Lines    []ActiveLine
	Rotated  bool
	NewInode uint64
}

// Reconciliation describes how the active file relates to the checkpoint
type Reconciliation struct {
	Present bool
	Info    FileInfo
	// Adopted is set when the checkpoint started tracking a new inode
	Adopted bool
	// Truncated is set when the file is smaller than the stored offset.
	// The caller audits it and then resets the offset.
	Truncated   bool
	StaleOffset int64
}

// ActiveFile follows the file currently being appended to
type ActiveFile struct {
	path    string
	opts    Options
	logger  *logging.Logger
	watcher *fsnotify.Watcher
}

// NewActiveFile creates a follower for path. Write notifications come from
// an fsnotify watch on the parent directory; if the watch cannot be set up
// polling falls back to the fixed tick.
func NewActiveFile(path string, opts Options, logger *logging.Logger) (*ActiveFile, error) {
	if path == "" {
		return nil, fmt.Errorf("active path is required")
	}
	opts.applyDefaults()
	path = filepath.Clean(path)

	a := &ActiveFile{
		path:   path,
		opts:   opts,
		logger: logger.WithComponent("tailer"),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to create file watcher, using poll tick only")
		return a, nil
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		a.logger.Warn().Err(err).Str("dir", filepath.Dir(path)).Msg("Failed to watch input directory, using poll tick only")
		watcher.Close()
		return a, nil
	}
	a.watcher = watcher

	return a, nil
}

// Path returns the active file path
func (a *ActiveFile) Path() string {
	return a.path
}

// Close stops the directory watch
func (a *ActiveFile) Close() error {
	if a.watcher == nil {
		return nil
	}
	return a.watcher.Close()
}

// Reconcile compares the file on disk with the checkpoint. A first sighting
// or an inode change adopts the current inode at offset 0. Truncation is
// only reported; the stored offset is left for the caller to reset once the
// audit record has been written.
func (a *ActiveFile) Reconcile(st *checkpoint.State) (Reconciliation, error) {
	info, err := Stat(a.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Reconciliation{}, nil
		}
		return Reconciliation{}, &ReadError{Path: a.path, Err: err}
	}

	r := Reconciliation{Present: true, Info: info}

	if cur, ok := st.ActiveInode(); !ok || cur != info.Inode {
		st.AdoptActiveInode(info.Inode)
		r.Adopted = true
		a.logger.Info().
			Str("path", a.path).
			Uint64("inode", info.Inode).
			Bool("first", !ok).
			Msg("Adopted active file inode")
	}

	if info.Size < st.Active.Offset {
		r.Truncated = true
		r.StaleOffset = st.Active.Offset
	}

	return r, nil
}

// Poll reads complete lines starting at the cursor. It returns as soon as at
// least one line is available, or with an empty batch once PollMaxWait has
// elapsed since the call began. A rotation of the path (different inode) is
// reported with Rotated and no lines.
func (a *ActiveFile) Poll(ctx context.Context, cur Cursor) (Batch, error) {
	f, err := os.Open(a.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Batch{}, ErrActiveMissing
		}
		return Batch{}, &ReadError{Path: a.path, Err: err}
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Batch{}, &ReadError{Path: a.path, Err: err}
	}
	if inode := getInode(st); inode != cur.Inode {
		return Batch{Rotated: true, NewInode: inode}, nil
	}

	if _, err := f.Seek(cur.Offset, io.SeekStart); err != nil {
		return Batch{}, &ReadError{Path: a.path, Err: err}
	}

	timer := time.NewTimer(a.opts.PollMaxWait)
	defer timer.Stop()
	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()

	var (
		buf    []byte
		lines  []ActiveLine
		offset = cur.Offset
		chunk  = make([]byte, a.opts.ReadBufferSize)
	)

	for {
		n, rerr := f.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			lines, buf, offset = a.split(lines, buf, offset)
		}
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return Batch{}, &ReadError{Path: a.path, Err: rerr}
		}

		if n > 0 && offset-cur.Offset < int64(a.opts.MaxBatchBytes) {
			continue
		}
		if len(lines) > 0 {
			break
		}

		select {
		case <-ctx.Done():
			return Batch{}, ctx.Err()
		case <-timer.C:
			return Batch{}, nil
		case <-ticker.C:
		case ev, ok := <-a.watchEvents():
			if !ok {
				a.watcher = nil
				continue
			}
			if ev.Name == a.path && ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				if rotated, inode := a.rotatedFrom(cur.Inode); rotated {
					return Batch{Rotated: true, NewInode: inode}, nil
				}
			}
		case werr, ok := <-a.watchErrors():
			if !ok {
				a.watcher = nil
				continue
			}
			a.logger.Warn().Err(werr).Msg("File watcher error")
		}
	}

	if rotated, inode := a.rotatedFrom(cur.Inode); rotated {
		return Batch{Rotated: true, NewInode: inode}, nil
	}

	return Batch{Lines: lines}, nil
}

// split moves every complete line out of buf. An unterminated fragment of
// at least MaxLineBytes is emitted as a line of its own.
func (a *ActiveFile) split(lines []ActiveLine, buf []byte, offset int64) ([]ActiveLine, []byte, int64) {
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		offset += int64(i + 1)
		lines = append(lines, ActiveLine{Text: decodeLine(buf[:i+1]), EndOffset: offset})
		buf = buf[i+1:]
	}

	if len(buf) >= a.opts.MaxLineBytes {
		offset += int64(len(buf))
		lines = append(lines, ActiveLine{Text: decodeLine(buf), EndOffset: offset})
		a.logger.Warn().
			Str("path", a.path).
			Int("bytes", len(buf)).
			Int64("end_offset", offset).
			Msg("Delivering oversized line fragment")
		buf = nil
	}

	// Compact so the backing array does not grow without bound.
	if len(buf) > 0 {
		buf = append([]byte(nil), buf...)
	}
	return lines, buf, offset
}

// rotatedFrom reports whether the path now points at a different inode.
// A missing path is not a rotation yet.
func (a *ActiveFile) rotatedFrom(inode uint64) (bool, uint64) {
	info, err := Stat(a.path)
	if err != nil {
		return false, 0
	}
	return info.Inode != inode, info.Inode
}

func (a *ActiveFile) watchEvents() <-chan fsnotify.Event {
	if a.watcher == nil {
		return nil
	}
	return a.watcher.Events
}

func (a *ActiveFile) watchErrors() <-chan error {
	if a.watcher == nil {
		return nil
	}
	return a.watcher.Errors
}
