package tailer

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/golang/snappy"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/checkpoint"
	"github.com/therealutkarshpriyadarshi/fwingest/pkg/types"
)

// FileInfo is the identity of a file on disk
type FileInfo struct {
	Inode uint64
	Size  int64
	Mtime int64
}

// Fingerprint converts the stat result into a completion fingerprint
func (fi FileInfo) Fingerprint() checkpoint.Fingerprint {
	return checkpoint.Fingerprint{Inode: fi.Inode, Size: fi.Size, Mtime: fi.Mtime}
}

// Stat returns inode, size and whole-second mtime for path
func Stat(path string) (FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	return fileInfo(st), nil
}

func fileInfo(st os.FileInfo) FileInfo {
	return FileInfo{
		Inode: getInode(st),
		Size:  st.Size(),
		Mtime: st.ModTime().Unix(),
	}
}

type rotatedName struct {
	path  string
	token string
}

// ListRotated returns the rotated siblings of activeName in dir, oldest first.
// Names look like <activeName>-YYYYMMDD-HHMMSS with an optional .gz or .sz
// suffix. A missing directory yields an empty list.
func ListRotated(dir, activeName string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list input directory: %w", err)
	}

	re := rotatedPattern(activeName)

	var found []rotatedName
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		found = append(found, rotatedName{path: filepath.Join(dir, e.Name()), token: m[1]})
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].token != found[j].token {
			return found[i].token < found[j].token
		}
		return found[i].path < found[j].path
	})

	paths := make([]string, len(found))
	for i, f := range found {
		paths[i] = f.path
	}
	return paths, nil
}

func rotatedPattern(activeName string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(activeName) + `-(\d{8}-\d{6})(\.gz|\.sz)?$`)
}

// LineFunc receives each line together with its provenance. For plain
// rotated files the provenance offset is where the line starts; compressed
// files carry a nil offset.
type LineFunc func(text string, prov types.Provenance) error

// ReadRotated streams every line of a rotated file to fn. Compressed files
// (.gz gzip, .sz snappy framed) are decompressed transparently. The context
// is checked between lines; an error from fn stops the read and is returned.
func ReadRotated(ctx context.Context, path string, info FileInfo, fn LineFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var (
		r          io.Reader = f
		compressed bool
	)
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return &ReadError{Path: path, Err: fmt.Errorf("gzip header: %w", err)}
		}
		defer gz.Close()
		r, compressed = gz, true
	case strings.HasSuffix(path, ".sz"):
		r, compressed = snappy.NewReader(f), true
	}

	inode, size, mtime := info.Inode, info.Size, info.Mtime
	reader := bufio.NewReaderSize(r, 64*1024)

	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, rerr := reader.ReadBytes('\n')
		if len(raw) > 0 {
			prov := types.Provenance{
				Path:  path,
				Inode: &inode,
				Size:  &size,
				Mtime: &mtime,
			}
			if !compressed {
				start := offset
				prov.Offset = &start
			}
			offset += int64(len(raw))

			if err := fn(decodeLine(raw), prov); err != nil {
				return err
			}
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return &ReadError{Path: path, Err: rerr}
		}
	}
}
