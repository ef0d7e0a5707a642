package tailer

import (
	"os"
	"syscall"
	"unicode/utf8"
)

// decodeLine converts raw bytes to text, replacing every byte that is not
// part of a valid UTF-8 sequence with U+FFFD.
func decodeLine(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}

	out := make([]byte, 0, len(raw)+8)
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		if r == utf8.RuneError && size == 1 {
			out = utf8.AppendRune(out, utf8.RuneError)
		} else {
			out = append(out, raw[:size]...)
		}
		raw = raw[size:]
	}
	return string(out)
}

// getInode extracts inode from FileInfo
func getInode(fi os.FileInfo) uint64 {
	if stat, ok := fi.Sys().(*syscall.Stat_t); ok {
		return stat.Ino
	}
	return 0
}
