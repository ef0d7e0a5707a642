package checkpoint

// Version is the current on-disk checkpoint layout
const Version = 1

// Counters are the cumulative pipeline counters. They never decrease within
// a process lifetime.
type Counters struct {
	LinesIn        int64 `json:"lines_in_total"`
	BytesIn        int64 `json:"bytes_in_total"`
	EventsOut      int64 `json:"events_out_total"`
	DLQOut         int64 `json:"dlq_out_total"`
	ParseFail      int64 `json:"parse_fail_total"`
	WriteFail      int64 `json:"write_fail_total"`
	CheckpointFail int64 `json:"checkpoint_fail_total"`
}

// Sub returns c - prev field by field
func (c Counters) Sub(prev Counters) Counters {
	return Counters{
		LinesIn:        c.LinesIn - prev.LinesIn,
		BytesIn:        c.BytesIn - prev.BytesIn,
		EventsOut:      c.EventsOut - prev.EventsOut,
		DLQOut:         c.DLQOut - prev.DLQOut,
		ParseFail:      c.ParseFail - prev.ParseFail,
		WriteFail:      c.WriteFail - prev.WriteFail,
		CheckpointFail: c.CheckpointFail - prev.CheckpointFail,
	}
}

// Map returns the counters keyed by their serialized names
func (c Counters) Map() map[string]int64 {
	return map[string]int64{
		"lines_in_total":        c.LinesIn,
		"bytes_in_total":        c.BytesIn,
		"events_out_total":      c.EventsOut,
		"dlq_out_total":         c.DLQOut,
		"parse_fail_total":      c.ParseFail,
		"write_fail_total":      c.WriteFail,
		"checkpoint_fail_total": c.CheckpointFail,
	}
}

// Fingerprint identifies a rotated file's content
type Fingerprint struct {
	Inode uint64 `json:"inode"`
	Size  int64  `json:"size"`
	Mtime int64  `json:"mtime"`
}

// ActivePosition tracks the active file by inode and byte offset
type ActivePosition struct {
	Inode           *uint64 `json:"inode"`
	Offset          int64   `json:"offset"`
	LastEventTSSeen *string `json:"last_event_ts_seen"`
}

// State is the whole persisted ingestion progress. It is owned by a single
// goroutine; every mutation goes through a method so the crash-consistency
// contract stays in one place.
type State struct {
	Version        int                    `json:"version"`
	Counters       Counters               `json:"counters"`
	Active         ActivePosition         `json:"active"`
	CompletedFiles map[string]Fingerprint `json:"completed_files"`
}

// NewState returns an empty state
func NewState() *State {
	return &State{
		Version:        Version,
		CompletedFiles: make(map[string]Fingerprint),
	}
}

// RecordLineIn counts one line read from any source
func (s *State) RecordLineIn(bytes int) {
	s.Counters.LinesIn++
	s.Counters.BytesIn += int64(bytes)
}

// RecordEventOut counts a durably written event and remembers its timestamp
func (s *State) RecordEventOut(eventTS *string) {
	s.Counters.EventsOut++
	if eventTS != nil && *eventTS != "" {
		ts := *eventTS
		s.Active.LastEventTSSeen = &ts
	}
}

// RecordDeadLetter counts a durably written dead-letter record
func (s *State) RecordDeadLetter() {
	s.Counters.DLQOut++
}

// RecordParseFailure counts a line the parser rejected
func (s *State) RecordParseFailure() {
	s.Counters.ParseFail++
}

// RecordWriteFailure counts a record the sink could not persist
func (s *State) RecordWriteFailure() {
	s.Counters.WriteFail++
}

// RecordCheckpointFailure counts a failed checkpoint flush
func (s *State) RecordCheckpointFailure() {
	s.Counters.CheckpointFail++
}

// IsCompleted reports whether path was fully drained with the same fingerprint
func (s *State) IsCompleted(path string, fp Fingerprint) bool {
	done, ok := s.CompletedFiles[path]
	return ok && done == fp
}

// MarkFileCompleted records that every line of a rotated file was handled
func (s *State) MarkFileCompleted(path string, fp Fingerprint) {
	s.CompletedFiles[path] = fp
}

// AdoptActiveInode starts tracking a new active inode from offset 0
func (s *State) AdoptActiveInode(inode uint64) {
	s.Active.Inode = &inode
	s.Active.Offset = 0
}

// AdvanceActiveOffset moves the read cursor after a handled line
func (s *State) AdvanceActiveOffset(offset int64) {
	s.Active.Offset = offset
}

// ResetActiveOffset rewinds the active cursor, used after truncation
func (s *State) ResetActiveOffset() {
	s.Active.Offset = 0
}

// ActiveInode returns the tracked inode, if any
func (s *State) ActiveInode() (uint64, bool) {
	if s.Active.Inode == nil {
		return 0, false
	}
	return *s.Active.Inode, true
}

// normalize repairs fields a hand-edited or older checkpoint may miss
func (s *State) normalize() {
	if s.Version == 0 {
		s.Version = Version
	}
	if s.CompletedFiles == nil {
		s.CompletedFiles = make(map[string]Fingerprint)
	}
	if s.Active.Offset < 0 {
		s.Active.Offset = 0
	}
}
