package metrics

import (
	"time"

	"github.com/therealutkarshpriyadarshi/fwingest/internal/checkpoint"
)

// Input is what a snapshot is built from
type Input struct {
	Counters checkpoint.Counters
	// ActiveSize is nil when the active file does not exist
	ActiveSize   *int64
	ActiveOffset int64
	LastEventTS  *string
}

// Snapshot is one metrics record. Field order is the output order.
type Snapshot struct {
	TS                    int64  `json:"ts"`
	ActiveFileSizeBytes   *int64 `json:"active_file_size_bytes"`
	ActiveReadOffsetBytes int64  `json:"active_read_offset_bytes"`
	ActiveLagBytes        *int64 `json:"active_lag_bytes"`

	LinesInTotal        int64 `json:"lines_in_total"`
	BytesInTotal        int64 `json:"bytes_in_total"`
	EventsOutTotal      int64 `json:"events_out_total"`
	DLQOutTotal         int64 `json:"dlq_out_total"`
	ParseFailTotal      int64 `json:"parse_fail_total"`
	WriteFailTotal      int64 `json:"write_fail_total"`
	CheckpointFailTotal int64 `json:"checkpoint_fail_total"`

	LinesInPerSec   float64 `json:"lines_in_per_sec"`
	BytesInPerSec   float64 `json:"bytes_in_per_sec"`
	EventsOutPerSec float64 `json:"events_out_per_sec"`
	DLQOutPerSec    float64 `json:"dlq_out_per_sec"`
	ParseFailPerSec float64 `json:"parse_fail_per_sec"`

	LastEventTSSeen *string `json:"last_event_ts_seen"`
}

// Window turns cumulative counters into per-interval rates. Every Build
// diffs against the previous Build, not against the last counter read.
type Window struct {
	lastEmit int64
	prev     *checkpoint.Counters
}

// NewWindow starts a window at now
func NewWindow(now time.Time) *Window {
	return &Window{lastEmit: now.Unix()}
}

// Build produces a snapshot and makes it the new baseline. The first build
// has nothing to diff against and reports zero rates.
func (w *Window) Build(in Input, now time.Time) Snapshot {
	ts := now.Unix()
	cur := in.Counters

	if w.prev == nil {
		prev := cur
		w.prev = &prev
	}

	dt := ts - w.lastEmit
	if dt < 1 {
		dt = 1
	}
	d := cur.Sub(*w.prev)
	rate := func(v int64) float64 { return float64(v) / float64(dt) }

	s := Snapshot{
		TS:                    ts,
		ActiveFileSizeBytes:   in.ActiveSize,
		ActiveReadOffsetBytes: in.ActiveOffset,

		LinesInTotal:        cur.LinesIn,
		BytesInTotal:        cur.BytesIn,
		EventsOutTotal:      cur.EventsOut,
		DLQOutTotal:         cur.DLQOut,
		ParseFailTotal:      cur.ParseFail,
		WriteFailTotal:      cur.WriteFail,
		CheckpointFailTotal: cur.CheckpointFail,

		LinesInPerSec:   rate(d.LinesIn),
		BytesInPerSec:   rate(d.BytesIn),
		EventsOutPerSec: rate(d.EventsOut),
		DLQOutPerSec:    rate(d.DLQOut),
		ParseFailPerSec: rate(d.ParseFail),

		LastEventTSSeen: in.LastEventTS,
	}

	if in.ActiveSize != nil {
		lag := *in.ActiveSize - in.ActiveOffset
		s.ActiveLagBytes = &lag
	}

	w.prev = &cur
	w.lastEmit = ts
	return s
}
