package agent

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/metrics"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/reliability"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/sink"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/tailer"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/tracing"
)

// isoLayout is UTC with microseconds and an explicit +00:00 offset
const isoLayout = "2006-01-02T15:04:05.000000-07:00"

func isoUTC(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// flushCheckpoint saves the checkpoint with a small retry budget. It runs on
// the stop path too, so cancellation of ctx does not abort it.
func (a *Agent) flushCheckpoint(ctx context.Context) error {
	ctx, span := tracing.TraceCheckpointFlush(context.WithoutCancel(ctx), a.tracer, a.store.Path())
	start := time.Now()

	err := reliability.Retry(ctx, reliability.RetryConfig{
		MaxRetries:     a.cfg.Checkpoint.SaveRetries,
		InitialBackoff: a.cfg.Checkpoint.RetryBackoff,
		MaxBackoff:     time.Second,
		OnRetry: func(attempt int, err error) {
			a.logger.Debug().Err(err).Int("attempt", attempt).Msg("Retrying checkpoint save")
		},
	}, func(context.Context) error {
		return a.store.Save(a.state)
	})

	tracing.End(span, err)
	a.collector.ObserveCheckpointFlush(time.Now(), time.Since(start), err)

	if err != nil {
		a.state.RecordCheckpointFailure()
		a.warnWrite(err)
		return err
	}
	a.flushedAt.Store(time.Now().UnixNano())
	return nil
}

// activeSize is nil when the active file cannot be stat'ed
func (a *Agent) activeSize() *int64 {
	info, err := tailer.Stat(a.active.Path())
	if err != nil {
		return nil
	}
	return &info.Size
}

// emitMetrics builds the next window snapshot and appends it
func (a *Agent) emitMetrics(now time.Time) error {
	snap := a.window.Build(metrics.Input{
		Counters:     a.state.Counters,
		ActiveSize:   a.activeSize(),
		ActiveOffset: a.state.Active.Offset,
		LastEventTS:  a.state.Active.LastEventTSSeen,
	}, now)
	a.collector.ObserveSnapshot(snap)

	return a.append(sink.KindMetrics, now, snap)
}

type heartbeatActive struct {
	Path     string  `json:"path"`
	Inode    *uint64 `json:"inode"`
	Offset   int64   `json:"offset"`
	Size     *int64  `json:"size"`
	LagBytes *int64  `json:"lag_bytes"`
}

// heartbeat logs uptime, active file position and counter deltas since the
// previous heartbeat
func (a *Agent) heartbeat(now time.Time) {
	cur := a.state.Counters
	active := heartbeatActive{
		Path:   a.active.Path(),
		Inode:  a.state.Active.Inode,
		Offset: a.state.Active.Offset,
		Size:   a.activeSize(),
	}
	if active.Size != nil {
		lag := *active.Size - active.Offset
		active.LagBytes = &lag
	}

	interval := now.Unix() - a.lastHeartbeat.Unix()
	if interval < 1 {
		interval = 1
	}

	a.logger.Record("heartbeat").
		Str("ts", isoUTC(now)).
		Int64("uptime_sec", now.Unix()-a.started.Unix()).
		Interface("active", active).
		Interface("last_event_ts_seen", a.state.Active.LastEventTSSeen).
		Dict("out_files", zerolog.Dict().
			Str("events", sink.FileName(sink.KindEvents, now)).
			Str("metrics", sink.FileName(sink.KindMetrics, now))).
		Interface("counters_total", cur).
		Interface("counters_delta", cur.Sub(a.hbCounters)).
		Int64("interval_sec", interval).
		Msg("heartbeat")

	a.hbCounters = cur
}

func (a *Agent) logStart(now time.Time) {
	a.logger.Record("start").
		Str("ts", isoUTC(now)).
		Str("active_path", a.active.Path()).
		Float64("checkpoint_flush_sec", a.cfg.Checkpoint.FlushInterval.Seconds()).
		Float64("metrics_interval_sec", a.cfg.Metrics.Interval.Seconds()).
		Float64("heartbeat_interval_sec", a.cfg.Heartbeat.Interval.Seconds()).
		Msg("start")
}
