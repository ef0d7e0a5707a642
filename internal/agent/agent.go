package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/therealutkarshpriyadarshi/fwingest/internal/checkpoint"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/config"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/logging"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/metrics"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/sink"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/tailer"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"
)

// Options holds the agent's collaborators. Config is required; the rest
// default to no-op implementations.
type Options struct {
	Config    *config.Config
	Logger    *logging.Logger
	Collector *metrics.Collector
	Tracer    trace.Tracer
}

// Agent drives ingestion: it drains rotated files, tails the active file,
// and flushes the checkpoint, metrics and heartbeat on their intervals.
// All checkpoint state is owned by the goroutine calling Run.
type Agent struct {
	cfg       *config.Config
	logger    *logging.Logger
	collector *metrics.Collector
	tracer    trace.Tracer

	store  *checkpoint.Store
	state  *checkpoint.State
	active *tailer.ActiveFile
	sink   *sink.Sink
	window *metrics.Window

	started       time.Time
	lastFlush     time.Time
	lastMetrics   time.Time
	lastHeartbeat time.Time
	hbCounters    checkpoint.Counters

	writeWarn rate.Sometimes

	// read by health checks from other goroutines
	flushedAt   atomic.Int64
	iteratingAt atomic.Int64
}

// New loads the checkpoint and prepares the sources and the sink. An
// unreadable checkpoint is logged and replaced by a fresh one.
func New(opts Options) (*Agent, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Collector == nil {
		opts.Collector = metrics.NewCollector()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("fwingest")
	}

	logger := opts.Logger.WithComponent("agent")

	store, err := checkpoint.NewStore(cfg.Checkpoint.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	state, err := store.Load()
	if err != nil {
		logger.Warn().
			Err(err).
			Str("path", store.Path()).
			Msg("Failed to load checkpoint, starting fresh")
	}

	out, err := sink.New(cfg.Output.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create sink: %w", err)
	}

	active, err := tailer.NewActiveFile(cfg.Input.ActivePath(), tailer.Options{
		PollMaxWait:  cfg.Tail.PollMaxWait,
		PollInterval: cfg.Tail.PollInterval,
		MaxLineBytes: cfg.Tail.MaxLineBytes,
	}, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create active file tailer: %w", err)
	}

	return &Agent{
		cfg:       cfg,
		logger:    logger,
		collector: opts.Collector,
		tracer:    opts.Tracer,
		store:     store,
		state:     state,
		active:    active,
		sink:      out,
		writeWarn: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}, nil
}

// Close releases the active file watch
func (a *Agent) Close() error {
	return a.active.Close()
}

// LastFlush returns when the checkpoint was last saved successfully
func (a *Agent) LastFlush() time.Time {
	return unixNano(a.flushedAt.Load())
}

// LastIteration returns when the loop last started an iteration
func (a *Agent) LastIteration() time.Time {
	return unixNano(a.iteratingAt.Load())
}

// Run loops until ctx is cancelled, then flushes the checkpoint, writes a
// final metrics record and returns nil. Any other error, or a panic inside
// an iteration, gets a best-effort flush and is returned.
func (a *Agent) Run(ctx context.Context) error {
	now := time.Now()
	a.started = now
	a.lastFlush = now
	a.lastMetrics = now
	a.lastHeartbeat = now
	a.hbCounters = a.state.Counters
	a.window = metrics.NewWindow(now)

	a.logStart(now)

	for {
		if ctx.Err() != nil {
			a.stop(ctx)
			return nil
		}

		processed, err := a.safeIterate(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				continue
			}
			a.flushCheckpoint(ctx)
			a.logger.Error().Err(err).Msg("crash")
			return fmt.Errorf("ingestion loop failed: %w", err)
		}

		if processed == 0 {
			idle := time.NewTimer(a.cfg.Tail.IdleSleep)
			select {
			case <-ctx.Done():
			case <-idle.C:
			}
			idle.Stop()
		}
	}
}

// safeIterate runs one iteration and turns a panic into an error
func (a *Agent) safeIterate(ctx context.Context) (processed int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a.iterate(ctx)
}

func (a *Agent) iterate(ctx context.Context) (int, error) {
	a.iteratingAt.Store(time.Now().UnixNano())

	nRotated, err := a.drainRotated(ctx)
	if err != nil {
		return nRotated, err
	}

	nActive, err := a.tailActive(ctx)
	if err != nil {
		return nRotated + nActive, err
	}

	now := time.Now()

	if now.Sub(a.lastFlush) >= a.cfg.Checkpoint.FlushInterval {
		a.flushCheckpoint(ctx)
		a.lastFlush = now
	}

	if now.Sub(a.lastMetrics) >= a.cfg.Metrics.Interval {
		if err := a.emitMetrics(now); err != nil {
			a.state.RecordWriteFailure()
			a.warnWrite(err)
		}
		a.lastMetrics = now
	}

	if now.Sub(a.lastHeartbeat) >= a.cfg.Heartbeat.Interval {
		a.heartbeat(now)
		a.lastHeartbeat = now
	}

	return nRotated + nActive, nil
}

// stop is the graceful shutdown path
func (a *Agent) stop(ctx context.Context) {
	a.flushCheckpoint(ctx)

	if err := a.emitMetrics(time.Now()); err != nil {
		a.logger.Debug().Err(err).Msg("Final metrics record not written")
	}

	a.logger.Record("stop").
		Str("ts", isoUTC(time.Now())).
		Msg("stop")
}

func (a *Agent) warnWrite(err error) {
	a.writeWarn.Do(func() {
		a.logger.Warn().
			Err(err).
			Int64("write_fail_total", a.state.Counters.WriteFail).
			Int64("checkpoint_fail_total", a.state.Counters.CheckpointFail).
			Msg("Write failed, continuing")
	})
}

func unixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
