package agent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/therealutkarshpriyadarshi/fwingest/internal/parser"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/sink"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/tailer"
	"github.com/therealutkarshpriyadarshi/fwingest/internal/tracing"
	"github.com/therealutkarshpriyadarshi/fwingest/pkg/types"
	"go.opentelemetry.io/otel/attribute"
)

// drainRotated reads every rotated file whose fingerprint is not yet in the
// checkpoint, oldest first. A file is marked complete only once all of its
// lines went through ingest.
func (a *Agent) drainRotated(ctx context.Context) (int, error) {
	paths, err := tailer.ListRotated(a.cfg.Input.Dir, a.cfg.Input.ActiveName)
	if err != nil {
		return 0, fmt.Errorf("failed to list rotated files: %w", err)
	}

	processed := 0
	for _, path := range paths {
		info, err := tailer.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return processed, fmt.Errorf("failed to stat %s: %w", path, err)
		}

		fp := info.Fingerprint()
		if a.state.IsCompleted(path, fp) {
			continue
		}

		spanCtx, span := tracing.TraceRotatedDrain(ctx, a.tracer, path)
		lines := 0
		err = tailer.ReadRotated(spanCtx, path, info, func(text string, prov types.Provenance) error {
			lines++
			a.ingest(text, prov)
			return nil
		})
		span.SetAttributes(attribute.Int("file.lines", lines))
		tracing.End(span, err)
		processed += lines

		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return processed, fmt.Errorf("failed to drain %s: %w", path, err)
		}

		a.state.MarkFileCompleted(path, fp)
		a.collector.RotatedFilesCompleted.Inc()

		a.logger.Info().
			Str("path", path).
			Uint64("inode", fp.Inode).
			Int64("size", fp.Size).
			Int("lines", lines).
			Msg("Rotated file drained")
	}

	return processed, nil
}

// tailActive follows the active file for at most one slice. It returns early
// when the file goes idle, disappears or rotates.
func (a *Agent) tailActive(ctx context.Context) (int, error) {
	_, tracked := a.state.ActiveInode()

	r, err := a.active.Reconcile(a.state)
	if err != nil {
		return 0, err
	}
	if !r.Present {
		return 0, nil
	}
	if r.Adopted && tracked {
		a.collector.ActiveRotations.Inc()
	}
	if r.Truncated {
		a.auditTruncation(r)
	}

	start := time.Now()
	processed := 0

	for {
		inode, _ := a.state.ActiveInode()
		batch, err := a.active.Poll(ctx, tailer.Cursor{Inode: inode, Offset: a.state.Active.Offset})
		if err != nil {
			if errors.Is(err, tailer.ErrActiveMissing) || ctx.Err() != nil {
				return processed, nil
			}
			return processed, err
		}

		if batch.Rotated {
			// The unread remainder of the old inode comes back as a rotated file.
			a.state.AdoptActiveInode(batch.NewInode)
			a.collector.ActiveRotations.Inc()
			a.logger.Info().
				Str("path", a.active.Path()).
				Uint64("old_inode", inode).
				Uint64("inode", batch.NewInode).
				Msg("Active file rotated while tailing")
			return processed, nil
		}

		if len(batch.Lines) == 0 {
			return processed, nil
		}

		for _, line := range batch.Lines {
			ino, off := inode, line.EndOffset
			a.ingest(line.Text, types.Provenance{
				Path:   a.active.Path(),
				Inode:  &ino,
				Offset: &off,
			})
			a.state.AdvanceActiveOffset(line.EndOffset)
			processed++

			if time.Since(start) >= a.cfg.Tail.Slice {
				return processed, nil
			}
		}
	}
}

// auditTruncation records the shrink of the active file and restarts it
// from offset 0. The record is written before any further read.
func (a *Agent) auditTruncation(r tailer.Reconciliation) {
	inode, stale, size := r.Info.Inode, r.StaleOffset, r.Info.Size

	a.writeDeadLetter(types.ReasonActiveTruncated, "", types.Provenance{
		Path:   a.active.Path(),
		Inode:  &inode,
		Offset: &stale,
		Size:   &size,
	})
	a.state.ResetActiveOffset()
	a.collector.ActiveTruncations.Inc()

	a.logger.Warn().
		Str("path", a.active.Path()).
		Uint64("inode", inode).
		Int64("stale_offset", stale).
		Int64("size", size).
		Msg("Active file truncated, offset reset")
}

// ingest counts, parses and persists one line
func (a *Agent) ingest(raw string, prov types.Provenance) {
	a.state.RecordLineIn(len(raw))

	event, reason := parser.Parse(raw, time.Now().Year())
	if event != nil {
		a.writeEvent(event, prov)
		return
	}

	a.state.RecordParseFailure()
	a.collector.ParseFailures.WithLabelValues(string(reason)).Inc()
	a.writeDeadLetter(reason, raw, prov)
}

func (a *Agent) writeEvent(event *types.Event, prov types.Provenance) {
	now := time.Now()
	src := prov.Source()
	event.IngestTS = isoUTC(now)
	event.Source = &src

	if err := a.append(sink.KindEvents, now, event); err != nil {
		a.state.RecordWriteFailure()
		a.warnWrite(err)
		return
	}
	a.state.RecordEventOut(event.EventTS)
}

func (a *Agent) writeDeadLetter(reason types.Reason, raw string, prov types.Provenance) {
	now := time.Now()
	record := types.DeadLetter{
		SchemaVersion: types.SchemaVersion,
		IngestTS:      isoUTC(now),
		Reason:        reason,
		Source:        prov,
		Raw:           raw,
	}

	if err := a.append(sink.KindDLQ, now, record); err != nil {
		a.state.RecordWriteFailure()
		a.warnWrite(err)
		return
	}
	a.state.RecordDeadLetter()
}

func (a *Agent) append(kind sink.Kind, now time.Time, record any) error {
	start := time.Now()
	err := a.sink.Append(kind, now, record)
	a.collector.ObserveSinkWrite(string(kind), time.Since(start), err)
	return err
}
