package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/AegisAgent/internal/buffer"
	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// Source is the part of the observation buffer the archive follows.
type Source interface {
	Scan(from uint64, max int, filter buffer.Filter) (buffer.Window, error)
	Subscribe(filter buffer.Filter) *buffer.Subscription
	Stats() buffer.Stats
}

// truncateEvery is how many committed batches pass between WAL compactions.
const truncateEvery = 16

// Archive copies every buffered observation into the WAL and from there to
// the sinks. The WAL is committed only after all sinks accepted a batch, so
// a crash replays what was not yet archived.
type Archive struct {
	src   Source
	wal   ports.WAL
	q     ports.ObservationQueue
	sinks []ports.Sink
	pol   ports.Policy
	obs   ports.Observability

	cursor  atomic.Uint64
	batches int
}

func NewArchive(src Source, wal ports.WAL, q ports.ObservationQueue, sinks []ports.Sink, pol ports.Policy, obs ports.Observability) *Archive {
	if obs == nil {
		obs = ports.Discard
	}
	if pol.MaxBatchSize <= 0 {
		pol.MaxBatchSize = 5_000
	}
	return &Archive{src: src, wal: wal, q: q, sinks: sinks, pol: pol, obs: obs}
}

// Cursor is the next buffer sequence the pump will copy.
func (a *Archive) Cursor() uint64 { return a.cursor.Load() }

// Run replays uncommitted WAL entries, then follows the buffer from its first
// sequence until ctx is done.
func (a *Archive) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.ingest(ctx) })
	g.Go(func() error {
		if _, err := a.Replay(ctx); err != nil {
			return err
		}
		return a.pump(ctx)
	})
	return g.Wait()
}

// errChunkFull stops a WAL iteration once a replay chunk is collected.
var errChunkFull = errors.New("replay chunk full")

// Replay enqueues every WAL entry that was appended but never committed. The
// WAL is read in chunks so commits from ingest are not held off while the
// queue drains.
func (a *Archive) Replay(ctx context.Context) (int, error) {
	stats := a.wal.Stats()
	if stats.LatestAppended < stats.OldestUncommitted {
		return 0, nil
	}
	var (
		n     int
		from  = stats.OldestUncommitted
		chunk = make([]ports.QueuedObservation, 0, a.pol.MaxBatchSize)
	)
	for {
		chunk = chunk[:0]
		err := a.wal.Iterate(from, func(id ports.WALEntryID, o *domain.Observation) error {
			chunk = append(chunk, ports.QueuedObservation{ID: id, Observation: o})
			if len(chunk) == cap(chunk) {
				return errChunkFull
			}
			return nil
		})
		if err != nil && !errors.Is(err, errChunkFull) {
			return n, fmt.Errorf("pipeline.Replay: iterate failed: %w", err)
		}
		for _, item := range chunk {
			if !enqueueWithPolicy(ctx, a.q, item.ID, item.Observation, a.pol, a.obs) {
				if ctx.Err() != nil {
					return n, nil
				}
				a.obs.IncCounter(ports.MetricQueueDropped, 1)
				continue
			}
			n++
		}
		if err == nil || len(chunk) == 0 {
			break
		}
		from = chunk[len(chunk)-1].ID + 1
	}
	a.obs.LogInfo("wal_replayed", ports.F("entries", n), ports.F("from", uint64(stats.OldestUncommitted)))
	return n, nil
}

func (a *Archive) pump(ctx context.Context) error {
	sub := a.src.Subscribe(nil)
	defer sub.Cancel()

	a.cursor.Store(a.src.Stats().FirstSequence)
	for {
		cursor := a.cursor.Load()
		w, err := a.src.Scan(cursor, a.pol.MaxBatchSize, nil)
		if err != nil {
			if !errors.Is(err, domain.ErrOutOfRange) {
				return fmt.Errorf("pipeline.pump: scan failed: %w", err)
			}
			// The buffer evicted observations before they were copied.
			first := a.src.Stats().FirstSequence
			if first <= cursor {
				return fmt.Errorf("pipeline.pump: scan failed: %w", err)
			}
			a.obs.IncCounter(ports.MetricArchiveGap, float64(first-cursor))
			a.obs.LogWarn("archive_gap", err, ports.F("from", cursor), ports.F("resume", first))
			a.cursor.Store(first)
			continue
		}

		for _, o := range w.Observations {
			if !a.store(ctx, o) && ctx.Err() != nil {
				return nil
			}
		}
		a.cursor.Store(w.EndSequence)
		a.obs.SetGauge(ports.GaugeWALSize, float64(a.wal.Stats().SizeBytes))
		a.obs.SetGauge(ports.GaugeQueueLength, float64(a.q.Len()))
		if len(w.Observations) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-sub.C():
		}
	}
}

func (a *Archive) store(ctx context.Context, o *domain.Observation) bool {
	if !waitForWALCapacity(ctx, a.wal, a.pol, a.obs) {
		return false
	}
	id, err := a.wal.Append(o)
	if err != nil {
		a.obs.LogCritical("wal_append_failed", err, ports.F("data_item", o.DataItemID), ports.F("sequence", o.Sequence))
		return false
	}
	if !enqueueWithPolicy(ctx, a.q, id, o, a.pol, a.obs) {
		a.obs.IncCounter(ports.MetricQueueDropped, 1)
		return false
	}
	return true
}

func (a *Archive) ingest(ctx context.Context) error {
	for {
		batch := a.q.DequeueBatch(a.pol.MaxBatchSize)
		if len(batch) == 0 {
			if !sleep(ctx, idleSleep(a.pol)) {
				return nil
			}
			continue
		}

		var (
			out   = make([]*domain.Observation, 0, len(batch))
			maxID ports.WALEntryID
		)
		for _, item := range batch {
			out = append(out, item.Observation)
			if item.ID > maxID {
				maxID = item.ID
			}
		}

		start := time.Now()
		if err := a.write(ctx, out); err != nil {
			if ctx.Err() != nil {
				// Not committed; replayed on the next start.
				return nil
			}
			a.obs.LogError("sink_write_failed", err, ports.F("batch", len(out)))
			for _, item := range batch {
				a.obs.RecordDLQ(item.ID, item.Observation, err)
			}
		} else {
			a.obs.ObserveLatency(ports.LatencySink, time.Since(start).Seconds())
			a.obs.IncCounter(ports.MetricArchived, float64(len(out)))
		}

		if err := a.wal.Commit(maxID); err != nil {
			a.obs.LogError("wal_commit_failed", err)
			continue
		}
		a.batches++
		if a.batches%truncateEvery == 0 {
			if err := a.wal.TruncateCommitted(); err != nil {
				a.obs.LogWarn("wal_truncate_failed", err)
			}
		}
	}
}

// write delivers the batch to every sink, retrying only the sinks that failed.
func (a *Archive) write(ctx context.Context, out []*domain.Observation) error {
	pending := append([]ports.Sink(nil), a.sinks...)
	op := func() error {
		var errs []error
		remaining := pending[:0]
		for _, s := range pending {
			if err := s.WriteBatch(out); err != nil {
				a.obs.LogWarn("sink_write_retry", err, ports.F("sink", s.Name()), ports.F("batch", len(out)))
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				remaining = append(remaining, s)
			}
		}
		pending = remaining
		return errors.Join(errs...)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = max(idleSleep(a.pol), 50*time.Millisecond)
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0
	var policy backoff.BackOff = bo
	if a.pol.MaxSinkRetries > 0 {
		policy = backoff.WithMaxRetries(bo, uint64(a.pol.MaxSinkRetries))
	}
	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}
