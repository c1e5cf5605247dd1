package archive

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/sfcalls/internal/buffer"
	"github.com/rickgao/sfcalls/internal/model"
)

// entry is one call observation waiting to be archived.
type entry struct {
	call   model.Call
	seenAt time.Time
}

// row is the column set of live_dispatch_calls.
type row struct {
	CADNumber           string
	CallID              int64
	CallTypeCode        *string
	CallTypeDescription *string
	Priority            *string
	ReceivedAt          time.Time
	DispatchAt          *time.Time
	OnSceneAt           *time.Time
	ClosedAt            *time.Time
	Latitude            *float64
	Longitude           *float64
	LocationText        *string
	District            *string
	Disposition         *string
	LastSeenAt          time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(w *Writer) {
		if r != nil {
			w.metrics = r
		}
	}
}

// Writer upserts observed calls into live_dispatch_calls in batches.
type Writer struct {
	cfg     Config
	logger  *slog.Logger
	db      DB
	metrics Recorder
	now     func() time.Time

	// Input queue, fed by Enqueue
	input *buffer.GrowableBuffer[entry]

	// Owned by the run goroutine until it exits
	pending []row
	index   map[string]int

	pendingRows atomic.Int64

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// NewWriter creates a Writer.
func NewWriter(cfg Config, db DB, logger *slog.Logger, opts ...Option) *Writer {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}

	w := &Writer{
		cfg:     cfg,
		logger:  logger.With("component", "archive"),
		db:      db,
		metrics: nopRecorder{},
		now:     time.Now,
		input:   buffer.NewGrowableBuffer[entry](cfg.BufferSize, cfg.MaxBufferSize),
		index:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue queues calls for archiving. Never blocks. Returns the number queued.
func (w *Writer) Enqueue(calls []model.Call) int {
	seenAt := w.now()
	n := 0
	for _, c := range calls {
		if !w.input.Send(entry{call: c, seenAt: seenAt}) {
			break
		}
		n++
	}
	return n
}

// Start begins consuming the queue.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run()

	w.logger.Info("archive writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains the queue, performs a final flush, and shuts down.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")

	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("archive writer stop timed out, skipping final flush",
			"pending", w.pendingRows.Load()+int64(w.input.Len()),
		)
		return ctx.Err()
	}

	// The run goroutine has exited; pending is ours now.
	w.drain(ctx)
	w.flush(ctx)

	w.logger.Info("archive writer stopped")
	return nil
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	w.statsMu.Lock()
	s := w.stats
	w.statsMu.Unlock()

	s.Dropped = w.input.Stats().Dropped
	s.Pending = int(w.pendingRows.Load()) + w.input.Len()
	return s
}

func (w *Writer) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.input.Ready():
			w.drain(w.ctx)
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// drain moves queued entries into pending, flushing whenever a batch fills.
func (w *Writer) drain(ctx context.Context) {
	for _, e := range w.input.DrainTo(0) {
		w.add(toRow(e))
		if len(w.pending) >= w.cfg.BatchSize {
			w.flush(ctx)
		}
	}
}

// add stages r, replacing an earlier row for the same call.
func (w *Writer) add(r row) {
	if i, ok := w.index[r.CADNumber]; ok {
		w.pending[i] = r
		return
	}
	w.index[r.CADNumber] = len(w.pending)
	w.pending = append(w.pending, r)
	w.pendingRows.Store(int64(len(w.pending)))
}

// flush writes pending rows in one batch.
func (w *Writer) flush(ctx context.Context) {
	if len(w.pending) == 0 {
		return
	}

	rows := w.pending
	w.pending = make([]row, 0, w.cfg.BatchSize)
	w.index = make(map[string]int, w.cfg.BatchSize)
	w.pendingRows.Store(0)

	start := time.Now()
	stale, err := w.batchUpsert(ctx, rows)
	if err != nil {
		w.logger.Error("archive batch failed", "error", err, "count", len(rows))
		w.metrics.ArchiveFailed()
		w.statsMu.Lock()
		w.stats.Errors++
		w.statsMu.Unlock()
		return
	}

	elapsed := time.Since(start)
	w.metrics.ArchiveFlushed(len(rows), elapsed)

	w.statsMu.Lock()
	w.stats.Upserts += int64(len(rows) - stale)
	w.stats.Stale += int64(stale)
	w.stats.Flushes++
	w.statsMu.Unlock()

	w.logger.Debug("flushed archive batch",
		"count", len(rows),
		"stale", stale,
		"duration", elapsed,
	)
}

// batchUpsert sends rows as one pgx.Batch. A row that affects nothing lost
// the last_seen_at race and is counted as stale.
func (w *Writer) batchUpsert(ctx context.Context, rows []row) (stale int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(upsertSQL,
			r.CADNumber, r.CallID, r.CallTypeCode, r.CallTypeDescription, r.Priority,
			r.ReceivedAt, r.DispatchAt, r.OnSceneAt, r.ClosedAt,
			r.Latitude, r.Longitude, r.LocationText, r.District, r.Disposition, r.LastSeenAt,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			stale++
		}
	}

	return stale, nil
}

// toRow converts an observation to table columns.
func toRow(e entry) row {
	c := e.call
	r := row{
		CADNumber:           c.CADNumber,
		CallID:              c.ID,
		CallTypeCode:        nullable(c.CallTypeCode),
		CallTypeDescription: nullable(c.CallTypeDescription),
		Priority:            nullable(string(c.Priority)),
		ReceivedAt:          c.ReceivedAt,
		DispatchAt:          c.DispatchAt,
		OnSceneAt:           c.OnSceneAt,
		ClosedAt:            c.ClosedAt,
		LocationText:        nullable(c.LocationText),
		District:            nullable(c.District),
		Disposition:         nullable(c.Disposition),
		LastSeenAt:          e.seenAt,
	}
	if c.Coordinates != nil {
		lat, lng := c.Coordinates.Latitude, c.Coordinates.Longitude
		r.Latitude = &lat
		r.Longitude = &lng
	}
	return r
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
