package archive

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the writer needs.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Config configures the archive writer.
type Config struct {
	BatchSize     int           // Rows per flush
	FlushInterval time.Duration // Max time a row waits before flush
	BufferSize    int           // Initial queue capacity
	MaxBufferSize int           // Queue cap; oldest entries dropped beyond it (0 = unbounded)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
		BufferSize:    1024,
		MaxBufferSize: 100_000,
	}
}

// Stats holds writer counters.
type Stats struct {
	Upserts int64 // Rows inserted or updated
	Stale   int64 // Rows skipped because a newer observation was stored
	Errors  int64 // Failed flushes
	Flushes int64
	Dropped int64 // Entries dropped by the queue
	Pending int   // Entries queued, not yet flushed
}

// Recorder receives archive metrics. See internal/metrics.
type Recorder interface {
	ArchiveFlushed(rows int, d time.Duration)
	ArchiveFailed()
}

type nopRecorder struct{}

func (nopRecorder) ArchiveFlushed(int, time.Duration) {}
func (nopRecorder) ArchiveFailed()                    {}
