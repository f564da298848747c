// Package archive batches epoch summaries into PostgreSQL.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"

	"github.com/signalsfoundry/araim-monitor/core"
	"github.com/signalsfoundry/araim-monitor/internal/logging"
)

const (
	batchSize     = 50
	batchInterval = 2 * time.Second
	queueSize     = 4096
)

const schema = `
CREATE TABLE IF NOT EXISTS araim_epochs (
	run_id             TEXT             NOT NULL,
	epoch              TIMESTAMPTZ      NOT NULL,
	state              TEXT             NOT NULL,
	available          BOOLEAN          NOT NULL,
	unavailable_reason TEXT,
	vpl                DOUBLE PRECISION,
	hpl                DOUBLE PRECISION,
	emt                DOUBLE PRECISION,
	active_satellites  INTEGER          NOT NULL,
	detail             JSONB            NOT NULL,
	PRIMARY KEY (run_id, epoch)
)`

const insertEpoch = `
INSERT INTO araim_epochs (
	run_id, epoch, state, available, unavailable_reason,
	vpl, hpl, emt, active_satellites, detail
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (run_id, epoch) DO NOTHING`

// Record is one queued row.
type Record struct {
	RunID   string
	Summary core.EpochSummary
}

// Stats are the writer counters.
type Stats struct {
	Written  uint64
	Dropped  uint64
	Batches  uint64
	Failed   uint64
	QueueLen int
}

// Writer batches epoch records and writes them in one transaction per batch.
// Write never blocks the epoch loop; records are dropped when the queue is full.
type Writer struct {
	db    *sql.DB
	queue chan Record
	done  chan struct{}
	wg    sync.WaitGroup
	log   logging.Logger

	running atomic.Bool

	written atomic.Uint64
	dropped atomic.Uint64
	batches atomic.Uint64
	failed  atomic.Uint64
}

// Open connects to databaseURL, creates the table if needed and returns
// a stopped writer.
func Open(ctx context.Context, databaseURL string, log logging.Logger) (*Writer, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: database url: %v", core.ErrConfig, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create araim_epochs: %w", err)
	}
	return NewWriter(db, log), nil
}

// NewWriter wraps an open database handle. The writer owns db and closes
// it on Stop.
func NewWriter(db *sql.DB, log logging.Logger) *Writer {
	if log == nil {
		log = logging.Noop()
	}
	return &Writer{
		db:    db,
		queue: make(chan Record, queueSize),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Start launches the background writer.
func (w *Writer) Start() {
	if w.running.Swap(true) {
		return
	}
	w.wg.Add(1)
	go w.writerLoop()
}

// Stop flushes queued records and closes the database.
func (w *Writer) Stop() {
	if !w.running.Swap(false) {
		return
	}
	close(w.done)
	w.wg.Wait()
	w.db.Close()
	s := w.Stats()
	w.log.Info(context.Background(), "epoch archive stopped",
		logging.Any("written", s.Written),
		logging.Any("dropped", s.Dropped),
		logging.Any("batches", s.Batches),
	)
}

// Write queues one epoch summary.
func (w *Writer) Write(runID string, s core.EpochSummary) {
	if !w.running.Load() {
		w.dropped.Add(1)
		return
	}
	select {
	case w.queue <- Record{RunID: runID, Summary: s}:
	default:
		if n := w.dropped.Add(1); n%1000 == 1 {
			w.log.Warn(context.Background(), "epoch archive queue full", logging.Any("dropped", n))
		}
	}
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Written:  w.written.Load(),
		Dropped:  w.dropped.Load(),
		Batches:  w.batches.Load(),
		Failed:   w.failed.Load(),
		QueueLen: len(w.queue),
	}
}

func (w *Writer) writerLoop() {
	defer w.wg.Done()

	batch := make([]Record, 0, batchSize)
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			w.writeBatch(batch)
			batch = batch[:0]
		}
	}

	for {
		select {
		case r := <-w.queue:
			batch = append(batch, r)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.done:
			for {
				select {
				case r := <-w.queue:
					batch = append(batch, r)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) writeBatch(batch []Record) {
	ctx := context.Background()
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.failed.Add(uint64(len(batch)))
		w.log.Error(ctx, "begin archive transaction", logging.Err(err))
		return
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertEpoch)
	if err != nil {
		w.failed.Add(uint64(len(batch)))
		w.log.Error(ctx, "prepare archive insert", logging.Err(err))
		return
	}
	defer stmt.Close()

	written := 0
	for _, r := range batch {
		args, err := rowArgs(r)
		if err != nil {
			w.failed.Add(1)
			w.log.Warn(ctx, "encode epoch record", logging.Err(err))
			continue
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			// A failed statement aborts the Postgres transaction.
			w.failed.Add(uint64(len(batch)))
			w.log.Error(ctx, "insert epoch record", logging.Time("epoch", r.Summary.Epoch), logging.Err(err))
			return
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		w.failed.Add(uint64(written))
		w.log.Error(ctx, "commit archive batch", logging.Err(err))
		return
	}
	w.written.Add(uint64(written))
	w.batches.Add(1)
}

// rowArgs maps a record onto the insert placeholders. Protection levels
// are NULL for unavailable epochs. The JSON detail goes over the wire as
// text; pq would send a []byte as bytea.
func rowArgs(r Record) ([]any, error) {
	s := r.Summary
	detail, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var reason sql.NullString
	var vpl, hpl, emt sql.NullFloat64
	if s.Available {
		vpl = sql.NullFloat64{Float64: s.VPL, Valid: true}
		hpl = sql.NullFloat64{Float64: s.HPL, Valid: true}
		emt = sql.NullFloat64{Float64: s.EMT, Valid: true}
	} else {
		reason = sql.NullString{String: s.Reason, Valid: true}
	}
	return []any{
		r.RunID, s.Epoch.UTC(), s.State, s.Available, reason,
		vpl, hpl, emt, len(s.Active), string(detail),
	}, nil
}
