package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"

	"whiteboard/pkg/types"
)

const maxBatch = 64

// Options configures a journal
type Options struct {
	Path       string
	BufferSize int
	// Timeout bounds each batch write
	Timeout time.Duration
}

// entry is either an event to persist or, with done set and no event, a
// flush barrier
type entry struct {
	event *types.ActivityEvent
	done  chan struct{}
}

// Journal is an append-only sqlite log of room activity. It is never read
// back into live room state.
type Journal struct {
	db       *sql.DB
	opts     Options
	events   chan entry // TECHNICAL: Single-writer pattern for SQLite
	shutdown chan struct{}
	wg       sync.WaitGroup
	dropped  atomic.Uint64
	closed   bool
	mu       sync.RWMutex
}

// Open creates or opens the journal file and starts its writer
func Open(opts Options) (*Journal, error) {
	if opts.Path == "" {
		return nil, ErrEmptyPath
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	db, err := sql.Open("sqlite3", opts.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	if ok, err := tableExists(db, "activity_events"); err != nil || !ok {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema invalid: activity_events missing (err=%v)", err)
	}

	j := &Journal{
		db:       db,
		opts:     opts,
		events:   make(chan entry, opts.BufferSize),
		shutdown: make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	j.wg.Add(1)
	go j.writeLoop()

	log.Printf("Journal opened: path=%s", opts.Path)
	return j, nil
}

// Record queues an event without blocking. When the buffer is full the
// event is dropped and counted.
func (j *Journal) Record(event types.ActivityEvent) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	select {
	case j.events <- entry{event: &event}:
	default:
		if n := j.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Printf("Journal buffer full, dropping events: dropped=%d", n)
		}
	}
}

// Dropped returns how many events were discarded because the buffer was full
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

// Flush waits until every event queued before the call has been written
func (j *Journal) Flush(ctx context.Context) error {
	j.mu.RLock()
	closed := j.closed
	j.mu.RUnlock()
	if closed {
		return ErrJournalClosed
	}

	done := make(chan struct{})
	select {
	case j.events <- entry{done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-j.shutdown:
		return ErrJournalClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-j.shutdown:
		// The writer drains its queue before exiting
		j.wg.Wait()
		return nil
	}
}

// Recent returns up to limit events for a room, newest first
func (j *Journal) Recent(ctx context.Context, roomID string, limit int) ([]types.ActivityEvent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrJournalClosed
	}
	if limit <= 0 {
		limit = 50
	}

	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for the writer
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, room_id, kind, conn_id, detail, at
		FROM activity_events
		WHERE room_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []types.ActivityEvent{}
	for rows.Next() {
		var e types.ActivityEvent
		if err := rows.Scan(&e.ID, &e.RoomID, &e.Kind, &e.ConnID, &e.Detail, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity rows: %w", err)
	}
	return events, nil
}

// HealthCheck validates database connectivity
func (j *Journal) HealthCheck(ctx context.Context) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrJournalClosed
	}
	if err := j.db.PingContext(ctx); err != nil {
		return fmt.Errorf("journal ping failed: %w", err)
	}
	return nil
}

// Close writes what is queued, stops the writer and closes the file
func (j *Journal) Close() error {
	// TECHNICAL DISCOVERY: Prevent multiple close operations
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	close(j.shutdown)
	j.wg.Wait()

	if err := j.db.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	log.Printf("Journal closed: path=%s dropped=%d", j.opts.Path, j.dropped.Load())
	return nil
}

// writeLoop batches whatever is queued into one transaction per pass
func (j *Journal) writeLoop() {
	defer j.wg.Done()

	for {
		select {
		case first := <-j.events:
			j.writeBatch(j.collect(first))
		case <-j.shutdown:
			// FUNCTIONAL DISCOVERY: Drain on shutdown so Close loses nothing
			// that Record already accepted
			for {
				select {
				case e := <-j.events:
					j.writeBatch(j.collect(e))
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) collect(first entry) []entry {
	batch := []entry{first}
	for len(batch) < maxBatch {
		select {
		case e := <-j.events:
			batch = append(batch, e)
		default:
			return batch
		}
	}
	return batch
}

func (j *Journal) writeBatch(batch []entry) {
	defer func() {
		for _, e := range batch {
			if e.done != nil {
				close(e.done)
			}
		}
	}()

	var events []*types.ActivityEvent
	for _, e := range batch {
		if e.event != nil {
			events = append(events, e.event)
		}
	}
	if len(events) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.opts.Timeout)
	defer cancel()

	if err := j.insert(ctx, events); err != nil {
		log.Printf("Journal write failed: events=%d err=%v", len(events), err)
	}
}

func (j *Journal) insert(ctx context.Context, events []*types.ActivityEvent) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // TECHNICAL: Always rollback unless commit succeeds

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO activity_events (room_id, kind, conn_id, detail, at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.RoomID, e.Kind, e.ConnID, e.Detail, e.At.UTC()); err != nil {
			return fmt.Errorf("failed to insert activity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit activity: %w", err)
	}
	return nil
}
