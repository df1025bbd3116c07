package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
	dbconfig "chatrelay/pkg/database"
)

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("event journal is closed")

// Manager is the sqlite-backed room event journal. Reads go straight to the
// pool; every write funnels through one goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *zap.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
}

var _ interfaces.EventJournal = (*Manager)(nil)

type writeOperation struct {
	name      string
	operation func(*sql.DB) error
	result    chan error // nil for fire-and-forget writes
}

// NewManager opens the database, applies the embedded migrations, validates
// the schema and starts the writer.
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	if err := dbconfig.NewMigrationManager(db, dbconfig.Migrations()).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.Named("journal"),
		writeChannel: make(chan writeOperation, config.QueueSize),
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	manager.logger.Info("event journal opened", zap.String("path", config.DatabasePath))
	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			m.apply(op)
		case <-m.shutdown:
			// FUNCTIONAL DISCOVERY: Writes already accepted are flushed before exit
			for {
				select {
				case op := <-m.writeChannel:
					m.apply(op)
				default:
					m.logger.Debug("journal write loop shutting down")
					return
				}
			}
		}
	}
}

// apply runs op, retrying once after RetryDelay.
func (m *Manager) apply(op writeOperation) {
	err := op.operation(m.db)
	if err != nil {
		m.logger.Warn("journal write failed, retrying",
			zap.String("op", op.name),
			zap.Duration("delay", m.config.RetryDelay),
			zap.Error(err))
		time.Sleep(m.config.RetryDelay)
		err = op.operation(m.db)
		if err != nil {
			m.logger.Error("journal write failed after retry", zap.String("op", op.name), zap.Error(err))
		}
	}
	if op.result != nil {
		op.result <- err
	}
}

// enqueue hands op to the writer without blocking. A full queue drops it.
func (m *Manager) enqueue(op writeOperation) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		m.logger.Debug("journal closed, dropping write", zap.String("op", op.name))
		return false
	}

	select {
	case m.writeChannel <- op:
		return true
	default:
		m.logger.Warn("journal queue full, dropping write", zap.String("op", op.name))
		return false
	}
}

// executeWrite queues a write and waits for its result.
func (m *Manager) executeWrite(ctx context.Context, name string, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{name: name, operation: operation, result: result}:
		m.mu.RUnlock()
	case <-ctx.Done():
		m.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record journals one broadcast event. It never blocks the caller.
func (m *Manager) Record(entry *types.JournalEntry) {
	if entry == nil {
		return
	}
	m.enqueue(writeOperation{
		name: "record",
		operation: func(db *sql.DB) error {
			return insertEntry(db, entry)
		},
	})
}

// ClearRoom deletes every journaled event of roomID. It never blocks the
// caller; entries recorded before the call are removed, later ones are kept.
func (m *Manager) ClearRoom(roomID string) {
	m.enqueue(writeOperation{
		name: "clear",
		operation: func(db *sql.DB) error {
			_, err := db.Exec("DELETE FROM room_events WHERE room_id = ?", roomID)
			if err != nil {
				return fmt.Errorf("failed to clear room %s: %w", roomID, err)
			}
			return nil
		},
	})
}

// Flush waits until every write queued before the call has been applied.
func (m *Manager) Flush(ctx context.Context) error {
	return m.executeWrite(ctx, "flush", func(*sql.DB) error { return nil })
}

func insertEntry(db *sql.DB, entry *types.JournalEntry) error {
	var userID sql.NullString
	if entry.UserID != "" {
		userID = sql.NullString{String: entry.UserID, Valid: true}
	}

	_, err := db.Exec(`
		INSERT INTO room_events (id, room_id, type, user_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.RoomID,
		entry.Type,
		userID,
		string(entry.Payload),
		entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event %s: %w", entry.ID, err)
	}
	return nil
}

// History returns up to limit of the newest events of roomID, oldest first.
func (m *Manager) History(ctx context.Context, roomID string, limit int) ([]*types.JournalEntry, error) {
	if limit <= 0 {
		return []*types.JournalEntry{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.QueryTimeout)
	defer cancel()

	// ARCHITECTURAL DISCOVERY: seq preserves arrival order when timestamps tie
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, room_id, type, user_id, payload, created_at
		FROM (
			SELECT seq, id, room_id, type, user_id, payload, created_at
			FROM room_events
			WHERE room_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]*types.JournalEntry, 0, limit)
	for rows.Next() {
		var (
			entry     types.JournalEntry
			userID    sql.NullString
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.RoomID, &entry.Type, &userID, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		entry.UserID = userID.String
		entry.Payload = []byte(payload)
		entry.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return entries, nil
}

// HealthCheck verifies the database answers queries.
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.QueryTimeout)
	defer cancel()

	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM room_events").Scan(&count); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}
	return nil
}

// Close stops the writer after flushing queued writes and closes the pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	m.logger.Info("event journal closed")
	return m.db.Close()
}
