package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jmoiron/sqlx"

	errs "github.com/edgard/chatmemory/internal/errors"
)

// Store defines the durable conversation log.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Init ensures the database backing key exists and is migrated.
	Init(ctx context.Context, key ConversationKey) error

	// Append durably writes one record and sets its ID.
	Append(ctx context.Context, key ConversationKey, record *MessageRecord) error

	// Tail returns the most recent n records in insertion order. n <= 0 returns everything.
	Tail(ctx context.Context, key ConversationKey, n int) ([]MessageRecord, error)

	// ClearAll deletes every record of key.
	ClearAll(ctx context.Context, key ConversationKey) error

	// DeleteLatest deletes the n most recently written records and reports how many went.
	DeleteLatest(ctx context.Context, key ConversationKey, n int) (int64, error)

	// RunSQLMaintenance VACUUMs every database opened so far.
	RunSQLMaintenance(ctx context.Context) error

	// Close releases every open database.
	Close() error
}

// conversationDB is one opened per-key database. writeMu serializes
// mutations for the key; reads go straight to the pool. ready is set once
// db is usable and guards access from outside once.Do.
type conversationDB struct {
	once    sync.Once
	db      *sqlx.DB
	err     error
	ready   atomic.Bool
	writeMu sync.Mutex
}

// sqlxStore implements Store with one SQLite file per conversation key.
type sqlxStore struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex // guards entries only
	entries map[ConversationKey]*conversationDB
	closed  bool
}

// NewStore creates a Store rooted at dir. Databases are opened lazily.
func NewStore(dir string, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		dir:     dir,
		logger:  logger.With("component", "store"),
		entries: make(map[ConversationKey]*conversationDB),
	}
}

// open returns the ready database for key, opening and migrating it on first use.
// A failed open is forgotten so the next call retries.
func (s *sqlxStore) open(ctx context.Context, key ConversationKey) (*conversationDB, error) {
	if err := key.Validate(); err != nil {
		return nil, errs.NewValidationError("invalid conversation key", err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errs.NewStorageError("store is closed", nil)
	}
	entry, ok := s.entries[key]
	if !ok {
		entry = &conversationDB{}
		s.entries[key] = entry
	}
	s.mu.Unlock()

	entry.once.Do(func() {
		path := PathFor(s.dir, key)
		entry.db, entry.err = OpenConversationDB(path)
		if entry.err == nil {
			entry.ready.Store(true)
			s.logger.DebugContext(ctx, "Conversation database opened", "key", key.String(), "path", path)
		}
	})

	if entry.err != nil {
		s.mu.Lock()
		if s.entries[key] == entry {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		s.logger.ErrorContext(ctx, "Failed to open conversation database", "key", key.String(), "error", entry.err)
		return nil, errs.NewStorageError(fmt.Sprintf("failed to open database for %s", key), entry.err)
	}
	return entry, nil
}

func (s *sqlxStore) Init(ctx context.Context, key ConversationKey) error {
	_, err := s.open(ctx, key)
	return err
}

func (s *sqlxStore) Append(ctx context.Context, key ConversationKey, record *MessageRecord) error {
	if record == nil {
		return errs.NewValidationError("cannot append nil record", nil)
	}
	if record.Direction != DirectionInbound && record.Direction != DirectionOutbound {
		return errs.NewValidationError(fmt.Sprintf("unknown direction %q", record.Direction), nil)
	}

	entry, err := s.open(ctx, key)
	if err != nil {
		return err
	}

	entry.writeMu.Lock()
	defer entry.writeMu.Unlock()

	tx, err := entry.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for append", "key", key.String(), "error", err)
		return errs.NewStorageError("failed to begin transaction", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	query := `
        INSERT INTO messages (timestamp, bot_id, bot_name, direction, chat_id, user_id, user_name, message)
        VALUES (:timestamp, :bot_id, :bot_name, :direction, :chat_id, :user_id, :user_name, :message);
    `
	result, err := tx.NamedExecContext(ctx, query, record)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error appending record", "key", key.String(), "user_id", record.UserID, "error", err)
		return errs.NewStorageError(fmt.Sprintf("failed to append record to %s", key), err)
	}

	if id, err := result.LastInsertId(); err == nil {
		record.ID = id
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID", "key", key.String(), "error", err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit append", "key", key.String(), "error", err)
		return errs.NewStorageError("failed to commit transaction", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Record appended", "key", key.String(), "record_id", record.ID, "direction", record.Direction)
	return nil
}

func (s *sqlxStore) Tail(ctx context.Context, key ConversationKey, n int) ([]MessageRecord, error) {
	entry, err := s.open(ctx, key)
	if err != nil {
		return nil, err
	}

	limit := n
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	// Newest n by id, returned oldest first.
	query := `
        SELECT id, timestamp, bot_id, bot_name, direction, chat_id, user_id, user_name, message
        FROM (
            SELECT * FROM messages ORDER BY id DESC LIMIT ?
        )
        ORDER BY id ASC;
    `
	var records []MessageRecord
	if err := entry.db.SelectContext(ctx, &records, query, limit); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.logger.WarnContext(ctx, "Context error while reading tail", "key", key.String(), "error", err)
			return nil, err
		}
		s.logger.ErrorContext(ctx, "Error reading tail", "key", key.String(), "error", err)
		return nil, errs.NewStorageError(fmt.Sprintf("failed to read tail of %s", key), err)
	}

	if records == nil {
		records = []MessageRecord{}
	}
	return records, nil
}

func (s *sqlxStore) ClearAll(ctx context.Context, key ConversationKey) error {
	entry, err := s.open(ctx, key)
	if err != nil {
		return err
	}

	entry.writeMu.Lock()
	defer entry.writeMu.Unlock()

	result, err := entry.db.ExecContext(ctx, `DELETE FROM messages;`)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error clearing conversation", "key", key.String(), "error", err)
		return errs.NewStorageError(fmt.Sprintf("failed to clear %s", key), err)
	}

	affected, _ := result.RowsAffected()
	s.logger.InfoContext(ctx, "Conversation cleared", "key", key.String(), "deleted", affected)
	return nil
}

func (s *sqlxStore) DeleteLatest(ctx context.Context, key ConversationKey, n int) (int64, error) {
	if n <= 0 {
		return 0, errs.NewValidationError("delete count must be positive", nil)
	}

	entry, err := s.open(ctx, key)
	if err != nil {
		return 0, err
	}

	entry.writeMu.Lock()
	defer entry.writeMu.Unlock()

	query := `
        DELETE FROM messages
        WHERE id IN (SELECT id FROM messages ORDER BY id DESC LIMIT ?);
    `
	result, err := entry.db.ExecContext(ctx, query, n)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting latest records", "key", key.String(), "count", n, "error", err)
		return 0, errs.NewStorageError(fmt.Sprintf("failed to delete latest records of %s", key), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not get rows affected", "key", key.String(), "error", err)
	}
	s.logger.InfoContext(ctx, "Latest records deleted", "key", key.String(), "requested", n, "deleted", affected)
	return affected, nil
}

// RunSQLMaintenance VACUUMs each opened database in turn and keeps going
// past individual failures.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	s.mu.Lock()
	targets := make(map[ConversationKey]*conversationDB, len(s.entries))
	for key, entry := range s.entries {
		targets[key] = entry
	}
	s.mu.Unlock()

	var failed []error
	for key, entry := range targets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !entry.ready.Load() {
			continue
		}

		entry.writeMu.Lock()
		_, err := entry.db.ExecContext(ctx, "VACUUM;")
		entry.writeMu.Unlock()

		if err != nil {
			s.logger.ErrorContext(ctx, "Error running VACUUM", "key", key.String(), "error", err)
			failed = append(failed, fmt.Errorf("%s: %w", key, err))
			continue
		}
	}

	if len(failed) > 0 {
		return errs.NewStorageError("VACUUM failed for some databases", errors.Join(failed...))
	}
	s.logger.InfoContext(ctx, "SQL maintenance completed", "databases", len(targets))
	return nil
}

func (s *sqlxStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	var failed []error
	for key, entry := range s.entries {
		if !entry.ready.Load() {
			continue
		}
		if err := entry.db.Close(); err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", key, err))
		}
	}
	s.entries = make(map[ConversationKey]*conversationDB)

	if len(failed) > 0 {
		return errs.NewStorageError("failed to close databases", errors.Join(failed...))
	}
	return nil
}
