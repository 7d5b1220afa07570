package unread

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS read_markers (
	channel_id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteStore is a MarkerStore backed by an embedded SQLite database. It is
// the durable store for desktop and offline-capable clients, where no Redis
// is available and markers must survive restarts on the local disk.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path and ensures the
// read_markers table exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("unread: open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("unread: create read_markers table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Get implements MarkerStore. A missing row is not an error; it reports an
// empty marker.
func (s *SQLiteStore) Get(ctx context.Context, channelID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT message_id FROM read_markers WHERE channel_id = ?`, channelID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("unread: sqlite get marker: %w", err)
	}
	return id, nil
}

// Set implements MarkerStore. The upsert makes writes last-writer-wins on
// the channel key.
func (s *SQLiteStore) Set(ctx context.Context, channelID, messageID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO read_markers (channel_id, message_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			message_id = excluded.message_id,
			updated_at = excluded.updated_at`,
		channelID, messageID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("unread: sqlite set marker: %w", err)
	}
	return nil
}

// Delete implements MarkerStore.
func (s *SQLiteStore) Delete(ctx context.Context, channelID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM read_markers WHERE channel_id = ?`, channelID)
	if err != nil {
		return fmt.Errorf("unread: sqlite delete marker: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
