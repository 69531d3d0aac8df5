// Package store persists items and their chat transcripts.
//
// Three backends implement Store: Postgres (pgx), SQLite (modernc) and an
// in-memory store used by tests. All of them commit AppendChat batches
// atomically and refuse to append when the transcript moved underneath the
// caller.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mailtriage/pkg/models"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("transcript changed concurrently")
	ErrAlreadyClaimed = errors.New("item already has an external thread")
	ErrThreadTaken    = errors.New("external thread already mapped to another item")
)

// Store is the durable record of items and their ordered chat lines.
type Store interface {
	GetItem(ctx context.Context, key models.ItemKey) (*models.Item, error)
	ListChat(ctx context.Context, key models.ItemKey) ([]*models.ChatLine, error)
	// AppendChat appends lines in one transaction. afterSeq is the sequence
	// number of the last line the caller observed (0 for an empty transcript);
	// ErrConflict is returned if any line was appended since.
	AppendChat(ctx context.Context, key models.ItemKey, afterSeq int64, lines []*models.ChatLine) error
	// FindUnresolvedItem returns the oldest item without an external thread.
	FindUnresolvedItem(ctx context.Context) (*models.Item, error)
	FindItemByThread(ctx context.Context, thread string) (*models.Item, error)
	InsertItemIfAbsent(ctx context.Context, key models.ItemKey, content string) (bool, error)
	// SetThread stamps the external channel/thread once.
	SetThread(ctx context.Context, key models.ItemKey, channel, thread string) error
	Close() error
}

// Open connects to the backend named by driver ("postgres", "sqlite" or
// "memory") and applies the schema.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql":
		s, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case "sqlite", "sqlite3", "":
		s, err := OpenSQLite(dsn)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case "memory":
		return NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}

func validateLines(key models.ItemKey, lines []*models.ChatLine) error {
	if len(lines) == 0 {
		return errors.New("no chat lines to append")
	}
	for _, l := range lines {
		if l.Type != key.Type || l.ID != key.ID {
			return fmt.Errorf("chat line for %s/%s appended to %s", l.Type, l.ID, key)
		}
		if l.Role == "" {
			return errors.New("chat line without role")
		}
	}
	return nil
}
