package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mailtriage/pkg/models"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLiteStore keeps items and chats in a local SQLite file. A single
// connection is used so every transaction is serialized by the pool.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "mailtriage.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const sqliteItemColumns = `type, id, seq, content, coalesce(external_channel, ''), coalesce(external_thread, ''), created_at`

func (s *SQLiteStore) GetItem(ctx context.Context, key models.ItemKey) (*models.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteItemColumns+` FROM items WHERE type=? AND id=?`, string(key.Type), key.ID)
	return scanSQLiteItem(row)
}

func (s *SQLiteStore) ListChat(ctx context.Context, key models.ItemKey) ([]*models.ChatLine, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT seq, type, id, role, content, coalesce(name, ''), created_at
        FROM chats WHERE type=? AND id=? ORDER BY seq
    `, string(key.Type), key.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.ChatLine, 0)
	for rows.Next() {
		var l models.ChatLine
		var typ, role, created string
		if err := rows.Scan(&l.Seq, &typ, &l.ID, &role, &l.Content, &l.Name, &created); err != nil {
			return nil, err
		}
		l.Type = models.ItemType(typ)
		l.Role = models.Role(role)
		l.CreatedAt = parseSQLiteTime(created)
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendChat(ctx context.Context, key models.ItemKey, afterSeq int64, lines []*models.ChatLine) error {
	if err := validateLines(key, lines); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM items WHERE type=? AND id=?`, string(key.Type), key.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var last int64
	if err := tx.QueryRowContext(ctx, `SELECT coalesce(max(seq), 0) FROM chats WHERE type=? AND id=?`, string(key.Type), key.ID).Scan(&last); err != nil {
		return err
	}
	if last != afterSeq {
		return ErrConflict
	}

	now := time.Now().UTC()
	for _, l := range lines {
		res, err := tx.ExecContext(ctx, `
            INSERT INTO chats (type, id, role, content, name, created_at)
            VALUES (?, ?, ?, ?, ?, ?)
        `, string(l.Type), l.ID, string(l.Role), l.Content, nullIfEmpty(l.Name), now.Format(sqliteTimeLayout))
		if err != nil {
			return fmt.Errorf("failed to insert chat line: %w", err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return err
		}
		l.Seq = seq
		l.CreatedAt = now
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chat lines: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindUnresolvedItem(ctx context.Context) (*models.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteItemColumns+` FROM items WHERE external_thread IS NULL ORDER BY seq LIMIT 1`)
	return scanSQLiteItem(row)
}

func (s *SQLiteStore) FindItemByThread(ctx context.Context, thread string) (*models.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteItemColumns+` FROM items WHERE external_thread=?`, thread)
	return scanSQLiteItem(row)
}

func (s *SQLiteStore) InsertItemIfAbsent(ctx context.Context, key models.ItemKey, content string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO items (type, id, content, created_at) VALUES (?, ?, ?, ?)
        ON CONFLICT (type, id) DO NOTHING
    `, string(key.Type), key.ID, content, time.Now().UTC().Format(sqliteTimeLayout))
	if err != nil {
		return false, fmt.Errorf("failed to insert item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) SetThread(ctx context.Context, key models.ItemKey, channel, thread string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE items SET external_channel=?, external_thread=?
        WHERE type=? AND id=? AND external_thread IS NULL
    `, channel, thread, string(key.Type), key.ID)
	if err != nil {
		var se *sqlite.Error
		if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return ErrThreadTaken
		}
		return fmt.Errorf("failed to set thread: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}
	if _, err := s.GetItem(ctx, key); err != nil {
		return err
	}
	return ErrAlreadyClaimed
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

const sqliteTimeLayout = "2006-01-02T15:04:05.000Z"

func parseSQLiteTime(v string) time.Time {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func scanSQLiteItem(row *sql.Row) (*models.Item, error) {
	var it models.Item
	var typ, created string
	if err := row.Scan(&typ, &it.ID, &it.Seq, &it.Content, &it.ExternalChannel, &it.ExternalThread, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	it.Type = models.ItemType(typ)
	it.CreatedAt = parseSQLiteTime(created)
	return &it, nil
}
