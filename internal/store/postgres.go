package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mailtriage/pkg/models"
)

//go:embed schema_postgres.sql
var postgresSchema string

const pgUniqueViolation = "23505"

// PostgresStore keeps items and chats in Postgres through a pgx pool
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore { return &PostgresStore{pool: pool} }

// OpenPostgres creates a pool for dsn and verifies connectivity
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return NewPostgresStore(pool), nil
}

// Pool exposes the underlying pool so the job queue can share it
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const pgItemColumns = `type, id, seq, content, coalesce(external_channel, ''), coalesce(external_thread, ''), created_at`

func (s *PostgresStore) GetItem(ctx context.Context, key models.ItemKey) (*models.Item, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgItemColumns+` FROM items WHERE type=$1 AND id=$2`, string(key.Type), key.ID)
	return scanPgItem(row)
}

func (s *PostgresStore) ListChat(ctx context.Context, key models.ItemKey) ([]*models.ChatLine, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT seq, type, id, role, content, coalesce(name, ''), created_at
        FROM chats WHERE type=$1 AND id=$2 ORDER BY seq
    `, string(key.Type), key.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.ChatLine, 0)
	for rows.Next() {
		var l models.ChatLine
		var typ, role string
		if err := rows.Scan(&l.Seq, &typ, &l.ID, &role, &l.Content, &l.Name, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Type = models.ItemType(typ)
		l.Role = models.Role(role)
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendChat(ctx context.Context, key models.ItemKey, afterSeq int64, lines []*models.ChatLine) error {
	if err := validateLines(key, lines); err != nil {
		return err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The item row lock serializes appenders across processes.
	var one int
	err = tx.QueryRow(ctx, `SELECT 1 FROM items WHERE type=$1 AND id=$2 FOR UPDATE`, string(key.Type), key.ID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var last int64
	if err := tx.QueryRow(ctx, `SELECT coalesce(max(seq), 0) FROM chats WHERE type=$1 AND id=$2`, string(key.Type), key.ID).Scan(&last); err != nil {
		return err
	}
	if last != afterSeq {
		return ErrConflict
	}

	for _, l := range lines {
		err := tx.QueryRow(ctx, `
            INSERT INTO chats (type, id, role, content, name)
            VALUES ($1, $2, $3, $4, $5)
            RETURNING seq, created_at
        `, string(l.Type), l.ID, string(l.Role), l.Content, nullIfEmpty(l.Name)).Scan(&l.Seq, &l.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert chat line: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit chat lines: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindUnresolvedItem(ctx context.Context) (*models.Item, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgItemColumns+` FROM items WHERE external_thread IS NULL ORDER BY seq LIMIT 1`)
	return scanPgItem(row)
}

func (s *PostgresStore) FindItemByThread(ctx context.Context, thread string) (*models.Item, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgItemColumns+` FROM items WHERE external_thread=$1`, thread)
	return scanPgItem(row)
}

func (s *PostgresStore) InsertItemIfAbsent(ctx context.Context, key models.ItemKey, content string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
        INSERT INTO items (type, id, content) VALUES ($1, $2, $3)
        ON CONFLICT (type, id) DO NOTHING
    `, string(key.Type), key.ID, content)
	if err != nil {
		return false, fmt.Errorf("failed to insert item: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) SetThread(ctx context.Context, key models.ItemKey, channel, thread string) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE items SET external_channel=$3, external_thread=$4
        WHERE type=$1 AND id=$2 AND external_thread IS NULL
    `, string(key.Type), key.ID, channel, thread)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrThreadTaken
		}
		return fmt.Errorf("failed to set thread: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetItem(ctx, key); err != nil {
		return err
	}
	return ErrAlreadyClaimed
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPgItem(row pgx.Row) (*models.Item, error) {
	var it models.Item
	var typ string
	if err := row.Scan(&typ, &it.ID, &it.Seq, &it.Content, &it.ExternalChannel, &it.ExternalThread, &it.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	it.Type = models.ItemType(typ)
	return &it, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
