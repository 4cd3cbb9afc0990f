package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// storePG keeps one jsonb row per session. Update takes a row lock for the
// duration of the read-modify-write, so concurrent transitions on the same
// session serialize instead of interleaving.
type storePG struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewStorePG(pool *pgxpool.Pool, log zerolog.Logger) Store {
	return &storePG{pool: pool, log: log}
}

func (s *storePG) Load(ctx context.Context, id uuid.UUID) (*Record, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT record FROM intake_session WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	rec, err := s.decode(id, raw)
	if err != nil {
		// Unreadable rows count as absent (and get replaced on next save).
		s.log.Warn().Err(err).Str("session_id", id.String()).Msg("discarding unreadable session record")
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *storePG) Save(ctx context.Context, id uuid.UUID, rec *Record) error {
	rec.SchemaVersion = SchemaVersion
	rec.UpdatedAt = time.Now().UTC()

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", id, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO intake_session (id, record, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record, updated_at = NOW()`,
		id, raw)
	if err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	return nil
}

func (s *storePG) Update(ctx context.Context, id uuid.UUID, fn func(*Record) error) (*Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin session update: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx,
		`SELECT record FROM intake_session WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock session %s: %w", id, err)
	}

	rec, err := s.decode(id, raw)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", id.String()).Msg("updating over unreadable session record")
		rec = NewRecord()
	}

	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.SchemaVersion = SchemaVersion
	rec.UpdatedAt = time.Now().UTC()

	out, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", id, err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE intake_session SET record = $2, updated_at = NOW() WHERE id = $1`,
		id, out); err != nil {
		return nil, fmt.Errorf("write session %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit session update: %w", err)
	}
	return rec, nil
}

func (s *storePG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM intake_session WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// PurgeStale removes sessions untouched for longer than ttl. Abandoned
// wizards otherwise accumulate forever.
func (s *storePG) PurgeStale(ctx context.Context, ttl time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM intake_session WHERE updated_at < NOW() - $1::interval`,
		fmt.Sprintf("%d seconds", int64(ttl.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("purge stale sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *storePG) decode(id uuid.UUID, raw []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, &CacheParseError{SessionID: id.String(), Err: err}
	}
	if rec.SchemaVersion != SchemaVersion {
		return nil, &CacheParseError{
			SessionID: id.String(),
			Err:       fmt.Errorf("unknown schema version %d", rec.SchemaVersion),
		}
	}
	return &rec, nil
}
