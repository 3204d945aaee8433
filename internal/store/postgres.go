package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/kiosk/internal/media"
	"github.com/ent0n29/kiosk/internal/settings"
)

// PostgresStore persists media records and settings in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kiosk_media (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			filename TEXT NOT NULL,
			caption TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (kind, filename)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_kiosk_media_kind_created ON kiosk_media (kind, created_at);`,
		`CREATE TABLE IF NOT EXISTS kiosk_settings (
			id SMALLINT PRIMARY KEY CHECK (id = 1),
			default_language TEXT NOT NULL,
			slider_interval_ms BIGINT NOT NULL,
			welcome_message TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) ListMedia(ctx context.Context, kind media.Kind) ([]MediaRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, filename, caption, url, duration_ms, created_at
		 FROM kiosk_media WHERE ($1 = '' OR kind = $1) ORDER BY created_at, id`,
		string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("query media: %w", err)
	}
	defer rows.Close()

	var items []MediaRecord
	for rows.Next() {
		var (
			r    MediaRecord
			kind string
		)
		if err := rows.Scan(&r.ID, &kind, &r.Filename, &r.Caption, &r.URL, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan media row: %w", err)
		}
		r.Kind = media.Kind(kind)
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AddMedia(ctx context.Context, rec MediaRecord) (MediaRecord, error) {
	if !rec.Kind.Valid() {
		return MediaRecord{}, fmt.Errorf("add media: invalid type %q", rec.Kind)
	}
	rec = stamp(rec, uuid.NewString(), time.Now())

	_, err := s.pool.Exec(ctx,
		`INSERT INTO kiosk_media (id, kind, filename, caption, url, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID,
		string(rec.Kind),
		rec.Filename,
		rec.Caption,
		rec.URL,
		rec.DurationMS,
		rec.CreatedAt,
	)
	if err != nil {
		return MediaRecord{}, fmt.Errorf("add media: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) DeleteMedia(ctx context.Context, kind media.Kind, filename string) (MediaRecord, error) {
	var (
		r       MediaRecord
		rowKind string
	)
	err := s.pool.QueryRow(ctx,
		`DELETE FROM kiosk_media WHERE kind = $1 AND filename = $2
		 RETURNING id, kind, filename, caption, url, duration_ms, created_at`,
		string(kind),
		filename,
	).Scan(&r.ID, &rowKind, &r.Filename, &r.Caption, &r.URL, &r.DurationMS, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return MediaRecord{}, ErrNotFound
	}
	if err != nil {
		return MediaRecord{}, fmt.Errorf("delete media: %w", err)
	}
	r.Kind = media.Kind(rowKind)
	return r, nil
}

func (s *PostgresStore) GetSettings(ctx context.Context) (settings.Settings, error) {
	var out settings.Settings
	err := s.pool.QueryRow(ctx,
		`SELECT default_language, slider_interval_ms, welcome_message FROM kiosk_settings WHERE id = 1`,
	).Scan(&out.DefaultLanguage, &out.SliderIntervalMS, &out.WelcomeMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return settings.Defaults(), nil
	}
	if err != nil {
		return settings.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return out.WithDefaults(), nil
}

func (s *PostgresStore) PutSettings(ctx context.Context, in settings.Settings) error {
	v := in.WithDefaults()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kiosk_settings (id, default_language, slider_interval_ms, welcome_message, updated_at)
		 VALUES (1, $1, $2, $3, now())
		 ON CONFLICT (id) DO UPDATE SET
		   default_language = EXCLUDED.default_language,
		   slider_interval_ms = EXCLUDED.slider_interval_ms,
		   welcome_message = EXCLUDED.welcome_message,
		   updated_at = EXCLUDED.updated_at`,
		v.DefaultLanguage,
		v.SliderIntervalMS,
		v.WelcomeMessage,
	)
	if err != nil {
		return fmt.Errorf("put settings: %w", err)
	}
	return nil
}

func (s *PostgresStore) Mode() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
