package voicestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/minestream/internal/failure"
)

// Schema is the SQL DDL for the voice_profiles table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS voice_profiles (
    id                   TEXT PRIMARY KEY,
    name                 TEXT NOT NULL,
    tag                  TEXT NOT NULL,
    kind                 TEXT NOT NULL,
    prompt               TEXT NOT NULL DEFAULT '',
    reference_audio_path TEXT NOT NULL DEFAULT '',
    transcript           TEXT NOT NULL DEFAULT '',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_voice_profiles_name ON voice_profiles(name);
CREATE INDEX IF NOT EXISTS idx_voice_profiles_created ON voice_profiles(created_at);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling [PostgresStore.Migrate]
// to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// voice_profiles table and indexes if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("voicestore: migrate: %w", err)
	}
	return nil
}

// Create inserts a new profile. It validates the profile, assigns an ID if
// none is set and returns [ErrDuplicateID] if the ID is taken.
func (s *PostgresStore) Create(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = NewID()
	}

	const query = `
		INSERT INTO voice_profiles (
			id, name, tag, kind, prompt, reference_audio_path, transcript
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`

	err := s.db.QueryRow(ctx, query,
		p.ID, p.Name, p.Tag, string(p.Kind), p.Prompt, p.ReferenceAudioPath, p.Transcript,
	).Scan(&p.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("voicestore: create %q: %w", p.ID, ErrDuplicateID)
		}
		return failure.Storage("voicestore: create", err)
	}
	return nil
}

// Get retrieves a profile by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Profile, error) {
	const query = `
		SELECT id, name, tag, kind, prompt, reference_audio_path, transcript, created_at
		FROM voice_profiles
		WHERE id = $1`

	var p Profile
	var kind string
	err := s.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Tag, &kind, &p.Prompt, &p.ReferenceAudioPath, &p.Transcript, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, failure.Storage(fmt.Sprintf("voicestore: get %q", id), err)
	}
	p.Kind = Kind(kind)
	return &p, nil
}

// List returns all profiles ordered by creation time.
func (s *PostgresStore) List(ctx context.Context) ([]Profile, error) {
	const query = `
		SELECT id, name, tag, kind, prompt, reference_audio_path, transcript, created_at
		FROM voice_profiles
		ORDER BY created_at, id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, failure.Storage("voicestore: list", err)
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		var p Profile
		var kind string
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Tag, &kind, &p.Prompt, &p.ReferenceAudioPath, &p.Transcript, &p.CreatedAt,
		); err != nil {
			return nil, failure.Storage("voicestore: list scan", err)
		}
		p.Kind = Kind(kind)
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, failure.Storage("voicestore: list", err)
	}
	return profiles, nil
}

// Ping runs a trivial query to check connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("voicestore: ping: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
