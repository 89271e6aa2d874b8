package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/andresmejia3/rollcall/internal/gallery"
	"github.com/andresmejia3/rollcall/internal/types"
)

// DB is the subset of *pgx.Conn the store needs. pgxmock satisfies it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
}

// Store manages the PostgreSQL connection for enrollment and attendance data.
type Store struct {
	db  DB
	dim int
}

// EnrolledFace is one row of the enrolled_faces table.
type EnrolledFace struct {
	Identity  string
	Embedding types.Embedding
	CreatedAt time.Time
}

// Visit is one attendance_log row.
type Visit struct {
	ID       int64
	Session  uuid.UUID
	Identity string
	SeenAt   time.Time
	Distance float64
}

// VisitFilter narrows ListAttendance. Zero values mean "no filter".
type VisitFilter struct {
	Identity string
	Since    time.Time
	Limit    int
}

// New establishes a connection to the database and ensures the schema is initialized.
// dim is the embedding length stored in enrolled_faces.
func New(ctx context.Context, connString string, dim int) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	s := NewWithDB(conn, dim)
	if err := s.initSchema(ctx); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an existing connection without touching the schema.
func NewWithDB(db DB, dim int) *Store {
	return &Store{db: db, dim: dim}
}

// initSchema creates the tables and vector extension if they don't exist (Auto-Migration).
func (s *Store) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS enrolled_faces (
			id SERIAL PRIMARY KEY,
			identity TEXT NOT NULL UNIQUE,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS attendance_log (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID NOT NULL,
			identity TEXT NOT NULL,
			seen_at TIMESTAMPTZ NOT NULL,
			distance DOUBLE PRECISION NOT NULL
		);
		CREATE INDEX IF NOT EXISTS attendance_log_identity_idx ON attendance_log (identity, seen_at);
	`, s.dim)
	_, err := s.db.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.db.Close(ctx)
}

// Enroll inserts or replaces the embedding for identity.
func (s *Store) Enroll(ctx context.Context, identity string, emb types.Embedding) error {
	if len(emb) != s.dim {
		return fmt.Errorf("%w: %s has %d components, store expects %d", gallery.ErrDimensionMismatch, identity, len(emb), s.dim)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO enrolled_faces (identity, embedding)
		VALUES ($1, $2)
		ON CONFLICT (identity) DO UPDATE SET embedding = EXCLUDED.embedding, created_at = NOW()
	`, identity, pgvector.NewVector(emb))
	if err != nil {
		return fmt.Errorf("enroll %s: %w", identity, err)
	}
	return nil
}

// Unenroll removes identity. It reports whether a row was deleted.
func (s *Store) Unenroll(ctx context.Context, identity string) (bool, error) {
	tag, err := s.db.Exec(ctx, "DELETE FROM enrolled_faces WHERE identity = $1", identity)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListEnrolled returns every enrolled face ordered by identity.
func (s *Store) ListEnrolled(ctx context.Context) ([]EnrolledFace, error) {
	rows, err := s.db.Query(ctx, "SELECT identity, embedding, created_at FROM enrolled_faces ORDER BY identity")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EnrolledFace
	for rows.Next() {
		var (
			f   EnrolledFace
			vec *pgvector.Vector
		)
		if err := rows.Scan(&f.Identity, &vec, &f.CreatedAt); err != nil {
			return nil, err
		}
		if vec == nil {
			return nil, fmt.Errorf("%w: %s has no embedding", gallery.ErrMalformedRecord, f.Identity)
		}
		f.Embedding = vec.Slice()
		out = append(out, f)
	}
	return out, rows.Err()
}

// Records implements gallery.Source so a gallery can be built from the database.
func (s *Store) Records(ctx context.Context) ([]gallery.Record, error) {
	faces, err := s.ListEnrolled(ctx)
	if err != nil {
		return nil, fmt.Errorf("read enrolled faces: %w", err)
	}
	records := make([]gallery.Record, len(faces))
	for i, f := range faces {
		records[i] = gallery.Record{Identity: f.Identity, Embedding: f.Embedding}
	}
	return records, nil
}

// LogVisit appends one attendance record.
func (s *Store) LogVisit(ctx context.Context, session uuid.UUID, identity string, at time.Time, distance float64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO attendance_log (session_id, identity, seen_at, distance)
		VALUES ($1, $2, $3, $4)
	`, session, identity, at, distance)
	return err
}

// ListAttendance returns attendance records, newest first.
func (s *Store) ListAttendance(ctx context.Context, f VisitFilter) ([]Visit, error) {
	query := `SELECT id, session_id, identity, seen_at, distance FROM attendance_log WHERE 1=1`
	var args []any
	if f.Identity != "" {
		args = append(args, f.Identity)
		query += fmt.Sprintf(" AND identity = $%d", len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += fmt.Sprintf(" AND seen_at >= $%d", len(args))
	}
	query += " ORDER BY seen_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Visit
	for rows.Next() {
		var v Visit
		if err := rows.Scan(&v.ID, &v.Session, &v.Identity, &v.SeenAt, &v.Distance); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// LastSeen returns when identity was last recorded, or the zero time if never.
func (s *Store) LastSeen(ctx context.Context, identity string) (time.Time, error) {
	var at time.Time
	err := s.db.QueryRow(ctx, "SELECT seen_at FROM attendance_log WHERE identity = $1 ORDER BY seen_at DESC LIMIT 1", identity).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	return at, err
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		DROP TABLE IF EXISTS attendance_log CASCADE;
		DROP TABLE IF EXISTS enrolled_faces CASCADE;
	`)
	return err
}

// AttendanceLog writes attendance for one run session.
type AttendanceLog struct {
	store   *Store
	session uuid.UUID
}

// Attendance returns a sink that tags every record with session.
func (s *Store) Attendance(session uuid.UUID) *AttendanceLog {
	return &AttendanceLog{store: s, session: session}
}

func (a *AttendanceLog) Record(ctx context.Context, identity string, at time.Time, distance float64) error {
	return a.store.LogVisit(ctx, a.session, identity, at, distance)
}
