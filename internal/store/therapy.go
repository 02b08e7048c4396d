package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Zachwitte21/reminisce-poc/internal/voice"
)

// TherapySession is one reminiscence therapy session record.
type TherapySession struct {
	ID        string     `json:"id"`
	PatientID string     `json:"patient_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// DurationSeconds and WordCount come from the saved transcript and are
	// zero until one exists.
	DurationSeconds int `json:"duration_seconds"`
	WordCount       int `json:"word_count"`
}

// StartTherapySession creates a new session row for the patient.
func (s *Store) StartTherapySession(ctx context.Context, patientID string) (TherapySession, error) {
	const q = `
		INSERT INTO therapy_sessions (patient_id)
		VALUES ($1)
		RETURNING id, patient_id, started_at`

	var ts TherapySession
	err := s.pool.QueryRow(ctx, q, patientID).Scan(&ts.ID, &ts.PatientID, &ts.StartedAt)
	if err != nil {
		return TherapySession{}, fmt.Errorf("store: start therapy session: %w", err)
	}
	return ts, nil
}

// EndTherapySession marks the session as ended. Ending an already-ended
// session leaves the original end time in place.
func (s *Store) EndTherapySession(ctx context.Context, sessionID string) (TherapySession, error) {
	const q = `
		UPDATE therapy_sessions
		SET    ended_at = COALESCE(ended_at, now())
		WHERE  id = $1
		RETURNING id, patient_id, started_at, ended_at`

	var ts TherapySession
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(&ts.ID, &ts.PatientID, &ts.StartedAt, &ts.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return TherapySession{}, ErrNotFound
	}
	if err != nil {
		return TherapySession{}, fmt.Errorf("store: end therapy session: %w", err)
	}
	return ts, nil
}

// TherapySessionPatient returns the patient a session belongs to.
func (s *Store) TherapySessionPatient(ctx context.Context, sessionID string) (string, error) {
	const q = `SELECT patient_id FROM therapy_sessions WHERE id = $1`

	var patientID string
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(&patientID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: therapy session patient: %w", err)
	}
	return patientID, nil
}

// SessionHistory returns the patient's sessions, newest first, with
// transcript statistics where a transcript was saved.
func (s *Store) SessionHistory(ctx context.Context, patientID string, limit int) ([]TherapySession, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT ts.id, ts.patient_id, ts.started_at, ts.ended_at,
		       COALESCE(vt.duration_seconds, 0), COALESCE(vt.word_count, 0)
		FROM   therapy_sessions ts
		LEFT   JOIN voice_transcripts vt ON vt.therapy_session_id = ts.id
		WHERE  ts.patient_id = $1
		ORDER  BY ts.started_at DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: session history: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TherapySession, error) {
		var ts TherapySession
		err := row.Scan(&ts.ID, &ts.PatientID, &ts.StartedAt, &ts.EndedAt,
			&ts.DurationSeconds, &ts.WordCount)
		return ts, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: session history: %w", err)
	}
	return sessions, nil
}

// SaveTranscript persists a finalized transcript summary for the session.
// The entries are stored as JSONB; duration and word count are denormalized
// for quick analytics.
func (s *Store) SaveTranscript(ctx context.Context, sessionID string, sum voice.Summary) error {
	entries, err := json.Marshal(sum.Entries)
	if err != nil {
		return fmt.Errorf("store: marshal transcript: %w", err)
	}

	const q = `
		INSERT INTO voice_transcripts
		    (therapy_session_id, transcript, duration_seconds, word_count)
		VALUES ($1, $2, $3, $4)`

	_, err = s.pool.Exec(ctx, q, sessionID, entries, sum.DurationSeconds, sum.WordCount)
	if err != nil {
		return fmt.Errorf("store: save transcript: %w", err)
	}
	return nil
}
