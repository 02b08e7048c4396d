package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Zachwitte21/reminisce-poc/internal/voice"
)

// PatientAccess describes an authenticated user's relationship to a patient.
type PatientAccess struct {
	PatientName string
	Role        string // "caregiver" or "supporter"
}

// VerifyAccess checks whether userID may run voice sessions for patientID.
// Caregivers always have access; other users need a non-revoked supporter
// row. Returns [ErrNotFound] for an unknown patient and [ErrNoAccess] when
// no relationship exists.
func (s *Store) VerifyAccess(ctx context.Context, userID, patientID string) (PatientAccess, error) {
	const q = `
		SELECT first_name, caregiver_id
		FROM   patients
		WHERE  id = $1`

	var firstName, caregiverID string
	err := s.pool.QueryRow(ctx, q, patientID).Scan(&firstName, &caregiverID)
	if errors.Is(err, pgx.ErrNoRows) {
		return PatientAccess{}, ErrNotFound
	}
	if err != nil {
		return PatientAccess{}, fmt.Errorf("store: verify access: %w", err)
	}

	if caregiverID == userID {
		return PatientAccess{PatientName: firstName, Role: "caregiver"}, nil
	}

	const supporterQ = `
		SELECT EXISTS (
		    SELECT 1
		    FROM   patient_supporters
		    WHERE  patient_id = $1
		      AND  supporter_id = $2
		      AND  revoked_at IS NULL
		)`

	var isSupporter bool
	if err := s.pool.QueryRow(ctx, supporterQ, patientID, userID).Scan(&isSupporter); err != nil {
		return PatientAccess{}, fmt.Errorf("store: verify access: %w", err)
	}
	if !isSupporter {
		return PatientAccess{}, ErrNoAccess
	}
	return PatientAccess{PatientName: firstName, Role: "supporter"}, nil
}

// PhotoMetadata returns the caption, tags, and capture date of a patient's
// photo. found is false when the photo does not exist or belongs to a
// different patient.
func (s *Store) PhotoMetadata(ctx context.Context, photoID, patientID string) (voice.PhotoDetails, bool, error) {
	const q = `
		SELECT caption, COALESCE(to_char(date_taken, 'YYYY-MM-DD'), '')
		FROM   media
		WHERE  id = $1 AND patient_id = $2`

	var details voice.PhotoDetails
	err := s.pool.QueryRow(ctx, q, photoID, patientID).Scan(&details.Caption, &details.DateTaken)
	if errors.Is(err, pgx.ErrNoRows) {
		return voice.PhotoDetails{}, false, nil
	}
	if err != nil {
		return voice.PhotoDetails{}, false, fmt.Errorf("store: photo metadata: %w", err)
	}

	const tagsQ = `
		SELECT tag_value
		FROM   media_tags
		WHERE  media_id = $1
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, tagsQ, photoID)
	if err != nil {
		return voice.PhotoDetails{}, false, fmt.Errorf("store: photo tags: %w", err)
	}
	details.Tags, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var tag string
		err := row.Scan(&tag)
		return tag, err
	})
	if err != nil {
		return voice.PhotoDetails{}, false, fmt.Errorf("store: photo tags: %w", err)
	}

	return details, true, nil
}
