package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL — patients and access
// ─────────────────────────────────────────────────────────────────────────────

const ddlPatients = `
CREATE TABLE IF NOT EXISTS patients (
    id            UUID         PRIMARY KEY DEFAULT gen_random_uuid(),
    caregiver_id  TEXT         NOT NULL,
    first_name    TEXT         NOT NULL,
    last_name     TEXT         NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_patients_caregiver
    ON patients (caregiver_id);

CREATE TABLE IF NOT EXISTS patient_supporters (
    id            UUID         PRIMARY KEY DEFAULT gen_random_uuid(),
    patient_id    UUID         NOT NULL REFERENCES patients (id) ON DELETE CASCADE,
    supporter_id  TEXT         NOT NULL,
    invited_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    revoked_at    TIMESTAMPTZ,
    UNIQUE (patient_id, supporter_id)
);

CREATE INDEX IF NOT EXISTS idx_patient_supporters_supporter
    ON patient_supporters (supporter_id);
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL — photos
// ─────────────────────────────────────────────────────────────────────────────

const ddlMedia = `
CREATE TABLE IF NOT EXISTS media (
    id            UUID         PRIMARY KEY DEFAULT gen_random_uuid(),
    patient_id    UUID         NOT NULL REFERENCES patients (id) ON DELETE CASCADE,
    caption       TEXT         NOT NULL DEFAULT '',
    storage_path  TEXT         NOT NULL DEFAULT '',
    date_taken    DATE,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_media_patient
    ON media (patient_id);

CREATE TABLE IF NOT EXISTS media_tags (
    id         BIGSERIAL  PRIMARY KEY,
    media_id   UUID       NOT NULL REFERENCES media (id) ON DELETE CASCADE,
    tag_type   TEXT       NOT NULL DEFAULT '',
    tag_value  TEXT       NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_media_tags_media
    ON media_tags (media_id);
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL — therapy sessions and transcripts
// ─────────────────────────────────────────────────────────────────────────────

const ddlTherapy = `
CREATE TABLE IF NOT EXISTS therapy_sessions (
    id          UUID         PRIMARY KEY DEFAULT gen_random_uuid(),
    patient_id  UUID         NOT NULL REFERENCES patients (id) ON DELETE CASCADE,
    started_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_therapy_sessions_patient
    ON therapy_sessions (patient_id, started_at DESC);

CREATE TABLE IF NOT EXISTS voice_transcripts (
    id                  UUID         PRIMARY KEY DEFAULT gen_random_uuid(),
    therapy_session_id  UUID         NOT NULL REFERENCES therapy_sessions (id) ON DELETE CASCADE,
    transcript          JSONB        NOT NULL,
    duration_seconds    INT          NOT NULL DEFAULT 0,
    word_count          INT          NOT NULL DEFAULT 0,
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_voice_transcripts_session
    ON voice_transcripts (therapy_session_id);
`

// Migrate creates all required tables and indexes. Every statement is
// idempotent, so Migrate is safe to run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlPatients, ddlMedia, ddlTherapy} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
