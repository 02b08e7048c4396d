// Package voice implements the upstream speech session for reminiscence
// therapy conversations: connecting to a live speech provider with model
// fallback, relaying audio both ways, and accumulating the conversation
// transcript for persistence.
package voice

import (
	"strings"
	"sync"
	"time"
)

// Speaker roles recorded in the transcript.
const (
	RoleUser   = "user"
	RoleModel  = "model"
	RoleSystem = "system"
)

// Entry is one transcript line. System entries record context changes (such
// as the patient switching photos) rather than speech.
type Entry struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	PhotoID   string    `json:"photo_id,omitempty"`
}

// Summary is the finalized outcome of a session's transcript, ready for
// persistence.
type Summary struct {
	Entries         []Entry `json:"entries"`
	DurationSeconds int     `json:"duration_seconds"`
	WordCount       int     `json:"word_count"`
}

// Transcript is an append-only log of conversation entries. Appends never
// fail and are safe for concurrent use. Finalize may be called more than
// once; the first call fixes the summary.
type Transcript struct {
	mu        sync.Mutex
	entries   []Entry
	started   time.Time
	finalized bool
	snapshot  []Entry
	duration  int
	words     int

	now func() time.Time // test hook
}

// NewTranscript creates an empty transcript whose duration clock starts now.
func NewTranscript() *Transcript {
	return newTranscript(time.Now)
}

func newTranscript(now func() time.Time) *Transcript {
	return &Transcript{
		started: now(),
		now:     now,
	}
}

// Append records one entry with the current timestamp. The photoID may be
// empty; it ties speech entries to the photo under discussion.
func (t *Transcript) Append(role, text, photoID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{
		Role:      role,
		Text:      text,
		Timestamp: t.now().UTC(),
		PhotoID:   photoID,
	})
}

// Len returns the number of entries appended so far.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Finalize returns the transcript summary. The first call snapshots the
// entries and fixes the duration and word count; repeated calls return the
// same summary. Appends after Finalize are still recorded (and visible via
// Len) but never change the summary.
func (t *Transcript) Finalize() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.finalized {
		t.finalized = true
		t.duration = int(t.now().Sub(t.started).Seconds())
		t.snapshot = make([]Entry, len(t.entries))
		copy(t.snapshot, t.entries)

		t.words = 0
		for _, e := range t.snapshot {
			if e.Role == RoleUser || e.Role == RoleModel {
				t.words += len(strings.Fields(e.Text))
			}
		}
	}

	// Callers get their own copy so mutations cannot leak into the snapshot.
	entries := make([]Entry, len(t.snapshot))
	copy(entries, t.snapshot)

	return Summary{
		Entries:         entries,
		DurationSeconds: t.duration,
		WordCount:       t.words,
	}
}
