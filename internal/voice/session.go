package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Zachwitte21/reminisce-poc/pkg/audio"
	"github.com/Zachwitte21/reminisce-poc/pkg/provider/live"
)

// therapySystemPrompt defines the companion persona. The patient's name is
// interpolated so the model can address them directly.
const therapySystemPrompt = `You are a warm, patient companion helping someone with memory challenges engage in reminiscence therapy by looking at photos from their life.

Guidelines:
- Speak slowly and clearly
- Use simple, short sentences
- Ask gentle, open-ended questions about the photo
- Never correct or contradict their memories
- Show genuine interest and warmth
- Be encouraging and supportive
- If they seem confused, gently redirect to the photo
- Celebrate any memories they share, no matter how small

The patient's name is %s. Address them by name occasionally to maintain connection.

When a new photo is presented, acknowledge it naturally and invite them to share what they see or remember about it.`

// defaultVoice is the prebuilt voice profile used when none is configured.
const defaultVoice = "Charon"

// AudioFunc receives synthesised model audio ready for client delivery.
type AudioFunc func(chunk []byte, meta audio.ChunkMetadata)

// TextFunc receives transcription text attributed to a speaker role.
type TextFunc func(role, text string)

// InterruptedFunc is invoked when the model's output was barged-in; the
// client must stop playback immediately.
type InterruptedFunc func()

// Config carries the shared dependencies for creating sessions. One Config
// is built at startup and reused for every session.
type Config struct {
	// Provider is the live speech backend, typically a
	// resilience.LiveFallback so model failover and circuit-breaker state
	// are shared across sessions.
	Provider live.Provider

	// Voice is the prebuilt voice profile. Defaults to "Charon".
	Voice string
}

// Session is one upstream speech session for a single patient conversation.
// It owns the transcript and the provider handle, relays audio both ways,
// and survives until Disconnect.
//
// All methods are safe for concurrent use. Send methods on a disconnected
// session are no-ops that log a warning; they never fail the caller.
type Session struct {
	sessionID   string
	patientID   string
	patientName string

	cfg Config
	log *slog.Logger

	transcript *Transcript

	mu             sync.Mutex
	handle         live.SessionHandle
	connected      bool
	receiving      bool
	currentPhotoID string
	sequence       uint32

	onAudio       AudioFunc
	onText        TextFunc
	onInterrupted InterruptedFunc

	done    chan struct{}
	doneErr error

	disconnectOnce sync.Once
	summary        Summary
}

// NewSession creates a session for the given identity. The patient name
// falls back to a neutral placeholder so the persona prompt always reads
// naturally.
func NewSession(sessionID, patientID, patientName string, cfg Config) *Session {
	if patientName == "" {
		patientName = "the patient"
	}
	return &Session{
		sessionID:   sessionID,
		patientID:   patientID,
		patientName: patientName,
		cfg:         cfg,
		log: slog.With(
			"session_id", sessionID,
			"patient_id", patientID,
		),
		transcript: NewTranscript(),
		done:       make(chan struct{}),
	}
}

// Connect establishes the upstream session. Reports success; on failure the
// session stays usable only for Disconnect.
//
// The greeting prompt is sent fire-and-forget: a failed greeting write is
// logged and the session proceeds.
func (s *Session) Connect(ctx context.Context, onAudio AudioFunc, onText TextFunc, onInterrupted InterruptedFunc) bool {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		s.log.Warn("connect called on already-connected session")
		return true
	}
	s.onAudio = onAudio
	s.onText = onText
	s.onInterrupted = onInterrupted
	s.mu.Unlock()

	voice := s.cfg.Voice
	if voice == "" {
		voice = defaultVoice
	}

	handle, err := s.cfg.Provider.Connect(ctx, live.SessionConfig{
		Voice:        voice,
		Instructions: fmt.Sprintf(therapySystemPrompt, s.patientName),
	})
	if err != nil {
		s.log.Error("failed to connect to live model", "error", err)
		return false
	}

	s.mu.Lock()
	s.handle = handle
	s.connected = true
	s.receiving = true
	s.mu.Unlock()

	go s.receiveLoop(handle)

	s.sendGreeting(handle)

	s.log.Info("live session connected")
	return true
}

// sendGreeting prompts the model to open the conversation.
func (s *Session) sendGreeting(handle live.SessionHandle) {
	greeting := fmt.Sprintf(
		"Hello! Please greet %s warmly. "+
			"We're about to look at some photos together. "+
			"Introduce yourself briefly as a friendly companion here to help them "+
			"enjoy looking at photos and sharing memories. Keep it short and warm.",
		s.patientName,
	)
	err := handle.SendTurns([]live.Turn{{Role: RoleUser, Text: greeting}}, true)
	if err != nil {
		s.log.Error("failed to send greeting", "error", err)
	}
}

// receiveLoop consumes provider events until the handle's event channel
// closes, dispatching to the registered callbacks.
func (s *Session) receiveLoop(handle live.SessionHandle) {
	for ev := range handle.Events() {
		switch ev := ev.(type) {
		case live.TurnComplete:
			// Continuation marker only.
		case live.Interrupted:
			s.log.Debug("model output interrupted")
			if s.onInterrupted != nil {
				s.onInterrupted()
			}
		case live.AudioChunk:
			s.deliverAudio(ev.Data)
		case live.Text:
			s.mu.Lock()
			photoID := s.currentPhotoID
			s.mu.Unlock()
			s.transcript.Append(RoleModel, ev.Content, photoID)
			if s.onText != nil {
				s.onText(RoleModel, ev.Content)
			}
		}
	}

	err := handle.Err()
	s.mu.Lock()
	stillConnected := s.connected
	s.mu.Unlock()

	if err != nil && stillConnected {
		s.log.Error("live session receive loop failed", "error", err)
	}
	s.doneErr = err
	close(s.done)
}

// deliverAudio stamps the chunk with sequence and timing metadata and hands
// it to the audio callback.
func (s *Session) deliverAudio(chunk []byte) {
	if s.onAudio == nil {
		return
	}

	s.mu.Lock()
	seq := s.sequence
	s.sequence++
	s.mu.Unlock()

	meta := audio.ChunkMetadata{
		Sequence:   seq,
		Timestamp:  uint32(time.Now().Unix()),
		DurationMS: audio.Duration(len(chunk)),
	}
	s.onAudio(chunk, meta)
}

// SendAudio forwards raw PCM microphone audio (16-bit, 16 kHz, mono) to the
// model. No-op when disconnected.
func (s *Session) SendAudio(chunk []byte) {
	handle := s.connectedHandle("send audio")
	if handle == nil {
		return
	}
	if err := handle.SendAudio(chunk); err != nil {
		s.log.Error("failed to send audio", "error", err)
	}
}

// SendText injects text into the conversation. With isUserSpeech true the
// text is recorded in the transcript as user speech and sent with the user
// role. No-op when disconnected.
func (s *Session) SendText(text string, isUserSpeech bool) {
	handle := s.connectedHandle("send text")
	if handle == nil {
		return
	}

	role := RoleModel
	if isUserSpeech {
		role = RoleUser
		s.mu.Lock()
		photoID := s.currentPhotoID
		s.mu.Unlock()
		s.transcript.Append(RoleUser, text, photoID)
	}

	err := handle.SendTurns([]live.Turn{{Role: role, Text: text}}, true)
	if err != nil {
		s.log.Error("failed to send text", "error", err)
	}
}

// PhotoDetails carries the metadata known about a photo when the patient
// navigates to it. All fields besides the caller-supplied photo ID may be
// empty.
type PhotoDetails struct {
	Caption   string
	Tags      []string
	DateTaken string
}

// UpdatePhotoContext tells the model the patient is now looking at a new
// photo, with whatever metadata is available. The change is recorded as a
// system transcript entry, and subsequent speech entries are attributed to
// the new photo. No-op when disconnected.
func (s *Session) UpdatePhotoContext(photoID string, details PhotoDetails) {
	handle := s.connectedHandle("update photo context")
	if handle == nil {
		return
	}

	s.mu.Lock()
	s.currentPhotoID = photoID
	s.mu.Unlock()

	parts := []string{"The user is now viewing a new photo."}
	if details.Caption != "" {
		parts = append(parts, fmt.Sprintf("Caption: %s", details.Caption))
	}
	if len(details.Tags) > 0 {
		parts = append(parts, fmt.Sprintf("This photo includes: %s", strings.Join(details.Tags, ", ")))
	}
	if details.DateTaken != "" {
		parts = append(parts, fmt.Sprintf("This photo was taken: %s", details.DateTaken))
	}
	if details.Caption == "" && len(details.Tags) == 0 {
		parts = append(parts, "No caption or tags are available for this photo.")
	}
	parts = append(parts,
		"Gently acknowledge the new photo and invite the patient to share "+
			"what they see or remember about it.")

	s.transcript.Append(RoleSystem, fmt.Sprintf("Photo changed to: %s", photoID), photoID)

	err := handle.SendTurns([]live.Turn{{Role: RoleUser, Text: strings.Join(parts, " ")}}, true)
	if err != nil {
		s.log.Error("failed to update photo context", "error", err)
		return
	}
	s.log.Info("updated photo context", "photo_id", photoID)
}

// connectedHandle returns the live handle, or nil with a warning when the
// session is not connected.
func (s *Session) connectedHandle(op string) live.SessionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.handle == nil {
		s.log.Warn("cannot " + op + ": not connected")
		return nil
	}
	return s.handle
}

// Disconnect closes the upstream session, waits for the receive loop to
// exit, and returns the finalized transcript summary. Safe to call multiple
// times and regardless of whether Connect ever succeeded; repeated calls
// return the same summary.
func (s *Session) Disconnect() Summary {
	s.disconnectOnce.Do(func() {
		s.mu.Lock()
		handle := s.handle
		receiving := s.receiving
		s.connected = false
		s.handle = nil
		s.mu.Unlock()

		// When Connect never succeeded there is no receive loop to close
		// the done channel.
		if !receiving {
			close(s.done)
		}

		if handle != nil {
			if err := handle.Close(); err != nil {
				s.log.Warn("error closing live session", "error", err)
			}
		}

		// The receive loop may still be draining events buffered by the
		// transport. Wait for it to exit so late model turns land in the
		// transcript before the summary is fixed.
		<-s.done

		s.summary = s.transcript.Finalize()
		s.log.Info("live session disconnected",
			"duration_seconds", s.summary.DurationSeconds,
			"word_count", s.summary.WordCount,
		)
	})
	return s.summary
}

// IsConnected reports whether the upstream session is currently open.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Done is closed when the background receive loop has exited, either
// because Disconnect was called or because the upstream stream failed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that terminated the upstream stream, or nil for a
// clean shutdown. Only meaningful after Done is closed.
func (s *Session) Err() error { return s.doneErr }

// SessionID returns the session identifier.
func (s *Session) SessionID() string { return s.sessionID }

// PatientID returns the patient identifier.
func (s *Session) PatientID() string { return s.patientID }

// TranscriptLen returns the number of transcript entries recorded so far.
func (s *Session) TranscriptLen() int { return s.transcript.Len() }
