// Package relay bridges client WebSocket connections to upstream live speech
// sessions.
//
// One HTTP upgrade yields one [voice.Session]: the relay authenticates the
// caller, connects upstream, then pumps microphone audio up and synthesised
// audio, transcripts, and control events back down. Whatever ends the
// connection, the upstream session is disconnected exactly once and any
// non-empty transcript is persisted best-effort.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/metric"

	"github.com/Zachwitte21/reminisce-poc/internal/observe"
	"github.com/Zachwitte21/reminisce-poc/internal/voice"
	"github.com/Zachwitte21/reminisce-poc/pkg/audio"
)

const (
	// outboundBuffer bounds the per-connection send queue. At ~200ms per
	// audio chunk this is nearly a minute of backlog before drops begin.
	outboundBuffer = 256

	// saveTimeout bounds the transcript persistence call during cleanup.
	saveTimeout = 10 * time.Second
)

// Access describes an authorized caller of the voice endpoint.
type Access struct {
	UserID      string
	PatientID   string
	PatientName string
	Role        string // "caregiver" or "supporter"
}

// Authorizer validates a token and the caller's relationship to a patient.
type Authorizer interface {
	// Authorize returns the caller's access to the patient, or an error
	// when the token is invalid or the caller has no relationship.
	Authorize(ctx context.Context, token, patientID string) (Access, error)
}

// PhotoStore resolves photo metadata for context updates.
type PhotoStore interface {
	// PhotoMetadata returns the metadata of a patient's photo. found is
	// false when the photo is unknown or belongs to another patient.
	PhotoMetadata(ctx context.Context, photoID, patientID string) (details voice.PhotoDetails, found bool, err error)
}

// TranscriptStore persists finalized session transcripts.
type TranscriptStore interface {
	SaveTranscript(ctx context.Context, sessionID string, sum voice.Summary) error
}

// Relay is the WebSocket handler for voice sessions.
type Relay struct {
	auth        Authorizer
	photos      PhotoStore
	transcripts TranscriptStore
	sessions    voice.Config
	metrics     *observe.Metrics
}

// New creates a Relay. metrics may not be nil; pass
// [observe.DefaultMetrics] when no custom provider is in play.
func New(auth Authorizer, photos PhotoStore, transcripts TranscriptStore, sessions voice.Config, metrics *observe.Metrics) *Relay {
	return &Relay{
		auth:        auth,
		photos:      photos,
		transcripts: transcripts,
		sessions:    sessions,
		metrics:     metrics,
	}
}

// clientMessage is a JSON control message from the client.
type clientMessage struct {
	Type    string `json:"type"`
	PhotoID string `json:"photo_id,omitempty"`
	Text    string `json:"text,omitempty"`
}

// serverEvent is a JSON event sent to the client.
type serverEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Role      string `json:"role,omitempty"`
	Text      string `json:"text,omitempty"`
	Message   string `json:"message,omitempty"`
	PhotoID   string `json:"photo_id,omitempty"`
}

// outbound is one queued WebSocket message. Audio frames are binary;
// everything else is JSON text.
type outbound struct {
	binary bool
	data   []byte
}

// HandleVoice upgrades GET /ws/voice/{sessionID}?patient_id=&token= to a
// WebSocket and runs the session until the client disconnects.
func (rl *Relay) HandleVoice(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	patientID := r.URL.Query().Get("patient_id")
	token := r.URL.Query().Get("token")

	log := slog.With("session_id", sessionID, "patient_id", patientID)

	access, authErr := rl.auth.Authorize(r.Context(), token, patientID)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn("websocket accept failed", "error", err)
		return
	}

	if authErr != nil {
		log.Warn("voice session rejected", "error", authErr)
		conn.Close(websocket.StatusPolicyViolation, "unauthorized")
		return
	}

	rl.run(r.Context(), conn, sessionID, access, log)
}

// run owns the connection after a successful upgrade and authorization.
func (rl *Relay) run(parent context.Context, conn *websocket.Conn, sessionID string, access Access, log *slog.Logger) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	session := voice.NewSession(sessionID, access.PatientID, access.PatientName, rl.sessions)

	// Single writer goroutine: all WebSocket writes funnel through out.
	out := make(chan outbound, outboundBuffer)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-out:
				typ := websocket.MessageText
				if msg.binary {
					typ = websocket.MessageBinary
				}
				// Writes get their own deadline so cancellation never
				// aborts a message already dequeued.
				writeCtx, writeCancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(writeCtx, typ, msg.data)
				writeCancel()
				if err != nil {
					cancel()
					return
				}
			}
		}
	}()

	sendJSON := func(ev serverEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		select {
		case out <- outbound{data: data}:
		case <-ctx.Done():
		}
	}

	// Audio frames are dropped rather than queued without bound when the
	// client cannot keep up; control events above always queue.
	sendAudio := func(frame []byte) {
		select {
		case out <- outbound{binary: true, data: frame}:
			rl.metrics.RecordAudioChunk(ctx, "to_client")
		default:
			rl.metrics.AudioChunksDropped.Add(ctx, 1)
			log.Warn("outbound queue full, dropping audio frame")
		}
	}

	// Guaranteed cleanup: disconnect upstream exactly once and persist any
	// non-empty transcript, however the session ended.
	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			sum := session.Disconnect()
			rl.metrics.SessionDuration.Record(context.Background(), float64(sum.DurationSeconds))

			if len(sum.Entries) > 0 {
				saveCtx, saveCancel := context.WithTimeout(context.Background(), saveTimeout)
				defer saveCancel()
				if err := rl.transcripts.SaveTranscript(saveCtx, sessionID, sum); err != nil {
					log.Error("failed to save transcript", "error", err)
					rl.metrics.RecordTranscriptSave(saveCtx, "error")
				} else {
					log.Info("saved transcript",
						"entries", len(sum.Entries), "word_count", sum.WordCount)
					rl.metrics.RecordTranscriptSave(saveCtx, "ok")
				}
			}
			log.Info("voice session ended")
		})
	}
	defer cleanup()
	defer conn.Close(websocket.StatusNormalClosure, "session ended")

	// Connect upstream with the client callbacks.
	onAudio := func(chunk []byte, meta audio.ChunkMetadata) {
		sendAudio(audio.EncodeChunk(chunk, meta))
	}
	onText := func(role, text string) {
		sendJSON(serverEvent{Type: "transcript", Role: role, Text: text})
	}
	onInterrupted := func() {
		sendJSON(serverEvent{Type: "interrupted"})
	}

	connectStart := time.Now()
	connected := session.Connect(ctx, onAudio, onText, onInterrupted)
	status := "ok"
	if !connected {
		status = "error"
	}
	rl.metrics.UpstreamConnectDuration.Record(ctx, time.Since(connectStart).Seconds(),
		metric.WithAttributes(observe.Attr("status", status)))

	if !connected {
		rl.metrics.RecordUpstreamError(ctx, "connect")
		sendJSON(serverEvent{Type: "error", Message: "Failed to connect to AI service"})
		// Let the writer flush the error before the deferred close.
		rl.drain(ctx, out)
		return
	}

	sendJSON(serverEvent{Type: "connected", SessionID: sessionID})
	log.Info("voice session started", "role", access.Role)

	rl.metrics.ActiveSessions.Add(ctx, 1)
	defer rl.metrics.ActiveSessions.Add(context.Background(), -1)

	// Surface mid-stream upstream failures to the client.
	go func() {
		select {
		case <-ctx.Done():
		case <-session.Done():
			if err := session.Err(); err != nil {
				rl.metrics.RecordUpstreamError(ctx, "stream")
				sendJSON(serverEvent{Type: "error", Message: "AI service connection lost"})
				rl.drain(ctx, out)
			}
			cancel()
		}
	}()

	rl.readLoop(ctx, conn, session, access, sendJSON, log)

	// Cleanup and close run via defers; cancel stops the writer.
}

// readLoop pumps client messages into the session until the connection
// breaks or the context is cancelled.
func (rl *Relay) readLoop(ctx context.Context, conn *websocket.Conn, session *voice.Session, access Access, sendJSON func(serverEvent), log *slog.Logger) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Info("client disconnected", "error", err)
			}
			return
		}

		switch typ {
		case websocket.MessageBinary:
			if audio.IsEBMLContainer(data) {
				log.Warn("received WebM container audio, expected raw PCM; discarding")
				continue
			}
			session.SendAudio(data)
			rl.metrics.RecordAudioChunk(ctx, "to_model")

		case websocket.MessageText:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Warn("received invalid JSON message")
				continue
			}
			rl.handleControl(ctx, msg, session, access, sendJSON, log)
		}
	}
}

// handleControl dispatches one JSON control message. Unknown types are
// ignored so old clients stay compatible.
func (rl *Relay) handleControl(ctx context.Context, msg clientMessage, session *voice.Session, access Access, sendJSON func(serverEvent), log *slog.Logger) {
	switch msg.Type {
	case "photo_change":
		if msg.PhotoID == "" {
			return
		}
		details, found, err := rl.photos.PhotoMetadata(ctx, msg.PhotoID, access.PatientID)
		if err != nil {
			log.Warn("photo metadata lookup failed", "photo_id", msg.PhotoID, "error", err)
		}
		if err != nil || !found {
			// The model is still told about the change, just without
			// caption or tags.
			details = voice.PhotoDetails{}
		}
		session.UpdatePhotoContext(msg.PhotoID, details)
		sendJSON(serverEvent{Type: "photo_context_updated", PhotoID: msg.PhotoID})

	case "text":
		if msg.Text == "" {
			return
		}
		session.SendText(msg.Text, true)

	default:
		log.Debug("ignoring unknown client message", "type", msg.Type)
	}
}

// drain gives the writer a moment to flush queued messages.
func (rl *Relay) drain(ctx context.Context, out chan outbound) {
	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			return
		case <-ctx.Done():
			return
		default:
			if len(out) == 0 {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}
