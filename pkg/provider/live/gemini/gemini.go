// Package gemini implements the live.Provider interface for Google's Gemini
// Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live
// endpoint and exchanges JSON messages according to the BidiGenerateContent
// protocol. Audio is transmitted as base64-encoded PCM chunks; server content
// is decoded once at this boundary into live.Event values.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Zachwitte21/reminisce-poc/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-12-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	// eventBuffer bounds the decoded event channel. Gemini emits ~200ms audio
	// chunks, so 64 slots is several seconds of slack before backpressure.
	eventBuffer = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey  string
	baseURL string
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect establishes a new Gemini Live session with the given configuration.
// The returned SessionHandle is ready to accept audio immediately after the
// setup message is sent.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, p.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan live.Event, eventBuffer),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	if err := sess.sendSetup(model, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model             string             `json:"model"`
	GenerationConfig  generationConfig   `json:"generationConfig"`
	SystemInstruction *systemInstruction `json:"systemInstruction,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []contentTurn `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

type contentTurn struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan live.Event

	mu     sync.Mutex
	errVal error
	done   chan struct{}
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSetup sends the initial BidiGenerateContent setup message.
func (s *session) sendSetup(model string, cfg live.SessionConfig) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"audio"},
			},
		},
	}

	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}

	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}

	return s.writeJSON(msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and decodes them into Events.
// It owns the events channel: it closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeEvents()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// If the session context was cancelled, exit cleanly.
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		s.handleServerMessage(&msg)
	}
}

func (s *session) handleServerMessage(msg *serverMessage) {
	if msg.Error != nil {
		errMsg := "unknown error"
		if msg.Error.Message != "" {
			errMsg = msg.Error.Message
		}
		s.setErr(fmt.Errorf("gemini: %s", errMsg))
	}
	if msg.ServerContent != nil {
		s.handleServerContent(msg.ServerContent)
	}
}

func (s *session) handleServerContent(sc *serverContent) {
	if sc.Interrupted {
		s.emit(live.Interrupted{})
		return
	}
	if sc.TurnComplete {
		s.emit(live.TurnComplete{})
	}

	if sc.ModelTurn != nil {
		// Emit audio chunks and inline text parts in a single pass.
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil {
				audioData, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil || len(audioData) == 0 {
					continue
				}
				if !s.emit(live.AudioChunk{Data: audioData}) {
					return
				}
			}
			if p.Text != "" {
				if !s.emit(live.Text{Role: "model", Content: p.Text}) {
					return
				}
			}
		}
	}

	// Text version of the model's spoken output from native audio models.
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		s.emit(live.Text{Role: "model", Content: sc.OutputTranscription.Text})
	}
}

// emit delivers one decoded event, giving up when the session is cancelled.
// Returns false if the session context ended.
func (s *session) emit(ev live.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeEvents() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio delivers a raw PCM audio chunk (16 kHz, s16le, mono) to the model.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("gemini: session closed")
	}
	s.mu.Unlock()

	encoded := base64.StdEncoding.EncodeToString(chunk)
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: "audio/pcm;rate=16000", Data: encoded},
			},
		},
	}
	return s.writeJSON(msg)
}

// SendTurns injects completed conversational turns as clientContent.
func (s *session) SendTurns(turns []live.Turn, turnComplete bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("gemini: session closed")
	}
	s.mu.Unlock()

	if len(turns) == 0 {
		return nil
	}

	wireTurns := make([]contentTurn, len(turns))
	for i, turn := range turns {
		role := turn.Role
		if role != "model" {
			role = "user"
		}
		wireTurns[i] = contentTurn{
			Role:  role,
			Parts: []part{{Text: turn.Text}},
		}
	}

	msg := clientContentMessage{
		ClientContent: clientContent{
			Turns:        wireTurns,
			TurnComplete: turnComplete,
		},
	}
	return s.writeJSON(msg)
}

// Events returns the channel on which decoded server events arrive.
func (s *session) Events() <-chan live.Event { return s.events }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
