// Package live defines the Provider interface for real-time streaming speech
// backends.
//
// A live provider wraps a bidirectional voice AI service that accepts raw
// audio and text turns and streams back synthesised audio with transcription —
// a single stateful conversation rather than separate STT/LLM/TTS calls.
//
// The central abstraction is SessionHandle: an open conversation whose server
// events arrive, already decoded, on a single channel of [Event] values.
// Sessions are long-lived (seconds to minutes) and must be safe for
// concurrent use.
package live

import "context"

// Turn is one conversational contribution injected into the session as
// completed content (as opposed to streamed realtime audio).
type Turn struct {
	// Role is the speaker role: "user" or "model".
	Role string

	// Text is the turn's content.
	Text string
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Model is the provider-specific model identifier to connect to.
	Model string

	// Voice selects the prebuilt voice profile for synthesised speech.
	Voice string

	// Instructions is the system-level prompt that defines the companion's
	// persona and behavioural constraints.
	Instructions string
}

// Event is a server event decoded at the transport boundary. The concrete
// types are [TurnComplete], [Interrupted], [AudioChunk], and [Text]; the set
// is closed.
type Event interface {
	isEvent()
}

// TurnComplete signals that the model finished its current turn. It is a
// continuation marker, not an error.
type TurnComplete struct{}

// Interrupted signals that the model's output was barged-in by user speech.
// Downstream playback must stop immediately.
type Interrupted struct{}

// AudioChunk carries one chunk of synthesised PCM audio (16-bit, 24 kHz,
// mono), already base64-decoded.
type AudioChunk struct {
	Data []byte
}

// Text carries transcription text attributed to a role, either from an inline
// model-turn part or from the native-audio output transcription stream.
type Text struct {
	// Role is "model" for model output; providers that surface input
	// transcription use "user".
	Role string

	// Content is the transcribed text.
	Content string
}

func (TurnComplete) isEvent() {}
func (Interrupted) isEvent()  {}
func (AudioChunk) isEvent()   {}
func (Text) isEvent()         {}

// SessionHandle represents an open live session. It is an interface so that
// test code can supply scripted implementations without a network connection.
//
// Every method must return quickly; server output is channel-based so slow
// consumers never stall the caller. All methods are safe for concurrent use.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a raw PCM chunk (16-bit, 16 kHz, mono) to the model
	// as realtime input. Returns an error if the session is closed or the
	// transport write fails.
	SendAudio(chunk []byte) error

	// SendTurns injects completed conversational turns. With turnComplete
	// true the model is free to respond immediately.
	SendTurns(turns []Turn, turnComplete bool) error

	// Events returns the channel on which decoded server events arrive. The
	// channel is closed when the session ends or a mid-stream error occurs;
	// call [SessionHandle.Err] afterwards to distinguish the two.
	Events() <-chan Event

	// Err returns the error that terminated the event stream, or nil if the
	// session ended cleanly.
	Err() error

	// Close terminates the session and releases all resources, closing the
	// Events channel. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any live speech backend.
//
// Implementations must be safe for concurrent use: the relay opens one
// session per client connection.
type Provider interface {
	// Connect establishes a new live session with the given configuration.
	// The returned SessionHandle is ready to accept audio immediately.
	// The caller owns the handle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
