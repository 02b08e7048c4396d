package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Zachwitte21/reminisce-poc/pkg/provider/live"
	"github.com/Zachwitte21/reminisce-poc/pkg/provider/live/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// sendSetupComplete sends the server-side setupComplete ack.
func sendSetupComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// newProvider creates a Provider pointing at the given test server.
func newProvider(srv *httptest.Server) *gemini.Provider {
	return gemini.New("test-api-key", gemini.WithBaseURL(wsURL(srv)))
}

// nextEvent waits for one event of type E, skipping events of other types.
func nextEvent[E live.Event](t *testing.T, handle live.SessionHandle) E {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-handle.Events():
			if !ok {
				t.Fatalf("event channel closed before %T arrived (err: %v)", *new(E), handle.Err())
			}
			if want, matched := ev.(E); matched {
				return want
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %T", *new(E))
		}
	}
}

// ── Connect ───────────────────────────────────────────────────────────────────

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       *struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
		} `json:"setup"`
	}

	received := make(chan setupMsg, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg setupMsg
		readJSON(t, conn, &msg)
		received <- msg
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	cfg := live.SessionConfig{
		Model:        "custom-model",
		Voice:        "Charon",
		Instructions: "You are a gentle companion.",
	}
	handle, err := p.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case msg := <-received:
		if want := "models/custom-model"; msg.Setup.Model != want {
			t.Errorf("model = %q; want %q", msg.Setup.Model, want)
		}
		if got := msg.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "audio" {
			t.Errorf("responseModalities = %v; want [audio]", got)
		}
		if sc := msg.Setup.GenerationConfig.SpeechConfig; sc == nil {
			t.Error("speechConfig is nil")
		} else if got := sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Charon" {
			t.Errorf("voiceName = %q; want Charon", got)
		}
		if msg.Setup.SystemInstruction == nil {
			t.Fatal("systemInstruction is nil")
		}
		if parts := msg.Setup.SystemInstruction.Parts; len(parts) == 0 || parts[0].Text != "You are a gentle companion." {
			t.Errorf("unexpected system instruction: %+v", msg.Setup.SystemInstruction)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for setup message")
	}
}

func TestConnect_DefaultModelWhenUnset(t *testing.T) {
	t.Parallel()

	modelCh := make(chan string, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg struct {
			Setup struct {
				Model string `json:"model"`
			} `json:"setup"`
		}
		readJSON(t, conn, &msg)
		modelCh <- msg.Setup.Model
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case model := <-modelCh:
		if !strings.HasPrefix(model, "models/") {
			t.Errorf("model %q should start with 'models/'", model)
		}
		if model == "models/" {
			t.Error("model name is empty")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for model in setup message")
	}
}

func TestConnect_IncludesAPIKeyInURL(t *testing.T) {
	t.Parallel()

	urlQuery := make(chan string, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		urlQuery <- r.URL.RawQuery
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("secret-key", gemini.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case q := <-urlQuery:
		if !strings.Contains(q, "key=secret-key") {
			t.Errorf("URL query %q should contain key=secret-key", q)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnect_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled

	_, err := p.Connect(ctx, live.SessionConfig{})
	if err == nil {
		t.Fatal("Connect with cancelled context should return an error")
	}
}

// ── SendAudio ─────────────────────────────────────────────────────────────────

func TestSendAudio_EncodesAndSends(t *testing.T) {
	t.Parallel()

	type realtimeInput struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}

	audioMsg := make(chan realtimeInput, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		// Consume setup.
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		// Read audio message.
		var msg realtimeInput
		readJSON(t, conn, &msg)
		audioMsg <- msg

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	wantPCM := []byte{0x01, 0x02, 0x03, 0x04}
	if err := handle.SendAudio(wantPCM); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-audioMsg:
		chunks := msg.RealtimeInput.MediaChunks
		if len(chunks) == 0 {
			t.Fatal("no media chunks in realtimeInput")
		}
		if chunks[0].MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("mimeType = %q; want audio/pcm;rate=16000", chunks[0].MIMEType)
		}
		got, err := base64.StdEncoding.DecodeString(chunks[0].Data)
		if err != nil {
			t.Fatalf("base64 decode: %v", err)
		}
		if string(got) != string(wantPCM) {
			t.Errorf("decoded audio = %v; want %v", got, wantPCM)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio message")
	}
}

func TestSendAudio_AfterClose_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := handle.SendAudio([]byte{1, 2, 3}); err == nil {
		t.Fatal("SendAudio after Close should return an error")
	}
}

func TestConcurrentSendAudio_DoesNotRace(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		// Consume setup, then drain all messages.
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		ctx := context.Background()
		for {
			_, _, err := conn.Read(ctx)
			if err != nil {
				return
			}
		}
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	const goroutines = 8
	const chunksPerGoroutine = 16

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < chunksPerGoroutine; j++ {
				_ = handle.SendAudio([]byte{0x01, 0x02, 0x03, 0x04})
			}
		}()
	}
	wg.Wait()
}

// ── SendTurns ─────────────────────────────────────────────────────────────────

func TestSendTurns_SendsClientContent(t *testing.T) {
	t.Parallel()

	type clientContentMsg struct {
		ClientContent struct {
			Turns []struct {
				Role  string `json:"role"`
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"turns"`
			TurnComplete bool `json:"turnComplete"`
		} `json:"clientContent"`
	}

	contentMsg := make(chan clientContentMsg, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		// Consume setup.
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		var msg clientContentMsg
		readJSON(t, conn, &msg)
		contentMsg <- msg

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	turns := []live.Turn{
		{Role: "user", Text: "Tell me about this photo."},
		{Role: "model", Text: "It looks like a lovely afternoon."},
	}
	if err := handle.SendTurns(turns, true); err != nil {
		t.Fatalf("SendTurns: %v", err)
	}

	select {
	case msg := <-contentMsg:
		got := msg.ClientContent.Turns
		if len(got) != 2 {
			t.Fatalf("expected 2 turns; got %d", len(got))
		}
		if got[0].Role != "user" {
			t.Errorf("turn[0] role = %q; want user", got[0].Role)
		}
		if got[1].Role != "model" {
			t.Errorf("turn[1] role = %q; want model", got[1].Role)
		}
		if got[0].Parts[0].Text != "Tell me about this photo." {
			t.Errorf("turn[0] text = %q", got[0].Parts[0].Text)
		}
		if !msg.ClientContent.TurnComplete {
			t.Error("turnComplete should be true")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for clientContent message")
	}
}

func TestSendTurns_AfterClose_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_ = handle.Close()

	if err := handle.SendTurns([]live.Turn{{Role: "user", Text: "hi"}}, true); err == nil {
		t.Error("SendTurns after Close should return an error")
	}
}

// ── Events ────────────────────────────────────────────────────────────────────

func TestEvents_DeliversDecodedAudio(t *testing.T) {
	t.Parallel()

	wantPCM := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	encoded := base64.StdEncoding.EncodeToString(wantPCM)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{
							"inlineData": map[string]any{
								"mimeType": "audio/pcm;rate=24000",
								"data":     encoded,
							},
						},
					},
				},
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	chunk := nextEvent[live.AudioChunk](t, handle)
	if string(chunk.Data) != string(wantPCM) {
		t.Errorf("audio chunk = %v; want %v", chunk.Data, wantPCM)
	}
}

func TestEvents_DeliversModelTextPart(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{"text": "Hello there, Margaret!"},
					},
				},
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	text := nextEvent[live.Text](t, handle)
	if text.Content != "Hello there, Margaret!" {
		t.Errorf("text = %q; want %q", text.Content, "Hello there, Margaret!")
	}
	if text.Role != "model" {
		t.Errorf("role = %q; want model", text.Role)
	}
}

func TestEvents_DeliversOutputTranscription(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"outputTranscription": map[string]any{
					"text": "That sounds like a wonderful memory.",
				},
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	text := nextEvent[live.Text](t, handle)
	if text.Content != "That sounds like a wonderful memory." {
		t.Errorf("text = %q", text.Content)
	}
	if text.Role != "model" {
		t.Errorf("role = %q; want model", text.Role)
	}
}

func TestEvents_DeliversInterrupted(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"interrupted": true,
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	nextEvent[live.Interrupted](t, handle)
}

func TestEvents_DeliversTurnComplete(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"turnComplete": true,
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	nextEvent[live.TurnComplete](t, handle)
}

func TestEvents_SkipsMalformedFrames(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = conn.Write(ctx, websocket.MessageText, []byte("{not json"))

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"turnComplete": true,
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	// The malformed frame is skipped; the next real event still arrives.
	nextEvent[live.TurnComplete](t, handle)
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := handle.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}
}

func TestClose_ClosesEventsChannel(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_ = handle.Close()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, open := <-handle.Events():
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for Events channel to close")
		}
	}
}

// ── Err ───────────────────────────────────────────────────────────────────────

func TestErr_NilBeforeClose(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if got := handle.Err(); got != nil {
		t.Errorf("Err() = %v; want nil before any error", got)
	}
}

func TestErr_SetOnServerError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"error": map[string]any{
				"code":    429,
				"message": "quota exceeded",
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	waitFor := time.After(3 * time.Second)
	for handle.Err() == nil {
		select {
		case <-waitFor:
			t.Fatal("timeout waiting for Err() to be set")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if !strings.Contains(handle.Err().Error(), "quota exceeded") {
		t.Errorf("Err() = %v; want it to mention quota exceeded", handle.Err())
	}
}
