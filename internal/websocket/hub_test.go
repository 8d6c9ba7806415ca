package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/tutorloop/adapters/contextstore"
	"github.com/satriahrh/tutorloop/adapters/llm"
	"github.com/satriahrh/tutorloop/adapters/stt"
	"github.com/satriahrh/tutorloop/adapters/tts"
	"github.com/satriahrh/tutorloop/domain/repositories"
	"github.com/satriahrh/tutorloop/internal/emotion"
	"github.com/satriahrh/tutorloop/usecase"
)

type testEnv struct {
	hub           *Hub
	conversations *usecase.ConversationService
	tts           *tts.MockTextToSpeech
	server        *httptest.Server
	cancel        context.CancelFunc
}

func setupTestHub(t *testing.T, config HubConfig) *testEnv {
	t.Helper()
	// Client goroutines outlive the test body, so they cannot log through t.
	logger := zap.NewNop()

	chat := usecase.NewChatService(
		llm.NewMockChatCompletion("Hel", "lo"),
		contextstore.NewMemoryContextStore(),
		repositories.SamplingConfig{Model: "test", MaxTokens: 64, Temperature: 0.7, TopP: 0.9},
		logger,
	)
	conversations := usecase.NewConversationService(chat, logger)
	speech := tts.NewMockTextToSpeech(logger)
	if config.Audio.SampleRate == 0 {
		config.Audio = repositories.AudioConfig{SampleRate: 16000, Encoding: "LINEAR16", Language: "en-US"}
	}
	hub := NewHub(conversations, stt.NewMockSpeechToText(logger, "the", "mitochondria"), speech, config, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		return HandleWebSocket(hub, c, logger)
	})
	server := httptest.NewServer(e)

	t.Cleanup(func() {
		cancel()
		server.Close()
	})

	return &testEnv{hub: hub, conversations: conversations, tts: speech, server: server, cancel: cancel}
}

func (env *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocket connection failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

type frameLog struct {
	texts  []map[string]interface{}
	binary int
}

func (l frameLog) ofType(msgType MessageType) []map[string]interface{} {
	var out []map[string]interface{}
	for _, f := range l.texts {
		if f["type"] == string(msgType) {
			out = append(out, f)
		}
	}
	return out
}

// readUntil collects frames until stop returns true for the log so far
func readUntil(t *testing.T, ws *websocket.Conn, stop func(frameLog) bool) frameLog {
	t.Helper()
	var log frameLog
	for !stop(log) {
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read frame: %v (got %d text frames)", err, len(log.texts))
		}
		if messageType == websocket.BinaryMessage {
			log.binary++
			continue
		}
		var frame map[string]interface{}
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("Failed to unmarshal frame: %v", err)
		}
		log.texts = append(log.texts, frame)
	}
	return log
}

func sawType(msgType MessageType) func(frameLog) bool {
	return func(l frameLog) bool { return len(l.ofType(msgType)) > 0 }
}

func sendJSON(t *testing.T, ws *websocket.Conn, v interface{}) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}
}

func connect(t *testing.T, env *testEnv) (*websocket.Conn, string) {
	t.Helper()
	ws := env.dial(t)
	log := readUntil(t, ws, sawType(MessageTypeNotice))
	notice := log.ofType(MessageTypeNotice)[0]
	if notice["status"] != "connected" {
		t.Fatalf("Expected connected notice, got %v", notice)
	}
	id, _ := notice["conversation_id"].(string)
	if id == "" {
		t.Fatal("Connected notice carries no conversation_id")
	}
	return ws, id
}

func TestHub_NewHub(t *testing.T) {
	hub := NewHub(nil, nil, nil, HubConfig{}, zap.NewNop())

	if hub.clients == nil {
		t.Error("Hub clients map not initialized")
	}
	if hub.register == nil {
		t.Error("Hub register channel not initialized")
	}
	if hub.unregister == nil {
		t.Error("Hub unregister channel not initialized")
	}
	if hub.config.CaptureBuffer != defaultCaptureBuffer {
		t.Errorf("Expected capture buffer %d, got %d", defaultCaptureBuffer, hub.config.CaptureBuffer)
	}
}

func TestClient_ChatMessageStreamsReply(t *testing.T) {
	env := setupTestHub(t, HubConfig{})
	ws, id := connect(t, env)

	sendJSON(t, ws, map[string]string{"type": "chat_message", "text": "What is osmosis?"})

	log := readUntil(t, ws, func(l frameLog) bool {
		return len(l.ofType(MessageTypeAssistantMessage)) > 0 && len(l.ofType(MessageTypeSpeakingEnd)) > 0
	})

	deltas := log.ofType(MessageTypeAssistantDelta)
	if len(deltas) != 2 || deltas[0]["text"] != "Hel" || deltas[1]["text"] != "lo" {
		t.Errorf("Expected deltas Hel, lo; got %v", deltas)
	}

	reply := log.ofType(MessageTypeAssistantMessage)[0]["message"].(map[string]interface{})
	if reply["content"] != "Hello" {
		t.Errorf("Expected reply 'Hello', got %v", reply["content"])
	}
	if reply["role"] != "assistant" {
		t.Errorf("Expected assistant role, got %v", reply["role"])
	}

	if len(log.ofType(MessageTypeSpeakingStart)) != 1 {
		t.Errorf("Expected one speaking_start frame")
	}
	if log.binary == 0 {
		t.Error("Expected audio frames between speaking_start and speaking_end")
	}

	snapshot, ok := env.conversations.Snapshot(id)
	if !ok {
		t.Fatalf("Conversation %s not found", id)
	}
	if len(snapshot.Messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(snapshot.Messages))
	}
	if snapshot.Messages[0].Content != "What is osmosis?" || snapshot.Messages[1].Content != "Hello" {
		t.Errorf("Unexpected history: %+v", snapshot.Messages)
	}
	if texts := env.tts.Texts(); len(texts) != 1 || texts[0] != "Hello" {
		t.Errorf("Expected 'Hello' to be spoken, got %v", texts)
	}
}

func TestClient_VoiceTurn(t *testing.T) {
	env := setupTestHub(t, HubConfig{})
	ws, id := connect(t, env)

	sendJSON(t, ws, map[string]interface{}{"type": "listening_start", "sample_rate": 16000})
	log := readUntil(t, ws, sawType(MessageTypeListeningStart))
	if status := log.ofType(MessageTypeListeningStart)[0]["status"]; status != "recording" {
		t.Errorf("Expected status recording, got %v", status)
	}

	if err := ws.WriteMessage(websocket.BinaryMessage, make([]byte, 640)); err != nil {
		t.Fatalf("Failed to write audio: %v", err)
	}
	// Let the capture pump drain the chunk before the recording ends.
	time.Sleep(50 * time.Millisecond)

	sendJSON(t, ws, map[string]string{"type": "listening_end"})
	log = readUntil(t, ws, func(l frameLog) bool {
		return len(l.ofType(MessageTypeListeningEnd)) > 0 && len(l.ofType(MessageTypeAssistantMessage)) > 0
	})

	transcripts := log.ofType(MessageTypeTranscript)
	if len(transcripts) != 1 || transcripts[0]["text"] != "the mitochondria" {
		t.Errorf("Expected transcript 'the mitochondria', got %v", transcripts)
	}

	snapshot, _ := env.conversations.Snapshot(id)
	if len(snapshot.Messages) == 0 || snapshot.Messages[0].Content != "the mitochondria" {
		t.Errorf("Expected transcript to open the conversation, got %+v", snapshot.Messages)
	}
}

func TestClient_ControlErrors(t *testing.T) {
	env := setupTestHub(t, HubConfig{})
	ws, _ := connect(t, env)

	tests := []struct {
		name     string
		frame    string
		wantCode string
	}{
		{"invalid json", `{invalid json}`, ErrorCodeInvalidMessage},
		{"unsupported type", `{"type": "audio_chunk"}`, ErrorCodeInvalidMessage},
		{"end without start", `{"type": "listening_end"}`, ErrorCodeNotRecording},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.frame)); err != nil {
				t.Fatalf("Failed to write frame: %v", err)
			}
			log := readUntil(t, ws, sawType(MessageTypeError))
			if code := log.ofType(MessageTypeError)[0]["error_code"]; code != tt.wantCode {
				t.Errorf("Expected error_code %s, got %v", tt.wantCode, code)
			}
		})
	}
}

func TestClient_AlreadyRecording(t *testing.T) {
	env := setupTestHub(t, HubConfig{})
	ws, _ := connect(t, env)

	sendJSON(t, ws, map[string]string{"type": "listening_start"})
	readUntil(t, ws, sawType(MessageTypeListeningStart))

	sendJSON(t, ws, map[string]string{"type": "listening_start"})
	log := readUntil(t, ws, sawType(MessageTypeError))
	if code := log.ofType(MessageTypeError)[0]["error_code"]; code != ErrorCodeAlreadyRecording {
		t.Errorf("Expected error_code %s, got %v", ErrorCodeAlreadyRecording, code)
	}
}

func TestClient_Ping(t *testing.T) {
	env := setupTestHub(t, HubConfig{})
	ws, _ := connect(t, env)

	sendJSON(t, ws, map[string]string{"type": "ping", "data": "test-ping"})
	log := readUntil(t, ws, sawType(MessageTypePong))
	if data := log.ofType(MessageTypePong)[0]["data"]; data != "test-ping" {
		t.Errorf("Expected data 'test-ping', got %v", data)
	}
}

func TestHub_BroadcastNotice(t *testing.T) {
	env := setupTestHub(t, HubConfig{})
	first, _ := connect(t, env)
	second, _ := connect(t, env)

	env.hub.BroadcastNotice("error", "upload failed")

	for _, ws := range []*websocket.Conn{first, second} {
		log := readUntil(t, ws, sawType(MessageTypeNotice))
		notice := log.ofType(MessageTypeNotice)[0]
		if notice["status"] != "error" || notice["message"] != "upload failed" {
			t.Errorf("Unexpected notice %v", notice)
		}
	}
}

func TestHub_DisconnectClosesConversation(t *testing.T) {
	env := setupTestHub(t, HubConfig{})
	ws, id := connect(t, env)

	if env.hub.ClientCount() != 1 {
		t.Fatalf("Expected 1 client, got %d", env.hub.ClientCount())
	}

	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if env.hub.ClientCount() != 0 {
		t.Errorf("Expected 0 clients, got %d", env.hub.ClientCount())
	}
	if _, ok := env.conversations.Snapshot(id); ok {
		t.Error("Conversation should be closed with its client")
	}
}

func TestHub_ShutdownClosesConnections(t *testing.T) {
	env := setupTestHub(t, HubConfig{})
	ws, _ := connect(t, env)

	env.cancel()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
				t.Errorf("Expected normal closure, got %v", err)
			}
			return
		}
	}
}

func TestClient_ForwardsEmotionUpdates(t *testing.T) {
	samples := make(chan []byte, 8)
	emotionServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case samples <- data:
			default:
			}
			conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"emotions":[{"name":"Calmness","score":0.1},{"name":"Distress","score":0.8}],"face_detected":true}`))
		}
	}))
	defer emotionServer.Close()

	env := setupTestHub(t, HubConfig{
		Emotion: &emotion.Config{
			URL:            "ws" + strings.TrimPrefix(emotionServer.URL, "http"),
			SampleInterval: 20 * time.Millisecond,
			ReconnectDelay: 20 * time.Millisecond,
		},
	})
	ws, _ := connect(t, env)

	sendJSON(t, ws, map[string]string{"type": "media_sample", "data": "SGVsbG8="})

	log := readUntil(t, ws, sawType(MessageTypeDistressAlert))

	select {
	case sample := <-samples:
		if string(sample) != "Hello" {
			t.Errorf("Expected sample 'Hello', got %q", sample)
		}
	case <-time.After(time.Second):
		t.Fatal("Emotion service received no sample")
	}

	updates := log.ofType(MessageTypeEmotionUpdate)
	if len(updates) == 0 {
		t.Fatal("Expected an emotion_update before the alert")
	}
	if updates[0]["face_detected"] != true {
		t.Errorf("Expected face_detected true, got %v", updates[0]["face_detected"])
	}

	alert := log.ofType(MessageTypeDistressAlert)[0]
	if alert["title"] != "Emotion Detected" {
		t.Errorf("Expected title 'Emotion Detected', got %v", alert["title"])
	}
	if score, _ := alert["score"].(float64); score <= 0.5 {
		t.Errorf("Expected distress score above 0.5, got %v", alert["score"])
	}
}

func BenchmarkMessageValidation(b *testing.B) {
	validator := NewMessageValidator()

	listeningStart := []byte(`{
		"type": "listening_start",
		"sample_rate": 16000,
		"encoding": "LINEAR16",
		"language": "en-US"
	}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := validator.ValidateMessage(listeningStart); err != nil {
			b.Errorf("Validation failed: %v", err)
		}
	}
}
