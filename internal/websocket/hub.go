package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/tutorloop/adapters/capture"
	"github.com/satriahrh/tutorloop/domain"
	"github.com/satriahrh/tutorloop/domain/entities"
	"github.com/satriahrh/tutorloop/domain/repositories"
	"github.com/satriahrh/tutorloop/internal/emotion"
	"github.com/satriahrh/tutorloop/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks and media samples

	defaultCaptureBuffer = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// HubConfig holds the per-learner defaults
type HubConfig struct {
	Audio                repositories.AudioConfig
	TranscriptionTimeout time.Duration
	CaptureBuffer        int

	// Emotion is nil when no emotion service is configured.
	Emotion *emotion.Config
}

// Hub maintains the set of active learners.
type Hub struct {
	// Registered clients, keyed by conversation ID.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed when Run returns.
	done chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	conversations *usecase.ConversationService
	stt           repositories.SpeechToText
	tts           repositories.TextToSpeech
	config        HubConfig
	validator     *MessageValidator

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(
	conversations *usecase.ConversationService,
	stt repositories.SpeechToText,
	tts repositories.TextToSpeech,
	config HubConfig,
	logger *zap.Logger,
) *Hub {
	if config.CaptureBuffer <= 0 {
		config.CaptureBuffer = defaultCaptureBuffer
	}
	return &Hub{
		clients:       make(map[string]*Client),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		done:          make(chan struct{}),
		conversations: conversations,
		stt:           stt,
		tts:           tts,
		config:        config,
		validator:     NewMessageValidator(),
		logger:        logger,
	}
}

// Run starts the hub's main loop. It returns when ctx is done, after
// shutting down every connected client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("conversationID", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client.id]
			delete(h.clients, client.id)
			h.mu.Unlock()
			if ok {
				client.shutdown()
			}
			h.logger.Info("Client unregistered", zap.String("conversationID", client.id))

		case <-ctx.Done():
			h.mu.Lock()
			clients := h.clients
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			for _, client := range clients {
				client.shutdown()
			}
			h.logger.Info("Hub stopped", zap.Int("clients", len(clients)))
			return
		}
	}
}

// ClientCount returns the number of connected learners
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastNotice sends a notice frame to every connected learner
func (h *Hub) BroadcastNotice(status, message string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.sendJSON(CreateNoticeMessage(status, message))
	}
}

func (h *Hub) registerClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.shutdown()
	}
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub. It
// owns everything one learner needs: the conversation, the recording
// pipeline, speech output and emotion telemetry.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Never closed; writers give up
	// once ctx is done.
	send chan WriteData

	// Conversation ID for this client
	id string

	logger *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	conversation  *entities.Conversation
	device        *capture.StreamCaptureDevice
	transcription *usecase.TranscriptionSession
	speaker       *usecase.Speaker
	emotion       *emotion.Client
	unsubscribe   func()

	sampleMu     sync.RWMutex
	latestSample []byte
}

// HandleWebSocket handles websocket requests from the peer.
func HandleWebSocket(hub *Hub, c echo.Context, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := newClient(hub, conn, logger)
	if !hub.registerClient(client) {
		client.shutdown()
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	client.start()
	return nil
}

func newClient(hub *Hub, conn *websocket.Conn, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	conversation := hub.conversations.Open()
	logger = logger.With(zap.String("conversationID", conversation.ID))

	c := &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan WriteData, 256),
		id:           conversation.ID,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		conversation: conversation,
		device:       capture.NewStreamCaptureDevice(hub.config.CaptureBuffer, logger),
	}
	c.transcription = usecase.NewTranscriptionSession(c.device, hub.stt, c, hub.config.TranscriptionTimeout, logger)
	c.speaker = usecase.NewSpeaker(ctx, hub.tts, c, logger)
	if hub.config.Emotion != nil {
		c.emotion = emotion.NewClient(*hub.config.Emotion, c, logger)
	}
	return c
}

func (c *Client) start() {
	if c.emotion != nil {
		updates, unsubscribe := c.emotion.Subscribe(16)
		c.unsubscribe = unsubscribe
		go c.forwardEmotion(updates)
		go func() {
			if err := c.emotion.Run(c.ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Warn("Emotion client stopped", zap.Error(err))
			}
		}()
	}

	go c.writePump()
	go c.readPump()

	notice := CreateNoticeMessage("connected", "Connected")
	notice.ConversationID = c.id
	c.sendJSON(notice)
}

// shutdown stops every per-learner component. Safe to call more than once.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.transcription.Close()
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		c.hub.conversations.Close(c.id)
	})
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processBinaryAudioChunk(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) enqueue(data WriteData) bool {
	select {
	case c.send <- data:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Client) sendJSON(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	c.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload})
}

func (c *Client) sendError(code, message string, err error) {
	details := ""
	if err != nil {
		details = err.Error()
	}
	c.sendJSON(CreateErrorMessage(code, message, details))
}

// processMessage processes incoming control messages from the learner
func (c *Client) processMessage(message []byte) {
	validated, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Invalid message", zap.Error(err))
		c.sendError(ErrorCodeInvalidMessage, "invalid message", err)
		return
	}

	switch msg := validated.(type) {
	case *ListeningStartMessage:
		c.handleListeningStart(msg)
	case *ListeningEndMessage:
		c.handleListeningEnd()
	case *ChatMessage:
		go c.respond(msg.Text)
	case *MediaSampleMessage:
		c.sampleMu.Lock()
		c.latestSample = msg.Sample()
		c.sampleMu.Unlock()
	case *PingMessage:
		c.sendJSON(CreatePongMessage(msg.Data))
	}
}

// processBinaryAudioChunk hands audio to the active recording, if any
func (c *Client) processBinaryAudioChunk(data []byte) {
	if !c.device.Push(data) {
		c.logger.Debug("Dropped audio chunk", zap.Int("size", len(data)))
	}
}

func (c *Client) handleListeningStart(msg *ListeningStartMessage) {
	audioConfig := c.hub.config.Audio
	if msg.SampleRate > 0 {
		audioConfig.SampleRate = msg.SampleRate
	}
	if msg.Encoding != "" {
		audioConfig.Encoding = strings.ToUpper(msg.Encoding)
	}
	if msg.Language != "" {
		audioConfig.Language = msg.Language
	}

	if err := c.transcription.StartRecording(c.ctx, audioConfig); err != nil {
		c.logger.Warn("Failed to start recording", zap.Error(err))
		c.sendError(errorCode(err, ErrorCodeDeviceUnavailable), "failed to start listening", err)
		return
	}

	c.logger.Info("Listening started",
		zap.Int("sampleRate", audioConfig.SampleRate),
		zap.String("encoding", audioConfig.Encoding),
		zap.String("language", audioConfig.Language))
	c.sendJSON(CreateStatusMessage(MessageTypeListeningStart, string(c.transcription.Status())))
}

func (c *Client) handleListeningEnd() {
	if err := c.transcription.StopRecording(c.ctx); err != nil {
		c.logger.Warn("Failed to stop recording", zap.Error(err))
		c.sendError(errorCode(err, ErrorCodeTranscriptionFailed), "failed to stop listening", err)
		return
	}
	c.sendJSON(CreateStatusMessage(MessageTypeListeningEnd, string(c.transcription.Status())))
}

// respond runs one chat turn and forwards the reply as it is generated
func (c *Client) respond(text string) {
	reply, err := c.hub.conversations.Respond(c.ctx, c.conversation, text, usecase.TurnOptions{
		OnDelta: func(delta string) {
			c.sendJSON(CreateAssistantDeltaMessage(delta))
		},
		Speaker: c.speaker,
	})
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("Chat turn failed", zap.Error(err))
		c.sendError(errorCode(err, ErrorCodeChatFailed), "failed to generate reply", err)
		return
	}
	c.sendJSON(CreateAssistantMessage(reply))
}

// OnTranscript implements usecase.TranscriptHandler
func (c *Client) OnTranscript(text string) {
	c.sendJSON(CreateTranscriptMessage(text))
	go c.respond(text)
}

// OnTranscriptionError implements usecase.TranscriptHandler
func (c *Client) OnTranscriptionError(err error) {
	c.sendError(ErrorCodeTranscriptionFailed, "transcription failed", err)
}

// SpeakingStarted implements usecase.AudioSink
func (c *Client) SpeakingStarted() {
	c.sendJSON(newBase(MessageTypeSpeakingStart))
}

// AudioChunk implements usecase.AudioSink
func (c *Client) AudioChunk(chunk []byte) {
	c.enqueue(WriteData{Type: websocket.BinaryMessage, Payload: chunk})
}

// SpeakingEnded implements usecase.AudioSink
func (c *Client) SpeakingEnded() {
	c.sendJSON(newBase(MessageTypeSpeakingEnd))
}

// LatestSample implements emotion.SampleSource
func (c *Client) LatestSample() []byte {
	c.sampleMu.RLock()
	defer c.sampleMu.RUnlock()
	return c.latestSample
}

func (c *Client) forwardEmotion(updates <-chan emotion.Update) {
	for update := range updates {
		msg := &EmotionUpdateMessage{
			BaseMessage:     newBase(MessageTypeEmotionUpdate),
			Emotions:        update.Emotions,
			FaceDetected:    update.FaceDetected,
			FaceProbability: update.FaceProbability,
			Error:           update.ServiceError,
		}
		if update.Err != nil {
			msg.Error = update.Err.Error()
		}
		if msg.Emotions == nil {
			msg.Emotions = []entities.EmotionScore{}
		}
		c.sendJSON(msg)

		if update.Alert != nil {
			c.sendJSON(CreateDistressAlertMessage(update.Alert.Title, update.Alert.Description, update.Alert.Score))
		}
	}
}

// errorCode maps domain errors onto protocol error codes
func errorCode(err error, fallback string) string {
	switch {
	case errors.Is(err, domain.ErrDeviceUnavailable):
		return ErrorCodeDeviceUnavailable
	case errors.Is(err, domain.ErrAlreadyRecording):
		return ErrorCodeAlreadyRecording
	case errors.Is(err, domain.ErrNotRecording):
		return ErrorCodeNotRecording
	case errors.Is(err, domain.ErrSessionBusy):
		return ErrorCodeSessionBusy
	case errors.Is(err, domain.ErrEmptyRecording):
		return ErrorCodeEmptyRecording
	case errors.Is(err, domain.ErrEmptyMessage):
		return ErrorCodeEmptyMessage
	case errors.Is(err, domain.ErrTurnInProgress):
		return ErrorCodeTurnInProgress
	default:
		return fallback
	}
}
