// Package emotion keeps a live, smoothed view of the learner's emotional
// state fed by a remote inference service.
package emotion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/tutorloop/domain"
	"github.com/satriahrh/tutorloop/domain/entities"
)

const (
	writeWait = 5 * time.Second

	defaultSampleInterval = 5 * time.Second
	defaultReconnectDelay = time.Second

	// ImmediateReconnect makes the client redial as soon as a dial fails or a
	// connection drops
	ImmediateReconnect time.Duration = -1
)

// AlertPolicy decides when a distress alert is raised
type AlertPolicy string

const (
	// AlertPerFrame alerts on every frame whose smoothed distress is above threshold
	AlertPerFrame AlertPolicy = "per_frame"
	// AlertEdge alerts only when smoothed distress crosses the threshold upwards
	AlertEdge AlertPolicy = "edge"
)

// ParseAlertPolicy maps a config value onto a policy, defaulting to per-frame
func ParseAlertPolicy(v string) AlertPolicy {
	if AlertPolicy(v) == AlertEdge {
		return AlertEdge
	}
	return AlertPerFrame
}

// Config configures a telemetry client
type Config struct {
	URL            string
	SampleInterval time.Duration
	ReconnectDelay time.Duration // zero means the default, ImmediateReconnect means no wait
	AlertPolicy    AlertPolicy
}

// SampleSource provides the most recent media sample to send, or nil
type SampleSource interface {
	LatestSample() []byte
}

// DistressAlert is the user-facing break suggestion
type DistressAlert struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// Update is published for every inbound message
type Update struct {
	Emotions        []entities.EmotionScore
	FaceDetected    bool
	FaceProbability *float64
	// ServiceError is the error reported by the service itself, e.g. no face
	ServiceError string
	// Err is set when the message could not be parsed; nothing was smoothed
	Err   error
	Alert *DistressAlert
}

// Client maintains a reconnecting socket to the emotion service
type Client struct {
	config Config
	source SampleSource
	logger *zap.Logger
	dialer *websocket.Dialer
	state  *entities.SmoothedEmotionState

	mu        sync.Mutex
	subs      map[int]chan Update
	nextSub   int
	lastAbove bool
}

// NewClient creates a client; Run starts it
func NewClient(config Config, source SampleSource, logger *zap.Logger) *Client {
	if config.SampleInterval <= 0 {
		config.SampleInterval = defaultSampleInterval
	}
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = defaultReconnectDelay
	}
	if config.AlertPolicy == "" {
		config.AlertPolicy = AlertPerFrame
	}
	return &Client{
		config: config,
		source: source,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		state:  entities.NewSmoothedEmotionState(),
		subs:   make(map[int]chan Update),
	}
}

// Subscribe registers for updates. Updates are dropped for subscribers that
// fall behind. The returned func unsubscribes.
func (c *Client) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Update, buffer)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

// State returns a copy of the smoothed scores
func (c *Client) State() map[string]float64 {
	return c.state.Snapshot()
}

// Run connects and keeps reconnecting until ctx is done
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := c.dialer.DialContext(ctx, c.config.URL, nil)
		if err != nil {
			attempt++
			c.logger.Warn("Emotion service unreachable, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("delay", c.config.ReconnectDelay),
				zap.Error(err))
		} else {
			attempt = 0
			c.resetState()
			c.logger.Info("Emotion service connected", zap.String("url", c.config.URL))
			c.serve(ctx, conn)
			c.logger.Info("Emotion service disconnected")
		}

		if c.config.ReconnectDelay < 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config.ReconnectDelay):
		}
	}
}

func (c *Client) resetState() {
	c.state.Reset()
	c.mu.Lock()
	c.lastAbove = false
	c.mu.Unlock()
}

// serve runs one connection until it drops or ctx is done
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	go c.sendSamples(connCtx, cancel, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if connCtx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("Emotion socket read failed", zap.Error(err))
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) sendSamples(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	ticker := time.NewTicker(c.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.source == nil {
				continue
			}
			sample := c.source.LatestSample()
			if len(sample) == 0 {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, sample); err != nil {
				c.logger.Warn("Failed to send media sample", zap.Error(err))
				cancel()
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var frame entities.EmotionFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn("Malformed emotion frame", zap.Error(err))
		c.publish(Update{Err: fmt.Errorf("%w: %v", domain.ErrParse, err)})
		return
	}

	update := Update{
		Emotions:        c.state.Apply(frame),
		FaceDetected:    frame.FaceDetected,
		FaceProbability: frame.FaceProbability,
		ServiceError:    frame.Error,
	}
	update.Alert = c.evaluateDistress(frame)
	c.publish(update)
}

func (c *Client) evaluateDistress(frame entities.EmotionFrame) *DistressAlert {
	present := false
	for _, e := range frame.Emotions {
		if e.Name == entities.DistressEmotion {
			present = true
			break
		}
	}
	if !present {
		return nil
	}

	score, _ := c.state.Score(entities.DistressEmotion)
	above := score > entities.DistressThreshold

	c.mu.Lock()
	wasAbove := c.lastAbove
	c.lastAbove = above
	c.mu.Unlock()

	if !above || (c.config.AlertPolicy == AlertEdge && wasAbove) {
		return nil
	}
	return &DistressAlert{
		Title:       "Emotion Detected",
		Description: "You seem distressed. Consider taking a break!",
		Score:       score,
	}
}

func (c *Client) publish(update Update) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.subs {
		select {
		case ch <- update:
		default:
			c.logger.Debug("Dropping emotion update for slow subscriber")
		}
	}
}
