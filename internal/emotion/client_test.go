package emotion

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/tutorloop/domain"
)

var upgrader = websocket.Upgrader{}

type staticSource struct{ sample []byte }

func (s staticSource) LatestSample() []byte { return s.sample }

// newEmotionServer runs script for each connection, passing the connection index
func newEmotionServer(t *testing.T, script func(idx int, conn *websocket.Conn)) (*httptest.Server, *int32) {
	t.Helper()
	var conns int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		idx := int(atomic.AddInt32(&conns, 1)) - 1
		script(idx, conn)
	}))
	t.Cleanup(server.Close)
	return server, &conns
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func next(t *testing.T, updates <-chan Update) Update {
	t.Helper()
	select {
	case u := <-updates:
		return u
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for update")
		return Update{}
	}
}

func distressOf(u Update) float64 {
	for _, e := range u.Emotions {
		if e.Name == "Distress" {
			return e.Score
		}
	}
	return -1
}

func startClient(t *testing.T, config Config, source SampleSource) (*Client, <-chan Update) {
	t.Helper()
	client := NewClient(config, source, zaptest.NewLogger(t))
	updates, unsubscribe := client.Subscribe(32)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		unsubscribe()
	})
	return client, updates
}

func TestClient_SmoothingAndAlert(t *testing.T) {
	server, _ := newEmotionServer(t, func(idx int, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"emotions":[{"name":"Calmness","score":0.6},{"name":"Distress","score":0.1}],"face_detected":true,"face_probability":0.97}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"emotions":[{"name":"Distress","score":0.8}],"face_detected":true}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"emotions":[{"name":"Distress","score":0.8}],"face_detected":true}`))
		conn.ReadMessage()
	})

	client, updates := startClient(t, Config{URL: wsURL(server), SampleInterval: time.Hour}, nil)

	first := next(t, updates)
	if first.Alert != nil {
		t.Error("Expected no alert below threshold")
	}
	if !first.FaceDetected || first.FaceProbability == nil || *first.FaceProbability != 0.97 {
		t.Errorf("Expected face fields to pass through, got %+v", first)
	}

	second := next(t, updates)
	if math.Abs(distressOf(second)-0.59) > 1e-9 {
		t.Errorf("Expected smoothed distress 0.59, got %v", distressOf(second))
	}
	if second.Alert == nil {
		t.Fatal("Expected distress alert")
	}
	if second.Alert.Title != "Emotion Detected" {
		t.Errorf("Unexpected alert title %q", second.Alert.Title)
	}

	// per-frame policy keeps alerting while above threshold
	third := next(t, updates)
	if third.Alert == nil {
		t.Error("Expected alert on every frame above threshold")
	}

	if calm := client.State()["Calmness"]; calm != 0.6 {
		t.Errorf("Expected Calmness to keep 0.6, got %v", calm)
	}
}

func TestClient_EdgePolicy(t *testing.T) {
	server, _ := newEmotionServer(t, func(idx int, conn *websocket.Conn) {
		for _, raw := range []string{"0.9", "0.9", "0.0", "0.0", "0.9"} {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"emotions":[{"name":"Distress","score":`+raw+`}]}`))
		}
		conn.ReadMessage()
	})

	_, updates := startClient(t, Config{URL: wsURL(server), SampleInterval: time.Hour, AlertPolicy: AlertEdge}, nil)

	// smoothed: 0.9, 0.9, 0.27, 0.081, 0.6543
	want := []bool{true, false, false, false, true}
	for i, w := range want {
		u := next(t, updates)
		if (u.Alert != nil) != w {
			t.Errorf("frame %d: expected alert %v, got %v (distress %v)", i, w, u.Alert != nil, distressOf(u))
		}
	}
}

func TestClient_ParseErrorSkipsSmoothing(t *testing.T) {
	server, _ := newEmotionServer(t, func(idx int, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"emotions":[{"name":"Distress","score":0.2}]}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"emotions":[`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"emotions":[],"face_detected":false,"error":"No face detected"}`))
		conn.ReadMessage()
	})

	client, updates := startClient(t, Config{URL: wsURL(server), SampleInterval: time.Hour}, nil)

	next(t, updates)
	bad := next(t, updates)
	if !errors.Is(bad.Err, domain.ErrParse) {
		t.Errorf("Expected ErrParse, got %v", bad.Err)
	}

	noFace := next(t, updates)
	if noFace.Err != nil || noFace.ServiceError != "No face detected" || noFace.FaceDetected {
		t.Errorf("Unexpected no-face update: %+v", noFace)
	}

	if d := client.State()["Distress"]; d != 0.2 {
		t.Errorf("Expected Distress to stay 0.2, got %v", d)
	}
}

func TestClient_ReconnectResetsState(t *testing.T) {
	server, conns := newEmotionServer(t, func(idx int, conn *websocket.Conn) {
		if idx == 0 {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"emotions":[{"name":"Distress","score":0.9}]}`))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"emotions":[{"name":"Distress","score":0.2}]}`))
		conn.ReadMessage()
	})

	_, updates := startClient(t, Config{URL: wsURL(server), SampleInterval: time.Hour, ReconnectDelay: 20 * time.Millisecond}, nil)

	if d := distressOf(next(t, updates)); d != 0.9 {
		t.Errorf("Expected 0.9 on first connection, got %v", d)
	}
	if d := distressOf(next(t, updates)); d != 0.2 {
		t.Errorf("Expected state reset to raw 0.2 after reconnect, got %v", d)
	}
	if atomic.LoadInt32(conns) < 2 {
		t.Errorf("Expected a second connection, got %d", atomic.LoadInt32(conns))
	}
}

func TestClient_SendsSamples(t *testing.T) {
	var mu sync.Mutex
	var received [][]byte
	got := make(chan struct{}, 8)

	server, _ := newEmotionServer(t, func(idx int, conn *websocket.Conn) {
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.BinaryMessage {
				mu.Lock()
				received = append(received, data)
				mu.Unlock()
				got <- struct{}{}
			}
		}
	})

	startClient(t, Config{URL: wsURL(server), SampleInterval: 20 * time.Millisecond}, staticSource{sample: []byte("jpeg")})

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(3 * time.Second):
			t.Fatal("Timed out waiting for samples")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if string(received[0]) != "jpeg" {
		t.Errorf("Expected sample payload, got %q", received[0])
	}
}

func TestClient_UnreachableKeepsRetrying(t *testing.T) {
	client := NewClient(Config{URL: "ws://127.0.0.1:1/ws", ReconnectDelay: 10 * time.Millisecond}, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := client.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected Run to end with the context, got %v", err)
	}
}

func TestClient_ImmediateReconnect(t *testing.T) {
	server, conns := newEmotionServer(t, func(idx int, conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	client := NewClient(Config{URL: wsURL(server), SampleInterval: time.Hour, ReconnectDelay: ImmediateReconnect}, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	client.Run(ctx)

	// The default delay would allow a single connection in this window
	if n := atomic.LoadInt32(conns); n < 3 {
		t.Errorf("Expected immediate redials, got %d connections", n)
	}
}

func TestNewClient_ReconnectDelayDefault(t *testing.T) {
	if c := NewClient(Config{URL: "ws://x"}, nil, zaptest.NewLogger(t)); c.config.ReconnectDelay != defaultReconnectDelay {
		t.Errorf("Expected default delay, got %v", c.config.ReconnectDelay)
	}
	if c := NewClient(Config{URL: "ws://x", ReconnectDelay: ImmediateReconnect}, nil, zaptest.NewLogger(t)); c.config.ReconnectDelay != ImmediateReconnect {
		t.Errorf("Expected immediate reconnect to be kept, got %v", c.config.ReconnectDelay)
	}
}

func TestParseAlertPolicy(t *testing.T) {
	if ParseAlertPolicy("edge") != AlertEdge {
		t.Error("Expected edge policy")
	}
	if ParseAlertPolicy("") != AlertPerFrame || ParseAlertPolicy("bogus") != AlertPerFrame {
		t.Error("Expected per-frame default")
	}
}
