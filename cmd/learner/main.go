// Command learner is a terminal client for the tutoring socket. It sends one
// typed question or one recorded utterance and prints what comes back.
package main

import (
	"encoding/json"
	"flag"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "server address")
	text := flag.String("text", "", "question to send as a chat message")
	audioPath := flag.String("audio", "", "raw audio file to send as one recording")
	sampleRate := flag.Int("sample-rate", 16000, "sample rate of the audio file")
	encoding := flag.String("encoding", "LINEAR16", "encoding of the audio file")
	chunkSize := flag.Int("chunk", 1024, "audio chunk size in bytes")
	timeout := flag.Duration("timeout", 60*time.Second, "how long to wait for the reply")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if *text == "" && *audioPath == "" {
		logger.Fatal("one of -text or -audio is required")
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	logger.Info("Connecting", zap.String("url", u.String()))

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		logger.Fatal("dial", zap.Error(err))
	}
	defer c.Close()

	done := make(chan struct{})
	go readFrames(c, logger, done)

	if *text != "" {
		if err := c.WriteJSON(map[string]string{"type": "chat_message", "text": *text}); err != nil {
			logger.Fatal("Failed to send chat message", zap.Error(err))
		}
	} else {
		if err := sendRecording(c, *audioPath, *sampleRate, *encoding, *chunkSize, logger); err != nil {
			logger.Fatal("Failed to send recording", zap.Error(err))
		}
	}

	select {
	case <-done:
	case <-time.After(*timeout):
		logger.Warn("Timed out waiting for the reply")
	case <-interrupt:
		logger.Info("interrupt")
	}

	// Cleanly close the connection by sending a close message and then
	// waiting (with timeout) for the server to close the connection.
	c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}

func sendRecording(c *websocket.Conn, path string, sampleRate int, encoding string, chunkSize int, logger *zap.Logger) error {
	audio, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	logger.Info("Read audio file", zap.String("path", path), zap.Int("bytes", len(audio)))

	if err := c.WriteJSON(map[string]interface{}{
		"type":        "listening_start",
		"sample_rate": sampleRate,
		"encoding":    encoding,
	}); err != nil {
		return err
	}
	// Give the server time to acquire the capture device.
	time.Sleep(200 * time.Millisecond)

	chunks := 0
	for start := 0; start < len(audio); start += chunkSize {
		end := start + chunkSize
		if end > len(audio) {
			end = len(audio)
		}
		if err := c.WriteMessage(websocket.BinaryMessage, audio[start:end]); err != nil {
			return err
		}
		chunks++
		time.Sleep(20 * time.Millisecond)
	}
	logger.Info("Sent audio", zap.Int("chunks", chunks))

	return c.WriteJSON(map[string]string{"type": "listening_end"})
}

// readFrames prints server frames and closes done once the reply has been
// spoken, or the connection drops.
func readFrames(c *websocket.Conn, logger *zap.Logger, done chan struct{}) {
	defer close(done)

	replied, spoken := false, false
	audioBytes := 0
	for {
		messageType, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
				logger.Warn("read", zap.Error(err))
			}
			return
		}

		if messageType == websocket.BinaryMessage {
			audioBytes += len(data)
			continue
		}

		var frame map[string]interface{}
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn("Malformed frame", zap.Error(err))
			continue
		}

		switch frame["type"] {
		case "assistant_delta":
			// Deltas are noisy; the full reply follows.
		case "assistant_message":
			replied = true
			logger.Info("Reply", zap.Any("message", frame["message"]))
		case "speaking_end":
			spoken = true
			logger.Info("Speech received", zap.Int("audioBytes", audioBytes))
		case "error":
			logger.Error("Server error", zap.Any("code", frame["error_code"]), zap.Any("message", frame["message"]))
		default:
			logger.Info("Frame", zap.Any("frame", frame))
		}
		if replied && spoken {
			return
		}
	}
}
