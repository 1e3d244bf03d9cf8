// Package transport is the participant's connection to the signaling relay.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/pion/logging"
)

var (
	// ErrClosed is returned by Send once the connection is gone
	ErrClosed = errors.New("transport closed")
	// ErrBufferFull is returned by Send when the outbound queue is saturated
	ErrBufferFull = errors.New("transport send buffer full")
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 54 * time.Second
	sendBuffer  = 256
	inboundSize = 64
)

// WebSocket carries envelopes to and from the relay
type WebSocket struct {
	conn *websocket.Conn
	log  logging.LeveledLogger

	send    chan []byte
	inbound chan models.Envelope

	done      chan struct{}
	closeOnce sync.Once
	// flushed is closed when the write pump has exited
	flushed chan struct{}
}

// Dial connects to the relay's websocket endpoint
func Dial(ctx context.Context, url string, loggerFactory logging.LoggerFactory) (*WebSocket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return New(conn, loggerFactory), nil
}

// New takes ownership of an established connection and starts its pumps
func New(conn *websocket.Conn, loggerFactory logging.LoggerFactory) *WebSocket {
	w := &WebSocket{
		conn:    conn,
		log:     loggerFactory.NewLogger("transport"),
		send:    make(chan []byte, sendBuffer),
		inbound: make(chan models.Envelope, inboundSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
	}
	go w.writePump()
	go w.readPump()
	return w
}

// Send queues an envelope without blocking
func (w *WebSocket) Send(env models.Envelope) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", env.Event, err)
	}

	select {
	case w.send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// Inbound delivers relay events in arrival order. It is closed when the
// connection is lost or closed.
func (w *WebSocket) Inbound() <-chan models.Envelope {
	return w.inbound
}

// Close flushes queued envelopes, sends a close frame and tears the
// connection down. It waits at most writeWait for the flush.
func (w *WebSocket) Close() error {
	w.shutdown()
	timer := time.NewTimer(writeWait)
	defer timer.Stop()
	select {
	case <-w.flushed:
	case <-timer.C:
		w.log.Warnf("Timed out flushing messages to relay")
	}
	return nil
}

func (w *WebSocket) shutdown() {
	w.closeOnce.Do(func() { close(w.done) })
}

func (w *WebSocket) readPump() {
	defer func() {
		w.shutdown()
		w.conn.Close()
		close(w.inbound)
	}()

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.log.Warnf("Connection to relay lost: %v", err)
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			w.log.Debugf("Ignoring malformed message from relay: %v", err)
			continue
		}

		select {
		case w.inbound <- env:
		case <-w.done:
			// leave the socket open until queued writes are out
			<-w.flushed
			return
		}
	}
}

func (w *WebSocket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		w.conn.Close()
		close(w.flushed)
	}()

	for {
		select {
		case message := <-w.send:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				w.log.Debugf("Failed to write message: %v", err)
				w.shutdown()
				return
			}

		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.shutdown()
				return
			}

		case <-w.done:
			w.drain()
			w.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// drain writes what was queued before Close, such as a final leave-room
func (w *WebSocket) drain() {
	for {
		select {
		case message := <-w.send:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}
