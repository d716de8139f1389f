// Package signaling implements the Signaling Hub (C2): the single
// WebSocket entrypoint that admits peers into rooms, relays SDP/ICE
// between them, and dispatches every other inbound event to the
// component that owns it (presence, turn queue, AI orchestrator,
// interrupt handler, transcript store, search bridge). It never owns
// room or AI state itself — only connections and their wire framing.
package signaling

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 30 * time.Second
	defaultPingPeriod     = 15 * time.Second
	defaultMaxMessageSize = 64 * 1024
	defaultSendBuffer     = 128
	defaultHistoryLimit   = 50
)

var errPeerBackpressure = errors.New("signaling: peer send buffer full")

// Config bundles the connection-level tunables. A zero field falls back to
// the hub's own default above; none of them is read from internal/config.
type Config struct {
	WriteWait              time.Duration
	PongWait               time.Duration
	PingPeriod             time.Duration
	MaxMessageSize         int64
	SendBuffer             int
	TranscriptHistoryLimit int
}

func (c Config) writeWait() time.Duration {
	if c.WriteWait <= 0 {
		return defaultWriteWait
	}
	return c.WriteWait
}

func (c Config) pongWait() time.Duration {
	if c.PongWait <= 0 {
		return defaultPongWait
	}
	return c.PongWait
}

func (c Config) pingPeriod() time.Duration {
	if c.PingPeriod <= 0 {
		return defaultPingPeriod
	}
	return c.PingPeriod
}

func (c Config) maxMessageSize() int64 {
	if c.MaxMessageSize <= 0 {
		return defaultMaxMessageSize
	}
	return c.MaxMessageSize
}

func (c Config) sendBuffer() int {
	if c.SendBuffer <= 0 {
		return defaultSendBuffer
	}
	return c.SendBuffer
}

func (c Config) historyLimit() int {
	if c.TranscriptHistoryLimit <= 0 {
		return defaultHistoryLimit
	}
	return c.TranscriptHistoryLimit
}

// peerConn is one connected socket's send-side state. A peer only exists
// here once it has completed room:join; a socket that never joins a room
// is read-looped but never registered.
type peerConn struct {
	conn   *websocket.Conn
	userID string
	roomID string
	peerID string

	send      chan []byte
	closeOnce sync.Once
}

func newPeerConn(conn *websocket.Conn, userID, roomID, peerID string, bufSize int) *peerConn {
	return &peerConn{
		conn:   conn,
		userID: userID,
		roomID: roomID,
		peerID: peerID,
		send:   make(chan []byte, bufSize),
	}
}

func (pc *peerConn) close() {
	pc.closeOnce.Do(func() {
		close(pc.send)
	})
}
