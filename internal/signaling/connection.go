package signaling

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/roomvoice/server/internal/observability"
	"github.com/roomvoice/server/pkg/wireproto"
)

// enqueue serializes env and hands it to the peer's write pump without
// blocking. Backpressure (a full send buffer) is treated as a dead
// connection by the caller, which drops the peer.
func (pc *peerConn) enqueue(cfg Config, env *wireproto.Envelope) error {
	data, err := wireproto.Encode(env)
	if err != nil {
		return err
	}
	select {
	case pc.send <- data:
		return nil
	default:
		return errPeerBackpressure
	}
}

// startWritePump owns the connection's write side: every enqueued frame
// and the periodic keepalive ping both go through this single goroutine,
// since gorilla/websocket forbids concurrent writers on one connection.
func (pc *peerConn) startWritePump(cfg Config, logger zerolog.Logger, metrics *observability.Metrics) {
	go func() {
		ticker := time.NewTicker(cfg.pingPeriod())
		defer func() {
			ticker.Stop()
			_ = pc.conn.Close()
		}()

		for {
			select {
			case data, ok := <-pc.send:
				_ = pc.conn.SetWriteDeadline(time.Now().Add(cfg.writeWait()))
				if !ok {
					_ = pc.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if metrics != nil {
					metrics.SignalingSendQueueSize.WithLabelValues().Observe(float64(len(pc.send)))
				}
				if err := pc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					logger.Debug().Err(err).Str("peer_id", pc.peerID).Msg("write to peer failed")
					return
				}
			case <-ticker.C:
				_ = pc.conn.SetWriteDeadline(time.Now().Add(cfg.writeWait()))
				if err := pc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					logger.Debug().Err(err).Str("peer_id", pc.peerID).Msg("ping to peer failed")
					return
				}
			}
		}
	}()
}
