package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quickpayplatform/autocue/internal/logger"
)

// session is one live node connection. Only writeLoop writes to conn.
type session struct {
	nodeID string
	conn   *websocket.Conn
	out    chan []byte
	done   chan struct{}
	once   sync.Once
}

func newSession(nodeID string, conn *websocket.Conn, buffer int) *session {
	return &session{
		nodeID: nodeID,
		conn:   conn,
		out:    make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

func (s *session) enqueue(b []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- b:
		return true
	default:
		return false
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *session) writeLoop(log *logger.Logger) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-s.done:
			return
		case b := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Infow("relay_write_failed", "node_id", s.nodeID, "err", err)
				s.close()
				return
			}
		case <-ping.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Infow("relay_ping_failed", "node_id", s.nodeID, "err", err)
				s.close()
				return
			}
		}
	}
}

func (s *session) readLoop(handle func(Envelope), log *logger.Logger) {
	s.conn.SetReadLimit(maxMsgSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			log.Infow("relay_read_closed", "node_id", s.nodeID, "err", err)
			return
		}
		// Any frame from the node proves liveness.
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warnw("relay_bad_frame", "node_id", s.nodeID, "err", err)
			continue
		}
		handle(env)
	}
}
