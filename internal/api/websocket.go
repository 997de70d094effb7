package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/simplui/simplui/internal/events"
	"go.uber.org/zap"
)

const (
	// Number of recent events sent on connect.
	recentEventsCount = 50

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsConn wraps a client connection. A reader goroutine consumes pongs and
// close frames and closes done when the peer goes away.
type wsConn struct {
	conn *websocket.Conn
	done chan struct{}
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (*wsConn, bool) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", zap.Error(err))
		return nil, false
	}
	c := &wsConn{conn: conn, done: make(chan struct{})}
	go c.readLoop()
	return c, true
}

func (c *wsConn) readLoop() {
	defer close(c.done)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ping() error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// closeNormal sends a close frame before closing the connection.
func (c *wsConn) closeNormal() {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
}

// wsEventsHandler streams domain events, starting with the most recent ones.
// ?session=<id> limits the stream to one session's events.
func (s *Server) wsEventsHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	c, ok := s.upgrade(w, r)
	if !ok {
		return
	}

	sub := events.Subscribe()
	defer events.Unsubscribe(sub)

	recent := events.RecentEvents(recentEventsCount)
	if sessionID != "" {
		recent = events.RecentSessionEvents(sessionID, recentEventsCount)
	}
	for _, e := range recent {
		if err := c.writeJSON(e); err != nil {
			s.logger.Debug("ws write recent event failed", zap.Error(err))
			c.conn.Close()
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			c.conn.Close()
			return

		case e, ok := <-sub:
			if !ok {
				c.closeNormal()
				return
			}
			if sessionID != "" && e.SessionID() != sessionID {
				continue
			}
			if err := c.writeJSON(e); err != nil {
				s.logger.Debug("ws write event failed", zap.Error(err))
				c.conn.Close()
				return
			}

		case <-ticker.C:
			if err := c.ping(); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

// wsSessionHandler streams the session's batch states, starting with the
// latest one.
func (s *Server) wsSessionHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	c, ok := s.upgrade(w, r)
	if !ok {
		return
	}

	sub := sess.Subscribe()
	defer sess.Unsubscribe(sub)

	if err := c.writeJSON(newStateMessage(sess.ID, sess.Last())); err != nil {
		c.conn.Close()
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			c.conn.Close()
			return

		case st, ok := <-sub:
			if !ok {
				c.closeNormal()
				return
			}
			if err := c.writeJSON(newStateMessage(sess.ID, st)); err != nil {
				s.logger.Debug("ws write state failed", zap.String("session_id", sess.ID), zap.Error(err))
				c.conn.Close()
				return
			}

		case <-ticker.C:
			if err := c.ping(); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}
