package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/airbais/conductor/job"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 64
)

// wsClient is one connected job-update subscriber.
type wsClient struct {
	conn *websocket.Conn
	send chan job.Summary
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return s.originAllowed(origin)
		},
	}
}

// HandleJobsWebSocket handles GET /ws/jobs: a push stream of job status
// updates. Each message is a job summary; slow clients drop updates
// rather than stall the stream, so consumers needing a consistent view
// should re-fetch over HTTP after reconnecting.
func (s *Server) HandleJobsWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan job.Summary, wsSendBuffer),
	}

	s.mu.Lock()
	s.wsConns[client] = true
	count := len(s.wsConns)
	s.mu.Unlock()

	s.logger.Infow("Job stream client connected", "remote", r.RemoteAddr, "clients", count)

	s.wg.Add(2)
	go s.writePump(client)
	go s.readPump(client)
}

// startJobBroadcaster forwards queue updates to every connected client.
func (s *Server) startJobBroadcaster() {
	updates := s.executor.Queue().Subscribe()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.executor.Queue().Unsubscribe(updates)

		for {
			select {
			case <-s.ctx.Done():
				return
			case j := <-updates:
				summary := j.Summarize()
				s.mu.RLock()
				for client := range s.wsConns {
					select {
					case client.send <- summary:
					default:
						// Slow client, drop this update
					}
				}
				s.mu.RUnlock()
			}
		}
	}()
}

func (s *Server) writePump(client *wsClient) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			client.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteTimeout))
			// Closing the conn unblocks the read pump during shutdown
			s.removeClient(client)
			return
		case summary, ok := <-client.send:
			if !ok {
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteJSON(summary); err != nil {
				s.removeClient(client)
				return
			}
		}
	}
}

// readPump discards inbound frames and detects disconnects.
func (s *Server) readPump(client *wsClient) {
	defer s.wg.Done()
	defer s.removeClient(client)

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(client *wsClient) {
	s.mu.Lock()
	if _, ok := s.wsConns[client]; ok {
		delete(s.wsConns, client)
		close(client.send)
	}
	s.mu.Unlock()

	client.conn.Close()
}
