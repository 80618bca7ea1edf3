package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/statgrid/gridstore-exporter/internal/runtime"
)

// StatsFrame is one websocket snapshot of the runtime's state.
type StatsFrame struct {
	Timestamp      time.Time          `json:"timestamp"`
	RuntimeRunning bool               `json:"runtime_running"`
	Tables         []TableResponse    `json:"tables"`
	HeldLocks      int                `json:"held_locks"`
	LockQueue      int                `json:"lock_queue"`
	Counters       runtime.TxCounters `json:"counters"`
}

// streamHandler upgrades to a websocket and pushes a StatsFrame per tick
// until the client disconnects.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkStreamOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Error("Websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	defer func() { _ = conn.Close() }()

	s.logger.Info("Stats stream opened", "remote_addr", r.RemoteAddr)

	period := defaultStreamPeriod
	if raw := r.URL.Query().Get("interval"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed >= 100*time.Millisecond {
			period = parsed
		}
	}

	// Reader goroutine notices the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			s.logger.Info("Stats stream closed by client", "remote_addr", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := s.writeFrame(conn); err != nil {
				s.logger.Info("Stats stream write failed", "error", err, "remote_addr", r.RemoteAddr)
				return
			}
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn) error {
	frame := StatsFrame{
		Timestamp:      time.Now().UTC(),
		RuntimeRunning: s.intro != nil && s.intro.Running(),
		Tables:         s.collectTables(),
	}
	if frame.RuntimeRunning {
		frame.HeldLocks = len(s.intro.HeldLocks())
		frame.LockQueue = len(s.intro.LockQueue())
		frame.Counters = s.intro.Counters()
	}

	if err := conn.SetWriteDeadline(time.Now().Add(streamSendDeadline)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}

func (s *Server) checkStreamOrigin(r *http.Request) bool {
	if !s.config.API.CORS.Enabled {
		// Same-origin only; the default upgrader check handles it.
		return r.Header.Get("Origin") == "" || r.Header.Get("Origin") == "http://"+r.Host
	}
	for _, origin := range s.config.API.CORS.AllowedOrigins {
		if origin == "*" || origin == r.Header.Get("Origin") {
			return true
		}
	}
	return false
}
