package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamMessage is one frame of a log stream
type StreamMessage struct {
	Type   string           `json:"type"` // "log" or "end"
	Entry  *models.LogEntry `json:"entry,omitempty"`
	Status string           `json:"status,omitempty"`
}

// logQueue buffers entries published while the stream is busy writing.
// Publishing never blocks the appender.
type logQueue struct {
	mu      sync.Mutex
	entries []*models.LogEntry
	notify  chan struct{}
}

func newLogQueue() *logQueue {
	return &logQueue{notify: make(chan struct{}, 1)}
}

func (q *logQueue) push(entry *models.LogEntry) {
	q.mu.Lock()
	q.entries = append(q.entries, entry)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *logQueue) drain() []*models.LogEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.entries
	q.entries = nil
	return out
}

// Handler: GET /runs/{id}/logs/stream
//
// Sends the run's existing log entries, then live ones, and finishes with an
// "end" frame once the run is terminal.
func (s *Server) streamLogs(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection: %v", err)
		return
	}
	defer conn.Close()

	// Subscribe before reading the backlog so nothing falls between them;
	// duplicates are dropped by id.
	queue := newLogQueue()
	unsubscribe := s.ledger.Logs.Subscribe(run.ID, queue.push)
	defer unsubscribe()

	backlog, err := s.ledger.Logs.ListLogs(r.Context(), run.ID)
	if err != nil {
		s.logger.Error("Failed to list logs for %s: %v", run.ID, err)
		return
	}

	var lastID int64
	send := func(entry *models.LogEntry) bool {
		if entry.ID <= lastID {
			return true
		}
		lastID = entry.ID
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(StreamMessage{Type: "log", Entry: entry}); err != nil {
			s.logger.Debug("Log stream for %s closed: %v", run.ID, err)
			return false
		}
		return true
	}

	for _, entry := range backlog {
		if !send(entry) {
			return
		}
	}

	closed := make(chan struct{})
	go s.readPump(conn, closed)

	poll := time.NewTicker(s.StatusPollInterval)
	defer poll.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return

		case <-queue.notify:
			for _, entry := range queue.drain() {
				if !send(entry) {
					return
				}
			}

		case <-poll.C:
			current, err := s.ledger.Runs.GetRun(r.Context(), run.ID)
			if err != nil || current == nil || !current.IsTerminal() {
				continue
			}
			for _, entry := range queue.drain() {
				if !send(entry) {
					return
				}
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteJSON(StreamMessage{Type: "end", Status: current.Status})
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes control frames and reports when the client goes away.
func (s *Server) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("Log stream read error: %v", err)
			}
			return
		}
	}
}
