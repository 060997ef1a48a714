package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// handleWatch streams the task's status view over a websocket after every
// change. The connection is closed once the task finishes or is deleted.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	updates, unsubscribe, ok := s.tasks.Store().Subscribe(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	defer unsubscribe()

	// Read after subscribing so no change between the two is lost.
	rec, err := s.tasks.Get(id)
	if err != nil {
		writeTaskError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[watch] upgrade failed for %s: %v", id, err)
		return
	}
	defer conn.Close()

	// Drain client frames so close and ping messages are handled.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(v statusView) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			log.Printf("[watch] write to %s failed: %v", id, err)
			return false
		}
		return true
	}

	if !send(newStatusView(rec)) || rec.Status.IsTerminal() {
		closeNormal(conn)
		return
	}

	for {
		select {
		case <-gone:
			return
		case next, ok := <-updates:
			if !ok {
				closeNormal(conn)
				return
			}
			if !send(newStatusView(next)) {
				return
			}
			if next.Status.IsTerminal() {
				closeNormal(conn)
				return
			}
		}
	}
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
