package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"tangled.sh/tangled.sh/healthsync/health"
	"tangled.sh/tangled.sh/healthsync/health/models"
)

const (
	defaultStreamInterval = 5 * time.Second
	keepaliveInterval     = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type changesMessage struct {
	Added      []models.Record `json:"added"`
	DeletedIDs []string        `json:"deleted_ids"`
	NextAnchor *string         `json:"next_anchor,omitempty"`
}

// Changes streams a continuous query over a websocket until the client
// goes away.
func (s *Server) Changes(w http.ResponseWriter, r *http.Request) {
	t := typeFrom(r)
	l := s.l.With("handler", "Changes", "type", t.ID())

	q := health.ContinuousQuery{Type: t, Interval: defaultStreamInterval}
	if v := r.URL.Query().Get("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, "invalid interval", http.StatusBadRequest)
			return
		}
		q.Interval = d
	}
	if v := r.URL.Query().Get("anchor"); v != "" {
		q.Anchor = &v
	}
	var err error
	if q.Window, err = parseWindow(r.URL.Query().Get("since"), r.URL.Query().Get("until")); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	l.Info("upgraded http to wss")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				l.Debug("stopping stream: client closed connection", "err", err)
				cancel()
				return
			}
		}
	}()

	results := s.client.ContinuousQuery(ctx, q)
	for {
		select {
		case res, ok := <-results:
			if !ok {
				return
			}
			msg := changesMessage{
				Added:      res.Added,
				DeletedIDs: res.DeletedIDs,
				NextAnchor: res.NextAnchor,
			}
			if err := conn.WriteJSON(msg); err != nil {
				l.Error("failed to write changes", "err", err)
				return
			}
		case <-time.After(keepaliveInterval):
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second)); err != nil {
				l.Error("failed to write control", "err", err)
				return
			}
		}
	}
}
