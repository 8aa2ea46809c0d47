package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"intent-settlement/internal/events"
	"intent-settlement/internal/journal"
)

const (
	streamBuffer     = 256
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
	streamReplayMax  = 500
)

func (s *Server) upgrader() websocket.Upgrader {
	allowed := make(map[string]struct{}, len(s.origins))
	for _, o := range s.origins {
		allowed[o] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if _, ok := allowed["*"]; ok {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// handleStream pushes committed events as JSON text frames. With after set and
// a journal configured, history past that sequence is replayed first.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	types := eventTypes(q)
	var after uint64
	replay := false
	if raw := q.Get("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, badRequest("after must be a sequence number"))
			return
		}
		after, replay = v, s.journal != nil
	}

	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Subscribe before replaying so nothing committed in between is lost.
	sub := s.hub.Subscribe(streamBuffer, types...)
	defer sub.Cancel()

	last := after
	if replay {
		history, err := s.journal.List(r.Context(),
			journal.WithAfterSequence(after),
			journal.WithTypes(types...),
			journal.WithLimit(streamReplayMax),
		)
		if err != nil {
			s.logger.WarnContext(r.Context(), "stream replay failed", "error", err)
			return
		}
		for _, ev := range history {
			if err := writeEvent(conn, ev); err != nil {
				return
			}
			last = ev.Sequence
		}
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
					time.Now().Add(streamWriteWait))
				return
			}
			if ev.Sequence <= last {
				continue
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
			last = ev.Sequence
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(ev)
}
