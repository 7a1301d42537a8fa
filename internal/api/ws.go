package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = 20 * time.Second
	// defaultFeedHz caps snapshot frames per second per connection; a fast
	// simulation can tick far quicker than a browser can render
	defaultFeedHz = 4
)

// FeedHandler handles GET /v1/feed: a WebSocket stream of world snapshots.
// Query params: runId (defaults to the live run), maxHz (frame cap).
func (s *Server) FeedHandler(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("runId")
	if runID == "" {
		runID = s.Snapshots.RunID()
	}
	maxHz := float64(defaultFeedHz)
	if v := r.URL.Query().Get("maxHz"); v != "" {
		if _, err := fmt.Sscanf(v, "%f", &maxHz); err != nil || maxHz <= 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid maxHz", v, r.URL.Path)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.Broker.Subscribe(runID)
	defer s.Broker.Unsubscribe(runID, ch)

	// reader: consume control frames, refresh the deadline on pong
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
		return nil
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// send the current state immediately so clients don't wait for a tick
	if snap, ok := s.Snapshots.Latest(); ok && snap.RunID == runID {
		_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
	}

	limiter := rate.NewLimiter(rate.Limit(maxHz), 1)
	ping := time.NewTicker(feedPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if !limiter.Allow() {
				continue // drop the frame, a newer one follows
			}
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		}
	}
}
