package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fleet-monitor/sentinel/internal/logging"
	"fleet-monitor/sentinel/internal/notify"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = feedPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleFeed streams admin-feed notifications to a websocket client
// until either side goes away.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feed == nil {
		writeError(w, http.StatusServiceUnavailable, "feed not configured")
		return
	}

	ctx := r.Context()
	msgs, err := s.deps.Feed.Subscribe(ctx, notify.FeedChannel)
	if err != nil {
		s.log.Error("feed subscribe failed", logging.Err(err))
		writeError(w, http.StatusServiceUnavailable, "feed unavailable")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", logging.Err(err))
		return
	}
	defer ws.Close()
	s.log.Debug("feed client connected", slog.String("remote", r.RemoteAddr))

	// Reads only serve to notice the client leaving and to handle pongs.
	gone := make(chan struct{})
	ws.SetReadDeadline(time.Now().Add(feedPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(feedPingPeriod)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			ws.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			ws.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-ctx.Done():
			return
		}
	}
}
