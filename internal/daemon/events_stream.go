package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"podscribe/internal/logging"
	"podscribe/internal/services"
)

const (
	eventBatchLimit   = 100
	eventWriteTimeout = 5 * time.Second
)

// handleEvents streams lifecycle events over a WebSocket. Clients resume
// with ?since=<seq>; events older than the hub's buffer are not replayed.
// The stream is one-way: client messages are ignored and a close frame ends
// the connection.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	hub := s.daemon.comp.Hub
	if hub == nil {
		s.writeError(w, r, services.Wrap(services.ErrConfiguration, "api", "events", "event stream is not enabled", nil))
		return
	}
	var since uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "events", fmt.Sprintf("invalid since %q", raw), nil))
			return
		}
		since = parsed
	}

	// Streams outlive the server's per-request deadlines.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", logging.Error(err))
		return
	}
	defer conn.CloseNow()

	logger := logging.WithContext(r.Context(), s.logger)
	logger.Debug("event stream connected", logging.String("remote", r.RemoteAddr), logging.Int64("since", int64(since)))

	ctx := conn.CloseRead(r.Context())
	for {
		batch, next, err := hub.Fetch(ctx, since, eventBatchLimit, true)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				_ = conn.Close(websocket.StatusGoingAway, "stream closed")
				return
			}
			logger.Warn("event fetch failed", logging.Error(err))
			_ = conn.Close(websocket.StatusInternalError, "event fetch failed")
			return
		}
		for _, event := range batch {
			writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				logger.Debug("event stream closed", logging.Error(err))
				return
			}
		}
		since = next
	}
}
