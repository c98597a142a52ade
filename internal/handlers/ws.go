// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/duelforge/duel-server/internal/middleware"
	"github.com/duelforge/duel-server/internal/session"
)

// WSHandler upgrades the HTTP connection and runs the session loop: a write
// pump draining the connection's outbound channel and a blocking read pump
// feeding the dispatcher. Disconnect cleanup runs exactly once, after the
// read pump exits.
func WSHandler(logger *logrus.Logger, mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"duel"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "duel" {
			c.Close(BadSubprotocolError, "client must speak the duel subprotocol")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		conn := session.NewConn(cancel)
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)
		logger.Infof("Session %s connected from %s", conn.ID, r.RemoteAddr)

		go writePump(ctx, c, conn, logger)

		readErr := readPump(ctx, c, mgr, conn, logger)

		// ---- Cleanup after readPump exits ----
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, readErr)
		HandleDisconnect(mgr, conn, logger)
		logger.Infof("Session %s cleanup complete.", conn.ID)
	}
}

// readPump reads frames until the connection dies and hands each one to the
// dispatcher. A single goroutine per connection keeps frame handling in
// arrival order for that sender.
func readPump(ctx context.Context, c *websocket.Conn, mgr *session.Manager, conn *session.Conn, logger *logrus.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				logger.Infof("Session %s: websocket closed normally.", conn.ID)
				return nil
			}
			if strings.Contains(err.Error(), "context canceled") {
				return nil
			}
			logger.Warnf("Session %s: read error: %v (CloseStatus: %d)", conn.ID, err, closeStatus)
			return err
		}

		if typ != websocket.MessageText {
			logger.Warnf("Session %s: ignoring non-text message type %d.", conn.ID, typ)
			continue
		}

		HandleFrame(mgr, conn, msg, logger)
	}
}

// writePump marshals outbound messages from the session's channel onto the
// wire and keeps the transport alive with periodic pings, so a half-dead
// peer surfaces as a read error instead of lingering forever.
func writePump(ctx context.Context, c *websocket.Conn, conn *session.Conn, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Debugf("Session %s: ping failed: %v", conn.ID, err)
				return
			}
		case msg, ok := <-conn.OutChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warnf("Session %s: failed to marshal outgoing msg: %v", conn.ID, err)
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Debugf("Session %s: write failed, stopping write pump: %v", conn.ID, err)
				return
			}
		}
	}
}
