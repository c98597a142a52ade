// internal/handlers/dispatch.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/duelforge/duel-server/internal/events"
	"github.com/duelforge/duel-server/internal/session"
)

// relayTypes maps each gameplay message type to the type its recipient sees.
// Everything else about the frame is forwarded untouched.
var relayTypes = map[string]string{
	"player_input": "opponent_input",
	"damage_event": "opponent_damage",
	"game_start":   "opponent_game_start",
	"round_end":    "opponent_round_end",
	"set_username": "opponent_username",
}

// HandleFrame decodes one inbound frame from sender and routes it. Protocol
// failures are reported back as error frames; the connection is never closed
// here, whatever the client sends. Manager calls hand back seat snapshots
// taken under the manager lock; the live seat slice is never read here.
func HandleFrame(mgr *session.Manager, sender *session.Conn, raw []byte, logger *logrus.Logger) {
	var packet map[string]interface{}
	if err := json.Unmarshal(raw, &packet); err != nil {
		logger.Warnf("Session %s: invalid json: %v", sender.ID, err)
		sender.WriteError("Invalid JSON")
		return
	}

	msgType, _ := packet["type"].(string)

	if renamed, ok := relayTypes[msgType]; ok {
		relayToOpponent(mgr, sender, packet, msgType, renamed, logger)
		return
	}

	switch msgType {
	case "create_room":
		view := mgr.CreateRoom(sender)
		logger.WithFields(logrus.Fields{
			"session": sender.ID,
			"room":    view.ID,
		}).Info("Room created")
		sender.Write(map[string]interface{}{
			"type":       "room_created",
			"roomId":     view.ID,
			"playerSlot": session.SlotPlayer1,
		})
		publishEvent(view, sender, "room_created", nil)

	case "join_room":
		code, _ := packet["roomId"].(string)
		view, err := mgr.JoinRoom(sender, code)
		if err != nil {
			switch {
			case errors.Is(err, session.ErrRoomNotFound):
				sender.WriteError("Room not found")
			case errors.Is(err, session.ErrRoomFull):
				sender.WriteError("Room is full")
			default:
				sender.WriteError(err.Error())
			}
			return
		}
		logger.WithFields(logrus.Fields{
			"session": sender.ID,
			"room":    view.ID,
		}).Info("Room joined")
		sender.Write(map[string]interface{}{
			"type":       "room_joined",
			"roomId":     view.ID,
			"playerSlot": view.SlotOf(sender),
		})
		for _, seat := range view.Seats {
			seat.Conn.Write(map[string]interface{}{"type": "opponent_joined"})
		}
		publishEvent(view, sender, "room_joined", nil)

	case "find_match":
		if _, seated := mgr.FindRoomFor(sender); seated {
			logger.Debugf("Session %s: find_match while already seated, ignoring.", sender.ID)
			return
		}
		view, paired := mgr.FindMatch(sender)
		if !paired {
			// Sender now waits in the queue; pairing happens on a later
			// arrival's find_match.
			return
		}
		logger.WithFields(logrus.Fields{
			"session": sender.ID,
			"room":    view.ID,
		}).Info("Match found")
		for _, seat := range view.Seats {
			seat.Conn.Write(map[string]interface{}{
				"type":       "match_found",
				"roomId":     view.ID,
				"playerSlot": seat.Slot,
			})
			seat.Conn.Write(map[string]interface{}{"type": "opponent_joined"})
		}
		publishEvent(view, sender, "match_found", nil)

	case "cancel_match":
		mgr.Cancel(sender)

	default:
		logger.Warnf("Session %s: unknown message type '%s'", sender.ID, msgType)
		sender.WriteError("Unknown message type")
	}
}

// relayToOpponent forwards a gameplay frame to the one other occupant of the
// sender's room, addressed through a seat snapshot so concurrent seat
// mutations never race this read. An unseated sender's frame is dropped
// without an error frame; gameplay traffic outside a room has nobody to
// answer it.
func relayToOpponent(mgr *session.Manager, sender *session.Conn, packet map[string]interface{}, msgType, renamed string, logger *logrus.Logger) {
	view, seated := mgr.FindRoomFor(sender)
	if !seated {
		logger.Debugf("Session %s: dropping '%s', sender occupies no room.", sender.ID, msgType)
		return
	}

	opponent := view.Opponent(sender)
	if opponent == nil || !opponent.IsOpen() {
		return
	}

	out := make(map[string]interface{}, len(packet))
	for k, v := range packet {
		out[k] = v
	}
	out["type"] = renamed
	opponent.Write(out)

	if msgType == "round_end" {
		publishEvent(view, sender, "round_end", packet)
	}
}

// HandleDisconnect runs the close-event lifecycle for conn: drop any queue
// entry, vacate its seat in one critical section, and tell a remaining
// opponent it is alone. The manager operations are idempotent, so a
// duplicate close event is harmless. A room_closed event is published only
// when the departure actually deletes the room.
func HandleDisconnect(mgr *session.Manager, conn *session.Conn, logger *logrus.Logger) {
	conn.MarkClosed()
	mgr.Cancel(conn)

	opponent, view, seated := mgr.RemovePlayer(conn)
	if opponent != nil && opponent.IsOpen() {
		opponent.Write(map[string]interface{}{"type": "opponent_left"})
	}
	if seated {
		logger.WithFields(logrus.Fields{
			"session": conn.ID,
			"room":    view.ID,
		}).Info("Player left room")
		if opponent == nil {
			publishEvent(view, conn, "room_closed", nil)
		}
	}
}

// publishEvent ships a session event to the history queue without holding up
// the dispatch path. Publishing is a no-op when Redis is not configured.
func publishEvent(view session.RoomView, conn *session.Conn, eventType string, payload map[string]interface{}) {
	record := events.SessionEventRecord{
		MatchID:   view.MatchID,
		RoomCode:  view.ID,
		SessionID: conn.ID,
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := events.Publish(ctx, record); err != nil {
			logrus.Warnf("failed to publish session event %s for match %s: %v", eventType, record.MatchID, err)
		}
	}()
}
