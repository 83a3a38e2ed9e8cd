package backend

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"chatsync/internal/models"
)

// wsUpgrade gates /ws on an actual WebSocket handshake.
func (s *Server) wsUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// wsHandler runs the per-connection event loop. Auth middleware has already
// stashed the user in locals by the time the upgrade happens.
func (s *Server) wsHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		user := User{
			ID:   localString(conn, "user_id"),
			Name: localString(conn, "user_name"),
			Role: localString(conn, "user_role"),
		}
		connID := uuid.New().String()
		s.hub.Register(connID, user.ID, user.Name, conn)
		defer func() {
			s.hub.Unregister(connID)
			conn.Close()
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					s.log.Debug("ws read error", "user", user.ID, "err", err)
				}
				return
			}
			var env models.Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				s.log.Warn("discarding malformed frame", "user", user.ID, "err", err)
				continue
			}
			s.handleFrame(connID, user, env)
		}
	})
}

func localString(conn *websocket.Conn, key string) string {
	if v, ok := conn.Locals(key).(string); ok {
		return v
	}
	return ""
}

// handleFrame routes one client frame. Malformed or unknown frames are
// logged and dropped; they never terminate the connection.
func (s *Server) handleFrame(connID string, user User, env models.Envelope) {
	decoded, err := models.DecodeEvent(env)
	if err != nil {
		s.log.Warn("discarding client frame", "user", user.ID, "event", env.Event, "err", err)
		return
	}
	switch p := decoded.(type) {
	case models.JoinPayload:
		if env.Event == models.EventLeave {
			s.hub.Leave(p.ConversationID, connID)
			return
		}
		if !s.store.IsParticipant(p.ConversationID, user.ID) {
			s.log.Warn("join refused", "user", user.ID, "conversation", p.ConversationID)
			return
		}
		s.hub.Join(p.ConversationID, connID)
	case models.SendPayload:
		s.handleSend(connID, user, p)
	case models.TypingPayload:
		s.handleTyping(connID, user, p)
	default:
		s.log.Warn("ignoring unexpected client event", "user", user.ID, "event", env.Event)
	}
}

func (s *Server) handleSend(connID string, user User, p models.SendPayload) {
	if s.takeDroppedSend() {
		// Test hook: the frame vanishes, the client's ack wait times out.
		return
	}

	nack := func(reason string) {
		env, err := models.NewEnvelope(models.EventAck, models.AckPayload{Ref: p.Ref, OK: false, Error: reason})
		if err == nil {
			s.hub.SendToConn(connID, env)
		}
	}

	if !s.store.IsParticipant(p.ConversationID, user.ID) {
		nack("not a participant")
		return
	}
	msg, created, err := s.store.AppendMessage(p.Ref, user, p.ConversationID, p.Body, p.Kind)
	if err != nil {
		nack(err.Error())
		return
	}

	ack, err := models.NewEnvelope(models.EventAck, models.AckPayload{Ref: p.Ref, OK: true, Message: &msg})
	if err == nil {
		s.hub.SendToConn(connID, ack)
	}
	if !created {
		// Retry of a send that already landed; the ack above is enough.
		return
	}

	event, err := models.NewEnvelope(models.EventMessage, models.MessagePayload{Message: msg})
	if err != nil {
		return
	}
	// Everyone in the room gets the broadcast, the sender included; that
	// is how the sender's own list learns the message is confirmed.
	s.hub.Broadcast(p.ConversationID, event, "")
	// Participants who are online but not in the room still hear about it
	// so their conversation lists and unread counts move.
	for _, participantID := range s.store.ParticipantIDs(p.ConversationID) {
		if participantID == user.ID {
			continue
		}
		if !s.hub.IsUserOnline(participantID) || s.hub.IsUserInRoom(participantID, p.ConversationID) {
			continue
		}
		s.hub.SendToUser(participantID, event)
	}
}

func (s *Server) handleTyping(connID string, user User, p models.TypingPayload) {
	if !s.store.IsParticipant(p.ConversationID, user.ID) {
		return
	}
	// The server is the authority on who is typing; client-sent identity
	// fields are overwritten before fan-out.
	p.UserID = user.ID
	p.UserName = user.Name
	env, err := models.NewEnvelope(models.EventTyping, p)
	if err != nil {
		return
	}
	s.hub.Broadcast(p.ConversationID, env, connID)
}
