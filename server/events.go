package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"rtchat/models"
	"rtchat/protocol"
)

const maxFrame = 64 * 1024

var errEmptyContent = errors.New("message content required")

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := newSession(userID, conn)
	s.hub.add(sess)
	go sess.writePump(s.config.WriteTimeout, s.config.PingInterval, s.log)

	ctx := context.Background()
	s.log.Info("client connected", zap.String("user_id", userID), zap.String("remote", r.RemoteAddr))
	s.connected(ctx, sess)
	s.readPump(ctx, sess)
	s.disconnected(ctx, sess)
	s.log.Info("client disconnected", zap.String("user_id", userID))
}

func (s *Server) connected(ctx context.Context, sess *Session) {
	if _, err := s.presence.Connect(ctx, sess.UserID); err != nil {
		s.log.Error("presence connect failed", zap.String("user_id", sess.UserID), zap.Error(err))
	}
	if users, err := s.directory(ctx); err == nil {
		sess.enqueue(protocol.MustEncode(protocol.EventUsers, users))
	} else {
		s.log.Error("load directory failed", zap.Error(err))
	}
	s.broadcastOnline(ctx)
}

func (s *Server) disconnected(ctx context.Context, sess *Session) {
	s.hub.remove(sess)
	sess.close()

	last, err := s.presence.Disconnect(ctx, sess.UserID)
	if err != nil {
		s.log.Error("presence disconnect failed", zap.String("user_id", sess.UserID), zap.Error(err))
	}
	if last {
		if err := s.db.UpdateLastSeen(sess.UserID, time.Now()); err != nil {
			s.log.Warn("update last seen failed", zap.String("user_id", sess.UserID), zap.Error(err))
		}
	}
	s.broadcastOnline(ctx)
}

func (s *Server) readPump(ctx context.Context, sess *Session) {
	conn := sess.conn
	conn.SetReadLimit(maxFrame)
	conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("read failed", zap.String("user_id", sess.UserID), zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		env, err := protocol.Decode(frame)
		if err != nil {
			s.sendError(sess, protocol.Error{Message: "invalid event"})
			continue
		}
		s.dispatch(ctx, sess, env)
	}
}

func (s *Server) dispatch(ctx context.Context, sess *Session, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventSendMessage:
		s.handleSendMessage(sess, env)
	case protocol.EventEditMessage:
		s.handleEditMessage(sess, env)
	case protocol.EventDeleteMessage:
		s.handleDeleteEvent(sess, env)
	case protocol.EventTypingStart, protocol.EventTypingStop:
		var sig protocol.TypingSignal
		if err := env.Payload(&sig); err != nil || sig.RecipientID == "" {
			s.sendError(sess, protocol.Error{Op: env.Event, Message: "recipient required"})
			return
		}
		s.hub.SendTo(sig.RecipientID, protocol.MustEncode(env.Event, protocol.Typing{UserID: sess.UserID}))
	default:
		s.sendError(sess, protocol.Error{Op: env.Event, Message: "unknown event"})
	}
}

func (s *Server) handleSendMessage(sess *Session, env protocol.Envelope) {
	var req protocol.SendMessage
	if err := env.Payload(&req); err != nil {
		s.sendError(sess, protocol.Error{Op: env.Event, Message: "invalid payload"})
		return
	}
	fail := func(text string) {
		s.sendError(sess, protocol.Error{Op: env.Event, TempID: req.TempID, Message: text})
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		fail(errEmptyContent.Error())
		return
	}
	if req.RecipientID == "" || req.RecipientID == sess.UserID {
		fail("recipient required")
		return
	}
	exists, err := s.db.UserExists(req.RecipientID)
	if err != nil {
		s.log.Error("recipient lookup failed", zap.Error(err))
		fail("internal error")
		return
	}
	if !exists {
		fail("recipient not found")
		return
	}

	msg, err := s.db.SaveMessage(sess.UserID, req.RecipientID, content, time.Now())
	if err != nil {
		s.log.Error("save message failed", zap.Error(err))
		fail("internal error")
		return
	}

	// Only the sender's copy carries the tempId it is confirming.
	s.hub.SendTo(req.RecipientID, protocol.MustEncode(protocol.EventMessageNew, msg))
	msg.TempID = req.TempID
	s.hub.SendTo(sess.UserID, protocol.MustEncode(protocol.EventMessageNew, msg))
}

func (s *Server) handleEditMessage(sess *Session, env protocol.Envelope) {
	var req protocol.EditMessage
	if err := env.Payload(&req); err != nil || req.MessageID == "" {
		s.sendError(sess, protocol.Error{Op: env.Event, Message: "invalid payload"})
		return
	}

	msg, err := s.editMessage(sess.UserID, req.MessageID, req.Content)
	if err != nil {
		_, text := messageErrorStatus(err)
		if text == "internal error" {
			s.log.Error("edit message failed", zap.Error(err))
		}
		s.sendError(sess, protocol.Error{Op: env.Event, MessageID: req.MessageID, Message: text})
		return
	}
	s.log.Debug("message edited", zap.String("id", msg.ID))
}

func (s *Server) editMessage(userID, id, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, errEmptyContent
	}
	msg, err := s.db.EditMessage(id, userID, content)
	if err != nil {
		return models.Message{}, err
	}
	s.pushToParties(msg, protocol.EventMessageEdited)
	return msg, nil
}

func (s *Server) handleDeleteEvent(sess *Session, env protocol.Envelope) {
	var req protocol.DeleteMessage
	if err := env.Payload(&req); err != nil || req.MessageID == "" {
		s.sendError(sess, protocol.Error{Op: env.Event, Message: "invalid payload"})
		return
	}
	if _, err := s.deleteMessage(sess.UserID, req.MessageID); err != nil {
		_, text := messageErrorStatus(err)
		if text == "internal error" {
			s.log.Error("delete message failed", zap.Error(err))
		}
		s.sendError(sess, protocol.Error{Op: env.Event, MessageID: req.MessageID, Message: text})
	}
}

func (s *Server) sendError(sess *Session, perr protocol.Error) {
	sess.enqueue(protocol.MustEncode(protocol.EventError, perr))
}

// pushToParties sends event with msg to every session of both participants.
func (s *Server) pushToParties(msg models.Message, event string) {
	frame := protocol.MustEncode(event, msg)
	s.hub.SendTo(msg.SenderID, frame)
	if msg.ReceiverID != msg.SenderID {
		s.hub.SendTo(msg.ReceiverID, frame)
	}
}

// broadcastOnline pushes the full online list to everyone.
func (s *Server) broadcastOnline(ctx context.Context) {
	ids, err := s.presence.Online(ctx)
	if err != nil {
		s.log.Error("presence list failed", zap.Error(err))
		return
	}
	list := make([]protocol.OnlineUser, len(ids))
	for i, id := range ids {
		list[i] = protocol.OnlineUser{UserID: id}
	}
	s.hub.Broadcast(protocol.MustEncode(protocol.EventOnlineUsers, list))
}

// broadcastUsers pushes the full directory to everyone after it changed.
func (s *Server) broadcastUsers(r *http.Request) {
	users, err := s.directory(r.Context())
	if err != nil {
		s.log.Error("load directory failed", zap.Error(err))
		return
	}
	s.hub.Broadcast(protocol.MustEncode(protocol.EventUsers, users))
}

// directory lists every user with live presence. Clients hide themselves.
func (s *Server) directory(ctx context.Context) ([]models.User, error) {
	users, err := s.db.ListUsers("")
	if err != nil {
		return nil, err
	}
	return s.markOnline(ctx, users), nil
}

func (s *Server) markOnline(ctx context.Context, users []models.User) []models.User {
	ids, err := s.presence.Online(ctx)
	if err != nil {
		s.log.Warn("presence list failed", zap.Error(err))
		return users
	}
	online := make(map[string]bool, len(ids))
	for _, id := range ids {
		online[id] = true
	}
	for i := range users {
		users[i].IsOnline = online[users[i].ID]
	}
	return users
}

func (s *Server) withPresenceAll(r *http.Request, users []models.User) []models.User {
	return s.markOnline(r.Context(), users)
}

func (s *Server) withPresence(r *http.Request, u models.User) models.User {
	return s.markOnline(r.Context(), []models.User{u})[0]
}
