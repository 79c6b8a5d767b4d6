package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"rtchat/db"
	"rtchat/models"
	"rtchat/protocol"
)

const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// internalError logs err and answers with a generic 500.
func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request, status int, u models.User) {
	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		s.internalError(w, "issue token", err)
		return
	}
	writeJSON(w, status, models.AuthResponse{Token: token, User: s.withPresence(r, u)})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg models.Registration
	if !readJSON(w, r, &reg) {
		return
	}
	if err := reg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := s.db.CreateUser(reg.Username, reg.Email, reg.Password)
	if err == db.ErrUserExists {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "register", err)
		return
	}
	s.log.Info("user registered", zap.String("user_id", u.ID), zap.String("username", u.Username))
	s.broadcastUsers(r)
	s.issue(w, r, http.StatusCreated, u)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if !readJSON(w, r, &creds) {
		return
	}
	if err := creds.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := s.db.Authenticate(creds.Username, creds.Password)
	if err == db.ErrInvalidCredentials {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "login", err)
		return
	}
	s.issue(w, r, http.StatusOK, u)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	u, err := s.db.GetUser(userIDFrom(r.Context()))
	if err != nil {
		s.internalError(w, "profile", err)
		return
	}
	writeJSON(w, http.StatusOK, s.withPresence(r, u))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var upd models.ProfileUpdate
	if !readJSON(w, r, &upd) {
		return
	}
	if err := upd.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := s.db.UpdateProfile(userIDFrom(r.Context()), upd)
	if err == db.ErrUserExists {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "update profile", err)
		return
	}
	s.broadcastUsers(r)
	writeJSON(w, http.StatusOK, s.withPresence(r, u))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	exp := time.Now().Add(s.tokens.ttl)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	if err := s.db.RevokeToken(claims.ID, exp); err != nil {
		s.internalError(w, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.db.ListUsers(userIDFrom(r.Context()))
	if err != nil {
		s.internalError(w, "list users", err)
		return
	}
	writeJSON(w, http.StatusOK, s.withPresenceAll(r, users))
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.db.GetUser(mux.Vars(r)["id"])
	if err == db.ErrNoRows {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.internalError(w, "get user", err)
		return
	}
	writeJSON(w, http.StatusOK, s.withPresence(r, u))
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusOK, []models.User{})
		return
	}
	users, err := s.db.SearchUsers(q, userIDFrom(r.Context()))
	if err != nil {
		s.internalError(w, "search users", err)
		return
	}
	writeJSON(w, http.StatusOK, s.withPresenceAll(r, users))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := s.config.HistoryPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	page, err := s.db.History(userIDFrom(r.Context()), mux.Vars(r)["userId"], r.URL.Query().Get("cursor"), limit)
	if err == db.ErrInvalidCursor {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "history", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.deleteMessage(userIDFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		status, text := messageErrorStatus(err)
		if status == http.StatusInternalServerError {
			s.internalError(w, "delete message", err)
			return
		}
		writeError(w, status, text)
		return
	}
	s.log.Info("message deleted", zap.String("id", msg.ID))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MessageIDs []string `json:"messageIds"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	if _, err := s.db.MarkRead(userIDFrom(r.Context()), body.MessageIDs); err != nil {
		s.internalError(w, "mark read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.db.UnreadCount(userIDFrom(r.Context()))
	if err != nil {
		s.internalError(w, "unread count", err)
		return
	}
	writeJSON(w, http.StatusOK, models.UnreadCount{Count: n})
}

// messageErrorStatus maps store errors of message operations to a status
// and a client-facing text.
func messageErrorStatus(err error) (int, string) {
	switch errors.Cause(err) {
	case db.ErrNoRows:
		return http.StatusNotFound, "message not found"
	case db.ErrNotOwner:
		return http.StatusForbidden, "you can only change your own messages"
	case db.ErrDeleted:
		return http.StatusConflict, "message was deleted"
	case errEmptyContent:
		return http.StatusBadRequest, errEmptyContent.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

// deleteMessage tombstones a message and pushes the tombstone to both
// parties.
func (s *Server) deleteMessage(userID, id string) (models.Message, error) {
	msg, err := s.db.DeleteMessage(id, userID)
	if err != nil {
		return models.Message{}, err
	}
	s.pushToParties(msg, protocol.EventMessageDeleted)
	return msg, nil
}
