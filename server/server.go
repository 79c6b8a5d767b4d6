package server

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rtchat/db"
)

type Server struct {
	db       *db.DB
	config   *ServerConfig
	tokens   *TokenIssuer
	presence Presence
	hub      *Hub
	log      *zap.Logger
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	HistoryPageSize int
}

func New(database *db.DB, tokens *TokenIssuer, presence Presence, config *ServerConfig, log *zap.Logger) *Server {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 120 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if config.PingInterval <= 0 {
		config.PingInterval = config.ReadTimeout / 2
	}
	if config.HistoryPageSize <= 0 {
		config.HistoryPageSize = 30
	}
	if presence == nil {
		presence = NewMemoryPresence()
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		db:       database,
		config:   config,
		tokens:   tokens,
		presence: presence,
		hub:      NewHub(),
		log:      log.Named("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Clients authenticate with a bearer header, not cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.httpSrv = &http.Server{
		Addr:              ":" + strconv.Itoa(config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler routes the HTTP API and the websocket endpoint.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/api/auth/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", s.handleLogin).Methods(http.MethodPost)

	authed := r.NewRoute().Subrouter()
	authed.Use(s.authenticate)
	authed.HandleFunc("/api/auth/profile", s.handleProfile).Methods(http.MethodGet)
	authed.HandleFunc("/api/auth/profile", s.handleUpdateProfile).Methods(http.MethodPatch)
	authed.HandleFunc("/api/auth/logout", s.handleLogout).Methods(http.MethodPost)
	authed.HandleFunc("/api/user/users", s.handleUsers).Methods(http.MethodGet)
	authed.HandleFunc("/api/users/search", s.handleSearchUsers).Methods(http.MethodGet)
	authed.HandleFunc("/api/users/{id}", s.handleUser).Methods(http.MethodGet)
	authed.HandleFunc("/api/chat/chats/{userId}", s.handleHistory).Methods(http.MethodGet)
	authed.HandleFunc("/api/messages/read", s.handleMarkRead).Methods(http.MethodPatch)
	authed.HandleFunc("/api/messages/unread-count", s.handleUnreadCount).Methods(http.MethodGet)
	authed.HandleFunc("/api/messages/{id}", s.handleDeleteMessage).Methods(http.MethodDelete)
	authed.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}

func (s *Server) Start() error {
	s.log.Info("rtchat server started", zap.Int("port", s.config.Port))
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown closes every websocket and stops accepting requests.
func (s *Server) Shutdown(ctx context.Context, reason string) error {
	s.log.Info("shutting down", zap.String("reason", reason))
	s.hub.CloseAll()
	return s.httpSrv.Shutdown(ctx)
}

// GetStats returns server statistics as a formatted string
func (s *Server) GetStats() string {
	conns, users := s.hub.Stats()
	sort.Strings(users)
	return "connections=" + strconv.Itoa(conns) + ",users=" + strings.Join(users, ";")
}
