package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"rtchat/config"
	"rtchat/db"
	"rtchat/logger"
	"rtchat/server"
)

const controlSocketPath = "/tmp/rtchat.sock"

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	presence := server.NewMemoryPresence()
	if cfg.RedisAddr != "" {
		p, closeRedis, err := server.NewRedisPresence(context.Background(), cfg.RedisAddr)
		if err != nil {
			log.Fatal("Failed to connect to redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		defer closeRedis()
		presence = p
		log.Info("presence backed by redis", zap.String("addr", cfg.RedisAddr))
	}

	srvConfig := &server.ServerConfig{
		Port:            cfg.Port,
		ReadTimeout:     time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:    time.Duration(cfg.WriteTimeout) * time.Second,
		HistoryPageSize: cfg.HistoryPageSize,
	}
	tokens := server.NewTokenIssuer(cfg.JWTSecret, time.Duration(cfg.TokenTTL)*time.Minute)
	srv := server.New(database, tokens, presence, srvConfig, log)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go purgeRevoked(ctx, database, log)

	// Start control socket for management commands
	shutdownReq := make(chan string, 1)
	go startControlSocket(srv, log, shutdownReq)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		defer close(done)
		reason := "maintenance"
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", zap.Stringer("signal", sig))
		case reason = <-shutdownReq:
		}
		stop()
		shutdown(srv, reason, log)
	}()

	if err := srv.Start(); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
	<-done
	os.Remove(controlSocketPath)
}

func shutdown(srv *server.Server, reason string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx, reason); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
}

// purgeRevoked drops revoked token ids once the tokens would have expired
// anyway.
func purgeRevoked(ctx context.Context, database *db.DB, log *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n, err := database.PurgeRevoked(now); err != nil {
				log.Warn("purge revoked tokens failed", zap.Error(err))
			} else if n > 0 {
				log.Debug("purged revoked tokens", zap.Int64("count", n))
			}
		}
	}
}

func startControlSocket(srv *server.Server, log *zap.Logger, shutdownReq chan<- string) {
	os.Remove(controlSocketPath)

	listener, err := net.Listen("unix", controlSocketPath)
	if err != nil {
		log.Warn("Failed to create control socket", zap.Error(err))
		return
	}
	defer listener.Close()
	defer os.Remove(controlSocketPath)

	log.Info("control socket listening", zap.String("path", controlSocketPath))

	for {
		conn, err := listener.Accept()
		if err != nil {
			continue
		}
		go handleControlCommand(srv, conn, log, shutdownReq)
	}
}

// handleControlCommand serves one "stats" or "shutdown|reason" line.
func handleControlCommand(srv *server.Server, conn net.Conn, log *zap.Logger, shutdownReq chan<- string) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	parts := strings.SplitN(strings.TrimSpace(line), "|", 2)

	switch parts[0] {
	case "stats":
		conn.Write([]byte("OK|" + srv.GetStats() + "\n"))

	case "shutdown":
		reason := "maintenance"
		if len(parts) == 2 && parts[1] != "" {
			reason = parts[1]
		}
		conn.Write([]byte("OK|Shutting down\n"))
		log.Info("shutdown requested", zap.String("reason", reason))
		select {
		case shutdownReq <- reason:
		default:
		}

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
