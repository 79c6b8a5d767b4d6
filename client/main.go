package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"rtchat/client/api"
	"rtchat/client/reconcile"
	"rtchat/client/session"
	"rtchat/client/store"
	"rtchat/client/transport"
	"rtchat/client/ui"
	"rtchat/config"
	"rtchat/logger"
	"rtchat/protocol"
)

func main() {
	cfg := config.LoadClient()
	flag.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "rtchat server URL (http://host:port)")
	flag.StringVar(&cfg.LogFile, "log", cfg.LogFile, "log file")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flag.Parse()

	// The terminal belongs to the UI, so logs always go to a file.
	if cfg.LogFile == "" {
		cfg.LogFile = "rtchat-client.log"
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	st := store.New(log)
	sess := session.New(log)
	client := api.New(cfg.ServerURL, cfg.RequestTimeout, sess, log)

	var app *ui.App
	var pipeline *reconcile.Pipeline
	tr := transport.New(func(env protocol.Envelope) { pipeline.Enqueue(env) }, log)

	pipeline = reconcile.New(st, tr, client, reconcile.NotifierFunc(func(level reconcile.Level, text string) {
		app.Notify(level, text)
	}), log, reconcile.Options{
		QueueSize:           cfg.QueueSize,
		CorrelationWindow:   cfg.CorrelationWindow,
		TypingTimeout:       cfg.TypingTimeout,
		RemoteTypingTimeout: cfg.RemoteTypingTimeout,
	})

	// A rejected token ends the session: the push channel closes and all
	// session state is dropped before the UI returns to the sign-in form.
	pipeline.OnUnauthorized(func() { go sess.SignOut() })
	sess.OnSignOut(func() {
		tr.Disconnect()
		pipeline.Reset()
	})

	app = ui.NewApp(ui.Deps{
		Config:    cfg,
		Log:       log,
		Store:     st,
		Session:   sess,
		API:       client,
		Transport: tr,
		Pipeline:  pipeline,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := pipeline.Run(ctx); err != nil && err != context.Canceled {
			log.Error("pipeline stopped", zap.Error(err))
		}
	}()

	log.Info("client started", zap.String("server", cfg.ServerURL))
	err = app.Run()
	cancel()
	tr.Disconnect()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
