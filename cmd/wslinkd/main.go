package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stepherg/wslink/internal/config"
	"github.com/stepherg/wslink/internal/demo"
	"github.com/stepherg/wslink/internal/handler"
	"github.com/stepherg/wslink/internal/lifecycle"
	"github.com/stepherg/wslink/internal/pubsub"
)

func main() {
	listen := flag.String("listen", ":8080", "listen address")
	flag.Parse()

	cfg := config.Default()
	cfg.Listen = *listen
	if v := os.Getenv("WSLINK_SECRET"); v != "" {
		cfg.Secret = v
	}
	if v := os.Getenv("WSLINK_SHUTDOWN_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.ShutdownTimeout = time.Duration(secs) * time.Second
		}
	}

	manager := pubsub.New()
	root := demo.NewEcho(cfg.Secret)
	h := handler.New(root, manager)
	h.Upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", h)

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	coordinator := lifecycle.New(srv, cfg.ShutdownTimeout, h)
	h.SetStopFunc(func() {
		if err := coordinator.Stop(context.Background()); err != nil {
			log.Printf("wslink: stop error: %v", err)
		}
	})
	h.Hooks = handler.LifecycleHooks{
		OnConnect:    coordinator.NotifyConnect,
		OnDisconnect: coordinator.NotifyDisconnect,
	}

	log.Printf("wslink server listening on %s", cfg.Listen)
	if err := coordinator.Start(); err != nil {
		log.Fatal(err)
	}
}
