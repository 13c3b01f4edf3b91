package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pliu/pairchat/internal/auth"
	"github.com/pliu/pairchat/internal/chat"
	"github.com/pliu/pairchat/internal/config"
	"github.com/pliu/pairchat/internal/handlers"
	"github.com/pliu/pairchat/internal/logging"
	"github.com/pliu/pairchat/internal/middleware"
	"github.com/pliu/pairchat/internal/store/pairstore"
	"github.com/pliu/pairchat/internal/store/sqlstore"
	"github.com/pliu/pairchat/internal/uploads"
	"github.com/pliu/pairchat/internal/ws"
)

func main() {
	flags, err := config.ParseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	cfg, err := config.Load(flags)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logging.Init(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Database
	if cfg.Storage.DirectoryDriver == "sqlite3" && cfg.Storage.DirectoryDSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DirectoryDSN), 0o750); err != nil {
			return err
		}
	}
	directory, err := sqlstore.New(cfg.Storage.DirectoryDriver, cfg.Storage.DirectoryDSN)
	if err != nil {
		return err
	}
	defer directory.Close()

	stores, err := pairstore.NewRegistry(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer stores.Close()

	disk, err := uploads.NewDisk(cfg.Uploads.Dir, cfg.Uploads.MaxBytes)
	if err != nil {
		return err
	}

	// Initialize WebSocket Hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	service := chat.New(stores, directory, hub)

	secret := cfg.Auth.CookieSecret
	if secret == "" {
		secret = randomSecret()
		slog.Warn("auth.cookie_secret is not set; sessions will not survive a restart")
	}
	signer := auth.NewSigner(secret)

	// Initialize Handlers
	authHandler := &handlers.AuthHandler{Directory: directory, Signer: signer, SecureCookie: cfg.Auth.SecureCookie}
	chatHandler := &handlers.ChatHandler{Service: service}
	uploadHandler := &handlers.UploadHandler{Service: service, Disk: disk, MaxBytes: cfg.Uploads.MaxBytes}
	calendarHandler := &handlers.CalendarHandler{Service: service}
	taskHandler := &handlers.TaskHandler{Service: service}
	socketHandler := &handlers.SocketHandler{Service: service, Hub: hub}

	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware)

	// Public Endpoints
	r.HandleFunc("/register", authHandler.Register).Methods("POST")
	r.HandleFunc("/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/logout", authHandler.Logout).Methods("POST")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Session Endpoints
	api := r.NewRoute().Subrouter()
	api.Use(middleware.Auth(signer))
	api.HandleFunc("/users", authHandler.ListAccounts).Methods("GET")
	api.HandleFunc("/users/search", authHandler.SearchUsers).Methods("GET")
	api.HandleFunc("/chats", chatHandler.GetChats).Methods("GET")
	api.HandleFunc("/chats", chatHandler.DeleteChat).Methods("DELETE")
	api.HandleFunc("/messages", chatHandler.SendMessage).Methods("POST")
	api.HandleFunc("/messages", chatHandler.GetMessages).Methods("GET")
	api.HandleFunc("/messages/{id}", chatHandler.DeleteMessage).Methods("DELETE")
	api.HandleFunc("/upload", uploadHandler.Upload).Methods("POST")
	api.PathPrefix(uploads.URLPrefix).Handler(disk.Handler()).Methods("GET")
	api.HandleFunc("/calendar/events", calendarHandler.GetEvents).Methods("GET")
	api.HandleFunc("/calendar/events", calendarHandler.AddEvent).Methods("POST")
	api.HandleFunc("/calendar/events/{id}", calendarHandler.DeleteEvent).Methods("DELETE")
	api.HandleFunc("/chatDB/tasks", taskHandler.GetTasks).Methods("GET")
	api.HandleFunc("/chatDB/tasks", taskHandler.AddTask).Methods("POST")
	api.HandleFunc("/chatDB/tasks", taskHandler.UpdateTaskStatus).Methods("PUT")
	api.HandleFunc("/chatDB/tasks", taskHandler.DeleteTask).Methods("DELETE")

	// WebSocket Endpoint
	api.HandleFunc("/ws", socketHandler.ServeWs).Methods("GET")

	// Serve static files with cache-busting headers for development
	if cfg.StaticDir != "" {
		static := http.FileServer(http.Dir(cfg.StaticDir))
		r.PathPrefix("/").Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, ".css") || strings.HasSuffix(r.URL.Path, ".js") {
				w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
			}
			static.ServeHTTP(w, r)
		}))
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.Server.Addr, "data_dir", cfg.Storage.DataDir)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
