package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/couch"
	"fieldsync/internal/handler"
	"fieldsync/internal/logging"
	"fieldsync/internal/middleware"
	"fieldsync/internal/service"
	"fieldsync/internal/websocket"

	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logOut, logCloser := logging.Writer(os.Stderr, logging.Options{
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	defer logCloser.Close()
	logging.Redirect(logOut)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	client, err := couch.Connect(ctx, cfg.Database.CouchURL(), cfg.Database.Name)
	if err != nil {
		log.Fatalf("Failed to connect to CouchDB: %v", err)
	}

	userRepo := couch.NewUserRepository(client, cfg.Database.Name)
	recordRepo := couch.NewRecordRepository(client, cfg.Database.Name)

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxConnPerUser,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
	)
	wsManager.SetReadLimit(cfg.WebSocket.MaxMessageSize)
	go wsManager.Run(ctx)

	authService := service.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.Expiration, cfg.Auth.AutoVerify)
	recordService := service.NewRecordService(recordRepo, wsManager)

	authHandler := handler.NewAuthHandler(authService)
	recordHandler := handler.NewRecordHandler(recordService)
	wsHandler := handler.NewWebSocketHandler(wsManager, cfg.JWT.Secret, cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	auth := r.PathPrefix("/api/v1/auth").Subrouter()
	auth.HandleFunc("/register", authHandler.Register).Methods("POST", "OPTIONS")
	auth.HandleFunc("/login", authHandler.Login).Methods("POST", "OPTIONS")

	children := r.PathPrefix("/api/children").Subrouter()
	children.Use(middleware.AuthMiddleware(cfg.JWT.Secret))

	// Fixed paths go before {id} so they are not captured by it.
	children.HandleFunc("", recordHandler.Create).Methods("POST", "OPTIONS")
	children.HandleFunc("/unverified", recordHandler.CreateUnverified).Methods("POST", "OPTIONS")
	children.HandleFunc("/ids", recordHandler.IDs).Methods("GET", "OPTIONS")
	children.HandleFunc("/{id}", recordHandler.Get).Methods("GET", "OPTIONS")
	children.HandleFunc("/{id}", recordHandler.Update).Methods("PUT", "OPTIONS")
	children.HandleFunc("/{id}/attachments/{key}", recordHandler.Attachment).Methods("GET", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)
	r.HandleFunc("/health", healthHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting fieldsync server on %s (env: %s)", addr, cfg.Server.Env)
		log.Printf("Connected to CouchDB at %s:%s", cfg.Database.Host, cfg.Database.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped gracefully")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"fieldsync"}`))
}
