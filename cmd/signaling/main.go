package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mossy-p/meeting-signaling/config"
	"github.com/mossy-p/meeting-signaling/internal/handlers"
	"github.com/mossy-p/meeting-signaling/internal/middleware"
	"github.com/mossy-p/meeting-signaling/internal/redis"
	"github.com/mossy-p/meeting-signaling/internal/registry"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()
	loggerFactory := config.NewLoggerFactory(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Presence mirror is optional; the relay routes from memory either way
	var presence handlers.Presence
	var lookup handlers.RoomLookup
	if cfg.Redis.Enabled {
		store, err := redis.Connect(ctx, cfg.Redis, loggerFactory)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer store.Close()
		presence, lookup = store, store
		log.Println("Redis connection established")
	}

	rooms := registry.New()
	hub := handlers.NewHub(rooms, presence, loggerFactory, handlers.HubOptions{
		MaxMessageBytes: cfg.MaxMessageBytes,
		SendBuffer:      cfg.SendBuffer,
	})
	roomsAPI := handlers.NewRoomsAPI(rooms, lookup)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": hub.Connected()})
	})

	// Room inspection API
	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", handlers.Login(cfg.AdminUsername, cfg.AdminPassword, cfg.JWTSecret))

		// List live rooms (requires JWT)
		apiGroup.GET("/rooms", middleware.JWTAuth(cfg.JWTSecret), roomsAPI.ListRooms)

		// Get room info (public)
		apiGroup.GET("/rooms/:roomId", roomsAPI.GetRoom)
	}

	// WebSocket signaling endpoint; rooms are chosen per message
	router.GET("/ws", hub.HandleSignaling)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Starting signaling relay on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
}
