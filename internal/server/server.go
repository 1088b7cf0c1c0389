// Package server provides HTTP server initialization and lifecycle management
// for the Recall API.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/web/handlers"
)

// Deps carries the service implementations the server exposes.
type Deps struct {
	Chat   handlers.ChatService
	Memory handlers.MemoryService
	Models handlers.ModelService
	Store  handlers.VectorStoreHealth
	Logger *logrus.Logger
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start initializes and starts the HTTP server. Returns the actual address
// being listened on (useful for testing with port 0) and the EventHub for
// wiring event broadcasts. The server shuts down gracefully when ctx is
// cancelled.
func Start(ctx context.Context, cfg *config.Config, deps Deps) (string, *handlers.EventHub, error) {
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	mux := http.NewServeMux()

	// Event hub for pushing chat and memory events to subscribers
	selfOrigin := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	hub := handlers.NewEventHub(log, selfOrigin, "http://localhost:"+fmt.Sprint(cfg.Server.Port))
	go hub.Run()

	// Rate limiter (10 req/sec, burst of 20)
	rateLimiter := handlers.NewRateLimiter(10.0, 20)

	chatHandlers := handlers.NewChatHandlers(deps.Chat, hub, log)
	memoryHandlers := handlers.NewMemoryHandlers(deps.Memory, hub)
	modelHandlers := handlers.NewModelHandlers(deps.Models, deps.Store)

	// API routes (require auth in production mode)
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			chatHandlers.PostChat(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/memories", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			memoryHandlers.ListMemories(w, r)
		case http.MethodDelete:
			memoryHandlers.ClearMemories(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/memories/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			memoryHandlers.DeleteMemory(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/memory_count", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			memoryHandlers.GetMemoryCount(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/models", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			modelHandlers.GetModels(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Health endpoint — no auth required, used by monitoring
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		modelHandlers.GetHealth(w, r)
	})

	// Wrap API routes with auth middleware
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// WebSocket endpoint (no auth required - origin validation handles security)
	mux.Handle("/ws", hub)

	// Wrap entire server with rate limiting, then security headers
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	// Create server with security timeouts. Write timeout stays generous
	// because streaming chat responses hold the connection open.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Server error")
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Server shutdown error")
		}
		hub.Stop()
	}()

	return actualAddr, hub, nil
}
