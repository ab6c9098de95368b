package server

import (
	"net/http"

	"github.com/ternarybob/taskstream/internal/common"
	"github.com/ternarybob/taskstream/internal/handlers"
	"github.com/ternarybob/taskstream/internal/services/tasks"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Task lifecycle
	mux.HandleFunc("/api/tasks", s.handleTasksRoute)                         // POST (create), DELETE (cleanup)
	mux.HandleFunc("/api/tasks/status", s.app.TaskHandler.HandleStatus)      // GET - latest status + history
	mux.HandleFunc("/api/tasks/result", s.app.TaskHandler.HandleResult)      // GET - replay durable output log
	mux.HandleFunc("/api/tasks/stream", s.app.StreamHandler.HandleStream)    // GET - live SSE feed
	mux.HandleFunc(tasks.WebhookPath, s.app.WebhookHandler.HandleDelivery)   // POST - queue deliveries

	// WebSocket route - alternate stream transport
	mux.HandleFunc("/ws/tasks", s.app.WSHandler.HandleStream)

	// Embedded broker REST surface, only mounted without an external relay
	if s.app.Broker != nil {
		mux.Handle("/relay/", http.StripPrefix("/relay", s.app.Broker))
	}

	// Health and version
	mux.HandleFunc("/api/health", s.handleHealth)

	return mux
}

// handleTasksRoute dispatches /api/tasks by method
func (s *Server) handleTasksRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if s.createLimit != nil && !s.createLimit.Allow() {
			handlers.WriteError(w, http.StatusTooManyRequests, "Task creation rate limit exceeded")
			return
		}
		s.app.TaskHandler.HandleCreate(w, r)
	case http.MethodDelete:
		s.app.TaskHandler.HandleCleanup(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleHealth reports service liveness and build info
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !handlers.RequireMethod(w, r, http.MethodGet) {
		return
	}

	handlers.WriteJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"version":     common.GetVersion(),
		"build":       common.GetBuild(),
		"environment": s.app.Config.Environment,
		"provider":    s.app.Config.LLM.Provider,
	})
}
