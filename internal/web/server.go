package web

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/brownsville-complaints/internal/dataset"
	"github.com/brownsville-complaints/internal/web/middleware"
)

// Server exposes the latest merged dataset for review: buildings, their
// complaint histories, and the records the run rejected.
type Server struct {
	store      *dataset.Store
	httpServer *http.Server
	router     *mux.Router
}

// NewServer builds the review server over an already-open dataset store.
func NewServer(addr string, store *dataset.Store) *Server {
	s := &Server{store: store}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	h := &Handler{Store: s.store}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/buildings", h.ListBuildings).Methods("GET")
	api.HandleFunc("/buildings/{id}/complaints", h.ListComplaints).Methods("GET")
	api.HandleFunc("/rejected", h.ListRejected).Methods("GET")
	api.HandleFunc("/summary", h.GetSummary).Methods("GET")
	api.HandleFunc("/health", h.Health).Methods("GET")

	s.router.Use(middleware.CORS())
	s.router.Use(middleware.RequestLogging())
}

// Handler returns the routed handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the server until SIGINT or SIGTERM, then shuts down
// gracefully.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		fmt.Printf("Review server listening on http://%s\n", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Server error: %v\n", err)
		}
	}()

	<-stop
	fmt.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
