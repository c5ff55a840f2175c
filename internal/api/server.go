// Package api is the admin JSON listener used by the dashboard
// collaborator: the scheduler activation surface plus pool, destination
// and delivery log management. There is no UI and no auth layer here, so
// bind it to localhost.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"autopost/internal/metrics"
	"autopost/internal/poster"
	"autopost/internal/storage"
	"autopost/pkg/logx"
)

type Config struct {
	Addr string // default "127.0.0.1:8090"
}

type Server struct {
	log    logx.Logger
	poster *poster.Service
	store  storage.Store
	met    *metrics.Metrics

	// editMu serializes read-modify-write edits of the message pool across
	// concurrent admin requests. Destination edits do NOT use it: they go
	// through poster.UpdateDestinations so they share the service mutex
	// with LastSent stamping.
	editMu sync.Mutex

	srv *http.Server
}

func NewServer(cfg Config, p *poster.Service, store storage.Store, met *metrics.Metrics, log logx.Logger) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:8090"
	}
	s := &Server{log: log, poster: p, store: store, met: met}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", met.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/scheduler", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/scheduler/activate", s.handleActivate).Methods(http.MethodPost)
	api.HandleFunc("/scheduler/deactivate", s.handleDeactivate).Methods(http.MethodPost)
	api.HandleFunc("/scheduler/reconfigure", s.handleReconfigure).Methods(http.MethodPost)
	api.HandleFunc("/scheduler/test", s.handleTestCycle).Methods(http.MethodPost)

	api.HandleFunc("/messages", s.handleListMessages).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handleAddMessage).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}", s.handleDeleteMessage).Methods(http.MethodDelete)

	api.HandleFunc("/destinations", s.handleListDestinations).Methods(http.MethodGet)
	api.HandleFunc("/destinations", s.handleAddDestination).Methods(http.MethodPost)
	api.HandleFunc("/destinations/{id}", s.handleUpdateDestination).Methods(http.MethodPatch)
	api.HandleFunc("/destinations/{id}", s.handleDeleteDestination).Methods(http.MethodDelete)

	api.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start serves until the listener fails. Call in its own goroutine.
func (s *Server) Start() error {
	s.log.Info("admin api listening", logx.String("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
