package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rfkit/netsdr/internal/logging"
)

// Server exposes hub history and live updates over HTTP.
type Server struct {
	srv *http.Server
	hub *Hub
	log logging.Logger
}

// NewServer builds an HTTP server with history, latest, and live endpoints.
func NewServer(addr string, hub *Hub, log logging.Logger) *Server {
	if log == nil {
		log = logging.Default()
	}
	s := &Server{hub: hub, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/latest", s.handleLatest)
	mux.HandleFunc("/api/live", s.handleLive)
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start begins listening and shuts down when the context is canceled.
func (s *Server) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("telemetry shutdown", logging.Field{Key: "err", Value: err})
		}
	}()

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Error("telemetry server error", logging.Field{Key: "err", Value: err})
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.hub.History())
}

func (s *Server) handleLatest(w http.ResponseWriter, _ *http.Request) {
	sample, ok := s.hub.Latest()
	if !ok {
		http.Error(w, "no samples yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sample)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.hub.Subscribe()
	defer cancel()

	writeSample := func(sample Sample) {
		payload, _ := json.Marshal(sample)
		w.Write([]byte("data: "))
		w.Write(payload)
		w.Write([]byte("\n\n"))
	}

	// replay history so a fresh dashboard has something to draw
	for _, sample := range s.hub.History() {
		writeSample(sample)
	}
	flusher.Flush()

	for {
		select {
		case sample, ok := <-ch:
			if !ok {
				return
			}
			writeSample(sample)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
