package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// WatchInterval is the period between WebSocket status pushes.
const WatchInterval = 500 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // diagnostics only, no cross-origin secrets
	},
}

// Server exposes a collector over HTTP: GET /status for all channels,
// GET /channels/{channel}/status for one, and GET /watch for a WebSocket
// pushing snapshots at a fixed interval.
type Server struct {
	address   string
	collector *Collector
	server    *http.Server
}

// NewServer builds a diagnostics server over the collector.
func NewServer(address string, collector *Collector) *Server {
	return &Server{address: address, collector: collector}
}

// Router builds the route table. Split out so tests can drive it with
// httptest without binding a port.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter().StrictSlash(true)
	addRoute(router, "status", "GET", "/status", s.status)
	addRoute(router, "channel", "GET", "/channels/{channel}/status", s.channel)
	addRoute(router, "watch", "GET", "/watch", s.watch)
	return router
}

// Serve listens until Stop is called.
func (s *Server) Serve() error {
	log.Infof("diagnostics API listening on %s", s.address)
	s.server = &http.Server{Addr: s.address, Handler: s.Router()}
	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	log.Info("diagnostics API stopping")
	err := s.server.Shutdown(context.Background())
	s.server = nil
	return err
}

func addRoute(r *mux.Router, name, method, pattern string, handler http.HandlerFunc) {
	r.Methods(method).
		Path(pattern).
		Name(name).
		Handler(requestLogger(handler, name))
}

func requestLogger(inner http.Handler, name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		inner.ServeHTTP(w, r)
		log.WithFields(log.Fields{
			"remote":   r.RemoteAddr,
			"method":   r.Method,
			"path":     r.RequestURI,
			"duration": time.Since(start),
		}).Debugf("API | %s", name)
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	sendJSONReply(s.collector.Status(), http.StatusOK, w)
}

func (s *Server) channel(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["channel"]
	status, ok := s.collector.Channel(name)
	if !ok {
		sendJSONReply(map[string]string{"error": "unknown channel " + name},
			http.StatusNotFound, w)
		return
	}
	sendJSONReply(status, http.StatusOK, w)
}

// watch upgrades to a WebSocket and pushes the full status at a fixed
// interval until the client goes away.
func (s *Server) watch(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	log.Infof("watch started for %s", r.RemoteAddr)

	ticker := time.NewTicker(WatchInterval)
	defer ticker.Stop()
	for range ticker.C {
		if err := conn.WriteJSON(s.collector.Status()); err != nil {
			log.Infof("watch ended for %s: %v", r.RemoteAddr, err)
			return
		}
	}
}

func sendJSONReply(body interface{}, status int, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("failed to encode JSON reply: %v", err)
	}
}
