// Package router classifies inbound requests and applies a per-class
// servicing strategy: share-target ingestion, the local health/steps API,
// network-first passthrough for other API paths, and cache-first serving of
// the application shell.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Georgexzy/quest-tracker/internal/cache"
	"github.com/Georgexzy/quest-tracker/internal/core"
	"github.com/Georgexzy/quest-tracker/internal/ingest"
	"github.com/Georgexzy/quest-tracker/internal/logging"
	"github.com/Georgexzy/quest-tracker/internal/storage"
)

// Notifier fans a typed message out to every connected client.
type Notifier interface {
	Broadcast(msgType string, payload any)
}

// NetworkReporter receives the outcome of upstream fetch attempts.
type NetworkReporter interface {
	SetOnline(online bool)
}

// Server is the HTTP front of the sync core.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	ingestor *ingest.Ingestor
	steps    *storage.StepsStore
	health   *storage.HealthStore
	cache    *cache.Store

	notifier  Notifier
	network   NetworkReporter
	wsHandler http.HandlerFunc

	upstream string
	apiGen   string
	shellGen string

	client *http.Client
	log    *logging.Logger
}

// Config for the server.
type Config struct {
	Host     string
	Port     int
	Upstream string // base URL for passthrough and shell misses

	Ingestor    *ingest.Ingestor
	StepsStore  *storage.StepsStore
	HealthStore *storage.HealthStore
	Cache       *cache.Store

	Notifier  Notifier
	Network   NetworkReporter
	WSHandler http.HandlerFunc

	APIGeneration   string
	ShellGeneration string
}

// New creates the server and wires its routes.
func New(cfg Config) *Server {
	s := &Server{
		ingestor:  cfg.Ingestor,
		steps:     cfg.StepsStore,
		health:    cfg.HealthStore,
		cache:     cfg.Cache,
		notifier:  cfg.Notifier,
		network:   cfg.Network,
		wsHandler: cfg.WSHandler,
		upstream:  strings.TrimRight(cfg.Upstream, "/"),
		apiGen:    cfg.APIGeneration,
		shellGen:  cfg.ShellGeneration,
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       logging.WithField("component", "router"),
	}

	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/share-data", s.handleShareData)

	r.Route("/api", func(r chi.Router) {
		r.Get("/steps", s.handleGetSteps)
		r.Post("/steps", s.handleSaveSteps)
		r.Get("/health", s.handleGetHealth)
		r.Post("/health", s.handleSaveHealth)
		r.NotFound(s.handlePassthrough)
		r.MethodNotAllowed(s.handlePassthrough)
	})

	if s.wsHandler != nil {
		r.Get("/ws", s.wsHandler)
	}

	// Everything unmatched is treated as an app-shell request, never an
	// error.
	r.NotFound(s.handleShell)
	r.MethodNotAllowed(s.handleShell)

	s.router = r
}

// Handler exposes the routing tree for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info("listening on http://%s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- Share target ---

// handleShareData accepts a multipart share: a healthData file attachment
// takes precedence over the inline text field. Successful processing
// redirects back to the application root.
func (s *Server) handleShareData(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, fmt.Sprintf("Error processing shared data: %v", err), http.StatusInternalServerError)
		return
	}

	var raw []byte
	if file, _, err := r.FormFile("healthData"); err == nil {
		defer file.Close()
		raw, err = io.ReadAll(file)
		if err != nil {
			http.Error(w, fmt.Sprintf("Error processing shared data: %v", err), http.StatusInternalServerError)
			return
		}
	} else {
		raw = []byte(r.FormValue("text"))
	}

	n, err := s.ingestor.Ingest(raw)
	if err != nil {
		s.log.Error("share ingestion failed: %v", err)
		http.Error(w, fmt.Sprintf("Error processing shared data: %v", err), http.StatusInternalServerError)
		return
	}

	s.log.Info("share target stored %d record(s)", n)
	if s.notifier != nil {
		s.notifier.Broadcast(core.MsgHealthDataReceived, map[string]any{"count": n})
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// --- Health / Steps API ---

func (s *Server) handleGetSteps(w http.ResponseWriter, r *http.Request) {
	start := r.URL.Query().Get("startDate")
	end := r.URL.Query().Get("endDate")

	var (
		records []*core.StepsRecord
		err     error
	)
	if start != "" && end != "" {
		records, err = s.steps.QueryByDateRange(start, end)
	} else {
		records, err = s.steps.GetAll()
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleSaveSteps(w http.ResponseWriter, r *http.Request) {
	var rec core.StepsRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := s.ingestor.IngestSteps(&rec); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	records, err := s.health.GetAll()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleSaveHealth(w http.ResponseWriter, r *http.Request) {
	var rec core.HealthRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := s.health.Insert(&rec); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// --- Versioned API passthrough ---

// handlePassthrough is the network-first path for API requests this core does
// not own. Unrecognized health/steps routes stay local and 404.
func (s *Server) handlePassthrough(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/steps") || strings.HasPrefix(r.URL.Path, "/api/health") {
		http.NotFound(w, r)
		return
	}

	key := r.URL.RequestURI()
	resp, err := s.fetchUpstream(r)
	if err != nil {
		s.log.Warn("upstream fetch failed for %s: %v", key, err)
		if s.network != nil {
			s.network.SetOnline(false)
		}
		entry, cerr := s.cache.Match(s.apiGen, key)
		if cerr != nil {
			http.Error(w, "upstream unreachable and no cached copy", http.StatusGatewayTimeout)
			return
		}
		writeEntry(w, entry)
		return
	}
	defer resp.Body.Close()

	if s.network != nil {
		s.network.SetOnline(true)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	if resp.StatusCode == http.StatusOK {
		entry := &cache.Entry{
			Status: resp.StatusCode,
			Header: resp.Header.Clone(),
			Body:   body,
		}
		if err := s.cache.Put(s.apiGen, key, entry); err != nil {
			s.log.Warn("cache update failed for %s: %v", key, err)
		}
	}

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}

// --- App shell ---

// handleShell serves shell assets cache-first. A miss goes to the live
// upstream without being cached; install-time precaching owns the shell
// generation's contents.
func (s *Server) handleShell(w http.ResponseWriter, r *http.Request) {
	entry, err := s.cache.Match(s.shellGen, r.URL.Path)
	if err == nil {
		writeEntry(w, entry)
		return
	}

	resp, err := s.fetchUpstream(r)
	if err != nil {
		if s.network != nil {
			s.network.SetOnline(false)
		}
		http.Error(w, "offline and not cached", http.StatusGatewayTimeout)
		return
	}
	defer resp.Body.Close()

	if s.network != nil {
		s.network.SetOnline(true)
	}
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func (s *Server) fetchUpstream(r *http.Request) (*http.Response, error) {
	var body io.Reader
	if r.Body != nil {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, s.upstream+r.URL.RequestURI(), body)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, r.Header)
	return s.client.Do(req)
}

func writeEntry(w http.ResponseWriter, e *cache.Entry) {
	copyHeader(w.Header(), e.Header)
	w.WriteHeader(e.Status)
	w.Write(e.Body)
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		dst[k] = append([]string(nil), vs...)
	}
}

// --- Response helpers ---

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
