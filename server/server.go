// Package server exposes the HTTP surface: synchronous generation, the
// SSE progress stream, artifact download, job listing, health, metrics
// and the websocket job-update feed.
package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jupark12/go-display-pdf/config"
	"github.com/jupark12/go-display-pdf/document"
	"github.com/jupark12/go-display-pdf/httpclient"
	"github.com/jupark12/go-display-pdf/metrics"
	"github.com/jupark12/go-display-pdf/models"
	"github.com/jupark12/go-display-pdf/pipeline"
	"github.com/jupark12/go-display-pdf/task"
	"github.com/jupark12/go-display-pdf/validate"
)

//go:embed index.html
var indexHTML []byte

// Server handles HTTP requests for PDF generation
type Server struct {
	cfg      *config.Settings
	orch     *task.Orchestrator
	registry *task.Registry
	hub      *models.Hub
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	log      zerolog.Logger
}

// New creates a new server instance and starts the websocket relay.
func New(cfg *config.Settings, orch *task.Orchestrator, registry *task.Registry,
	hub *models.Hub, logger zerolog.Logger) *Server {
	hub.Start()

	s := &Server{
		cfg:      cfg,
		orch:     orch,
		registry: registry,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: logger.With().Str("component", "server").Logger(),
	}

	// Forward registry transitions to connected websocket clients.
	go func() {
		for job := range registry.Updates() {
			hub.BroadcastJobUpdate(job)
		}
	}()

	return s
}

// Start begins serving on the configured address.
func (s *Server) Start() {
	s.httpSrv = &http.Server{Addr: s.cfg.HTTPAddr, Handler: s.routes()}

	go func() {
		s.log.Info().Str("addr", s.cfg.HTTPAddr).Msg("http server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Fatal().Err(err).Msg("http server failed")
		}
	}()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	cors := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}

	mux.Handle("/api/generate", cors(http.HandlerFunc(s.handleGenerate)))
	mux.Handle("/api/generate-with-progress", cors(http.HandlerFunc(s.handleGenerateWithProgress)))
	mux.Handle("/api/download/", cors(http.HandlerFunc(s.handleDownload)))
	mux.Handle("/api/jobs", cors(http.HandlerFunc(s.handleJobs)))
	mux.Handle("/health", http.HandlerFunc(s.handleHealth))
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/ws", http.HandlerFunc(s.handleWebSocket))
	mux.Handle("/", http.HandlerFunc(s.handleIndex))

	return mux
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Handler returns the server's route table; tests mount it directly.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// generateRequest is the body of both generation endpoints.
type generateRequest struct {
	URL        string `json:"url"`
	OutputName string `json:"output_name"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		s.writeJSONError(w, http.StatusBadRequest, "request body must carry a url")
		return
	}

	outputName := validate.SafeFilename(req.OutputName)
	job := s.registry.Create(req.URL, outputName)

	pdf, err := s.orch.Run(r.Context(), job, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+outputName+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.Write(pdf)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	taskID := filepath.Base(r.URL.Path)
	pdf, ok := s.orch.Artifact(taskID)
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "pdf not found or expired, generate it again")
		return
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = "output.pdf"
	}
	outputName := validate.SafeFilename(filename)

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+outputName+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.Write(pdf)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.registry.Jobs())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleWebSocket upgrades the connection and feeds it job updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s.hub.RegisterClient(conn)

	// Send the current job list so a fresh client has state to render.
	initial, err := json.Marshal(map[string]interface{}{
		"type": "initial_jobs",
		"jobs": s.registry.Jobs(),
	})
	if err == nil {
		conn.WriteMessage(websocket.TextMessage, initial)
	}

	go func() {
		for {
			// Clients only listen; reads just detect disconnection.
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.UnregisterClient(conn)
				break
			}
		}
	}()
}

// writeError translates a conversion failure into the HTTP contract:
// validation and document problems are the caller's fault, timeouts map
// to 504, everything else is internal.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, task.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, validate.ErrBadReference),
		errors.Is(err, validate.ErrForbiddenHost),
		errors.Is(err, validate.ErrBadURL),
		errors.Is(err, document.ErrSchema),
		errors.Is(err, document.ErrNoImages),
		errors.Is(err, document.ErrLimitExceeded),
		errors.Is(err, httpclient.ErrDecode),
		errors.Is(err, pipeline.ErrAllDownloadsFailed):
		status = http.StatusBadRequest
	}
	s.writeJSONError(w, status, err.Error())
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
