package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"audiorelay/internal/audiocache"
	"audiorelay/internal/config"
	"audiorelay/internal/deps"
	"audiorelay/internal/extraction"
	"audiorelay/internal/logging"
	"audiorelay/internal/pipeline"
	"audiorelay/internal/services/oembed"
	"audiorelay/internal/textutil"
	"audiorelay/internal/videoref"
)

const maxRequestBody = 64 << 10

const (
	msgURLRequired   = "YouTube URL is required"
	msgInvalidURL    = "Invalid YouTube URL"
	msgExtractFailed = "Failed to extract audio"
)

type apiServer struct {
	bind            string
	urlField        string
	healthMessage   string
	shutdownTimeout time.Duration
	logger          *slog.Logger
	daemon          *Daemon
	limiter         *rate.Limiter

	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:            cfg.ListenAddr(),
		urlField:        cfg.Server.URLField,
		healthMessage:   cfg.Server.HealthMessage,
		shutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second,
		logger:          logger,
		daemon:          d,
	}
	if srv.shutdownTimeout <= 0 {
		srv.shutdownTimeout = 5 * time.Second
	}
	if cfg.Server.RequestsPerSecond > 0 {
		srv.limiter = rate.NewLimiter(rate.Limit(cfg.Server.RequestsPerSecond), cfg.Server.Burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/extract-audio", srv.rateLimited(srv.handleExtract))
	mux.HandleFunc("/api/health", srv.handleHealth)
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/audio/", srv.rateLimited(srv.handleAudio))

	srv.handler = srv.withRequestContext(withCORS(cfg.Server.AllowedOrigin, mux))
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Resolutions can run several strategies back to back.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_serve", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.shutdown(server)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server != nil {
		s.shutdown(server)
	}
}

func (s *apiServer) shutdown(server *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type extractRequest struct {
	YouTubeURL string `json:"youtubeUrl"`
	URL        string `json:"url"`
}

func (r extractRequest) source(field string) string {
	switch field {
	case "youtubeUrl":
		return strings.TrimSpace(r.YouTubeURL)
	case "url":
		return strings.TrimSpace(r.URL)
	default:
		if v := strings.TrimSpace(r.YouTubeURL); v != "" {
			return v
		}
		return strings.TrimSpace(r.URL)
	}
}

type extractResponse struct {
	Success        bool   `json:"success"`
	Title          string `json:"title"`
	Duration       string `json:"duration"`
	AudioURL       string `json:"audioUrl"`
	IsDirectStream bool   `json:"isDirectStream"`
}

func (s *apiServer) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req extractRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, msgURLRequired)
			return
		}
	}
	source := req.source(s.urlField)
	if source == "" {
		s.writeError(w, http.StatusBadRequest, msgURLRequired)
		return
	}

	ctx := r.Context()
	logger := logging.WithContext(ctx, s.logger)
	logger.Info("extracting audio", logging.String("source", source))

	outcome, err := s.daemon.components.Resolver.Resolve(ctx, source)
	switch {
	case err == nil:
	case errors.Is(err, videoref.ErrInvalidURL):
		s.writeError(w, http.StatusBadRequest, msgInvalidURL)
		return
	case errors.Is(err, extraction.ErrLaunch):
		s.daemon.alerts.launchFailed(err)
		logging.ErrorWithContext(logger, "extractor could not be launched", "extract_launch",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check extractor.binary permissions"),
		)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   msgExtractFailed,
			"details": err.Error(),
		})
		return
	case ctx.Err() != nil:
		logger.Info("client went away before resolution finished", logging.Error(err))
		return
	default:
		logging.ErrorWithContext(logger, "resolution failed", "extract_error", logging.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   msgExtractFailed,
			"details": err.Error(),
		})
		return
	}

	s.daemon.alerts.outcome(source, outcome)
	s.writeJSON(w, http.StatusOK, extractResponse{
		Success:        outcome.Success,
		Title:          outcome.Title,
		Duration:       outcome.Duration,
		AudioURL:       outcome.AudioURL,
		IsDirectStream: outcome.IsDirectStream,
	})
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status       string            `json:"status"`
	Message      string            `json:"message"`
	Uptime       string            `json:"uptime,omitempty"`
	Strategies   []string          `json:"strategies"`
	Dependencies []deps.Status     `json:"dependencies"`
	Stats        pipeline.Stats    `json:"stats"`
	Cache        *audiocache.Stats `json:"cache,omitempty"`
	StreamCache  string            `json:"streamCache"`
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	resp := HealthResponse{
		Status:       "OK",
		Message:      s.healthMessage,
		Strategies:   status.Strategies,
		Dependencies: status.Dependencies,
		Stats:        status.Stats,
		Cache:        status.Cache,
		StreamCache:  status.StreamCache,
	}
	if !status.StartedAt.IsZero() {
		resp.Uptime = time.Since(status.StartedAt).Truncate(time.Second).String()
	}
	if resp.Dependencies == nil {
		resp.Dependencies = []deps.Status{}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/audio/")
	file, entry, err := s.daemon.components.Files.OpenFile(r.Context(), name)
	if err != nil {
		if errors.Is(err, audiocache.ErrEntryNotFound) {
			s.writeError(w, http.StatusNotFound, "audio not found")
			return
		}
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "open cached audio failed", "audio_serve",
			logging.String("file", name),
			logging.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "failed to open audio")
		return
	}
	defer file.Close()
	if contentType := audioContentType(entry.FileName); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if disposition := audioDisposition(entry.Title, entry.FileName); disposition != "" {
		w.Header().Set("Content-Disposition", disposition)
	}
	http.ServeContent(w, r, entry.FileName, entry.CreatedAt, file)
}

// audioDisposition names the download after the video title, keeping the
// cached file's extension.
func audioDisposition(title, fileName string) string {
	stem := textutil.SanitizeFileName(title)
	if stem == "" || stem == oembed.UnknownTitle {
		stem = strings.TrimSuffix(fileName, path.Ext(fileName))
	}
	return mime.FormatMediaType("inline", map[string]string{"filename": stem + path.Ext(fileName)})
}

func audioContentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(name, ".m4a"), strings.HasSuffix(name, ".mp4"):
		return "audio/mp4"
	case strings.HasSuffix(name, ".webm"):
		return "audio/webm"
	case strings.HasSuffix(name, ".opus"), strings.HasSuffix(name, ".ogg"):
		return "audio/ogg"
	default:
		return ""
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(payload); err != nil {
		s.logger.Warn("api response encode failed", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
