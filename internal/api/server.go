// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/drivebridge/drivebridge/internal/auth"
	"github.com/drivebridge/drivebridge/internal/config"
	"github.com/drivebridge/drivebridge/internal/download"
	"github.com/drivebridge/drivebridge/internal/drive"
	"github.com/drivebridge/drivebridge/internal/driveurl"
	"github.com/drivebridge/drivebridge/internal/errs"
	"github.com/drivebridge/drivebridge/internal/events"
	"github.com/drivebridge/drivebridge/internal/logging"
	"github.com/drivebridge/drivebridge/internal/metrics"
	"github.com/drivebridge/drivebridge/internal/quota"
	"github.com/drivebridge/drivebridge/internal/token"
	"github.com/drivebridge/drivebridge/pkg/protocol"
)

// Server is the HTTP server.
type Server struct {
	cfg          *config.Config
	parser       *driveurl.Parser
	gateway      *drive.Gateway
	tokens       *token.Manager
	auth         *auth.Auth
	orchestrator *download.Orchestrator
	broadcaster  *events.Broadcaster
	rateLimiter  *quota.RateLimiter
}

// NewServer wires the server to its collaborators.
func NewServer(cfg *config.Config, parser *driveurl.Parser, gateway *drive.Gateway,
	tokens *token.Manager, authHandler *auth.Auth, orchestrator *download.Orchestrator,
	broadcaster *events.Broadcaster, rateLimiter *quota.RateLimiter) *Server {
	return &Server{
		cfg:          cfg,
		parser:       parser,
		gateway:      gateway,
		tokens:       tokens,
		auth:         authHandler,
		orchestrator: orchestrator,
		broadcaster:  broadcaster,
		rateLimiter:  rateLimiter,
	}
}

// Handler builds the routed handler with the full middleware stack.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Resource endpoints
	mux.HandleFunc("POST /api/v1/parse", s.handleParse)
	mux.HandleFunc("GET /api/v1/metadata/{id}", s.handleMetadata)
	mux.HandleFunc("GET /api/v1/folder/{id}/files", s.handleFolderFiles)
	mux.HandleFunc("GET /api/v1/download/{id}", s.handleDownload)

	// Auth endpoints
	mux.HandleFunc("POST /api/v1/auth/provider", s.auth.HandleLoginStart)
	mux.HandleFunc("GET /api/v1/auth/provider/callback", s.auth.HandleCallback)
	mux.HandleFunc("POST /api/v1/auth/refresh", s.auth.HandleRefresh)
	mux.HandleFunc("POST /api/v1/auth/logout", s.auth.HandleLogout)
	mux.HandleFunc("GET /api/v1/auth/me", s.auth.HandleMe)

	// Task endpoints
	mux.HandleFunc("POST /api/v1/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/v1/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", s.handleCancelTask)
	mux.HandleFunc("DELETE /api/v1/tasks/completed", s.handleClearTasks)

	// SSE progress stream
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	// Session resolution runs before the limiter so each session gets
	// its own bucket.
	rateLimited := quota.RateLimitMiddleware(s.rateLimiter, s.cfg.RateLimitPerMin, s.cfg.RateLimitBurst, auth.SessionID)(mux)
	sessioned := s.auth.SessionMiddleware(rateLimited)
	return metrics.Middleware(logging.Middleware(sessioned))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": "1.0"})
}

// sessionToken resolves the caller's access token, falling back to
// anonymous (empty) when the session has no usable credential.
func (s *Server) sessionToken(r *http.Request) string {
	sessionID, ok := auth.SessionID(r.Context())
	if !ok {
		return ""
	}
	tok, err := s.tokens.CurrentToken(r.Context(), sessionID)
	if err != nil {
		logging.Warn("token resolution failed", zap.Error(err))
		return ""
	}
	return tok
}

// ─── Parse ──────────────────────────────────────────────────────────────────

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req protocol.ParseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, errs.New(errs.KindInvalidLink))
		return
	}
	ref := s.parser.Parse(req.URL)
	if ref == nil {
		s.sendError(w, errs.New(errs.KindInvalidLink))
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.ParseResponse{
		Kind:         ref.Kind.String(),
		ID:           ref.ID,
		CanonicalURL: s.parser.Reconstruct(ref),
	})
}

// ─── Metadata ───────────────────────────────────────────────────────────────

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !driveurl.ValidID(id) {
		s.sendError(w, errs.New(errs.KindInvalidLink))
		return
	}

	fd, err := s.gateway.FileMetadata(r.Context(), id, s.sessionToken(r))
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.MetadataResponse{File: fileInfo(fd)})
}

func (s *Server) handleFolderFiles(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !driveurl.ValidID(id) {
		s.sendError(w, errs.New(errs.KindInvalidLink))
		return
	}

	fd, err := s.gateway.FolderMetadata(r.Context(), id, s.sessionToken(r))
	if err != nil {
		s.sendError(w, err)
		return
	}

	files := make([]protocol.FileInfo, len(fd.Files))
	for i := range fd.Files {
		files[i] = fileInfo(&fd.Files[i])
	}
	s.sendJSON(w, http.StatusOK, protocol.FolderListResponse{
		FolderID:   fd.ID,
		FolderName: fd.Name,
		Files:      files,
		TotalSize:  fd.TotalSizeBytes,
	})
}

func fileInfo(fd *drive.FileDescriptor) protocol.FileInfo {
	return protocol.FileInfo{
		ID:           fd.ID,
		Name:         fd.Name,
		MimeType:     fd.MimeType,
		Size:         fd.Size,
		ModifiedTime: fd.ModifiedTime,
		IsGoogleDoc:  fd.IsGoogleDoc(),
	}
}

// ─── Download ───────────────────────────────────────────────────────────────

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !driveurl.ValidID(id) {
		s.sendError(w, errs.New(errs.KindInvalidLink))
		return
	}

	// Caller-supplied metadata skips the upstream metadata round-trip.
	var known *drive.KnownMetadata
	q := r.URL.Query()
	if q.Get("mimeType") != "" {
		size, _ := strconv.ParseInt(q.Get("size"), 10, 64)
		known = &drive.KnownMetadata{
			Name:     q.Get("name"),
			MimeType: q.Get("mimeType"),
			Size:     size,
		}
	}

	result, err := s.orchestrator.Fetch(r.Context(), "proxy-"+id, id, known, s.sessionToken(r), nil)
	if err != nil {
		s.sendError(w, err)
		return
	}

	desc := result.Descriptor
	contentType := desc.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(result.Content.Len()))
	w.Header().Set("Content-Disposition", contentDisposition(desc.Name))
	w.WriteHeader(http.StatusOK)
	if _, err := result.Content.WriteTo(w); err != nil {
		logging.Warn("client transfer aborted", zap.String("file", id), zap.Error(err))
	}
}

// contentDisposition builds an attachment header carrying both the
// quoted ASCII fallback and the RFC 5987 UTF-8 form.
func contentDisposition(name string) string {
	if name == "" {
		name = "download"
	}
	ascii := strings.Map(func(r rune) rune {
		if r < 32 || r == '"' || r == '\\' || r > 126 {
			return '_'
		}
		return r
	}, name)
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`,
		ascii, url.PathEscape(name))
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req protocol.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, errs.New(errs.KindInvalidLink))
		return
	}
	ref := s.parser.Parse(req.URL)
	if ref == nil {
		s.sendError(w, errs.New(errs.KindInvalidLink))
		return
	}

	tok := s.sessionToken(r)
	var tasks []*download.Task
	if ref.Kind == driveurl.KindFolder {
		var err error
		tasks, err = s.orchestrator.StartFolder(r.Context(), ref, tok)
		if err != nil {
			s.sendError(w, err)
			return
		}
	} else {
		tasks = []*download.Task{s.orchestrator.StartFile(ref, nil, tok)}
	}

	views := make([]protocol.TaskResponse, len(tasks))
	for i, t := range tasks {
		views[i] = taskResponse(t.Snapshot())
	}
	s.sendJSON(w, http.StatusAccepted, protocol.TaskListResponse{Tasks: views})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tracker := s.orchestrator.Tracker()
	views := tracker.List()
	tasks := make([]protocol.TaskResponse, len(views))
	for i, v := range views {
		tasks[i] = taskResponse(v)
	}
	s.sendJSON(w, http.StatusOK, protocol.TaskListResponse{
		Tasks:            tasks,
		AggregatePercent: tracker.AggregatePercent(),
	})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.orchestrator.Tracker().Cancel(id) {
		s.sendJSON(w, http.StatusNotFound, protocol.Envelope{
			Success: false,
			Error: &protocol.ErrorBody{
				Code:       "TASK_NOT_FOUND",
				Message:    "No such download task.",
				Suggestion: "List tasks to see what is currently tracked.",
			},
		})
		return
	}
	s.sendJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleClearTasks(w http.ResponseWriter, r *http.Request) {
	removed := s.orchestrator.Tracker().RemoveTerminal()
	s.sendJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func taskResponse(v download.View) protocol.TaskResponse {
	resp := protocol.TaskResponse{
		ID:         v.ID,
		ResourceID: v.ResourceID,
		FileName:   v.FileName,
		Status:     v.Status.String(),
		Percent:    v.Percent,
		Speed:      v.Speed,
	}
	if v.Err != nil {
		kind := errs.KindOf(v.Err)
		resp.Error = &protocol.ErrorBody{
			Code:         kind.Code(),
			Message:      kind.Message(),
			Suggestion:   kind.Suggestion(),
			RequiresAuth: kind.PromptLogin() || errs.IsTokenAuth(v.Err),
		}
	}
	return resp
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, errs.New(errs.KindAPIError))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Responses ──────────────────────────────────────────────────────────────

func (s *Server) sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(protocol.Envelope{Success: true, Data: data})
}

// statusFor maps error kinds to HTTP status codes. An access failure
// under a user token is a 401 so clients re-authenticate; an anonymous
// access failure is a plain 403.
func statusFor(err error) int {
	if errs.IsTokenAuth(err) {
		return http.StatusUnauthorized
	}
	switch errs.KindOf(err) {
	case errs.KindInvalidLink:
		return http.StatusBadRequest
	case errs.KindFileNotFound:
		return http.StatusNotFound
	case errs.KindAccessDenied:
		return http.StatusForbidden
	case errs.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case errs.KindSessionExpired:
		return http.StatusUnauthorized
	case errs.KindAuthCancelled, errs.KindAuthFailed:
		return http.StatusBadRequest
	case errs.KindNetworkError, errs.KindDownloadFailed, errs.KindAPIError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	json.NewEncoder(w).Encode(protocol.Envelope{
		Success: false,
		Error: &protocol.ErrorBody{
			Code:         kind.Code(),
			Message:      kind.Message(),
			Suggestion:   kind.Suggestion(),
			RequiresAuth: kind.PromptLogin() || errs.IsTokenAuth(err),
		},
	})
}
