package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jaypaulb/CanvusNoteMapper/pkg/logger"
	"github.com/jaypaulb/CanvusNoteMapper/pkg/notemapper"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	detector notemapper.NoteDetector
	canvas   *canvasProvider
	anchors  *notemapper.AnchorRegistry
	history  notemapper.History
	sessions *sessionStore
	config   *ServerConfig
	log      notemapper.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DBPath         string
	StaticDir      string
	DetectorName   string
	Timeout        time.Duration
	SessionTTL     time.Duration
	AllowedOrigins []string
}

// NewServer wires the detector, canvas and history into a server. history
// may be nil, which disables the history endpoints and recording.
func NewServer(detector notemapper.NoteDetector, canvas *canvasProvider, history notemapper.History, config *ServerConfig) *Server {
	s := &Server{
		detector: detector,
		canvas:   canvas,
		anchors:  notemapper.NewAnchorRegistry(canvas),
		history:  history,
		config:   config,
		log:      logger.GetLogger().Named("server"),
	}
	s.sessions = newSessionStore(config.SessionTTL, s.newPipeline)
	return s
}

func (s *Server) newPipeline(id string) *notemapper.Pipeline {
	opts := []notemapper.Option{
		notemapper.WithSessionID(id),
		notemapper.WithLogger(logger.GetLogger().Named("session " + id[:8])),
	}
	if s.history != nil {
		opts = append(opts, notemapper.WithRecorder(s.history))
	}
	return notemapper.NewPipeline(s.detector, s.canvas, opts...)
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// respondKindError reports a pipeline or collaborator error with its kind.
func (s *Server) respondKindError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Errorf("Request failed: %v", err)
	}
	s.respondJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Message: notemapper.Describe(err),
		Kind:    kindName(err),
		Code:    code,
	})
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON body: %v", err))
		return false
	}
	return true
}

// session looks up the {id} path value, writing a 404 if it is unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session, bool) {
	sess, ok := s.sessions.get(r.PathValue("id"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "Session not found or expired")
		return nil, false
	}
	return sess, true
}

// handleRoot handles GET / when no static directory is configured
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "CanvusNoteMapper API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":        "GET /health",
			"canvases":      "GET /api/canvases",
			"anchors":       "GET /api/canvases/{canvasID}/anchors",
			"anchor":        "GET /api/canvases/{canvasID}/anchors/{anchorID}",
			"canvasSize":    "GET /api/canvases/{canvasID}/size",
			"createSession": "POST /api/sessions",
			"session":       "GET|DELETE /api/sessions/{id}",
			"image":         "POST /api/sessions/{id}/image",
			"detect":        "POST /api/sessions/{id}/detect",
			"selection":     "POST /api/sessions/{id}/selection",
			"place":         "POST /api/sessions/{id}/place",
			"history":       "GET /api/history",
			"batch":         "GET|DELETE /api/history/{id}",
			"credentials":   "POST /api/credentials",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"time":        time.Now().Format(time.RFC3339),
		"detector":    s.config.DetectorName,
		"canvus":      s.canvas.Server(),
		"sessions":    s.sessions.len(),
		"history":     s.history != nil,
		"session_ttl": s.config.SessionTTL.String(),
	})
}

// handleListCanvases handles GET /api/canvases
func (s *Server) handleListCanvases(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.Timeout)
	defer cancel()

	canvases, err := s.anchors.ListCanvases(ctx)
	if err != nil {
		s.respondKindError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ListCanvasesResponse{Canvases: canvases, Count: len(canvases)})
}

// handleListAnchors handles GET /api/canvases/{canvasID}/anchors
func (s *Server) handleListAnchors(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.Timeout)
	defer cancel()

	canvasID := r.PathValue("canvasID")
	anchors, err := s.anchors.ListAnchors(ctx, canvasID)
	if err != nil {
		s.respondKindError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ListAnchorsResponse{CanvasID: canvasID, Anchors: anchors, Count: len(anchors)})
}

// handleGetAnchor handles GET /api/canvases/{canvasID}/anchors/{anchorID}
func (s *Server) handleGetAnchor(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.Timeout)
	defer cancel()

	anchor, err := s.anchors.GetAnchor(ctx, r.PathValue("canvasID"), r.PathValue("anchorID"))
	if err != nil {
		s.respondKindError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, anchor)
}

// handleCanvasSize handles GET /api/canvases/{canvasID}/size
func (s *Server) handleCanvasSize(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.Timeout)
	defer cancel()

	size, err := s.canvas.GetCanvasSize(ctx, r.PathValue("canvasID"))
	if err != nil {
		s.respondKindError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, size)
}

// handleCreateSession handles POST /api/sessions
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.create()
	s.log.Infof("Created session %s", sess.id)
	s.respondJSON(w, http.StatusCreated, s.sessionResponse(sess))
}

// handleGetSession handles GET /api/sessions/{id}
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, s.sessionResponse(sess))
}

// handleDeleteSession handles DELETE /api/sessions/{id}
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.sessions.remove(id) {
		s.respondError(w, http.StatusNotFound, "Session not found or expired")
		return
	}
	s.respondJSON(w, http.StatusOK, DeleteResponse{Message: "Session deleted", ID: id})
}

func (s *Server) sessionResponse(sess *session) SessionResponse {
	notes := sess.pipeline.Notes()
	if notes == nil {
		notes = []notemapper.PlacedNote{}
	}
	return SessionResponse{ID: sess.id, Status: sess.pipeline.Status(), Notes: notes}
}

// handleUploadImage handles POST /api/sessions/{id}/image. It accepts a
// multipart form with an "image" file or a raw image body.
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	data, err := readUpload(r)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.respondError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Image exceeds %s", humanize.IBytes(uint64(MaxUploadSize))))
			return
		}
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := sess.pipeline.AcquireImage(data); err != nil {
		s.respondKindError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.sessionResponse(sess))
}

func readUpload(r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, fmt.Errorf("image file is required: %w", err)
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("request body is empty")
	}
	return data, nil
}

// handleDetect handles POST /api/sessions/{id}/detect
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req TargetRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.Timeout)
	defer cancel()

	notes, err := sess.pipeline.RunDetection(ctx, req.CanvasID, req.AnchorID)
	if err != nil {
		s.respondKindError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, DetectResponse{
		Notes:  notes,
		Count:  len(notes),
		Status: sess.pipeline.Status(),
	})
}

// handleSelection handles POST /api/sessions/{id}/selection
func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req SelectionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var err error
	switch req.Action {
	case SelectOne:
		err = sess.pipeline.Select(*req.Index)
	case DeselectOne:
		err = sess.pipeline.Deselect(*req.Index)
	case SelectAll:
		sess.pipeline.SelectAll()
	case SelectNone:
		sess.pipeline.ClearSelection()
	}
	if err != nil {
		s.respondKindError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sess.pipeline.Status())
}

// handlePlace handles POST /api/sessions/{id}/place
func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req TargetRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.Timeout)
	defer cancel()

	result, err := sess.pipeline.Place(ctx, req.CanvasID, req.AnchorID)
	if err != nil {
		code := statusFor(err)
		created := result.CreatedCount
		s.respondJSON(w, code, ErrorResponse{
			Error:        http.StatusText(code),
			Message:      notemapper.Describe(err),
			Kind:         kindName(err),
			Code:         code,
			CreatedCount: &created,
		})
		return
	}
	s.respondJSON(w, http.StatusOK, PlaceResponse{
		CreatedCount: result.CreatedCount,
		Status:       sess.pipeline.Status(),
	})
}

// handleListHistory handles GET /api/history
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w) {
		return
	}
	limit := DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	batches, err := s.history.ListBatches(limit)
	if err != nil {
		s.log.Errorf("Failed to list history: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve history")
		return
	}
	s.respondJSON(w, http.StatusOK, HistoryResponse{Batches: batches, Count: len(batches)})
}

// handleGetHistory handles GET /api/history/{id}
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w) {
		return
	}
	detail, err := s.history.GetBatch(r.PathValue("id"))
	if err != nil {
		s.respondKindError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, detail)
}

// handleDeleteHistory handles DELETE /api/history/{id}
func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w) {
		return
	}
	id := r.PathValue("id")
	if err := s.history.DeleteBatch(id); err != nil {
		s.respondKindError(w, err)
		return
	}
	s.log.Infof("Deleted history batch %s", id)
	s.respondJSON(w, http.StatusOK, DeleteResponse{Message: "Batch deleted", ID: id})
}

func (s *Server) historyEnabled(w http.ResponseWriter) bool {
	if s.history == nil {
		s.respondError(w, http.StatusServiceUnavailable, "History is disabled")
		return false
	}
	return true
}

// handleCredentials handles POST /api/credentials. The new credentials are
// held in memory only.
func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.canvas.Configure(req.Server, req.APIKey); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Infof("Canvas server switched to %s", req.Server)
	s.respondJSON(w, http.StatusOK, map[string]string{
		"message": "Credentials updated",
		"server":  req.Server,
	})
}
