package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clipbench/clipbench-agent/internal/export"
	"github.com/clipbench/clipbench-agent/internal/ffmpeg"
	"github.com/clipbench/clipbench-agent/internal/history"
	"github.com/clipbench/clipbench-agent/internal/project"
	"github.com/clipbench/clipbench-agent/internal/render"
	"github.com/clipbench/clipbench-agent/internal/session"
	"github.com/clipbench/clipbench-agent/internal/timeline"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoveryMiddleware(s.logger))
	r.Use(loggingMiddleware(s.logger))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.token, s.logger))

		r.Get("/status", s.handleStatus)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/", s.handleListSessions)
			r.Get("/{id}", s.handleGetSession)
			r.Delete("/{id}", s.handleCloseSession)
			r.Post("/{id}/ops", s.handleSessionOp)
			r.Post("/{id}/undo", s.handleUndo)
			r.Post("/{id}/redo", s.handleRedo)
			r.Post("/{id}/reset", s.handleReset)
			r.Post("/{id}/export", s.handleSessionExport)
			r.Post("/{id}/save", s.handleSaveAs)
			r.Get("/{id}/playback", s.handlePlayback)
		})

		r.Get("/ops", s.handleListOps)
		r.Get("/ops/{id}", s.handleGetOp)

		r.Route("/project", func(r chi.Router) {
			r.Get("/", s.handleGetProject)
			r.Post("/clips", s.handleAddClip)
			r.Delete("/clips/{index}", s.handleRemoveClip)
			r.Patch("/clips/{index}", s.handleUpdateClip)
			r.Post("/clips/{index}/transcribe", s.handleTranscribeClip)
			r.Get("/timeline", s.handleTimeline)
			r.Post("/export", s.handleProjectExport)
			r.Post("/edl", s.handleEDL)
			r.Post("/undo", s.handleProjectUndo)
			r.Post("/redo", s.handleProjectRedo)
		})
	})

	return r
}

// writeServiceError maps domain sentinels onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, render.ErrBusy), errors.Is(err, render.ErrPaused):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrNoTranscriber):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, session.ErrUnsupportedFile),
		errors.Is(err, session.ErrWrongKind),
		errors.Is(err, project.ErrClipIndex),
		errors.Is(err, project.ErrEmptyProject),
		errors.Is(err, timeline.ErrBeyondTimeline):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, messageResponse{Status: "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Version:   s.version,
		Rendering: s.runner.Busy(),
		Sessions:  len(sessions),
		Clips:     len(s.projects.Clips()),
	})
}

func (s *Server) sessionResponse(sess *session.Session) sessionResponse {
	return sessionResponse{
		Session: sess,
		CanUndo: s.sessions.CanUndo(sess.ID),
		CanRedo: s.sessions.CanRedo(sess.ID),
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	sess, err := s.sessions.Open(r.Context(), req.Path, req.Kind)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.sessionResponse(sess))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, s.sessionResponse(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionResponse(sess))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Status: "closed"})
}

func (s *Server) handleSessionOp(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req opRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	var op *session.Operation
	var err error
	switch req.Kind {
	case session.OpTrim:
		op, err = s.sessions.Trim(r.Context(), id, req.Start, req.End)
	case session.OpSpeed:
		op, err = s.sessions.Speed(r.Context(), id, req.Factor)
	case session.OpRotate:
		op, err = s.sessions.Rotate(r.Context(), id, req.Transpose)
	case session.OpCrop:
		op, err = s.sessions.Crop(r.Context(), id, req.Width, req.Height, req.X, req.Y)
	case session.OpText:
		op, err = s.sessions.AddText(r.Context(), id, ffmpeg.DrawtextOptions{
			Text:       req.Text,
			FontFamily: req.FontFamily,
			FontSize:   req.FontSize,
			ColorR:     req.ColorR,
			ColorG:     req.ColorG,
			ColorB:     req.ColorB,
			Position:   req.Position,
		})
	case session.OpRemoveAudio:
		op, err = s.sessions.RemoveAudio(r.Context(), id)
	case session.OpCaptions:
		op, err = s.sessions.BurnCaptions(r.Context(), id)
	case session.OpFilter:
		var chain string
		chain, err = buildFilterChain(req)
		if err == nil {
			op, err = s.sessions.ApplyFilter(r.Context(), id, req.Filter, chain)
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown operation kind %q", req.Kind))
		return
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, op)
}

// buildFilterChain maps the named image adjustments onto filter chains.
func buildFilterChain(req opRequest) (string, error) {
	switch req.Filter {
	case "grayscale":
		return ffmpeg.GrayscaleFilter(), nil
	case "sepia":
		return ffmpeg.SepiaFilter(), nil
	case "blur":
		return ffmpeg.BlurFilter(req.Sigma), nil
	case "brightness_contrast":
		contrast := req.Contrast
		if contrast == 0 {
			contrast = 1.0
		}
		return ffmpeg.BrightnessContrastFilter(req.Brightness, contrast), nil
	case "hue":
		return ffmpeg.HueShiftFilter(req.Degrees), nil
	case "hflip":
		return ffmpeg.FlipHorizontalFilter(), nil
	case "vflip":
		return ffmpeg.FlipVerticalFilter(), nil
	case "resize":
		if req.Width <= 0 || req.Height <= 0 {
			return "", errors.New("resize requires positive width and height")
		}
		return ffmpeg.ScaleFilter(req.Width, req.Height), nil
	case "crop":
		if req.Width <= 0 || req.Height <= 0 {
			return "", errors.New("crop requires positive width and height")
		}
		if req.X < 0 || req.Y < 0 {
			return "", errors.New("crop origin must not be negative")
		}
		return ffmpeg.CropFilter(req.Width, req.Height, req.X, req.Y), nil
	default:
		return "", fmt.Errorf("unknown filter %q", req.Filter)
	}
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	s.handleHistoryStep(w, r, s.sessions.Undo)
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	s.handleHistoryStep(w, r, s.sessions.Redo)
}

func (s *Server) handleHistoryStep(w http.ResponseWriter, r *http.Request,
	step func(ctx context.Context, id string) (*session.Session, error)) {
	sess, err := step(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, history.ErrNothingToUndo) || errors.Is(err, history.ErrNothingToRedo) {
		// An exhausted stack is a no-op, not a failure.
		writeJSON(w, http.StatusOK, messageResponse{Status: "noop", Message: err.Error()})
		return
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionResponse(sess))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Reset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionResponse(sess))
}

func (s *Server) handleSessionExport(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeJSON(r, &req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	op, err := s.sessions.Export(r.Context(), chi.URLParam(r, "id"), req.Path)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, op)
}

func (s *Server) handleSaveAs(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeJSON(r, &req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	path, err := s.sessions.SaveAs(r.Context(), chi.URLParam(r, "id"), req.Path)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.player.ServeFile(w, r, sess.CurrentPath)
}

func (s *Server) handleListOps(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessionID := r.URL.Query().Get("session")
	var ops []*session.Operation
	var err error
	if sessionID == "" {
		ops, err = s.sessions.AllOperations(r.Context(), limit)
	} else {
		ops, err = s.sessions.Operations(r.Context(), sessionID, limit)
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if ops == nil {
		ops = []*session.Operation{}
	}
	writeJSON(w, http.StatusOK, ops)
}

func (s *Server) handleGetOp(w http.ResponseWriter, r *http.Request) {
	op, err := s.sessions.Operation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, projectResponse{
		Clips:   s.projects.Clips(),
		Total:   s.projects.Total(),
		CanUndo: s.projects.CanUndo(),
		CanRedo: s.projects.CanRedo(),
	})
}

func (s *Server) handleAddClip(w http.ResponseWriter, r *http.Request) {
	var req addClipRequest
	if err := decodeJSON(r, &req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	clip, err := s.projects.AddClip(r.Context(), req.Path)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, clip)
}

func clipIndex(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "index"))
}

func (s *Server) handleRemoveClip(w http.ResponseWriter, r *http.Request) {
	idx, err := clipIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid clip index")
		return
	}
	if err := s.projects.RemoveClip(r.Context(), idx); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Status: "removed"})
}

func (s *Server) handleUpdateClip(w http.ResponseWriter, r *http.Request) {
	idx, err := clipIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid clip index")
		return
	}
	var req updateClipRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	// One PATCH is one edit: all fields land in a single mutation so a
	// single undo reverts it.
	err = s.projects.UpdateClip(r.Context(), idx, project.ClipUpdate{
		TrimIn:   req.TrimIn,
		TrimOut:  req.TrimOut,
		Speed:    req.Speed,
		Overlay:  req.Overlay,
		Position: req.Position,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.handleGetProject(w, r)
}

func (s *Server) handleTranscribeClip(w http.ResponseWriter, r *http.Request) {
	idx, err := clipIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid clip index")
		return
	}
	op, err := s.projects.Transcribe(r.Context(), idx)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, op)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	t, err := strconv.ParseFloat(r.URL.Query().Get("t"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "query parameter t is required")
		return
	}
	idx, sec, err := s.projects.Locate(t)
	if errors.Is(err, timeline.ErrBeyondTimeline) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, timelineResponse{Clip: idx, Seconds: sec})
}

func (s *Server) handleProjectExport(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeJSON(r, &req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	op, err := s.projects.ExportAll(r.Context(), req.Path)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, op)
}

func (s *Server) handleEDL(w http.ResponseWriter, r *http.Request) {
	var req edlRequest
	if err := decodeJSON(r, &req); err != nil || req.Dir == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "dir and name are required")
		return
	}
	path, err := export.WriteEDL(s.projects.Clips(), req.Dir, req.Name,
		export.Options{Title: req.Title, FPS: req.FPS})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, edlResponse{Path: path})
}

func (s *Server) handleProjectUndo(w http.ResponseWriter, r *http.Request) {
	s.handleProjectStep(w, r, s.projects.Undo)
}

func (s *Server) handleProjectRedo(w http.ResponseWriter, r *http.Request) {
	s.handleProjectStep(w, r, s.projects.Redo)
}

func (s *Server) handleProjectStep(w http.ResponseWriter, r *http.Request, step func(ctx context.Context) error) {
	err := step(r.Context())
	if errors.Is(err, history.ErrNothingToUndo) || errors.Is(err, history.ErrNothingToRedo) {
		writeJSON(w, http.StatusOK, messageResponse{Status: "noop", Message: err.Error()})
		return
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.handleGetProject(w, r)
}
