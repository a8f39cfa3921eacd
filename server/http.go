package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/psp/adapter"
	"github.com/hazyhaar/psp/session"
	"github.com/hazyhaar/psp/store"
	"github.com/hazyhaar/psp/workflow"
)

// Router builds the REST surface. authTokenHash is a bcrypt hash of the
// accepted bearer token; empty disables authentication. The health and
// WebSocket endpoints are always open.
func Router(svc *Service, authTokenHash string) chi.Router {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"sessions":    len(svc.ListSessions()),
			"subscribers": svc.Stream().SubscriberCount(),
		})
	})
	r.Get("/ws", svc.Stream().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(bearerAuth(authTokenHash))

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", svc.handleListSessions)
			r.Post("/", svc.handleCreateSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", svc.handleGetSession)
				r.Delete("/", svc.handleCloseSession)
				r.Post("/capture", svc.handleCapture)
				r.Post("/restore", svc.handleRestore)
				r.Post("/navigate", svc.handleNavigate)
				r.Post("/click", svc.handleClick)
				r.Post("/fill", svc.handleFill)
				r.Get("/screenshot", svc.handleScreenshot)
				r.Post("/record/start", svc.handleRecordStart)
				r.Post("/record/stop", svc.handleRecordStop)
				r.Post("/replay", svc.handleReplay)
				r.Post("/workflow", svc.handleWorkflow)
			})
		})

		r.Route("/snapshots", func(r chi.Router) {
			r.Get("/", svc.handleListSnapshots)
			r.Get("/{id}", svc.handleGetSnapshot)
			r.Delete("/{id}", svc.handleDeleteSnapshot)
		})
	})

	return r
}

// bearerAuth checks the Authorization header against a bcrypt hash of
// the expected token. An empty hash disables the check.
func bearerAuth(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if hash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) != nil {
				writeError(w, http.StatusUnauthorized, errors.New("invalid or missing bearer token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Service) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateOptions
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	meta, err := s.CreateSession(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

func (s *Service) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.ListSessions()})
}

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	meta, err := s.GetSession(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Service) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.CloseSession(chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type captureRequest struct {
	Save bool   `json:"save"`
	Name string `json:"name"`
}

func (s *Service) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.Capture(r.Context(), chi.URLParam(r, "id"), req.Save, req.Name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type restoreRequest struct {
	SnapshotID string         `json:"snapshotId,omitempty"`
	State      *session.State `json:"state,omitempty"`
	// VerifyVisual enables screenshot comparison after the restore.
	VerifyVisual    bool    `json:"verifyVisual,omitempty"`
	VisualThreshold float64 `json:"visualThreshold,omitempty"`
}

func (s *Service) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var opts *adapter.ApplyOptions
	if req.VerifyVisual {
		opts = &adapter.ApplyOptions{
			VerifyVisualState:         true,
			VisualSimilarityThreshold: req.VisualThreshold,
		}
	}
	err := s.Restore(r.Context(), chi.URLParam(r, "id"), req.State, req.SnapshotID, opts)
	if err != nil {
		var vErr *adapter.VisualVerificationError
		if errors.As(err, &vErr) {
			// The restore itself completed; report the verification verdict.
			writeJSON(w, http.StatusOK, map[string]any{
				"restored":   true,
				"verified":   false,
				"similarity": vErr.Similarity,
				"threshold":  vErr.Threshold,
			})
			return
		}
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"restored": true})
}

type navigateRequest struct {
	URL string `json:"url"`
}

func (s *Service) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	if err := s.Navigate(r.Context(), chi.URLParam(r, "id"), req.URL); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": req.URL})
}

type targetRequest struct {
	Selector string `json:"selector"`
	Value    string `json:"value,omitempty"`
}

func (s *Service) handleClick(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Selector == "" {
		writeError(w, http.StatusBadRequest, errors.New("selector is required"))
		return
	}
	if err := s.Click(r.Context(), chi.URLParam(r, "id"), req.Selector); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clicked": req.Selector})
}

func (s *Service) handleFill(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Selector == "" {
		writeError(w, http.StatusBadRequest, errors.New("selector is required"))
		return
	}
	if err := s.Fill(r.Context(), chi.URLParam(r, "id"), req.Selector, req.Value); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"filled": req.Selector})
}

func (s *Service) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	shot, err := s.Screenshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(shot)
}

func (s *Service) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	if err := s.StartRecording(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recording": true})
}

func (s *Service) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	events, err := s.StopRecording(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type replayRequest struct {
	// Events to replay. Absent replays the session's own recording.
	Events []session.Event `json:"events,omitempty"`
	// Speed scales inter-event pacing. Absent means 1.0; zero or
	// negative disables the delay.
	Speed *float64 `json:"speed,omitempty"`
}

type stepFailureJSON struct {
	Index  int    `json:"index"`
	Type   string `json:"type"`
	Target string `json:"target,omitempty"`
	Error  string `json:"error"`
}

func (s *Service) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var opts *adapter.PlayOptions
	if req.Speed != nil {
		opts = &adapter.PlayOptions{Speed: *req.Speed}
	}
	failures, err := s.Replay(r.Context(), chi.URLParam(r, "id"), req.Events, opts)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	out := make([]stepFailureJSON, 0, len(failures))
	for _, f := range failures {
		out = append(out, stepFailureJSON{Index: f.Index, Type: f.Type, Target: f.Target, Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": out})
}

func (s *Service) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf workflow.Workflow
	if err := decode(r, &wf); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(wf.Steps) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("workflow has no steps"))
		return
	}
	results, err := s.RunWorkflow(r.Context(), chi.URLParam(r, "id"), wf)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		// Step failures still carry partial results.
		writeJSON(w, http.StatusOK, map[string]any{"results": results, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Service) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no snapshot store configured"))
		return
	}
	metas, err := s.opts.Store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": metas})
}

func (s *Service) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no snapshot store configured"))
		return
	}
	st, meta, err := s.opts.Store.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"meta": meta, "state": st})
}

func (s *Service) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no snapshot store configured"))
		return
	}
	if err := s.opts.Store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
