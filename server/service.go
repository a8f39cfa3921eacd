// Package server exposes live browser sessions over REST, WebSocket, and
// MCP. Each live session pairs one driver (one page) with one adapter; a
// per-session lock serialises operations so that concurrent requests never
// interleave on the same page.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/psp/adapter"
	"github.com/hazyhaar/psp/driver"
	"github.com/hazyhaar/psp/idgen"
	"github.com/hazyhaar/psp/session"
	"github.com/hazyhaar/psp/store"
	"github.com/hazyhaar/psp/workflow"
)

// ErrSessionNotFound is returned for operations on unknown session IDs.
var ErrSessionNotFound = errors.New("server: session not found")

var snapshotIDs = idgen.Prefixed("snap_", idgen.NanoID(12))

// DriverFactory creates a fresh driver (one browser page) per session.
// The returned close function releases the page.
type DriverFactory func(ctx context.Context) (driver.Driver, func() error, error)

// Options configures the Service.
type Options struct {
	Factory DriverFactory
	// Store persists snapshots. Nil disables save/load endpoints.
	Store  store.Provider
	Logger *slog.Logger
	// IDs generates session identifiers. Default: "sess_" + NanoID(12).
	IDs idgen.Generator
}

// SessionMeta is the public description of a live session.
type SessionMeta struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	URL       string `json:"url,omitempty"`
	Recording bool   `json:"recording"`
	CreatedAt int64  `json:"createdAt"`
}

type liveSession struct {
	mu      sync.Mutex // one in-flight operation per session
	meta    SessionMeta
	drv     driver.Driver
	ad      *adapter.Adapter
	closeFn func() error
}

// Service owns the live-session registry.
type Service struct {
	opts   Options
	log    *slog.Logger
	ids    idgen.Generator
	stream *Stream

	mu       sync.RWMutex
	sessions map[string]*liveSession
}

// New creates a Service. The factory is required.
func New(opts Options) (*Service, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("server: driver factory is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IDs == nil {
		opts.IDs = idgen.Prefixed("sess_", idgen.NanoID(12))
	}
	return &Service{
		opts:     opts,
		log:      opts.Logger,
		ids:      opts.IDs,
		stream:   newStream(opts.Logger),
		sessions: make(map[string]*liveSession),
	}, nil
}

// Stream returns the WebSocket event stream.
func (s *Service) Stream() *Stream { return s.stream }

// CreateOptions configure a new live session.
type CreateOptions struct {
	Name string `json:"name"`
	// URL to navigate to right after the page opens. Empty leaves the
	// page blank.
	URL string `json:"url"`
	// ScreenshotOnCapture attaches a screenshot extension to captures,
	// which later restores can verify against.
	ScreenshotOnCapture bool `json:"screenshotOnCapture"`
	// VisualComparison requests driver vision state on captures.
	VisualComparison bool `json:"visualComparison"`
}

// CreateSession opens a new page and, when a URL is given, navigates to it.
func (s *Service) CreateSession(ctx context.Context, opts CreateOptions) (SessionMeta, error) {
	drv, closeFn, err := s.opts.Factory(ctx)
	if err != nil {
		return SessionMeta{}, fmt.Errorf("server: create session: %w", err)
	}

	ad := adapter.New(adapter.Options{
		ScreenshotOnCapture: opts.ScreenshotOnCapture,
		VisualComparison:    opts.VisualComparison,
		Logger:              s.log,
	})
	ad.Connect(drv)

	ls := &liveSession{
		meta: SessionMeta{
			ID:        s.ids(),
			Name:      opts.Name,
			URL:       opts.URL,
			CreatedAt: time.Now().UnixMilli(),
		},
		drv:     drv,
		ad:      ad,
		closeFn: closeFn,
	}

	if opts.URL != "" {
		if err := drv.Goto(ctx, opts.URL); err != nil {
			if closeFn != nil {
				closeFn()
			}
			return SessionMeta{}, fmt.Errorf("server: initial navigation: %w", err)
		}
	}

	s.mu.Lock()
	s.sessions[ls.meta.ID] = ls
	s.mu.Unlock()

	s.log.Info("session created", "session_id", ls.meta.ID, "url", opts.URL)
	s.stream.Publish("session_created", ls.meta.ID, ls.meta)
	return ls.meta, nil
}

// ListSessions returns the metadata of every live session.
func (s *Service) ListSessions() []SessionMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	metas := make([]SessionMeta, 0, len(s.sessions))
	for _, ls := range s.sessions {
		metas = append(metas, ls.meta)
	}
	return metas
}

// GetSession returns the metadata of one live session.
func (s *Service) GetSession(id string) (SessionMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ls, ok := s.sessions[id]
	if !ok {
		return SessionMeta{}, ErrSessionNotFound
	}
	return ls.meta, nil
}

// CloseSession releases the session's page and removes it from the registry.
func (s *Service) CloseSession(id string) error {
	s.mu.Lock()
	ls, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.closeFn != nil {
		if err := ls.closeFn(); err != nil {
			s.log.Warn("session close", "session_id", id, "error", err)
		}
	}
	s.log.Info("session closed", "session_id", id)
	s.stream.Publish("session_closed", id, nil)
	return nil
}

// Close shuts every session down and stops the event stream.
func (s *Service) Close() error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*liveSession)
	s.mu.Unlock()

	for id, ls := range sessions {
		if ls.closeFn != nil {
			if err := ls.closeFn(); err != nil {
				s.log.Warn("session close", "session_id", id, "error", err)
			}
		}
	}
	s.stream.Shutdown()
	return nil
}

// withSession runs fn holding the session's operation lock.
func (s *Service) withSession(id string, fn func(*liveSession) error) error {
	s.mu.RLock()
	ls, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return fn(ls)
}

// CaptureResult pairs a snapshot with its best-effort extension failures.
type CaptureResult struct {
	State    *session.State             `json:"state"`
	Failures []adapter.ExtensionFailure `json:"-"`
	// FailureNames surfaces extension failures on the wire.
	FailureNames []string `json:"extensionFailures,omitempty"`
	// SnapshotID is set when the capture was persisted.
	SnapshotID string `json:"snapshotId,omitempty"`
}

// Capture snapshots the session. When save is true and a store is
// configured, the snapshot is persisted under a fresh snapshot ID.
func (s *Service) Capture(ctx context.Context, id string, save bool, name string) (*CaptureResult, error) {
	var res CaptureResult
	err := s.withSession(id, func(ls *liveSession) error {
		st, failures, err := ls.ad.CaptureState(ctx)
		if err != nil {
			return err
		}
		res.State = st
		res.Failures = failures
		for _, f := range failures {
			res.FailureNames = append(res.FailureNames, f.Name)
		}

		if save {
			if s.opts.Store == nil {
				return fmt.Errorf("server: no snapshot store configured")
			}
			snapID := snapshotIDs()
			meta := store.Meta{ID: snapID, Name: name, Adapter: "rod"}
			if err := s.opts.Store.Save(ctx, meta, st); err != nil {
				return err
			}
			res.SnapshotID = snapID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.stream.Publish("capture", id, map[string]any{"origin": res.State.Origin, "snapshotId": res.SnapshotID})
	return &res, nil
}

// Restore applies a snapshot to the session. Exactly one of st or
// snapshotID must be provided; snapshotID loads from the store.
func (s *Service) Restore(ctx context.Context, id string, st *session.State, snapshotID string, opts *adapter.ApplyOptions) error {
	if st == nil && snapshotID == "" {
		return fmt.Errorf("server: restore needs a state or a snapshot id")
	}
	if st == nil {
		if s.opts.Store == nil {
			return fmt.Errorf("server: no snapshot store configured")
		}
		loaded, _, err := s.opts.Store.Load(ctx, snapshotID)
		if err != nil {
			return err
		}
		st = loaded
	}

	err := s.withSession(id, func(ls *liveSession) error {
		if err := ls.ad.ApplyState(ctx, st, opts); err != nil {
			return err
		}
		url, _ := ls.drv.CurrentURL(ctx)
		ls.meta.URL = url
		return nil
	})
	if err != nil {
		return err
	}
	s.stream.Publish("restore", id, map[string]any{"origin": st.Origin, "snapshotId": snapshotID})
	return nil
}

// Navigate moves the session's page to url.
func (s *Service) Navigate(ctx context.Context, id, url string) error {
	err := s.withSession(id, func(ls *liveSession) error {
		if err := ls.drv.Goto(ctx, url); err != nil {
			return err
		}
		ls.meta.URL = url
		return nil
	})
	if err != nil {
		return err
	}
	s.stream.Publish("navigate", id, map[string]any{"url": url})
	return nil
}

// Click clicks the element addressed by a CSS selector.
func (s *Service) Click(ctx context.Context, id, selector string) error {
	return s.withSession(id, func(ls *liveSession) error {
		sel, ok := ls.drv.(driver.SelectorDriver)
		if !ok {
			return fmt.Errorf("server: driver does not support selector targeting")
		}
		return sel.Click(ctx, selector)
	})
}

// Fill types a value into the element addressed by a CSS selector.
func (s *Service) Fill(ctx context.Context, id, selector, value string) error {
	return s.withSession(id, func(ls *liveSession) error {
		sel, ok := ls.drv.(driver.SelectorDriver)
		if !ok {
			return fmt.Errorf("server: driver does not support selector targeting")
		}
		return sel.Fill(ctx, selector, value)
	})
}

// Screenshot returns the page rendered as an image.
func (s *Service) Screenshot(ctx context.Context, id string) ([]byte, error) {
	var shot []byte
	err := s.withSession(id, func(ls *liveSession) error {
		var err error
		shot, err = ls.drv.Screenshot(ctx)
		return err
	})
	return shot, err
}

// StartRecording arms the session's in-page recorder.
func (s *Service) StartRecording(ctx context.Context, id string) error {
	err := s.withSession(id, func(ls *liveSession) error {
		if err := ls.ad.StartRecording(ctx); err != nil {
			return err
		}
		ls.meta.Recording = true
		return nil
	})
	if err != nil {
		return err
	}
	s.stream.Publish("recording_started", id, nil)
	return nil
}

// StopRecording drains the recorder and returns the full accumulated trace.
func (s *Service) StopRecording(ctx context.Context, id string) ([]session.Event, error) {
	var events []session.Event
	err := s.withSession(id, func(ls *liveSession) error {
		var err error
		events, err = ls.ad.StopRecording(ctx)
		if err != nil {
			return err
		}
		ls.meta.Recording = false
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.stream.Publish("recording_stopped", id, map[string]any{"events": len(events)})
	return events, nil
}

// Replay plays a trace against the session. A nil trace replays the
// session's own accumulated recording.
func (s *Service) Replay(ctx context.Context, id string, events []session.Event, opts *adapter.PlayOptions) ([]adapter.StepFailure, error) {
	var failures []adapter.StepFailure
	err := s.withSession(id, func(ls *liveSession) error {
		if events == nil {
			events = ls.ad.RecordedEvents()
		}
		var err error
		failures, err = ls.ad.PlayRecording(ctx, events, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.stream.Publish("replay_done", id, map[string]any{"events": len(events), "failures": len(failures)})
	return failures, nil
}

// RunWorkflow executes a workflow against the session.
func (s *Service) RunWorkflow(ctx context.Context, id string, wf workflow.Workflow) ([]workflow.StepResult, error) {
	var results []workflow.StepResult
	err := s.withSession(id, func(ls *liveSession) error {
		var runErr error
		results, runErr = workflow.Run(ctx, ls.drv, wf)
		return runErr
	})
	s.stream.Publish("workflow_done", id, map[string]any{"name": wf.Name, "steps": len(results)})
	return results, err
}
