// Package adapter implements the session core: capturing a browser's
// logical state into a session.State snapshot, restoring a snapshot into
// a fresh page, and recording/replaying user interaction traces. It is
// written entirely against the driver capability interface; the concrete
// automation binding lives elsewhere.
//
// One adapter drives one page. Operations on the same adapter must not
// run concurrently; the page's navigation and storage state is not
// transaction-isolated. Independent adapters on independent pages may
// run in parallel freely.
package adapter

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/hazyhaar/psp/driver"
	"github.com/hazyhaar/psp/session"
)

// ErrNotConnected is returned when an operation is attempted before
// Connect. Fatal to that call; there is nothing to retry.
var ErrNotConnected = errors.New("adapter: not connected to a browser")

// VisualVerificationError reports a post-restore visual check that came
// in under the configured threshold. The restore itself completed.
type VisualVerificationError struct {
	Similarity float64
	Threshold  float64
}

func (e *VisualVerificationError) Error() string {
	return fmt.Sprintf("adapter: visual verification failed: similarity %.4f below threshold %.4f",
		e.Similarity, e.Threshold)
}

// ExtensionFailure is a best-effort extension (screenshot, vision state)
// that could not be captured. It is reported alongside a successful
// snapshot, never as an error: extensions must not abort a capture.
type ExtensionFailure struct {
	Name string // "screenshot" or "visionState"
	Err  error
}

// Options configure capture behaviour for an adapter.
type Options struct {
	// ScreenshotOnCapture attaches a screenshot extension to snapshots.
	ScreenshotOnCapture bool
	// VisualComparison requests vision-state capture from drivers that
	// provide it, for later visual verification.
	VisualComparison bool

	Logger *slog.Logger
}

// Adapter binds the session core to one page via a Driver. The recorded
// trace accumulates across stop/start cycles on the same adapter.
type Adapter struct {
	opts Options
	log  *slog.Logger

	mu     sync.Mutex
	drv    driver.Driver
	events []session.Event
}

// New creates a disconnected adapter. Call Connect before use.
func New(opts Options) *Adapter {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{opts: opts, log: log}
}

// Connect attaches a driver (a live page). Passing nil detaches.
func (a *Adapter) Connect(d driver.Driver) {
	a.mu.Lock()
	a.drv = d
	a.mu.Unlock()
}

// Connected reports whether a driver is attached.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drv != nil
}

func (a *Adapter) driver() (driver.Driver, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.drv == nil {
		return nil, ErrNotConnected
	}
	return a.drv, nil
}

// originOf derives the storage-scoping origin (scheme://host[:port])
// from a page URL.
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}
