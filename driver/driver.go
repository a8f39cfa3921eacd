// Package driver defines the browser capability surface the session core
// is written against. Any automation binding (rod, CDP, remote bridge)
// that implements Driver can be captured, restored, recorded and
// replayed; the core never reaches past this interface.
package driver

import (
	"context"
	"encoding/json"
)

// Cookie is a driver-native cookie record: a loose JSON object whose
// field names follow the DevTools convention (name, value, domain, path,
// expires, httpOnly, secure, sameSite). The adapter's codec converts
// between this shape and the canonical session.Cookie.
type Cookie map[string]any

// Driver is the capability set every binding must provide. All calls are
// potentially-suspending I/O and honour context cancellation.
type Driver interface {
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)

	Cookies(ctx context.Context) ([]Cookie, error)
	AddCookie(ctx context.Context, c Cookie) error

	// Evaluate runs a page-side function literal with the given JSON
	// arguments and returns its result marshalled as JSON (nil for
	// undefined results).
	Evaluate(ctx context.Context, script string, args ...any) (json.RawMessage, error)

	Screenshot(ctx context.Context) ([]byte, error)
	Goto(ctx context.Context, url string) error

	// Targeting primitives used by replay's fallback chain.
	ClickByID(ctx context.Context, id string) error
	ClickByClass(ctx context.Context, class string) error
	ClickByTag(ctx context.Context, tag string) error
	ClickByText(ctx context.Context, text string) error
	FillByID(ctx context.Context, id, value string) error
	FillByClass(ctx context.Context, class, value string) error
	FillByLabel(ctx context.Context, label, value string) error
}

// VisionProvider is an optional capability: drivers for vision-based
// automation stacks expose their model state for snapshot extensions.
// Failures are treated as best-effort by callers.
type VisionProvider interface {
	VisionState(ctx context.Context) (json.RawMessage, error)
}

// SelectorDriver is an optional capability for CSS-selector addressing,
// used by the workflow runner and the session service's automation
// routes. The replay core deliberately does not use it.
type SelectorDriver interface {
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Extract(ctx context.Context, selector string) (string, error)
}
