// Package session defines the canonical browser-session snapshot and the
// recorded interaction trace. Both structures are plain JSON-compatible
// values: they carry no driver handles and can be stored or shipped over
// any transport unchanged. A State is built once at capture time and is
// never mutated afterwards.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SchemaVersion is the snapshot schema version written by this package.
// Consumers must call CheckVersion before applying fields that may change
// shape across major versions.
const SchemaVersion = "1.0.0"

// State is a full browser-session snapshot: cookies, origin-scoped web
// storage, and a minimal navigation history. Single-snapshot semantics:
// capture populates only the current history entry.
type State struct {
	Version    string      `json:"version"`
	Timestamp  int64       `json:"timestamp"` // capture instant, unix ms
	Origin     string      `json:"origin"`    // scheme://host[:port]
	Storage    Storage     `json:"storage"`
	History    History     `json:"history"`
	Extensions *Extensions `json:"extensions,omitempty"`
}

// Storage holds the persistent browser state. localStorage and
// sessionStorage are keyed by origin because web storage is origin-scoped;
// a restore must only ever apply the map of the origin it lands on.
type Storage struct {
	Cookies        []Cookie                     `json:"cookies"`
	LocalStorage   map[string]map[string]string `json:"localStorage"`
	SessionStorage map[string]map[string]string `json:"sessionStorage"`
}

// History is the minimal navigation context of a snapshot.
type History struct {
	CurrentURL   string         `json:"currentUrl"`
	Entries      []HistoryEntry `json:"entries"`
	CurrentIndex int            `json:"currentIndex"`
}

// HistoryEntry is one navigation record.
type HistoryEntry struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Timestamp int64  `json:"timestamp"` // unix ms
}

// Extensions carries optional named addenda. VisionState is driver-specific
// and opaque to this package.
type Extensions struct {
	Screenshot  *Screenshot `json:"screenshot,omitempty"`
	VisionState []byte      `json:"visionState,omitempty"`
}

// Screenshot is a raster capture attached to a snapshot.
type Screenshot struct {
	Data      []byte `json:"data"`
	Timestamp int64  `json:"timestamp"` // unix ms
	Format    string `json:"format"`    // "png"
}

// New returns an empty snapshot stamped with the current schema version
// and time, with storage maps allocated.
func New(origin string) *State {
	now := time.Now().UnixMilli()
	return &State{
		Version:   SchemaVersion,
		Timestamp: now,
		Origin:    origin,
		Storage: Storage{
			Cookies:        []Cookie{},
			LocalStorage:   map[string]map[string]string{},
			SessionStorage: map[string]map[string]string{},
		},
	}
}

// CheckVersion verifies that a snapshot version is applicable by this
// code: same major version, non-empty. Minor/patch drift is accepted.
func CheckVersion(version string) error {
	if version == "" {
		return fmt.Errorf("session: snapshot has no version")
	}
	got, err := majorOf(version)
	if err != nil {
		return fmt.Errorf("session: bad snapshot version %q: %w", version, err)
	}
	want, _ := majorOf(SchemaVersion)
	if got != want {
		return fmt.Errorf("session: snapshot version %s is incompatible with schema %s", version, SchemaVersion)
	}
	return nil
}

func majorOf(v string) (int, error) {
	head, _, _ := strings.Cut(v, ".")
	return strconv.Atoi(head)
}
