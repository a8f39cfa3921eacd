// Package store persists browser session snapshots.
//
// The core capture/restore packages never touch storage directly; they hand
// snapshots to a Provider supplied by the caller.
package store

import (
	"context"
	"errors"

	"github.com/hazyhaar/psp/session"
)

// ErrNotFound is returned when no snapshot exists for the given ID.
var ErrNotFound = errors.New("store: snapshot not found")

// Meta describes a stored snapshot without its payload.
type Meta struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Adapter   string `json:"adapter,omitempty"`
	Origin    string `json:"origin,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Provider is the snapshot persistence backend. Save overwrites any existing
// snapshot under the same ID.
type Provider interface {
	Save(ctx context.Context, meta Meta, st *session.State) error
	Load(ctx context.Context, id string) (*session.State, *Meta, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Meta, error)
}
