package adapter

import (
	"context"
	"fmt"

	"github.com/hazyhaar/psp/session"
	"github.com/hazyhaar/psp/visual"
)

// DefaultSimilarityThreshold gates visual verification when no explicit
// threshold is configured.
const DefaultSimilarityThreshold = 0.9

// ApplyOptions configure ApplyState. A nil options pointer means
// defaults: no visual verification.
type ApplyOptions struct {
	// VerifyVisualState compares a fresh screenshot against the
	// snapshot's screenshot extension after restoring.
	VerifyVisualState bool
	// VisualSimilarityThreshold below which verification fails.
	// Zero means DefaultSimilarityThreshold.
	VisualSimilarityThreshold float64
}

// storageApplyScript clears and repopulates both storage areas from the
// origin-scoped maps in one round-trip.
const storageApplyScript = `(local, session) => {
	window.localStorage.clear();
	for (const key in local) {
		window.localStorage.setItem(key, local[key]);
	}
	window.sessionStorage.clear();
	for (const key in session) {
		window.sessionStorage.setItem(key, session[key]);
	}
}`

// ApplyState replays a snapshot into the attached page. The order is a
// correctness contract: navigate, inject cookies, re-read the current
// origin (step 1 may have redirected), write storage for THAT origin
// only, then reload so the page's scripts see the storage at load time.
// A snapshot holding no cookies or storage for the landing origin
// degrades to a pure navigation.
//
// With VerifyVisualState set and a screenshot extension present, a fresh
// screenshot is compared against the reference; a similarity below the
// threshold returns a *VisualVerificationError (the restore itself has
// already completed).
func (a *Adapter) ApplyState(ctx context.Context, st *session.State, opts *ApplyOptions) error {
	drv, err := a.driver()
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("adapter: nil session state")
	}
	if err := session.CheckVersion(st.Version); err != nil {
		return err
	}
	if opts == nil {
		opts = &ApplyOptions{}
	}
	threshold := opts.VisualSimilarityThreshold
	if threshold == 0 {
		threshold = DefaultSimilarityThreshold
	}

	if st.History.CurrentURL != "" {
		if err := drv.Goto(ctx, st.History.CurrentURL); err != nil {
			return fmt.Errorf("adapter: navigate %s: %w", st.History.CurrentURL, err)
		}
	}

	for _, c := range st.Storage.Cookies {
		if err := drv.AddCookie(ctx, DenormalizeCookie(c)); err != nil {
			return fmt.Errorf("adapter: add cookie %s: %w", c.Name, err)
		}
	}

	// The origin must be recomputed from the page we actually landed on,
	// never reused from the snapshot: redirects change it, and storage
	// for origin A must not leak into origin B.
	pageURL, err := drv.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("adapter: current url: %w", err)
	}
	origin := originOf(pageURL)

	local := orEmpty(st.Storage.LocalStorage[origin])
	sess := orEmpty(st.Storage.SessionStorage[origin])
	if _, err := drv.Evaluate(ctx, storageApplyScript, local, sess); err != nil {
		return fmt.Errorf("adapter: apply storage: %w", err)
	}

	// Storage writes landed in the existing document context; reload so
	// application code finds them at page-load time.
	if err := drv.Goto(ctx, pageURL); err != nil {
		return fmt.Errorf("adapter: reload %s: %w", pageURL, err)
	}

	if opts.VerifyVisualState && st.Extensions != nil && st.Extensions.Screenshot != nil {
		shot, err := drv.Screenshot(ctx)
		if err != nil {
			return fmt.Errorf("adapter: verification screenshot: %w", err)
		}
		sim := visual.Similarity(st.Extensions.Screenshot.Data, shot)
		if sim < threshold {
			return &VisualVerificationError{Similarity: sim, Threshold: threshold}
		}
		a.log.Debug("adapter: visual verification passed", "similarity", sim, "threshold", threshold)
	}
	return nil
}
