package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/psp/driver"
	"github.com/hazyhaar/psp/session"
)

// baseEventDelay is the inter-event pacing at speed 1.0.
const baseEventDelay = 500 * time.Millisecond

// PlayOptions configure PlayRecording. A nil pointer means defaults
// (speed 1.0). An explicit non-positive Speed disables the inter-event
// delay entirely.
type PlayOptions struct {
	Speed float64
}

// StepFailure is one event that could not be replayed. Recorded
// selectors are heuristic and pages drift, so these are collected and
// logged rather than aborting the trace.
type StepFailure struct {
	Index  int
	Type   string
	Target string
	Err    error
}

// PlayRecording replays a trace against the attached page, strictly in
// the caller-supplied order (timestamps are not re-sorted). Targeting
// uses the fixed fallback chain: id → class → text → tag for clicks,
// id → class → label-by-tag for inputs. Between events it suspends for
// 0.5s/speed, cooperatively; cancellation is honoured. Every per-event
// failure is returned as a StepFailure and replay continues.
func (a *Adapter) PlayRecording(ctx context.Context, events []session.Event, opts *PlayOptions) ([]StepFailure, error) {
	drv, err := a.driver()
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &PlayOptions{Speed: 1.0}
	}

	var delay time.Duration
	if opts.Speed > 0 {
		delay = time.Duration(float64(baseEventDelay) / opts.Speed)
	}

	var failures []StepFailure
	for i, ev := range events {
		if i > 0 && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return failures, ctx.Err()
			case <-timer.C:
			}
		}

		if err := a.dispatch(ctx, drv, ev); err != nil {
			a.log.Warn("adapter: replay step failed",
				"index", i, "type", ev.Type, "target", ev.Target, "error", err)
			failures = append(failures, StepFailure{Index: i, Type: ev.Type, Target: ev.Target, Err: err})
		}
	}
	return failures, nil
}

func (a *Adapter) dispatch(ctx context.Context, drv driver.Driver, ev session.Event) error {
	tag, id, class := splitTarget(ev.Target)

	switch ev.Type {
	case session.EventClick:
		switch {
		case id != "":
			return drv.ClickByID(ctx, id)
		case class != "":
			return drv.ClickByClass(ctx, class)
		case ev.Data.Text != "":
			return drv.ClickByText(ctx, ev.Data.Text)
		default:
			return drv.ClickByTag(ctx, tag)
		}

	case session.EventInput:
		switch {
		case id != "":
			return drv.FillByID(ctx, id, ev.Data.Value)
		case class != "":
			return drv.FillByClass(ctx, class, ev.Data.Value)
		default:
			// Form fields are usually found by label, not by bare tag;
			// the tag name stands in as a pseudo-label here.
			return drv.FillByLabel(ctx, tag, ev.Data.Value)
		}

	case session.EventNavigation:
		if ev.Data.URL == "" {
			return nil // popstate without a URL is a no-op
		}
		return drv.Goto(ctx, ev.Data.URL)
	}
	return fmt.Errorf("unknown event type %q", ev.Type)
}

// splitTarget decomposes a target descriptor ("TAG", "TAG#id",
// "TAG.cls1.cls2") into its components. Only the first class segment is
// used as the class fallback.
func splitTarget(target string) (tag, id, class string) {
	tag = target
	if i := strings.IndexAny(tag, "#."); i >= 0 {
		tag = tag[:i]
	}
	if h := strings.Index(target, "#"); h >= 0 {
		id = target[h+1:]
		if d := strings.Index(id, "."); d >= 0 {
			id = id[:d]
		}
	} else if parts := strings.SplitN(target, ".", 3); len(parts) > 1 {
		class = parts[1]
	}
	return tag, id, class
}
