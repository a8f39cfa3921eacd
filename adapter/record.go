package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/psp/session"
)

// recordInstallScript arms the in-page recorder. Listener installation
// happens once per document (__pspArmed); the buffer and epoch reset on
// every call, so re-arming after a stop starts a clean batch and a
// second start without a stop discards the un-drained events.
const recordInstallScript = `() => {
	window.__pspEvents = [];
	window.__pspEpoch = Date.now();

	if (window.__pspArmed) return 'recording restarted';
	window.__pspArmed = true;

	const describe = (el) => {
		let target = el.tagName;
		if (el.id) {
			target += '#' + el.id;
		} else if (el.className && typeof el.className === 'string' && el.className.trim()) {
			target += '.' + el.className.trim().replace(/\s+/g, '.');
		}
		return target;
	};

	document.addEventListener('click', (e) => {
		window.__pspEvents.push({
			type: 'click',
			timestamp: Date.now() - window.__pspEpoch,
			target: describe(e.target),
			data: {
				x: e.clientX,
				y: e.clientY,
				text: (e.target.innerText || '').trim().substring(0, 50)
			}
		});
	});

	document.addEventListener('input', (e) => {
		if (e.target.tagName !== 'INPUT' && e.target.tagName !== 'TEXTAREA') return;
		window.__pspEvents.push({
			type: 'input',
			timestamp: Date.now() - window.__pspEpoch,
			target: describe(e.target),
			data: { value: e.target.value, type: e.target.type }
		});
	});

	const pushState = history.pushState;
	history.pushState = function () {
		window.__pspEvents.push({
			type: 'navigation',
			timestamp: Date.now() - window.__pspEpoch,
			target: 'history.pushState',
			data: { url: String(arguments[2] || '') }
		});
		return pushState.apply(this, arguments);
	};

	window.addEventListener('popstate', () => {
		window.__pspEvents.push({
			type: 'navigation',
			timestamp: Date.now() - window.__pspEpoch,
			target: 'popstate',
			data: { url: window.location.href }
		});
	});

	return 'recording started';
}`

// recordDrainScript empties the in-page buffer. Listeners stay armed;
// only a fresh StartRecording begins a new batch.
const recordDrainScript = `() => {
	const events = window.__pspEvents || [];
	window.__pspEvents = [];
	return events;
}`

// StartRecording instruments the page to log clicks, form inputs and
// navigations with timestamps relative to the recording epoch. Calling
// it again without a stop resets the in-page buffer; un-drained events
// are intentionally discarded.
func (a *Adapter) StartRecording(ctx context.Context) error {
	drv, err := a.driver()
	if err != nil {
		return err
	}
	if _, err := drv.Evaluate(ctx, recordInstallScript); err != nil {
		return fmt.Errorf("adapter: install recorder: %w", err)
	}
	return nil
}

// StopRecording drains the in-page buffer, appends the batch to the
// adapter's accumulating trace, and returns the FULL accumulated trace,
// not just the new batch. Callers wanting the delta must track the
// previous length themselves.
func (a *Adapter) StopRecording(ctx context.Context) ([]session.Event, error) {
	drv, err := a.driver()
	if err != nil {
		return nil, err
	}
	raw, err := drv.Evaluate(ctx, recordDrainScript)
	if err != nil {
		return nil, fmt.Errorf("adapter: drain recorder: %w", err)
	}

	var batch []session.Event
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("adapter: decode events: %w", err)
		}
	}

	a.mu.Lock()
	a.events = append(a.events, batch...)
	out := append([]session.Event(nil), a.events...)
	a.mu.Unlock()

	a.log.Debug("adapter: recording stopped", "batch", len(batch), "total", len(out))
	return out, nil
}

// RecordedEvents returns a copy of the accumulated trace without
// draining the page.
func (a *Adapter) RecordedEvents() []session.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]session.Event(nil), a.events...)
}
