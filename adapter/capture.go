package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/psp/driver"
	"github.com/hazyhaar/psp/session"
)

// storageDrainScript drains every key of both storage areas for the
// page's current origin in a single round-trip. One evaluate call, not
// one per key; the whole point is to bound capture latency.
const storageDrainScript = `() => {
	const local = {};
	for (let i = 0; i < window.localStorage.length; i++) {
		const key = window.localStorage.key(i);
		local[key] = window.localStorage.getItem(key);
	}
	const session = {};
	for (let i = 0; i < window.sessionStorage.length; i++) {
		const key = window.sessionStorage.key(i);
		session[key] = window.sessionStorage.getItem(key);
	}
	return { localStorage: local, sessionStorage: session };
}`

type storagePayload struct {
	LocalStorage   map[string]string `json:"localStorage"`
	SessionStorage map[string]string `json:"sessionStorage"`
}

// CaptureState assembles a full snapshot from the live page: URL, title,
// cookies, both storage areas, and the optional screenshot/vision-state
// extensions. Extension failures are returned as typed results next to
// the snapshot; they never abort the capture. The returned State is a
// fresh value; treat it as immutable.
func (a *Adapter) CaptureState(ctx context.Context) (*session.State, []ExtensionFailure, error) {
	drv, err := a.driver()
	if err != nil {
		return nil, nil, err
	}

	pageURL, err := drv.CurrentURL(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("adapter: current url: %w", err)
	}
	title, err := drv.Title(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("adapter: title: %w", err)
	}
	origin := originOf(pageURL)

	rawCookies, err := drv.Cookies(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("adapter: cookies: %w", err)
	}
	cookies := make([]session.Cookie, 0, len(rawCookies))
	for _, rc := range rawCookies {
		cookies = append(cookies, NormalizeCookie(rc))
	}

	raw, err := drv.Evaluate(ctx, storageDrainScript)
	if err != nil {
		return nil, nil, fmt.Errorf("adapter: drain storage: %w", err)
	}
	var storage storagePayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &storage); err != nil {
			return nil, nil, fmt.Errorf("adapter: decode storage: %w", err)
		}
	}

	st := session.New(origin)
	st.Storage.Cookies = cookies
	st.Storage.LocalStorage[origin] = orEmpty(storage.LocalStorage)
	st.Storage.SessionStorage[origin] = orEmpty(storage.SessionStorage)
	st.History = session.History{
		CurrentURL: pageURL,
		Entries: []session.HistoryEntry{
			{URL: pageURL, Title: title, Timestamp: time.Now().UnixMilli()},
		},
		CurrentIndex: 0,
	}

	ext, failures := a.captureExtensions(ctx, drv)
	st.Extensions = ext
	return st, failures, nil
}

// captureExtensions collects the best-effort addenda. Each failure is
// logged and reported; the mandatory parts of capture are never at risk.
func (a *Adapter) captureExtensions(ctx context.Context, drv driver.Driver) (*session.Extensions, []ExtensionFailure) {
	var ext session.Extensions
	var failures []ExtensionFailure

	if a.opts.ScreenshotOnCapture {
		shot, err := drv.Screenshot(ctx)
		if err != nil {
			a.log.Warn("adapter: screenshot capture failed", "error", err)
			failures = append(failures, ExtensionFailure{Name: "screenshot", Err: err})
		} else {
			ext.Screenshot = &session.Screenshot{
				Data:      shot,
				Timestamp: time.Now().UnixMilli(),
				Format:    "png",
			}
		}
	}

	if a.opts.VisualComparison {
		if vp, ok := drv.(driver.VisionProvider); ok {
			vs, err := vp.VisionState(ctx)
			if err != nil {
				a.log.Warn("adapter: vision state capture failed", "error", err)
				failures = append(failures, ExtensionFailure{Name: "visionState", Err: err})
			} else {
				ext.VisionState = vs
			}
		}
	}

	if ext.Screenshot == nil && ext.VisionState == nil {
		return nil, failures
	}
	return &ext, failures
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
