// Package drivertest provides an in-memory scripted Driver for tests.
// The fake models just enough of a page (cookie jar, origin-scoped web
// storage, a recorder event buffer) for the capture/restore/record/
// replay paths to run without a browser.
package drivertest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/hazyhaar/psp/driver"
	"github.com/hazyhaar/psp/session"
)

// Fake is a scripted driver.Driver. Zero value is not usable; call New.
type Fake struct {
	mu sync.Mutex

	url   string
	title string

	jar []driver.Cookie

	// Web storage keyed by origin, as a real browser scopes it.
	local map[string]map[string]string
	sess  map[string]map[string]string

	recording bool
	buffer    []session.Event

	// Redirects maps a requested URL to the URL the fake "lands" on,
	// simulating server-side redirects during restore.
	Redirects map[string]string

	// Shot is returned by Screenshot. ShotErr, if set, wins.
	Shot    []byte
	ShotErr error

	// FailOn makes the named call fail: keys are formatted like the
	// entries of Calls ("click_by_id:submit", "goto:https://…").
	FailOn map[string]error

	// Calls records every targeting/navigation call in order.
	Calls []string
}

// New returns a fake positioned at the given URL with the given title.
func New(pageURL, title string) *Fake {
	return &Fake{
		url:   pageURL,
		title: title,
		local: map[string]map[string]string{},
		sess:  map[string]map[string]string{},
	}
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}

// SetLocalStorage seeds localStorage for the fake's current origin.
func (f *Fake) SetLocalStorage(kv map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local[originOf(f.url)] = kv
}

// SetSessionStorage seeds sessionStorage for the fake's current origin.
func (f *Fake) SetSessionStorage(kv map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sess[originOf(f.url)] = kv
}

// LocalStorage returns the stored map for an origin (nil if none).
func (f *Fake) LocalStorage(origin string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local[origin]
}

// Jar returns the cookie jar.
func (f *Fake) Jar() []driver.Cookie {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]driver.Cookie(nil), f.jar...)
}

// SetCookies replaces the cookie jar.
func (f *Fake) SetCookies(cs []driver.Cookie) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jar = append([]driver.Cookie(nil), cs...)
}

// PushEvent simulates an in-page listener appending to the recorder
// buffer. Events pushed while no recording is armed are dropped, like a
// page without the instrumentation installed.
func (f *Fake) PushEvent(ev session.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recording {
		return
	}
	f.buffer = append(f.buffer, ev)
}

// Recording reports whether the instrumentation is armed.
func (f *Fake) Recording() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recording
}

func (f *Fake) record(call string) error {
	f.mu.Lock()
	f.Calls = append(f.Calls, call)
	err := f.FailOn[call]
	f.mu.Unlock()
	return err
}

// --- driver.Driver ---

func (f *Fake) CurrentURL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *Fake) Title(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.title, nil
}

func (f *Fake) Cookies(context.Context) ([]driver.Cookie, error) {
	return f.Jar(), nil
}

func (f *Fake) AddCookie(_ context.Context, c driver.Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jar = append(f.jar, c)
	return nil
}

func (f *Fake) Goto(_ context.Context, target string) error {
	if err := f.record("goto:" + target); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if dest, ok := f.Redirects[target]; ok {
		target = dest
	}
	f.url = target
	return nil
}

func (f *Fake) Screenshot(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ShotErr != nil {
		return nil, f.ShotErr
	}
	return f.Shot, nil
}

// Evaluate dispatches on markers in the script text, mirroring the fixed
// instrumentation protocol the adapter speaks: storage drain, storage
// apply, recorder install, recorder drain.
func (f *Fake) Evaluate(_ context.Context, script string, args ...any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(script, "window.localStorage.length"):
		origin := originOf(f.url)
		payload := map[string]map[string]string{
			"localStorage":   orEmpty(f.local[origin]),
			"sessionStorage": orEmpty(f.sess[origin]),
		}
		return json.Marshal(payload)

	case strings.Contains(script, "localStorage.clear()"):
		if len(args) != 2 {
			return nil, fmt.Errorf("drivertest: storage apply expects 2 args, got %d", len(args))
		}
		local, err := toStringMap(args[0])
		if err != nil {
			return nil, err
		}
		sess, err := toStringMap(args[1])
		if err != nil {
			return nil, err
		}
		origin := originOf(f.url)
		f.local[origin] = local
		f.sess[origin] = sess
		return nil, nil

	case strings.Contains(script, "window.__pspEvents || []"):
		drained := f.buffer
		f.buffer = nil
		if drained == nil {
			drained = []session.Event{}
		}
		return json.Marshal(drained)

	case strings.Contains(script, "window.__pspEvents = []"):
		f.recording = true
		f.buffer = nil
		return json.Marshal("recording started")
	}
	return nil, nil
}

func (f *Fake) ClickByID(_ context.Context, id string) error {
	return f.record("click_by_id:" + id)
}

func (f *Fake) ClickByClass(_ context.Context, class string) error {
	return f.record("click_by_class:" + class)
}

func (f *Fake) ClickByTag(_ context.Context, tag string) error {
	return f.record("click_by_tag:" + tag)
}

func (f *Fake) ClickByText(_ context.Context, text string) error {
	return f.record("click_by_text:" + text)
}

func (f *Fake) FillByID(_ context.Context, id, value string) error {
	return f.record("fill_by_id:" + id + "=" + value)
}

func (f *Fake) FillByClass(_ context.Context, class, value string) error {
	return f.record("fill_by_class:" + class + "=" + value)
}

func (f *Fake) FillByLabel(_ context.Context, label, value string) error {
	return f.record("fill_by_label:" + label + "=" + value)
}

// --- driver.SelectorDriver ---

func (f *Fake) Click(_ context.Context, selector string) error {
	return f.record("click:" + selector)
}

func (f *Fake) Fill(_ context.Context, selector, value string) error {
	return f.record("fill:" + selector + "=" + value)
}

func (f *Fake) Extract(_ context.Context, selector string) (string, error) {
	if err := f.record("extract:" + selector); err != nil {
		return "", err
	}
	return "text of " + selector, nil
}

// VisionFake extends Fake with the VisionProvider capability.
type VisionFake struct {
	*Fake
	State json.RawMessage
	Err   error
}

func (v *VisionFake) VisionState(context.Context) (json.RawMessage, error) {
	if v.Err != nil {
		return nil, v.Err
	}
	return v.State, nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func toStringMap(v any) (map[string]string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("drivertest: bad storage arg: %w", err)
	}
	out := map[string]string{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("drivertest: bad storage arg: %w", err)
	}
	return out, nil
}
