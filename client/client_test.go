package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/psp/dbopen"
	"github.com/hazyhaar/psp/driver"
	"github.com/hazyhaar/psp/driver/drivertest"
	"github.com/hazyhaar/psp/server"
	"github.com/hazyhaar/psp/session"
	"github.com/hazyhaar/psp/store"
	"github.com/hazyhaar/psp/workflow"
)

func newBackend(t *testing.T, authHash string) (*httptest.Server, *[]*drivertest.Fake) {
	t.Helper()

	st := store.NewSQLite(dbopen.OpenMemory(t))
	if err := st.Init(); err != nil {
		t.Fatal(err)
	}

	fakes := &[]*drivertest.Fake{}
	svc, err := server.New(server.Options{
		Factory: func(context.Context) (driver.Driver, func() error, error) {
			f := drivertest.New("about:blank", "blank")
			*fakes = append(*fakes, f)
			return f, func() error { return nil }, nil
		},
		Store:  st,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })

	ts := httptest.NewServer(server.Router(svc, authHash))
	t.Cleanup(ts.Close)
	return ts, fakes
}

func TestSessionRoundTrip(t *testing.T) {
	ts, fakes := newBackend(t, "")
	c := New(ts.URL)
	ctx := context.Background()

	if err := c.Health(ctx); err != nil {
		t.Fatal(err)
	}

	meta, err := c.CreateSession(ctx, server.CreateOptions{Name: "checkout", URL: "https://app.example/home"})
	if err != nil {
		t.Fatal(err)
	}
	if meta.ID == "" || meta.Name != "checkout" {
		t.Fatalf("meta: %+v", meta)
	}

	sessions, err := c.ListSessions(ctx)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("list: %+v, %v", sessions, err)
	}

	if err := c.Navigate(ctx, meta.ID, "https://app.example/cart"); err != nil {
		t.Fatal(err)
	}
	if err := c.Fill(ctx, meta.ID, "#qty", "2"); err != nil {
		t.Fatal(err)
	}
	if err := c.Click(ctx, meta.ID, "#checkout"); err != nil {
		t.Fatal(err)
	}

	fake := (*fakes)[0]
	for _, want := range []string{
		"goto:https://app.example/cart", "fill:#qty=2", "click:#checkout",
	} {
		found := false
		for _, call := range fake.Calls {
			if call == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("call %q missing from %v", want, fake.Calls)
		}
	}

	fake.Shot = []byte("png-bytes")
	shot, err := c.Screenshot(ctx, meta.ID)
	if err != nil || string(shot) != "png-bytes" {
		t.Fatalf("screenshot: %q, %v", shot, err)
	}

	if err := c.CloseSession(ctx, meta.ID); err != nil {
		t.Fatal(err)
	}
	var apiErr *APIError
	if _, err := c.GetSession(ctx, meta.ID); !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("get after close: %v", err)
	}
}

func TestCaptureRestoreSnapshots(t *testing.T) {
	ts, fakes := newBackend(t, "")
	c := New(ts.URL)
	ctx := context.Background()

	src, err := c.CreateSession(ctx, server.CreateOptions{Name: "src", URL: "https://app.example/dash"})
	if err != nil {
		t.Fatal(err)
	}
	(*fakes)[0].SetCookies([]driver.Cookie{{
		"name": "sid", "value": "v", "domain": "app.example", "path": "/",
	}})

	res, err := c.Capture(ctx, src.ID, true, "logged-in")
	if err != nil {
		t.Fatal(err)
	}
	if res.SnapshotID == "" || res.State == nil || res.State.Origin != "https://app.example" {
		t.Fatalf("capture: %+v", res)
	}

	snaps, err := c.ListSnapshots(ctx)
	if err != nil || len(snaps) != 1 || snaps[0].Name != "logged-in" {
		t.Fatalf("snapshots: %+v, %v", snaps, err)
	}

	st, meta, err := c.GetSnapshot(ctx, res.SnapshotID)
	if err != nil || meta.ID != res.SnapshotID || st.Origin != "https://app.example" {
		t.Fatalf("get snapshot: %+v, %+v, %v", st, meta, err)
	}

	dst, err := c.CreateSession(ctx, server.CreateOptions{Name: "dst", URL: ""})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.RestoreSnapshot(ctx, dst.ID, res.SnapshotID); err != nil {
		t.Fatal(err)
	}
	if jar := (*fakes)[1].Jar(); len(jar) != 1 || jar[0]["name"] != "sid" {
		t.Fatalf("restored jar: %+v", jar)
	}

	// Inline state restore works too.
	if err := c.RestoreState(ctx, dst.ID, st); err != nil {
		t.Fatal(err)
	}

	if err := c.DeleteSnapshot(ctx, res.SnapshotID); err != nil {
		t.Fatal(err)
	}
	var apiErr *APIError
	if err := c.DeleteSnapshot(ctx, res.SnapshotID); !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("double delete: %v", err)
	}
}

func TestRecordAndReplay(t *testing.T) {
	ts, fakes := newBackend(t, "")
	c := New(ts.URL)
	ctx := context.Background()

	meta, err := c.CreateSession(ctx, server.CreateOptions{Name: "", URL: "https://app.example"})
	if err != nil {
		t.Fatal(err)
	}
	fake := (*fakes)[0]

	if err := c.StartRecording(ctx, meta.ID); err != nil {
		t.Fatal(err)
	}
	fake.PushEvent(session.Event{Type: session.EventClick, Target: "BUTTON#go"})

	events, err := c.StopRecording(ctx, meta.ID)
	if err != nil || len(events) != 1 {
		t.Fatalf("stop: %+v, %v", events, err)
	}

	speed := 0.0
	failures, err := c.Replay(ctx, meta.ID, events, &speed)
	if err != nil || len(failures) != 0 {
		t.Fatalf("replay: %+v, %v", failures, err)
	}
}

func TestRunWorkflow(t *testing.T) {
	ts, _ := newBackend(t, "")
	c := New(ts.URL)
	ctx := context.Background()

	meta, err := c.CreateSession(ctx, server.CreateOptions{Name: "", URL: "https://app.example"})
	if err != nil {
		t.Fatal(err)
	}

	wf := workflow.New("poke").
		Navigate("https://app.example/x").
		Extract("msg", ".banner").
		Build()
	results, err := c.RunWorkflow(ctx, meta.ID, wf)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[1].Extracted != "text of .banner" {
		t.Fatalf("results: %+v", results)
	}
}

func TestBearerToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	ts, _ := newBackend(t, string(hash))
	ctx := context.Background()

	authed := New(ts.URL, WithToken("s3cret"))
	if _, err := authed.ListSessions(ctx); err != nil {
		t.Fatal(err)
	}

	var apiErr *APIError
	anon := New(ts.URL)
	if _, err := anon.ListSessions(ctx); !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("anonymous: %v", err)
	}
}

func TestSubscribe(t *testing.T) {
	ts, _ := newBackend(t, "")
	c := New(ts.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := c.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	meta, err := c.CreateSession(ctx, server.CreateOptions{Name: "", URL: "https://app.example"})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev.Type != "session_created" || ev.SessionID != meta.ID {
			t.Fatalf("event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session_created event never arrived")
	}

	cancel()
	select {
	case _, ok := <-events:
		if ok {
			// A buffered event may still drain; the channel must close
			// right after.
			if _, ok := <-events; ok {
				t.Fatal("channel must close on cancellation")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel never closed")
	}
}
