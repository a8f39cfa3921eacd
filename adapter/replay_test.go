package adapter

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/hazyhaar/psp/driver/drivertest"
	"github.com/hazyhaar/psp/session"
)

func TestSplitTarget(t *testing.T) {
	cases := []struct {
		in             string
		tag, id, class string
	}{
		{"BUTTON", "BUTTON", "", ""},
		{"BUTTON#submit", "BUTTON", "submit", ""},
		{"BUTTON#submit.primary", "BUTTON", "submit", ""},
		{"DIV.card.wide", "DIV", "", "card"},
		{"INPUT.field", "INPUT", "", "field"},
		{"history.pushState", "history", "", "pushState"},
	}
	for _, c := range cases {
		tag, id, class := splitTarget(c.in)
		if tag != c.tag || id != c.id || class != c.class {
			t.Errorf("splitTarget(%q): got (%q,%q,%q), want (%q,%q,%q)",
				c.in, tag, id, class, c.tag, c.id, c.class)
		}
	}
}

func TestPlayRecording_NotConnected(t *testing.T) {
	a := New(Options{})
	if _, err := a.PlayRecording(context.Background(), nil, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
}

func TestPlayRecording_FallbackChain(t *testing.T) {
	fake := drivertest.New("https://example.com", "Home")
	a := New(Options{})
	a.Connect(fake)

	events := []session.Event{
		{Type: session.EventClick, Target: "BUTTON#submit"},
		{Type: session.EventClick, Target: "DIV.card.wide"},
		{Type: session.EventClick, Target: "SPAN", Data: session.EventData{Text: "Read more"}},
		{Type: session.EventClick, Target: "BUTTON"},
		{Type: session.EventInput, Target: "INPUT#email", Data: session.EventData{Value: "a@b.c"}},
		{Type: session.EventInput, Target: "INPUT.field", Data: session.EventData{Value: "x"}},
		{Type: session.EventInput, Target: "INPUT", Data: session.EventData{Value: "y"}},
		{Type: session.EventNavigation, Target: "history.pushState", Data: session.EventData{URL: "/done"}},
		{Type: session.EventNavigation, Target: "popstate"}, // no url: no-op
	}

	failures, err := a.PlayRecording(context.Background(), events, &PlayOptions{Speed: -1})
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 0 {
		t.Fatalf("failures: %+v", failures)
	}

	want := []string{
		"click_by_id:submit",
		"click_by_class:card",
		"click_by_text:Read more",
		"click_by_tag:BUTTON",
		"fill_by_id:email=a@b.c",
		"fill_by_class:field=x",
		"fill_by_label:INPUT=y",
		"goto:/done",
	}
	if !reflect.DeepEqual(fake.Calls, want) {
		t.Errorf("dispatch calls:\n got  %v\n want %v", fake.Calls, want)
	}
}

func TestPlayRecording_ContinuesPastFailures(t *testing.T) {
	fake := drivertest.New("https://example.com", "Home")
	fake.FailOn = map[string]error{
		"click_by_id:missing": errors.New("element not found"),
	}
	a := New(Options{})
	a.Connect(fake)

	events := []session.Event{
		{Type: session.EventClick, Target: "BUTTON#ok"},
		{Type: session.EventClick, Target: "BUTTON#missing"},
		{Type: session.EventNavigation, Target: "history.pushState", Data: session.EventData{URL: "/after"}},
	}

	failures, err := a.PlayRecording(context.Background(), events, &PlayOptions{Speed: -1})
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 1 || failures[0].Index != 1 || failures[0].Target != "BUTTON#missing" {
		t.Fatalf("failures: %+v", failures)
	}
	if fake.Calls[len(fake.Calls)-1] != "goto:/after" {
		t.Fatalf("replay stopped early: %v", fake.Calls)
	}
}

func TestPlayRecording_SpeedPacing(t *testing.T) {
	fake := drivertest.New("https://example.com", "Home")
	a := New(Options{})
	a.Connect(fake)

	// Click at 120ms then navigation at 400ms, replayed at 2x: one
	// inter-event delay of 0.5/2 = 0.25s.
	events := []session.Event{
		{Type: session.EventClick, Timestamp: 120, Target: "BUTTON#submit"},
		{Type: session.EventNavigation, Timestamp: 400, Target: "history.pushState", Data: session.EventData{URL: "/done"}},
	}

	start := time.Now()
	failures, err := a.PlayRecording(context.Background(), events, &PlayOptions{Speed: 2.0})
	elapsed := time.Since(start)
	if err != nil || len(failures) != 0 {
		t.Fatalf("err=%v failures=%v", err, failures)
	}

	want := []string{"click_by_id:submit", "goto:/done"}
	if !reflect.DeepEqual(fake.Calls, want) {
		t.Fatalf("order: got %v, want %v", fake.Calls, want)
	}
	if elapsed < 250*time.Millisecond {
		t.Errorf("inter-event delay too short: %v", elapsed)
	}
	if elapsed > 450*time.Millisecond {
		t.Errorf("inter-event delay too long: %v", elapsed)
	}
}

func TestPlayRecording_NonPositiveSpeedSkipsDelay(t *testing.T) {
	fake := drivertest.New("https://example.com", "Home")
	a := New(Options{})
	a.Connect(fake)

	events := []session.Event{
		{Type: session.EventClick, Target: "A#x"},
		{Type: session.EventClick, Target: "A#y"},
		{Type: session.EventClick, Target: "A#z"},
	}

	start := time.Now()
	if _, err := a.PlayRecording(context.Background(), events, &PlayOptions{Speed: -1}); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("non-positive speed must not pace: took %v", elapsed)
	}
}

func TestPlayRecording_Cancellation(t *testing.T) {
	fake := drivertest.New("https://example.com", "Home")
	a := New(Options{})
	a.Connect(fake)

	events := []session.Event{
		{Type: session.EventClick, Target: "A#x"},
		{Type: session.EventClick, Target: "A#y"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.PlayRecording(ctx, events, &PlayOptions{Speed: 0.01})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
