package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/psp/driver/drivertest"
)

func TestBuilder(t *testing.T) {
	wf := New("login").
		Navigate("https://example.com/login").
		Fill("#email", "a@b.c").
		Fill("#password", "secret").
		Click("button[type=submit]").
		Wait(250*time.Millisecond).
		Extract("greeting", ".welcome").
		Screenshot().
		Build()

	if wf.Name != "login" {
		t.Errorf("name: %s", wf.Name)
	}
	types := make([]StepType, len(wf.Steps))
	for i, s := range wf.Steps {
		types[i] = s.Type
	}
	want := []StepType{StepNavigate, StepFill, StepFill, StepClick, StepWait, StepExtract, StepScreenshot}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("step order: %v", types)
	}
	if wf.Steps[4].WaitMs != 250 {
		t.Errorf("wait ms: %d", wf.Steps[4].WaitMs)
	}
}

func TestWorkflowJSONRoundTrip(t *testing.T) {
	wf := New("wf").Navigate("https://example.com").Click("#go").Build()
	data, err := json.Marshal(wf)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(parsed, wf) {
		t.Errorf("round trip:\n got  %+v\n want %+v", parsed, wf)
	}
}

func TestRun_ExecutesInOrder(t *testing.T) {
	fake := drivertest.New("about:blank", "")
	fake.Shot = []byte("png-bytes")

	wf := New("checkout").
		Navigate("https://shop.example/cart").
		Fill("#qty", "2").
		Click("#checkout").
		Extract("total", ".total").
		Screenshot().
		Build()

	results, err := Run(context.Background(), fake, wf)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 5 {
		t.Fatalf("results: %+v", results)
	}

	wantCalls := []string{
		"goto:https://shop.example/cart",
		"fill:#qty=2",
		"click:#checkout",
		"extract:.total",
	}
	if !reflect.DeepEqual(fake.Calls, wantCalls) {
		t.Errorf("calls:\n got  %v\n want %v", fake.Calls, wantCalls)
	}

	if results[3].Extracted != "text of .total" || results[3].Name != "total" {
		t.Errorf("extract result: %+v", results[3])
	}
	if string(results[4].Screenshot) != "png-bytes" {
		t.Errorf("screenshot result: %+v", results[4])
	}
}

func TestRun_CustomStep(t *testing.T) {
	fake := drivertest.New("https://app.example", "")
	fake.SetLocalStorage(map[string]string{"cart": "3"})

	// The storage drain marker makes the fake return a JSON payload.
	wf := New("wf").
		Custom("storage", "() => { return window.localStorage.length; }").
		Build()

	results, err := Run(context.Background(), fake, wf)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Name != "storage" || !strings.Contains(results[0].Extracted, `"cart":"3"`) {
		t.Errorf("custom result: %+v", results[0])
	}
}

func TestRun_StopsOnFirstFailure(t *testing.T) {
	fake := drivertest.New("about:blank", "")
	fake.FailOn = map[string]error{
		"click:#missing": errors.New("element not found"),
	}

	wf := New("wf").
		Navigate("https://example.com").
		Click("#missing").
		Click("#never-reached").
		Build()

	results, err := Run(context.Background(), fake, wf)
	if err == nil {
		t.Fatal("failing step must abort the run")
	}
	if len(results) != 2 {
		t.Fatalf("results: %+v", results)
	}
	if results[1].Error == "" {
		t.Errorf("failing result must carry the error: %+v", results[1])
	}
	for _, call := range fake.Calls {
		if call == "click:#never-reached" {
			t.Error("steps after a failure must not run")
		}
	}
}

func TestRun_WaitHonoursCancellation(t *testing.T) {
	fake := drivertest.New("about:blank", "")
	wf := New("wf").Wait(10 * time.Second).Build()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Run(ctx, fake, wf)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("wait did not yield to cancellation")
	}
}

func TestRun_UnknownStepType(t *testing.T) {
	fake := drivertest.New("about:blank", "")
	wf := Workflow{Name: "wf", Steps: []Step{{Type: "teleport"}}}
	if _, err := Run(context.Background(), fake, wf); err == nil {
		t.Fatal("unknown step type must error")
	}
}
