// Package workflow describes and executes ordered browser automation
// sequences: navigate, click, fill, wait, extract, screenshot, and
// custom in-page scripts.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/psp/driver"
)

// StepType identifies a workflow step kind.
type StepType string

const (
	StepNavigate   StepType = "navigate"
	StepClick      StepType = "click"
	StepFill       StepType = "fill"
	StepWait       StepType = "wait"
	StepExtract    StepType = "extract"
	StepScreenshot StepType = "screenshot"
	StepCustom     StepType = "custom"
)

// Step is a single workflow action. Field relevance depends on Type.
type Step struct {
	Type     StepType `json:"type"`
	URL      string   `json:"url,omitempty"`
	Selector string   `json:"selector,omitempty"`
	Value    string   `json:"value,omitempty"`
	// Name keys an extract or custom step's result.
	Name   string `json:"name,omitempty"`
	WaitMs int64  `json:"waitMs,omitempty"`
	// Script is a page function for custom steps, evaluated in-page.
	Script string `json:"script,omitempty"`
}

// Workflow is an ordered, serialisable list of steps.
type Workflow struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// Builder assembles a Workflow fluently.
type Builder struct {
	wf Workflow
}

// New starts a workflow with the given name.
func New(name string) *Builder {
	return &Builder{wf: Workflow{Name: name}}
}

func (b *Builder) Navigate(url string) *Builder {
	b.wf.Steps = append(b.wf.Steps, Step{Type: StepNavigate, URL: url})
	return b
}

func (b *Builder) Click(selector string) *Builder {
	b.wf.Steps = append(b.wf.Steps, Step{Type: StepClick, Selector: selector})
	return b
}

func (b *Builder) Fill(selector, value string) *Builder {
	b.wf.Steps = append(b.wf.Steps, Step{Type: StepFill, Selector: selector, Value: value})
	return b
}

func (b *Builder) Wait(d time.Duration) *Builder {
	b.wf.Steps = append(b.wf.Steps, Step{Type: StepWait, WaitMs: d.Milliseconds()})
	return b
}

func (b *Builder) Extract(name, selector string) *Builder {
	b.wf.Steps = append(b.wf.Steps, Step{Type: StepExtract, Name: name, Selector: selector})
	return b
}

func (b *Builder) Screenshot() *Builder {
	b.wf.Steps = append(b.wf.Steps, Step{Type: StepScreenshot})
	return b
}

func (b *Builder) Custom(name, script string) *Builder {
	b.wf.Steps = append(b.wf.Steps, Step{Type: StepCustom, Name: name, Script: script})
	return b
}

// Build returns the assembled workflow.
func (b *Builder) Build() Workflow {
	return b.wf
}

// StepResult records the outcome of one executed step.
type StepResult struct {
	Index      int      `json:"index"`
	Type       StepType `json:"type"`
	Name       string   `json:"name,omitempty"`
	Extracted  string   `json:"extracted,omitempty"`
	Screenshot []byte   `json:"screenshot,omitempty"`
	Error      string   `json:"error,omitempty"`
	DurationMs int64    `json:"durationMs"`
}

// Parse decodes a workflow from JSON.
func Parse(data []byte) (Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return Workflow{}, fmt.Errorf("workflow: parse: %w", err)
	}
	return wf, nil
}

// Run executes the workflow in order. Unlike event replay, steps depend on
// each other, so the first failing step aborts the run; its result carries
// the error and is the last entry of the returned slice.
func Run(ctx context.Context, drv driver.Driver, wf Workflow) ([]StepResult, error) {
	sel, _ := drv.(driver.SelectorDriver)

	results := make([]StepResult, 0, len(wf.Steps))
	for i, step := range wf.Steps {
		start := time.Now()
		res := StepResult{Index: i, Type: step.Type, Name: step.Name}

		err := runStep(ctx, drv, sel, step, &res)
		res.DurationMs = time.Since(start).Milliseconds()
		if err != nil {
			res.Error = err.Error()
			results = append(results, res)
			return results, fmt.Errorf("workflow: step %d (%s): %w", i, step.Type, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func runStep(ctx context.Context, drv driver.Driver, sel driver.SelectorDriver, step Step, res *StepResult) error {
	switch step.Type {
	case StepNavigate:
		return drv.Goto(ctx, step.URL)

	case StepClick:
		if sel == nil {
			return fmt.Errorf("driver does not support selector targeting")
		}
		return sel.Click(ctx, step.Selector)

	case StepFill:
		if sel == nil {
			return fmt.Errorf("driver does not support selector targeting")
		}
		return sel.Fill(ctx, step.Selector, step.Value)

	case StepWait:
		t := time.NewTimer(time.Duration(step.WaitMs) * time.Millisecond)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}

	case StepExtract:
		if sel == nil {
			return fmt.Errorf("driver does not support selector targeting")
		}
		text, err := sel.Extract(ctx, step.Selector)
		if err != nil {
			return err
		}
		res.Extracted = text
		return nil

	case StepScreenshot:
		shot, err := drv.Screenshot(ctx)
		if err != nil {
			return err
		}
		res.Screenshot = shot
		return nil

	case StepCustom:
		raw, err := drv.Evaluate(ctx, step.Script)
		if err != nil {
			return err
		}
		// Custom results ride the extract field as raw JSON text.
		res.Extracted = string(raw)
		return nil
	}
	return fmt.Errorf("unknown step type %q", step.Type)
}
