package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/psp/driver"
)

const navTimeout = 30 * time.Second

// Driver implements the capture/restore driver interface over a rod page.
// It also satisfies driver.SelectorDriver for CSS-selector automation.
type Driver struct {
	page *rod.Page
}

var (
	_ driver.Driver         = (*Driver)(nil)
	_ driver.SelectorDriver = (*Driver)(nil)
)

// NewDriver wraps a rod page.
func NewDriver(page *rod.Page) *Driver {
	return &Driver{page: page}
}

// Page exposes the underlying rod page for callers that need raw CDP access.
func (d *Driver) Page() *rod.Page { return d.page }

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

func (d *Driver) Title(ctx context.Context) (string, error) {
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.Title, nil
}

// Cookies reads the page's cookies through CDP. Session cookies (CDP
// expires -1) come back without an expires field.
func (d *Driver) Cookies(ctx context.Context) ([]driver.Cookie, error) {
	res, err := proto.NetworkGetCookies{}.Call(d.page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("browser: get cookies: %w", err)
	}
	cookies := make([]driver.Cookie, 0, len(res.Cookies))
	for _, c := range res.Cookies {
		rc := driver.Cookie{
			"name":     c.Name,
			"value":    c.Value,
			"domain":   c.Domain,
			"path":     c.Path,
			"httpOnly": c.HTTPOnly,
			"secure":   c.Secure,
			"sameSite": string(c.SameSite),
		}
		if c.Expires >= 0 {
			rc["expires"] = float64(c.Expires)
		}
		cookies = append(cookies, rc)
	}
	return cookies, nil
}

func (d *Driver) AddCookie(ctx context.Context, c driver.Cookie) error {
	param := &proto.NetworkCookieParam{
		Name:     str(c["name"]),
		Value:    str(c["value"]),
		Domain:   str(c["domain"]),
		Path:     str(c["path"]),
		HTTPOnly: boolean(c["httpOnly"]),
		Secure:   boolean(c["secure"]),
		SameSite: sameSiteParam(str(c["sameSite"])),
	}
	if exp, ok := c["expires"].(float64); ok {
		param.Expires = proto.TimeSinceEpoch(exp)
	}
	if err := d.page.Context(ctx).SetCookies([]*proto.NetworkCookieParam{param}); err != nil {
		return fmt.Errorf("browser: set cookie %s: %w", param.Name, err)
	}
	return nil
}

func (d *Driver) Evaluate(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	res, err := d.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           script,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: evaluate: %w", err)
	}
	if res == nil || res.Value.Nil() {
		return nil, nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("browser: marshal eval result: %w", err)
	}
	return raw, nil
}

func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := d.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return data, nil
}

func (d *Driver) Goto(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, navTimeout)
	defer cancel()

	if err := d.page.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	// A load timeout is not fatal; SPAs often never settle.
	_ = d.page.Context(navCtx).WaitLoad()
	return nil
}

func (d *Driver) ClickByID(ctx context.Context, id string) error {
	return d.clickSelector(ctx, fmt.Sprintf("[id=%q]", id))
}

func (d *Driver) ClickByClass(ctx context.Context, class string) error {
	return d.clickSelector(ctx, fmt.Sprintf("[class~=%q]", class))
}

func (d *Driver) ClickByTag(ctx context.Context, tag string) error {
	return d.clickSelector(ctx, strings.ToLower(tag))
}

func (d *Driver) ClickByText(ctx context.Context, text string) error {
	el, err := d.page.Context(ctx).ElementR("*", regexp.QuoteMeta(text))
	if err != nil {
		return fmt.Errorf("browser: element with text %q: %w", text, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (d *Driver) FillByID(ctx context.Context, id, value string) error {
	return d.fillSelector(ctx, fmt.Sprintf("[id=%q]", id), value)
}

func (d *Driver) FillByClass(ctx context.Context, class, value string) error {
	return d.fillSelector(ctx, fmt.Sprintf("[class~=%q]", class), value)
}

// FillByLabel resolves a form field through its <label>: the label's `for`
// attribute when present, otherwise a control nested inside the label.
func (d *Driver) FillByLabel(ctx context.Context, label, value string) error {
	lab, err := d.page.Context(ctx).ElementR("label", regexp.QuoteMeta(label))
	if err != nil {
		return fmt.Errorf("browser: label %q: %w", label, err)
	}
	if forAttr, _ := lab.Attribute("for"); forAttr != nil && *forAttr != "" {
		return d.fillSelector(ctx, fmt.Sprintf("[id=%q]", *forAttr), value)
	}
	el, err := lab.Element("input, textarea, select")
	if err != nil {
		return fmt.Errorf("browser: control for label %q: %w", label, err)
	}
	return fillElement(el, value)
}

// Click satisfies driver.SelectorDriver.
func (d *Driver) Click(ctx context.Context, selector string) error {
	return d.clickSelector(ctx, selector)
}

// Fill satisfies driver.SelectorDriver.
func (d *Driver) Fill(ctx context.Context, selector, value string) error {
	return d.fillSelector(ctx, selector, value)
}

// Extract satisfies driver.SelectorDriver: returns the element's text.
func (d *Driver) Extract(ctx context.Context, selector string) (string, error) {
	el, err := d.page.Context(ctx).Element(selector)
	if err != nil {
		return "", fmt.Errorf("browser: element %s: %w", selector, err)
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("browser: text of %s: %w", selector, err)
	}
	return text, nil
}

func (d *Driver) clickSelector(ctx context.Context, selector string) error {
	el, err := d.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("browser: element %s: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %s: %w", selector, err)
	}
	return nil
}

func (d *Driver) fillSelector(ctx context.Context, selector, value string) error {
	el, err := d.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("browser: element %s: %w", selector, err)
	}
	if err := fillElement(el, value); err != nil {
		return fmt.Errorf("browser: fill %s: %w", selector, err)
	}
	return nil
}

func fillElement(el *rod.Element, value string) error {
	// Replace existing content instead of appending to it.
	_ = el.SelectAllText()
	return el.Input(value)
}

func sameSiteParam(s string) proto.NetworkCookieSameSite {
	switch strings.ToLower(s) {
	case "strict":
		return proto.NetworkCookieSameSiteStrict
	case "none":
		return proto.NetworkCookieSameSiteNone
	default:
		return proto.NetworkCookieSameSiteLax
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}
