// Package fakedriver provides an in-memory driver.PageDriver for tests
// across the engine's packages, so tests never launch a real browser or
// chromedp.
package fakedriver

import (
	"context"
	"errors"
	"sync"

	"github.com/trytofly94/squash-booker/internal/driver"
)

// ErrNotVisible is a convenience sentinel tests can assign to VisibleErr to
// script an element that never becomes visible.
var ErrNotVisible = errors.New("fakedriver: element not visible")

// Handle is the fakedriver's driver.Handle implementation. ID distinguishes
// multiple handles sharing the same selector (e.g. a LocateAll match set),
// so per-handle attributes can be scripted independently; tests that only
// ever have one handle per selector can leave it empty.
type Handle struct {
	Sel string
	ID  string
}

func (h Handle) Selector() string { return h.Sel }

func (h Handle) attrKey(name string) string { return h.Sel + "#" + h.ID + "|" + name }

// Driver is a scriptable fake implementing driver.PageDriver.
type Driver struct {
	mu sync.Mutex

	URL string
	// LocateResults maps a selector to the handles it should return. A
	// selector absent from the map yields zero handles.
	LocateResults map[string][]Handle
	// LocateErr, if set for a selector, is returned instead.
	LocateErr map[string]error
	// VisibleErr, if set for a selector, is returned by WaitForVisible.
	VisibleErr map[string]error

	ClickedSelectors []string
	ClickedHandles   []Handle
	FilledValues     map[string]string

	// Attributes is keyed "selector|attrName".
	Attributes map[string]string
	// TextByHandle is keyed by selector.
	TextByHandle map[string]string

	responseSubscribers []func(driver.ResponseEvent)
	screenshots         []string
	Closed              bool
}

// New constructs an empty fake driver.
func New() *Driver {
	return &Driver{
		LocateResults: map[string][]Handle{},
		LocateErr:     map[string]error{},
		FilledValues:  map[string]string{},
		Attributes:    map[string]string{},
		TextByHandle:  map[string]string{},
	}
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.URL = url
	return nil
}

func (d *Driver) LocateAll(ctx context.Context, selector string) ([]driver.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.LocateErr[selector]; ok && err != nil {
		return nil, err
	}
	hs := d.LocateResults[selector]
	out := make([]driver.Handle, len(hs))
	for i, h := range hs {
		out[i] = h
	}
	return out, nil
}

// VisibleErr, if set for a selector, is returned by WaitForVisible instead
// of succeeding — scripts a selector that never becomes visible.
func (d *Driver) WaitForVisible(ctx context.Context, selector string, timeoutMs int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.VisibleErr == nil {
		return nil
	}
	return d.VisibleErr[selector]
}

func (d *Driver) Click(ctx context.Context, target any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch v := target.(type) {
	case Handle:
		d.ClickedHandles = append(d.ClickedHandles, v)
	case driver.Handle:
		if h, ok := v.(Handle); ok {
			d.ClickedHandles = append(d.ClickedHandles, h)
		}
	case string:
		d.ClickedSelectors = append(d.ClickedSelectors, v)
	}
	return nil
}

func (d *Driver) Fill(ctx context.Context, target any, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sel, ok := target.(string); ok {
		d.FilledValues[sel] = value
	}
	return nil
}

func (d *Driver) InputValue(ctx context.Context, selector string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.FilledValues[selector], nil
}

func (d *Driver) GetAttribute(ctx context.Context, h driver.Handle, name string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fh, ok := h.(Handle); ok {
		if v, ok := d.Attributes[fh.attrKey(name)]; ok {
			return v, true, nil
		}
	}
	v, ok := d.Attributes[h.Selector()+"|"+name]
	return v, ok, nil
}

func (d *Driver) TextContent(ctx context.Context, selector string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.TextByHandle[selector]
	return v, ok, nil
}

func (d *Driver) PageURL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.URL, nil
}

func (d *Driver) OnResponse(callback func(driver.ResponseEvent)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responseSubscribers = append(d.responseSubscribers, callback)
	idx := len(d.responseSubscribers) - 1
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.responseSubscribers[idx] = nil
	}
}

// Emit fires a response event to all active subscribers (test helper).
func (d *Driver) Emit(evt driver.ResponseEvent) {
	d.mu.Lock()
	subs := append([]func(driver.ResponseEvent){}, d.responseSubscribers...)
	d.mu.Unlock()
	for _, s := range subs {
		if s != nil {
			s(evt)
		}
	}
}

func (d *Driver) WaitForTimeout(ctx context.Context, ms int) error { return nil }
func (d *Driver) PressKey(ctx context.Context, name string) error { return nil }
func (d *Driver) Screenshot(ctx context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.screenshots = append(d.screenshots, path)
	return nil
}
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Closed = true
	return nil
}
