// Package chromedriver is the one concrete driver.PageDriver
// implementation, backed by chromedp. It is the only package in this
// module allowed to import chromedp directly; the engine above it talks
// only to the driver.PageDriver interface, so it stays testable with
// internal/driver/fakedriver and driver-agnostic in principle.
//
// The allocator is a headless exec allocator with a fixed window size and
// sandbox/site-isolation flags loosened for a CI/container environment,
// logged through chromedp.WithLogf.
package chromedriver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/trytofly94/squash-booker/internal/bookingerr"
	"github.com/trytofly94/squash-booker/internal/driver"
	"github.com/trytofly94/squash-booker/internal/logging"
)

// Options configures a Driver's underlying browser allocator.
type Options struct {
	Headless       bool
	WindowWidth    int
	WindowHeight   int
	NavigationTimeout time.Duration
}

// DefaultOptions is a headless 1920x1080 session with NavigationTimeout
// set to 30s. Driver does not apply NavigationTimeout: Navigate runs
// without a deadline of its own.
func DefaultOptions() Options {
	return Options{Headless: true, WindowWidth: 1920, WindowHeight: 1080, NavigationTimeout: 30 * time.Second}
}

// Handle is the chromedriver's driver.Handle, wrapping a located DOM node.
type Handle struct {
	sel  string
	node *cdp.Node
}

func (h Handle) Selector() string { return h.sel }

// Driver implements driver.PageDriver over a single chromedp browser
// session, one per booking run.
type Driver struct {
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	ctx         context.Context
	cancelCtx   context.CancelFunc
	log         *logging.Logger

	subscribers []func(driver.ResponseEvent)
}

var _ driver.PageDriver = (*Driver)(nil)

// New launches a fresh headless browser session.
func New(ctx context.Context, opts Options, log *logging.Logger) (*Driver, error) {
	if log == nil {
		log = logging.Noop()
	}
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight),
		chromedp.NoSandbox,
		chromedp.Flag("disable-web-security", true),
		chromedp.Flag("disable-site-isolation-trials", true),
		chromedp.Flag("disable-features", "SameSiteByDefaultCookies,CookiesWithoutSameSiteMustBeSecure"),
	)
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Headless)
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, cancelCtx := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		if strings.Contains(msg, "error") || strings.Contains(msg, "failed") {
			log.Debugw("chromedp", "msg", msg)
		}
	}))

	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		cancelCtx()
		cancelAlloc()
		return nil, bookingerr.New(bookingerr.KindNetwork, "chromedriver", "enabling network domain", err)
	}

	d := &Driver{allocCtx: allocCtx, cancelAlloc: cancelAlloc, ctx: tabCtx, cancelCtx: cancelCtx, log: log}
	chromedp.ListenTarget(tabCtx, d.handleTarget)
	return d, nil
}

func queryOpt(selector string) (string, chromedp.QueryOption) {
	if strings.HasPrefix(selector, "xpath=") {
		return strings.TrimPrefix(selector, "xpath="), chromedp.BySearch
	}
	return selector, chromedp.ByQueryAll
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := chromedp.Run(d.ctx, chromedp.Navigate(url)); err != nil {
		return bookingerr.New(bookingerr.KindNetwork, "chromedriver", "navigate to "+url, err)
	}
	return nil
}

func (d *Driver) LocateAll(ctx context.Context, selector string) ([]driver.Handle, error) {
	sel, opt := queryOpt(selector)
	var nodes []*cdp.Node
	if err := chromedp.Run(d.ctx, chromedp.Nodes(sel, &nodes, opt, chromedp.AtLeast(0))); err != nil {
		return nil, bookingerr.New(bookingerr.KindElementNotFound, "chromedriver", "locating "+selector, err)
	}
	out := make([]driver.Handle, len(nodes))
	for i, n := range nodes {
		out[i] = Handle{sel: selector, node: n}
	}
	return out, nil
}

func (d *Driver) WaitForVisible(ctx context.Context, selector string, timeoutMs int) error {
	sel, opt := queryOpt(selector)
	waitCtx, cancel := context.WithTimeout(d.ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitVisible(sel, opt)); err != nil {
		return bookingerr.New(bookingerr.KindTimeout, "chromedriver", "waiting for visible "+selector, err)
	}
	return nil
}

func (d *Driver) Click(ctx context.Context, target any) error {
	switch v := target.(type) {
	case Handle:
		if err := chromedp.Run(d.ctx, chromedp.MouseClickNode(v.node)); err != nil {
			return bookingerr.New(bookingerr.KindElementNotFound, "chromedriver", "clicking node for "+v.sel, err)
		}
		return nil
	case driver.Handle:
		if h, ok := v.(Handle); ok {
			return d.Click(ctx, h)
		}
		return d.Click(ctx, v.Selector())
	case string:
		sel, opt := queryOpt(v)
		if err := chromedp.Run(d.ctx, chromedp.Click(sel, opt)); err != nil {
			return bookingerr.New(bookingerr.KindElementNotFound, "chromedriver", "clicking "+v, err)
		}
		return nil
	default:
		return bookingerr.New(bookingerr.KindUnknown, "chromedriver", fmt.Sprintf("click target of unsupported type %T", target), nil)
	}
}

func (d *Driver) Fill(ctx context.Context, target any, value string) error {
	var sel string
	switch v := target.(type) {
	case Handle:
		sel = v.sel
	case driver.Handle:
		sel = v.Selector()
	case string:
		sel = v
	default:
		return bookingerr.New(bookingerr.KindUnknown, "chromedriver", fmt.Sprintf("fill target of unsupported type %T", target), nil)
	}
	q, opt := queryOpt(sel)
	if err := chromedp.Run(d.ctx, chromedp.SetValue(q, value, opt)); err != nil {
		return bookingerr.New(bookingerr.KindElementNotFound, "chromedriver", "filling "+sel, err)
	}
	return nil
}

func (d *Driver) InputValue(ctx context.Context, selector string) (string, error) {
	sel, opt := queryOpt(selector)
	var value string
	if err := chromedp.Run(d.ctx, chromedp.Value(sel, &value, opt)); err != nil {
		return "", bookingerr.New(bookingerr.KindElementNotFound, "chromedriver", "reading value of "+selector, err)
	}
	return value, nil
}

func (d *Driver) GetAttribute(ctx context.Context, h driver.Handle, name string) (string, bool, error) {
	hn, ok := h.(Handle)
	if !ok || hn.node == nil {
		return "", false, nil
	}
	var value string
	var present bool
	if err := chromedp.Run(d.ctx, chromedp.AttributeValue([]cdp.NodeID{hn.node.NodeID}, name, &value, &present, chromedp.ByNodeID)); err != nil {
		return "", false, bookingerr.New(bookingerr.KindElementNotFound, "chromedriver", "reading attribute "+name, err)
	}
	return value, present, nil
}

func (d *Driver) TextContent(ctx context.Context, selector string) (string, bool, error) {
	sel, opt := queryOpt(selector)
	var text string
	if err := chromedp.Run(d.ctx, chromedp.Text(sel, &text, opt)); err != nil {
		return "", false, nil
	}
	return text, true, nil
}

func (d *Driver) PageURL(ctx context.Context) (string, error) {
	var url string
	if err := chromedp.Run(d.ctx, chromedp.Location(&url)); err != nil {
		return "", bookingerr.New(bookingerr.KindNetwork, "chromedriver", "reading page url", err)
	}
	return url, nil
}

// handleTarget is chromedp's ListenTarget callback, forwarding parsed
// response bodies to subscribers; callers unsubscribe via the func
// returned by OnResponse when their attempt ends.
func (d *Driver) handleTarget(ev interface{}) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok {
		return
	}
	reqID := resp.RequestID
	url := resp.Response.URL
	status := int(resp.Response.Status)
	go func() {
		var parsed map[string]any
		body, err := network.GetResponseBody(reqID).Do(cdp.WithExecutor(d.ctx, chromedp.FromContext(d.ctx).Target))
		if err == nil {
			_ = json.Unmarshal(body, &parsed)
		}
		evt := driver.ResponseEvent{URL: url, Status: status, JSON: parsed}
		for _, s := range d.snapshotSubscribers() {
			if s != nil {
				s(evt)
			}
		}
	}()
}

func (d *Driver) snapshotSubscribers() []func(driver.ResponseEvent) {
	return append([]func(driver.ResponseEvent){}, d.subscribers...)
}

func (d *Driver) OnResponse(callback func(driver.ResponseEvent)) func() {
	d.subscribers = append(d.subscribers, callback)
	idx := len(d.subscribers) - 1
	return func() {
		if idx < len(d.subscribers) {
			d.subscribers[idx] = nil
		}
	}
}

func (d *Driver) WaitForTimeout(ctx context.Context, ms int) error {
	select {
	case <-ctx.Done():
		return bookingerr.New(bookingerr.KindCancelled, "chromedriver", "wait cancelled", ctx.Err())
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	}
}

func (d *Driver) PressKey(ctx context.Context, name string) error {
	if err := chromedp.Run(d.ctx, chromedp.KeyEvent(name)); err != nil {
		return bookingerr.New(bookingerr.KindUnknown, "chromedriver", "pressing key "+name, err)
	}
	return nil
}

func (d *Driver) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := chromedp.Run(d.ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return bookingerr.New(bookingerr.KindUnknown, "chromedriver", "capturing screenshot", err)
	}
	return os.WriteFile(path, buf, 0o644)
}

func (d *Driver) Close() error {
	d.cancelCtx()
	d.cancelAlloc()
	return nil
}
