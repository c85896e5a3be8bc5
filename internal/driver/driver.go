// Package driver declares the capability set the booking engine requires
// of a headless-browser page. The engine never imports a
// concrete browser library directly; pkg/chromedriver provides the one
// production implementation, backed by chromedp.
package driver

import "context"

// Handle is an opaque reference to a located element, scoped to a single
// PageDriver session. Implementations may embed whatever identifies the
// element in the underlying browser protocol.
type Handle interface {
	// Selector returns the selector string that produced this handle.
	Selector() string
}

// ResponseEvent carries a parsed network response observed by a listener
// registered via OnResponse.
type ResponseEvent struct {
	URL    string
	Status int
	JSON   map[string]any // nil if the body wasn't JSON or failed to parse
}

// PageDriver is the capability set consumed by the booking engine.
// All selectors are strings; an "xpath=" prefix indicates XPath, otherwise
// the selector is treated as CSS.
type PageDriver interface {
	Navigate(ctx context.Context, url string) error
	LocateAll(ctx context.Context, selector string) ([]Handle, error)
	WaitForVisible(ctx context.Context, selector string, timeoutMs int) error
	Click(ctx context.Context, target any) error // target is a Handle or a selector string
	Fill(ctx context.Context, target any, value string) error
	InputValue(ctx context.Context, selector string) (string, error)
	GetAttribute(ctx context.Context, h Handle, name string) (string, bool, error)
	TextContent(ctx context.Context, selector string) (string, bool, error)
	PageURL(ctx context.Context) (string, error)
	OnResponse(callback func(ResponseEvent)) (unsubscribe func())
	WaitForTimeout(ctx context.Context, ms int) error
	PressKey(ctx context.Context, name string) error
	Screenshot(ctx context.Context, path string) error
	// Close releases any underlying browser session resources. Safe to
	// call multiple times.
	Close() error
}
