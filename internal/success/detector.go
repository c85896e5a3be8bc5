// Package success implements SuccessDetector: runs
// network, DOM-attribute, URL-pattern, and text-fallback strategies in
// fixed order after the commit action, returning the first success.
package success

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/trytofly94/squash-booker/internal/driver"
)

// Method identifies which detection strategy concluded a booking outcome.
type Method string

const (
	MethodNetwork      Method = "network"
	MethodDOMAttribute Method = "dom-attribute"
	MethodURLPattern   Method = "url-pattern"
	MethodTextFallback Method = "text-fallback"
	MethodNone         Method = "none"
)

// Result is BookingSuccessResult.
type Result struct {
	Success        bool
	Method         Method
	ConfirmationID string
	Timestamp      time.Time
	AdditionalData map[string]any
}

// Config mirrors operator successDetection.* options.
type Config struct {
	NetworkTimeout     time.Duration
	DOMTimeout         time.Duration
	URLCheckInterval   time.Duration
	EnableNetwork      bool
	EnableDOM          bool
	EnableURL          bool
	EnableTextFallback bool
	TextKeywords       []string
}

var networkURLMarkers = []string{
	"booking", "confirm", "reservation", "checkout", "purchase", "complete", "finalize", "payment/success",
}

var networkSuccessFields = []string{
	"success", "booking_id", "bookingId", "confirmation", "confirmation_number", "reservation_id", "order_id",
}

var sensitiveFields = map[string]bool{
	"card": true, "token": true, "cvv": true, "password": true, "authorization": true,
}

// domProbes are tried in order; attr names the attribute carrying the
// confirmation id, empty for selectors whose id lives in the element text.
type domProbe struct {
	selector string
	attr     string
}

var domProbes = []domProbe{
	{selector: `[data-booking-id]`, attr: "data-booking-id"},
	{selector: `[data-confirmation-number]`, attr: "data-confirmation-number"},
	{selector: `[data-reservation-id]`, attr: "data-reservation-id"},
	{selector: `.booking-reference`},
	{selector: `.confirmation-number`},
	{selector: `[data-testid=booking-confirmation]`},
}

var urlPatterns = []string{
	"/booking-confirmed", "/confirmation", "/success", "/booking-complete", "/booking-success",
	"booking_success", "confirmed=true", "status=success",
}

var confirmationQueryKeys = []string{"booking_id", "confirmation", "id", "reference"}

var confirmationNumberPattern = regexp.MustCompile(`\b([A-Z]{1,3}-?\d{3,})\b`)

// NetworkEvent is an observed response, an alias of driver.ResponseEvent
// as passed to Detect.
type NetworkEvent = driver.ResponseEvent

// Analytics records each strategy's outcome with timing.
type Analytics interface {
	RecordDetectionAttempt(method Method, succeeded bool, duration time.Duration)
}

// NoopAnalytics discards all recordings.
type NoopAnalytics struct{}

func (NoopAnalytics) RecordDetectionAttempt(Method, bool, time.Duration) {}

// Detector implements SuccessDetector.
type Detector struct {
	d         driver.PageDriver
	cfg       Config
	analytics Analytics
	nowFn     func() time.Time
}

// New constructs a Detector. analytics may be nil, defaulting to a no-op.
func New(d driver.PageDriver, cfg Config, analytics Analytics) *Detector {
	if analytics == nil {
		analytics = NoopAnalytics{}
	}
	return &Detector{d: d, cfg: cfg, analytics: analytics, nowFn: time.Now}
}

// Detect runs the fixed-order strategy pipeline. pendingEvents
// is drained from an OnResponse listener bound to the current attempt, so
// detection never sees responses from a previous attempt.
func (det *Detector) Detect(ctx context.Context, pendingEvents []driver.ResponseEvent) Result {
	if det.cfg.EnableNetwork {
		start := det.nowFn()
		if res, ok := det.detectNetwork(pendingEvents); ok {
			det.analytics.RecordDetectionAttempt(MethodNetwork, true, det.nowFn().Sub(start))
			return res
		}
		det.analytics.RecordDetectionAttempt(MethodNetwork, false, det.nowFn().Sub(start))
	}

	if det.cfg.EnableDOM {
		start := det.nowFn()
		if res, ok := det.detectDOM(ctx); ok {
			det.analytics.RecordDetectionAttempt(MethodDOMAttribute, true, det.nowFn().Sub(start))
			return res
		}
		det.analytics.RecordDetectionAttempt(MethodDOMAttribute, false, det.nowFn().Sub(start))
	}

	if det.cfg.EnableURL {
		start := det.nowFn()
		if res, ok := det.detectURL(ctx); ok {
			det.analytics.RecordDetectionAttempt(MethodURLPattern, true, det.nowFn().Sub(start))
			return res
		}
		det.analytics.RecordDetectionAttempt(MethodURLPattern, false, det.nowFn().Sub(start))
	}

	if det.cfg.EnableTextFallback {
		start := det.nowFn()
		if res, ok := det.detectTextFallback(ctx); ok {
			det.analytics.RecordDetectionAttempt(MethodTextFallback, true, det.nowFn().Sub(start))
			return res
		}
		det.analytics.RecordDetectionAttempt(MethodTextFallback, false, det.nowFn().Sub(start))
	}

	return Result{Success: false, Method: MethodNone, Timestamp: det.nowFn()}
}

func (det *Detector) detectNetwork(events []driver.ResponseEvent) (Result, bool) {
	for _, evt := range events {
		if !urlMentionsBooking(evt.URL) {
			continue
		}
		if evt.JSON != nil {
			if id, ok := truthySuccessField(evt.JSON); ok {
				return Result{
					Success: true, Method: MethodNetwork, ConfirmationID: id,
					Timestamp: det.nowFn(), AdditionalData: redact(evt.JSON),
				}, true
			}
		}
		if evt.Status == 200 || evt.Status == 201 {
			return Result{Success: true, Method: MethodNetwork, Timestamp: det.nowFn()}, true
		}
	}
	return Result{}, false
}

func urlMentionsBooking(raw string) bool {
	lower := strings.ToLower(raw)
	for _, marker := range networkURLMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// confirmationIDFields are checked, in priority order, for the
// human-meaningful identifier once any success indicator fires.
var confirmationIDFields = []string{"booking_id", "bookingId", "confirmation_number", "confirmation", "reservation_id", "order_id"}

func truthySuccessField(json map[string]any) (string, bool) {
	fired := false
	for _, field := range networkSuccessFields {
		if v, ok := json[field]; ok && truthy(v) {
			fired = true
			break
		}
	}
	if !fired {
		return "", false
	}
	for _, field := range confirmationIDFields {
		if s, ok := json[field].(string); ok && s != "" {
			return s, true
		}
	}
	return "", true
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	case float64:
		return t != 0
	case nil:
		return false
	default:
		return true
	}
}

func redact(json map[string]any) map[string]any {
	out := make(map[string]any, len(json))
	for k, v := range json {
		if sensitiveFields[strings.ToLower(k)] {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}

func (det *Detector) detectDOM(ctx context.Context) (Result, bool) {
	perSelector := det.cfg.DOMTimeout / time.Duration(len(domProbes))
	for _, probe := range domProbes {
		waitCtx, cancel := context.WithTimeout(ctx, perSelector)
		err := det.d.WaitForVisible(waitCtx, probe.selector, int(perSelector.Milliseconds()))
		cancel()
		if err != nil {
			continue
		}
		// Attribute-carrying selectors hold the confirmation id in the
		// attribute value; their text content is typically empty.
		if probe.attr != "" {
			if handles, lerr := det.d.LocateAll(ctx, probe.selector); lerr == nil && len(handles) > 0 {
				if v, ok, aerr := det.d.GetAttribute(ctx, handles[0], probe.attr); aerr == nil && ok && v != "" {
					return Result{Success: true, Method: MethodDOMAttribute, ConfirmationID: v, Timestamp: det.nowFn()}, true
				}
			}
		}
		if text, ok, _ := det.d.TextContent(ctx, probe.selector); ok && text != "" {
			return Result{Success: true, Method: MethodDOMAttribute, ConfirmationID: text, Timestamp: det.nowFn()}, true
		}
		return Result{Success: true, Method: MethodDOMAttribute, Timestamp: det.nowFn()}, true
	}
	return Result{}, false
}

func (det *Detector) detectURL(ctx context.Context) (Result, bool) {
	deadline := det.nowFn().Add(10 * time.Second)
	ticker := time.NewTicker(det.cfg.URLCheckInterval)
	defer ticker.Stop()

	check := func() (Result, bool) {
		pageURL, err := det.d.PageURL(ctx)
		if err != nil {
			return Result{}, false
		}
		lower := strings.ToLower(pageURL)
		for _, pattern := range urlPatterns {
			if strings.Contains(lower, pattern) {
				return Result{
					Success: true, Method: MethodURLPattern,
					ConfirmationID: extractConfirmationFromQuery(pageURL),
					Timestamp:      det.nowFn(),
				}, true
			}
		}
		return Result{}, false
	}

	if res, ok := check(); ok {
		return res, true
	}
	for det.nowFn().Before(deadline) {
		select {
		case <-ctx.Done():
			return Result{}, false
		case <-ticker.C:
			if res, ok := check(); ok {
				return res, true
			}
		}
	}
	return Result{}, false
}

func extractConfirmationFromQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	for _, key := range confirmationQueryKeys {
		if v := q.Get(key); v != "" {
			return v
		}
	}
	return ""
}

var resultContainerSelectors = []string{
	`.booking-result`, `#booking-status`, `[data-testid="booking-result"]`,
}

// detectTextFallback is the last-resort multilingual keyword match,
// disabled by default in production.
func (det *Detector) detectTextFallback(ctx context.Context) (Result, bool) {
	for _, sel := range resultContainerSelectors {
		text, ok, _ := det.d.TextContent(ctx, sel)
		if !ok || text == "" {
			continue
		}
		lower := strings.ToLower(text)
		for _, kw := range det.cfg.TextKeywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				confirmationID := ""
				if m := confirmationNumberPattern.FindString(text); m != "" {
					confirmationID = m
				}
				return Result{Success: true, Method: MethodTextFallback, ConfirmationID: confirmationID, Timestamp: det.nowFn()}, true
			}
		}
	}
	return Result{}, false
}
