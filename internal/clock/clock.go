// Package clock provides the current time used for key activation and
// verification. The network source asks an external time service and falls
// back to the local clock when that service is unavailable.
package clock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single request to the external time service.
const DefaultTimeout = 3 * time.Second

// Source returns the current instant. Implementations never fail; callers
// derive calendar dates from the UTC form of the returned time.
type Source interface {
	Now(ctx context.Context) time.Time
}

// Local reads the host clock.
type Local struct{}

// Now returns time.Now in UTC.
func (Local) Now(context.Context) time.Time { return time.Now().UTC() }

// Fixed always returns the same instant.
type Fixed time.Time

// Now returns the fixed instant.
func (f Fixed) Now(context.Context) time.Time { return time.Time(f).UTC() }

// Date builds a Fixed source at midnight UTC on the given day.
func Date(year int, month time.Month, day int) Fixed {
	return Fixed(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// Today returns the UTC calendar date of src's current instant.
func Today(ctx context.Context, src Source) time.Time {
	t := src.Now(ctx).UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// HTTP queries a JSON time service. Any transport error, timeout, non-2xx
// status or unparseable body makes it return the fallback's time instead.
type HTTP struct {
	url      string
	client   *http.Client
	fallback Source
	logger   *slog.Logger
}

// NewHTTP creates a network time source for url. A zero timeout selects
// DefaultTimeout.
func NewHTTP(url string, timeout time.Duration, logger *slog.Logger) *HTTP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		fallback: Local{},
		logger:   logger,
	}
}

// New returns an HTTP source when url is set and the local clock otherwise.
func New(url string, timeout time.Duration, logger *slog.Logger) Source {
	if url == "" {
		return Local{}
	}
	return NewHTTP(url, timeout, logger)
}

// Now fetches the current time from the service, falling back to the local
// clock on any failure.
func (h *HTTP) Now(ctx context.Context) time.Time {
	t, err := h.fetch(ctx)
	if err != nil {
		h.logger.Warn("time service unavailable, using local clock", "url", h.url, "error", err)
		return h.fallback.Now(ctx)
	}
	return t
}

// timeResponse covers the field names used by common public time APIs.
type timeResponse struct {
	UTCDatetime string `json:"utc_datetime"`
	Datetime    string `json:"datetime"`
	DateTime    string `json:"dateTime"`
}

func (h *HTTP) fetch(ctx context.Context) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return time.Time{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return time.Time{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body timeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return time.Time{}, fmt.Errorf("decode response: %w", err)
	}

	for _, raw := range []string{body.UTCDatetime, body.Datetime, body.DateTime} {
		if raw == "" {
			continue
		}
		if t, err := parseTimestamp(raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("no usable timestamp in response")
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
