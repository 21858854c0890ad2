package clock

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPSourceParsesUTCDatetime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"utc_datetime":"2025-01-01T10:20:30.123456+00:00"}`)
	}))
	defer srv.Close()

	src := NewHTTP(srv.URL, time.Second, quietLogger())
	got := src.Now(context.Background())
	assert.Equal(t, time.Date(2025, 1, 1, 10, 20, 30, 123456000, time.UTC), got)
}

func TestHTTPSourceParsesDateTimeWithoutZone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"dateTime":"2024-12-31T23:59:59.5"}`)
	}))
	defer srv.Close()

	got := NewHTTP(srv.URL, time.Second, quietLogger()).Now(context.Background())
	assert.Equal(t, 2024, got.Year())
	assert.Equal(t, time.December, got.Month())
	assert.Equal(t, 31, got.Day())
}

func TestHTTPSourceFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "not json")
		}},
		{"missing field", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"unixtime": 1}`)
		}},
		{"slow", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
			io.WriteString(w, `{"utc_datetime":"2000-01-01T00:00:00Z"}`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			src := NewHTTP(srv.URL, 100*time.Millisecond, quietLogger())
			before := time.Now().UTC()
			got := src.Now(context.Background())
			assert.False(t, got.Before(before.Add(-time.Second)), "expected local clock fallback, got %v", got)
		})
	}
}

func TestNewWithoutURLUsesLocal(t *testing.T) {
	src := New("", 0, nil)
	_, ok := src.(Local)
	assert.True(t, ok)
}

func TestTodayTruncatesToUTCDate(t *testing.T) {
	src := Fixed(time.Date(2025, 1, 1, 23, 30, 0, 0, time.FixedZone("X", -3*3600)))
	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), Today(context.Background(), src))
}
