package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"tonearm/internal/services"
)

func TestKindClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"not found", services.Wrap(services.ErrNotFound, "resolve", "provider search", "no results", nil), services.KindNotFound},
		{"resolution", services.Wrap(services.ErrResolution, "resolve", "", "upstream 500", nil), services.KindResolution},
		{"fetch", services.Wrap(services.ErrFetch, "fetch", "all candidates", "", errors.New("eof")), services.KindFetch},
		{"transcode", services.Wrap(services.ErrTranscode, "transcode", "convert", "", nil), services.KindTranscode},
		{"storage", services.Wrap(services.ErrStorage, "place", "", "disk full", nil), services.KindStorage},
		{"rate limit", services.Wrap(services.ErrRateLimited, "fetch", "", "429", nil), services.KindRateLimit},
		{"cancelled", services.Wrap(services.ErrCancelled, "fetch", "", "", nil), services.KindCancelled},
		{"unknown", errors.New("surprise"), services.KindUnknown},
		{"wrapped deeper", fmt.Errorf("outer: %w", services.Wrap(services.ErrFetch, "fetch", "", "", nil)), services.KindFetch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Kind(tc.err); got != tc.want {
				t.Fatalf("Kind = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestWrapIncludesStageContext(t *testing.T) {
	err := services.Wrap(services.ErrFetch, "fetch", "all candidates", "3 candidates exhausted", errors.New("connection reset"))
	for _, fragment := range []string{"fetch", "all candidates", "3 candidates exhausted", "connection reset"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("error %q missing %q", err, fragment)
		}
	}
	if !errors.Is(err, services.ErrFetch) {
		t.Fatal("wrapped error lost its marker")
	}
}

func TestWrapNilMarkerDefaultsToFetch(t *testing.T) {
	err := services.Wrap(nil, "fetch", "", "boom", nil)
	if !errors.Is(err, services.ErrFetch) {
		t.Fatalf("expected fetch marker, got %v", err)
	}
}

func TestRateLimitErrorClassifiesAndHints(t *testing.T) {
	err := &services.RateLimitError{RetryAfter: 90 * time.Second, Err: errors.New("http 429")}

	if !errors.Is(err, services.ErrRateLimited) {
		t.Fatal("RateLimitError must match ErrRateLimited")
	}
	if services.Kind(err) != services.KindRateLimit {
		t.Fatalf("Kind = %q", services.Kind(err))
	}
	after, ok := services.RetryAfter(err)
	if !ok || after != 90*time.Second {
		t.Fatalf("RetryAfter = %v %v", after, ok)
	}

	wrapped := fmt.Errorf("fetch candidate: %w", err)
	if after, ok := services.RetryAfter(wrapped); !ok || after != 90*time.Second {
		t.Fatalf("wrapped RetryAfter = %v %v", after, ok)
	}

	if _, ok := services.RetryAfter(services.Wrap(services.ErrRateLimited, "fetch", "", "", nil)); ok {
		t.Fatal("plain rate-limit error should carry no hint")
	}
}
