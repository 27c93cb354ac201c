package services

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel markers for stage failure classification. Wrap tags errors with
// one of these so the retry controller can apply its decision table via
// errors.Is instead of string matching.
var (
	// ErrNotFound marks a resolution failure where the catalog has no entry
	// for the requested track. Never retried.
	ErrNotFound = errors.New("track not found")
	// ErrResolution marks a transient or ambiguous catalog resolution failure.
	ErrResolution = errors.New("resolution failure")
	// ErrFetch marks a source fetch failure after all candidates were tried.
	ErrFetch = errors.New("fetch failure")
	// ErrTranscode marks a transcoder failure.
	ErrTranscode = errors.New("transcode failure")
	// ErrStorage marks a local storage failure. Treated as systemic.
	ErrStorage = errors.New("storage failure")
	// ErrRateLimited marks an upstream rate-limit rejection.
	ErrRateLimited = errors.New("rate limited")
	// ErrCancelled marks a cooperative cancellation observed between stages.
	ErrCancelled = errors.New("cancelled")
)

// Kind strings persisted on failed tasks and exposed to callers. These are
// part of the stable surface; renaming one changes user-visible output.
const (
	KindResolution = "resolution_error"
	KindNotFound   = "resolution_not_found"
	KindFetch      = "fetch_error"
	KindTranscode  = "transcode_error"
	KindStorage    = "storage_error"
	KindRateLimit  = "rate_limit_error"
	KindCancelled  = "cancellation"
	KindUnknown    = "unknown_error"
)

// Wrap builds an error that includes stage context while tagging it with the
// provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrFetch
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind maps an error to its stable kind string.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrResolution):
		return KindResolution
	case errors.Is(err, ErrRateLimited):
		return KindRateLimit
	case errors.Is(err, ErrFetch):
		return KindFetch
	case errors.Is(err, ErrTranscode):
		return KindTranscode
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindUnknown
	}
}

// RateLimitError carries a provider-supplied retry-after hint. It unwraps to
// ErrRateLimited so the usual classification applies.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrRateLimited
}

// Is lets errors.Is match a RateLimitError against ErrRateLimited even when
// wrapping another cause.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfter extracts a provider-supplied retry-after hint, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		return rle.RetryAfter, true
	}
	return 0, false
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
