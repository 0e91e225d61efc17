package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/habitquest/progression-engine/internal/infrastructure/telemetry"
)

// DefaultErrorListSize caps the error report list.
const DefaultErrorListSize = 1000

// ErrorSink implements telemetry.ReportSink as a capped Redis list, newest
// first.
type ErrorSink struct {
	cache  *Cache
	key    string
	maxLen int64
}

// NewErrorSink creates a sink writing to KeyErrorReports.
func NewErrorSink(cache *Cache, maxLen int64) *ErrorSink {
	if maxLen <= 0 {
		maxLen = DefaultErrorListSize
	}
	return &ErrorSink{cache: cache, key: KeyErrorReports, maxLen: maxLen}
}

// WriteReports implements telemetry.ReportSink.
func (s *ErrorSink) WriteReports(ctx context.Context, reports []telemetry.ErrorReport) error {
	values := make([]any, len(reports))
	for i, r := range reports {
		values[i] = r
	}
	return s.cache.PushCapped(ctx, s.key, s.maxLen, values...)
}

// Recent returns up to n of the newest reports.
func (s *ErrorSink) Recent(ctx context.Context, n int64) ([]telemetry.ErrorReport, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := s.cache.Range(ctx, s.key, 0, n-1)
	if err != nil {
		return nil, err
	}

	out := make([]telemetry.ErrorReport, 0, len(raw))
	for _, item := range raw {
		var r telemetry.ErrorReport
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		out = append(out, r)
	}
	return out, nil
}
