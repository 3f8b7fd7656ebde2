package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	apperrors "git-metrics/internal/errors"
)

// ClassifyTransportError maps an error returned by an HTTP round trip onto an error kind.
// ctx is the caller's context: its cancellation is reported as Canceled, while a
// per-request timeout is a NetworkError.
func ClassifyTransportError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return apperrors.Wrap(apperrors.KindCanceled, op, err)
	}
	return apperrors.Wrap(apperrors.KindNetworkError, op, err)
}

// ClassifyStatus maps a non-2xx HTTP response onto an error kind.
func ClassifyStatus(op string, resp *http.Response, body []byte) error {
	msg := fmt.Sprintf("%s %s: %s", resp.Request.Method, resp.Request.URL.Path, resp.Status)
	if len(body) > 0 {
		msg += ": " + truncate(string(body), 200)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.New(apperrors.KindAuthenticationFailed, op, msg)
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.New(apperrors.KindNotFound, op, msg)
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RetryAfterError{
			Err:   apperrors.New(apperrors.KindRateLimited, op, msg),
			After: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	case resp.StatusCode >= 500:
		return apperrors.New(apperrors.KindNetworkError, op, msg)
	default:
		return apperrors.New(apperrors.KindMalformedResponse, op, msg)
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
