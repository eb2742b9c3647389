package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/parnurzeal/gorequest"
	"golang.org/x/xerrors"
)

// StatusError is returned when the server answers with a non-200 status.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error. status code: %d, url: %s", e.StatusCode, e.URL)
}

// FetchURL returns HTTP response body with retry
func FetchURL(ctx context.Context, url string, headers map[string]string, timeout time.Duration, policy RetryPolicy) ([]byte, error) {
	return fetchWithRetry(ctx, url, headers, timeout, policy, nil)
}

// FetchJSON fetches url and decodes the body into v. A body that fails to decode
// is retried like a transport error.
func FetchJSON(ctx context.Context, url string, headers map[string]string, timeout time.Duration, policy RetryPolicy, v interface{}) error {
	_, err := fetchWithRetry(ctx, url, headers, timeout, policy, func(b []byte) error {
		if err := json.Unmarshal(b, v); err != nil {
			return xerrors.Errorf("json decode error: %w", err)
		}
		return nil
	})
	return err
}

func fetchWithRetry(ctx context.Context, url string, headers map[string]string, timeout time.Duration,
	policy RetryPolicy, decode func([]byte) error) ([]byte, error) {
	var res []byte
	attempts := policy.attempts()
	err := policy.Do(ctx, func(attempt int) error {
		var err error
		res, err = fetchURL(url, headers, timeout)
		if err == nil && decode != nil {
			err = decode(res)
		}
		if err == nil {
			return nil
		}

		var se *StatusError
		if xerrors.As(err, &se) {
			slog.Warn("Unexpected HTTP status", "url", url, "status", se.StatusCode,
				"attempt", fmt.Sprintf("%d/%d", attempt+1, attempts))
		} else {
			slog.Error("HTTP request failed", "url", url, "error", err,
				"attempt", fmt.Sprintf("%d/%d", attempt+1, attempts))
		}
		return err
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to fetch URL: %w", err)
	}
	return res, nil
}

func fetchURL(url string, headers map[string]string, timeout time.Duration) ([]byte, error) {
	req := gorequest.New().Get(url)
	if timeout > 0 {
		req = req.Timeout(timeout)
	}
	for k, v := range headers {
		req.Set(k, v)
	}
	resp, body, errs := req.EndBytes()
	if len(errs) > 0 {
		return nil, xerrors.Errorf("HTTP error. url: %s, err: %w", url, errs[0])
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: url}
	}
	return body, nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
