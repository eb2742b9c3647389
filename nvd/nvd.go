package nvd

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-notify/utils"
)

const (
	url20          = "https://services.nvd.nist.gov/rest/json/cves/2.0"
	resultsPerPage = 20
	userAgent      = "vuln-notify/2.0"
	timeout        = 30 * time.Second
)

type options struct {
	baseURL        string
	apiKey         string
	resultsPerPage int
	timeout        time.Duration
	retry          utils.RetryPolicy
}

type option func(*options)

func WithBaseURL(baseURL string) option {
	return func(opts *options) {
		opts.baseURL = baseURL
	}
}

func WithAPIKey(apiKey string) option {
	return func(opts *options) {
		opts.apiKey = apiKey
	}
}

func WithResultsPerPage(n int) option {
	return func(opts *options) {
		opts.resultsPerPage = n
	}
}

func WithRetryPolicy(p utils.RetryPolicy) option {
	return func(opts *options) {
		opts.retry = p
	}
}

func WithTimeout(d time.Duration) option {
	return func(opts *options) {
		opts.timeout = d
	}
}

// Fetcher pulls the latest page of CVEs from the NVD API.
type Fetcher struct {
	*options
}

func NewFetcher(opts ...option) Fetcher {
	o := &options{
		baseURL:        url20,
		resultsPerPage: resultsPerPage,
		timeout:        timeout,
		retry:          utils.DefaultRetryPolicy(),
	}

	for _, opt := range opts {
		opt(o)
	}
	return Fetcher{
		options: o,
	}
}

// Fetch returns the raw records of the latest page, newest first.
// Failures are logged and yield an empty slice.
func (f Fetcher) Fetch(ctx context.Context) []Vulnerability {
	u, err := urlWithParams(f.baseURL, f.resultsPerPage)
	if err != nil {
		slog.Error("Invalid NVD URL", "url", f.baseURL, "error", err)
		return nil
	}

	headers := map[string]string{"User-Agent": userAgent}
	if f.apiKey != "" {
		headers["apiKey"] = f.apiKey
		slog.Debug("Using NVD API key")
	}

	var resp Response
	if err = utils.FetchJSON(ctx, u, headers, f.timeout, f.retry, &resp); err != nil {
		slog.Error("Unable to fetch CVEs from NVD", "error", err)
		return nil
	}
	slog.Info("NVD responded", "cves", len(resp.Vulnerabilities), "total", resp.TotalResults)
	return resp.Vulnerabilities
}

func urlWithParams(baseURL string, resultsPerPage int) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", xerrors.Errorf("unable to parse %q base url: %w", baseURL, err)
	}
	q := u.Query()
	q.Set("resultsPerPage", strconv.Itoa(resultsPerPage))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
