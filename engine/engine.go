package engine

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-notify/metrics"
	"github.com/aquasecurity/vuln-notify/nvd"
	"github.com/aquasecurity/vuln-notify/seen"
	"github.com/aquasecurity/vuln-notify/types"
	"github.com/aquasecurity/vuln-notify/utils"
)

const (
	defaultInterval    = 120 * time.Second
	defaultMinSeverity = 5.0
	defaultSendDelay   = 2 * time.Second
	defaultReadyRetry  = 10 * time.Second
)

var ErrChannelUnavailable = xerrors.New("destination channel unavailable")

type State string

const (
	StateIdle       State = "IDLE"
	StateFetching   State = "FETCHING"
	StateFiltering  State = "FILTERING"
	StatePublishing State = "PUBLISHING"
	StatePersisting State = "PERSISTING"
)

type Fetcher interface {
	Fetch(ctx context.Context) []nvd.Vulnerability
}

type Publisher interface {
	Identity(ctx context.Context) (string, error)
	Ready(ctx context.Context) error
	Publish(ctx context.Context, v types.Vulnerability) error
}

// Result summarizes a single cycle.
type Result struct {
	Fetched        int
	New            int
	Sent           int
	Failed         int
	BelowThreshold int
}

type option func(*Engine)

func WithInterval(d time.Duration) option {
	return func(e *Engine) { e.interval = d }
}

func WithMinSeverity(score float64) option {
	return func(e *Engine) { e.minSeverity = score }
}

// WithSendDelay sets the pause after each delivered notification.
func WithSendDelay(d time.Duration) option {
	return func(e *Engine) { e.sendDelay = d }
}

// WithReadyRetry sets how often Run retries resolving the bot identity at startup.
func WithReadyRetry(d time.Duration) option {
	return func(e *Engine) { e.readyRetry = d }
}

func WithMetrics(m *metrics.Metrics) option {
	return func(e *Engine) { e.metrics = m }
}

func withSleep(sleep func(context.Context, time.Duration) error) option {
	return func(e *Engine) { e.sleep = sleep }
}

// Engine runs the fetch, filter, publish and persist cycle.
// Only the goroutine calling Run or RunCycle mutates the seen set.
type Engine struct {
	fetcher   Fetcher
	publisher Publisher
	store     *seen.Store
	seen      *seen.Set
	metrics   *metrics.Metrics

	interval    time.Duration
	minSeverity float64
	sendDelay   time.Duration
	readyRetry  time.Duration
	sleep       func(context.Context, time.Duration) error

	state    atomic.Value
	identity atomic.Value
}

func New(fetcher Fetcher, publisher Publisher, store *seen.Store, set *seen.Set, opts ...option) *Engine {
	e := &Engine{
		fetcher:     fetcher,
		publisher:   publisher,
		store:       store,
		seen:        set,
		interval:    defaultInterval,
		minSeverity: defaultMinSeverity,
		sendDelay:   defaultSendDelay,
		readyRetry:  defaultReadyRetry,
		sleep:       utils.Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	e.state.Store(StateIdle)
	e.identity.Store("")
	e.metrics.Tracked.Set(float64(set.Len()))
	return e
}

func (e *Engine) State() State {
	return e.state.Load().(State)
}

// Identity is the bot name resolved by Run, empty before that.
func (e *Engine) Identity() string {
	return e.identity.Load().(string)
}

func (e *Engine) Seen() *seen.Set {
	return e.seen
}

// Tracked is the number of seen CVE IDs. Safe to call from any goroutine.
func (e *Engine) Tracked() int {
	return e.seen.Len()
}

func (e *Engine) Interval() time.Duration {
	return e.interval
}

func (e *Engine) setState(s State) {
	e.state.Store(s)
}

// Run waits for the destination, then runs a cycle immediately and on every interval
// until ctx is done. A cycle in flight when ctx is canceled still completes.
// Rejected credentials end Run with an error.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.waitUntilReady(ctx); err != nil {
		if xerrors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	slog.Info("Monitoring started", "interval", e.interval, "min_cvss", e.minSeverity)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		// persisting must not be cut short by shutdown
		if _, err := e.RunCycle(context.WithoutCancel(ctx)); err != nil {
			if xerrors.Is(err, ErrChannelUnavailable) {
				slog.Warn("Cycle skipped", "error", err)
			} else {
				slog.Error("Cycle failed", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			slog.Info("Monitoring stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (e *Engine) waitUntilReady(ctx context.Context) error {
	for {
		name, err := e.publisher.Identity(ctx)
		if err == nil {
			e.identity.Store(name)
			slog.Info("Connected", "bot", name)
			return nil
		}
		if unauthorized(err) {
			return xerrors.Errorf("destination rejected the bot token: %w", err)
		}
		slog.Warn("Destination not ready", "error", err, "retry_in", e.readyRetry)
		if err = e.sleep(ctx, e.readyRetry); err != nil {
			return xerrors.Errorf("gave up waiting for destination: %w", err)
		}
	}
}

func unauthorized(err error) bool {
	var se *utils.StatusError
	if !xerrors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden
}

// RunCycle performs one poll. A missing channel aborts before anything is fetched.
func (e *Engine) RunCycle(ctx context.Context) (Result, error) {
	var res Result
	start := time.Now()
	defer func() {
		e.setState(StateIdle)
		e.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}()

	if err := e.publisher.Ready(ctx); err != nil {
		slog.Warn("Channel not found, check CHANNEL_ID", "error", err)
		e.metrics.Cycles.WithLabelValues("no_channel").Inc()
		return res, xerrors.Errorf("%v: %w", err, ErrChannelUnavailable)
	}

	e.setState(StateFetching)
	slog.Info("Checking NVD for new CVEs")
	raw := e.fetcher.Fetch(ctx)
	res.Fetched = len(raw)
	e.metrics.Fetched.Add(float64(res.Fetched))
	if len(raw) == 0 {
		slog.Warn("No CVEs received")
		e.metrics.Cycles.WithLabelValues("empty").Inc()
		return res, nil
	}

	e.setState(StateFiltering)
	vulns := lo.Filter(nvd.Normalize(raw), func(v types.Vulnerability, _ int) bool {
		return v.ID != ""
	})
	fresh := seen.FilterNew(vulns, e.seen)
	res.New = len(fresh)
	e.metrics.NewCVEs.Add(float64(res.New))
	if len(fresh) == 0 {
		slog.Info("No new CVEs since the last check")
		e.metrics.Cycles.WithLabelValues("nothing_new").Inc()
		return res, nil
	}

	e.setState(StatePublishing)
	// the feed is newest first
	for _, v := range lo.Reverse(fresh) {
		if !e.seen.Add(v.ID) {
			continue
		}
		if v.Score < e.minSeverity {
			slog.Debug("Below threshold", "cve", v.ID, "cvss", v.Score)
			res.BelowThreshold++
			e.metrics.Notifications.WithLabelValues("below_threshold").Inc()
			continue
		}
		if err := e.publisher.Publish(ctx, v); err != nil {
			slog.Error("Failed to send CVE", "cve", v.ID, "error", err)
			res.Failed++
			e.metrics.Notifications.WithLabelValues("failed").Inc()
			continue
		}
		slog.Info("Published", "cve", v.ID, "cvss", v.Score)
		res.Sent++
		e.metrics.Notifications.WithLabelValues("sent").Inc()
		_ = e.sleep(ctx, e.sendDelay)
	}
	e.metrics.Tracked.Set(float64(e.seen.Len()))

	e.setState(StatePersisting)
	if err := e.store.Persist(e.seen); err != nil {
		e.metrics.Cycles.WithLabelValues("persist_failed").Inc()
		return res, err
	}
	slog.Info("CVEs processed and saved", "count", res.New, "sent", res.Sent)
	e.metrics.Cycles.WithLabelValues("ok").Inc()
	return res, nil
}
