// Package health runs named readiness probes under a shared deadline and
// reports them as an application/health+json document.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/vesselkit/vessel/internal/config"
	"github.com/vesselkit/vessel/internal/logging"
)

// MimeHealth is the media type of the aggregated report.
const MimeHealth = "application/health+json"

// Probe checks one dependency. It returns ok plus a human-readable detail
// that lands in the report either way.
type Probe func(ctx context.Context) (ok bool, detail string)

// Check is the recorded outcome of one probe run.
type Check struct {
	Status   string  `json:"status"`
	Output   string  `json:"output,omitempty"`
	Duration float64 `json:"duration_seconds"`
}

// Passed reports whether the probe succeeded.
func (c Check) Passed() bool { return c.Status == "pass" }

// Report is the aggregated document. Status is "pass" only when every
// check passed.
type Report struct {
	Status string           `json:"status"`
	Checks map[string]Check `json:"checks"`
	About  string           `json:"about,omitempty"`
}

// Passed reports whether every check in the report succeeded.
func (r Report) Passed() bool { return r.Status == "pass" }

func statusWord(ok bool) string {
	if ok {
		return "pass"
	}
	return "fail"
}

// Aggregator owns the probe set and serves the aggregated endpoint.
type Aggregator struct {
	mu     sync.RWMutex
	probes map[string]Probe
	order  []string

	failStatus   int
	probeTimeout time.Duration
	deadline     time.Duration
	parallelism  int
	about        string
	log          *logging.Logger
	now          func() time.Time
}

// New builds an aggregator from configuration with no probes registered.
func New(cfg config.HealthConfig, log *logging.Logger) *Aggregator {
	if log == nil {
		log = logging.NewNop()
	}
	a := &Aggregator{
		probes:       make(map[string]Probe),
		failStatus:   cfg.FailStatus,
		probeTimeout: cfg.ProbeTimeout,
		deadline:     cfg.Deadline,
		parallelism:  cfg.Parallelism,
		about:        cfg.About,
		log:          log,
		now:          time.Now,
	}
	if a.failStatus == 0 {
		a.failStatus = http.StatusServiceUnavailable
	}
	if a.probeTimeout <= 0 {
		a.probeTimeout = 5 * time.Second
	}
	if a.deadline <= 0 {
		a.deadline = 10 * time.Second
	}
	if a.parallelism <= 0 {
		a.parallelism = 4
	}
	return a
}

// Register adds a named probe. Re-registering a name replaces the probe
// but keeps its position in the report.
func (a *Aggregator) Register(name string, p Probe) error {
	if name == "" {
		return fmt.Errorf("health: probe name must not be empty")
	}
	if p == nil {
		return fmt.Errorf("health: nil probe %q", name)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.probes[name]; !exists {
		a.order = append(a.order, name)
	}
	a.probes[name] = p
	return nil
}

// Names returns the registered probe names in registration order.
func (a *Aggregator) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// Run executes all probes through a bounded worker pool, each under the
// per-probe timeout, the whole sweep under the global deadline. A probe
// that overruns or panics is recorded as failed, never skipped.
func (a *Aggregator) Run(ctx context.Context) Report {
	a.mu.RLock()
	names := make([]string, len(a.order))
	copy(names, a.order)
	probes := make(map[string]Probe, len(a.probes))
	for k, v := range a.probes {
		probes[k] = v
	}
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, a.deadline)
	defer cancel()

	checks := make([]Check, len(names))
	sem := make(chan struct{}, a.parallelism)
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string, p Probe) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				checks[i] = Check{Status: "fail", Output: "deadline exceeded before probe ran"}
				return
			}
			checks[i] = a.runOne(ctx, name, p)
		}(i, name, probes[name])
	}
	wg.Wait()

	report := Report{Status: "pass", Checks: make(map[string]Check, len(names)), About: a.about}
	for i, name := range names {
		report.Checks[name] = checks[i]
		if !checks[i].Passed() {
			report.Status = "fail"
		}
	}
	return report
}

func (a *Aggregator) runOne(ctx context.Context, name string, p Probe) Check {
	ctx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	defer cancel()

	type outcome struct {
		ok     bool
		detail string
	}
	start := a.now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				a.log.WithField("probe", name).Errorf("health probe panic: %v", rec)
				done <- outcome{ok: false, detail: fmt.Sprintf("probe panic: %v", rec)}
			}
		}()
		ok, detail := p(ctx)
		done <- outcome{ok: ok, detail: detail}
	}()

	select {
	case o := <-done:
		return Check{Status: statusWord(o.ok), Output: o.detail, Duration: a.now().Sub(start).Seconds()}
	case <-ctx.Done():
		return Check{Status: "fail", Output: "probe timed out", Duration: a.now().Sub(start).Seconds()}
	}
}

// ServeHTTP runs the sweep and writes the report: 200 when everything
// passed, the configured fail status otherwise.
func (a *Aggregator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := a.Run(r.Context())
	status := http.StatusOK
	if !report.Passed() {
		status = a.failStatus
		failed := failedNames(report)
		a.log.WithContext(r.Context()).WithField("failed", failed).Warn("health check failed")
	}
	w.Header().Set("Content-Type", MimeHealth)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(report)
}

func failedNames(report Report) []string {
	var failed []string
	for name, c := range report.Checks {
		if !c.Passed() {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}
