// internal/monitoring/runner.go
package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/harsxv/tinystatus/internal/metrics"
	"github.com/sirupsen/logrus"
)

// DefaultBatchTimeout bounds every probe of one Run call.
const DefaultBatchTimeout = 10 * time.Second

// CheckResult is the outcome of one check in one cycle.
type CheckResult struct {
	Name         string                 `json:"name"`
	Group        string                 `json:"group"`
	Success      bool                   `json:"status"`
	ResponseTime float64                `json:"response_time"`
	URL          *string                `json:"url"`
	Extra        map[string]interface{} `json:"extra_data"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Runner executes a group's checks concurrently.
type Runner struct {
	registry Registry
	metrics  *metrics.Collector
	// Timeout is the batch deadline measured from launch.
	Timeout time.Duration
}

func NewRunner(registry Registry, collector *metrics.Collector) *Runner {
	return &Runner{
		registry: registry,
		metrics:  collector,
		Timeout:  DefaultBatchTimeout,
	}
}

// probeDone is what a probe goroutine hands back. aborted is set when the
// probe never produced an Outcome (panic or unknown type); expired when it
// gave up because the batch deadline passed.
type probeDone struct {
	outcome Outcome
	aborted error
	expired bool
}

// Run starts every probe at once and collects results in input order. One
// failing, hanging or panicking probe never affects its siblings.
func (r *Runner) Run(ctx context.Context, group string, checks []CheckDefinition) []CheckResult {
	batchCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	pending := make([]chan probeDone, len(checks))
	for i, check := range checks {
		ch := make(chan probeDone, 1)
		pending[i] = ch

		prober, ok := r.registry[check.Type]
		if !ok {
			ch <- probeDone{aborted: fmt.Errorf("unknown check type: %s", check.Type)}
			continue
		}
		go runProbe(batchCtx, prober, check, ch)
	}

	results := make([]CheckResult, len(checks))
	for i, check := range checks {
		start := time.Now()
		done := await(batchCtx, pending[i])
		elapsed := time.Since(start)

		switch {
		case done.expired:
			err := fmt.Errorf("check timed out after %s", r.Timeout)
			if ctx.Err() != nil {
				err = fmt.Errorf("check cancelled: %w", ctx.Err())
			}
			logrus.WithFields(logrus.Fields{
				"group": group,
				"check": check.Name,
			}).Warn(err.Error())
			results[i] = abortedResult(group, check, err)
		case done.aborted != nil:
			logrus.WithError(done.aborted).WithFields(logrus.Fields{
				"group": group,
				"check": check.Name,
			}).Error("Check execution failed")
			results[i] = abortedResult(group, check, done.aborted)
		default:
			results[i] = completedResult(group, check, done.outcome, elapsed)
			if done.outcome.Err != nil {
				logrus.WithError(done.outcome.Err).WithFields(logrus.Fields{
					"group": group,
					"check": check.Name,
					"type":  check.Type,
				}).Debug("Check failed")
			}
		}

		r.metrics.RecordCheckResult(group, check.Type, results[i].Success, elapsed)
	}
	return results
}

func runProbe(ctx context.Context, prober Prober, check CheckDefinition, ch chan<- probeDone) {
	defer func() {
		if p := recover(); p != nil {
			ch <- probeDone{aborted: fmt.Errorf("probe panicked: %v", p)}
		}
	}()
	outcome := prober.Probe(ctx, check)
	ch <- probeDone{outcome: outcome, expired: !outcome.Success && ctx.Err() != nil}
}

// await waits for a probe result or the batch deadline, whichever is first.
// A result already buffered when the deadline fires is still taken.
func await(ctx context.Context, ch <-chan probeDone) probeDone {
	select {
	case done := <-ch:
		return done
	case <-ctx.Done():
		select {
		case done := <-ch:
			return done
		default:
			return probeDone{expired: true}
		}
	}
}

func checkURL(check CheckDefinition) *string {
	if check.URL == "" {
		return nil
	}
	url := check.URL
	return &url
}

func optionalInt(v int) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func completedResult(group string, check CheckDefinition, outcome Outcome, elapsed time.Duration) CheckResult {
	extra := map[string]interface{}{
		"type":          check.Type,
		"host":          check.Host,
		"port":          optionalInt(check.Port),
		"expected_code": optionalInt(check.ExpectedCode),
	}
	if outcome.Err != nil {
		extra["error"] = outcome.Err.Error()
	}

	return CheckResult{
		Name:         check.Name,
		Group:        group,
		Success:      outcome.Success,
		ResponseTime: elapsed.Seconds(),
		URL:          checkURL(check),
		Extra:        extra,
		Timestamp:    time.Now().UTC(),
	}
}

func abortedResult(group string, check CheckDefinition, err error) CheckResult {
	return CheckResult{
		Name:         check.Name,
		Group:        group,
		Success:      false,
		ResponseTime: 0,
		URL:          checkURL(check),
		Extra:        map[string]interface{}{"error": err.Error()},
		Timestamp:    time.Now().UTC(),
	}
}
