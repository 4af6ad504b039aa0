// Package promquery implements the PromQL-family MetricsBackend and
// verifier.Backend against a real Prometheus-compatible server, backing the
// fixed query set (restart_count_delta, http_5xx_rate, p99_latency, and
// friends) with actual instant queries instead of a stub.
package promquery

import (
	"context"
	"fmt"
	"time"

	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/aiopscore/remediator/internal/domain"
	"github.com/aiopscore/remediator/internal/verifier"
)

// Backend evaluates instant PromQL queries against a Prometheus-compatible
// HTTP API and answers both collectors.MetricsBackend and verifier.Backend.
type Backend struct {
	api     promv1.API
	timeout time.Duration
}

// New builds a Backend pointed at addr (e.g. "http://prometheus:9090").
func New(addr string, timeout time.Duration) (*Backend, error) {
	client, err := promapi.NewClient(promapi.Config{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("promquery: build client: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Backend{api: promv1.NewAPI(client), timeout: timeout}, nil
}

// Instant evaluates query at the current time and returns its scalar value,
// satisfying collectors.MetricsBackend.
func (b *Backend) Instant(ctx context.Context, query string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	result, warnings, err := b.api.Query(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("promquery: query %q: %w", query, err)
	}
	for _, w := range warnings {
		_ = w // discarded; warnings are not fatal
	}

	vector, ok := result.(model.Vector)
	if !ok || len(vector) == 0 {
		return 0, fmt.Errorf("promquery: query %q returned no samples", query)
	}
	return float64(vector[0].Value), nil
}

// Snapshot evaluates the verification query set for action's target,
// satisfying verifier.Backend.
func (b *Backend) Snapshot(ctx context.Context, action domain.RemediationAction) (verifier.MetricsSnapshot, error) {
	labels := fmt.Sprintf(`{namespace=%q,service=%q}`, action.TargetNamespace, action.TargetResource)

	errorRate, err := b.Instant(ctx, "http_5xx_rate"+labels)
	if err != nil {
		return verifier.MetricsSnapshot{}, err
	}
	restartDelta, err := b.Instant(ctx, "restart_count_delta"+labels)
	if err != nil {
		return verifier.MetricsSnapshot{}, err
	}
	readyRatio, err := b.Instant(ctx, "pods_ready_ratio"+labels)
	if err != nil {
		return verifier.MetricsSnapshot{}, err
	}
	p99, err := b.Instant(ctx, "p99_latency"+labels)
	if err != nil {
		return verifier.MetricsSnapshot{}, err
	}

	return verifier.MetricsSnapshot{
		ErrorRate:         errorRate,
		RestartCountDelta: int(restartDelta),
		PodsReadyRatio:    readyRatio,
		Latency:           time.Duration(p99 * float64(time.Second)),
	}, nil
}
