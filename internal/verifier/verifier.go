// Package verifier implements the C6 post-action verification step: after
// a verification delay it re-queries metrics and decides whether the
// action actually improved the incident.
package verifier

import (
	"context"
	"time"

	"github.com/aiopscore/remediator/internal/domain"
)

// MetricsSnapshot is the post-action signal set the verifier compares
// against the pre-action baseline captured just before the action executes.
type MetricsSnapshot struct {
	ErrorRate         float64
	RestartCountDelta int
	PodsReadyRatio    float64
	Latency           time.Duration
}

// Backend fetches a fresh MetricsSnapshot for the action's target.
type Backend interface {
	Snapshot(ctx context.Context, action domain.RemediationAction) (MetricsSnapshot, error)
}

// Clock abstracts time.Sleep so tests can skip the verification delay.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RealClock is the production Clock.
func RealClock() Clock { return realClock{} }

// Verifier decides whether an executed action resolved the incident.
type Verifier struct {
	backend                   Backend
	clock                     Clock
	verificationDelay         time.Duration
	errorImprovementRatio     float64 // success if error_rate_after < error_rate_before * ratio
	errorRateFloor            float64 // OR success if error_rate_after < floor
}

// New constructs a Verifier from the configured thresholds.
func New(backend Backend, clock Clock, verificationDelay time.Duration, errorImprovementRatio, errorRateFloor float64) *Verifier {
	if clock == nil {
		clock = RealClock()
	}
	return &Verifier{
		backend:               backend,
		clock:                 clock,
		verificationDelay:     verificationDelay,
		errorImprovementRatio: errorImprovementRatio,
		errorRateFloor:        errorRateFloor,
	}
}

// Baseline queries the backend for action's current metrics, for the
// workflow to capture as the pre-action snapshot before executing.
func (v *Verifier) Baseline(ctx context.Context, action domain.RemediationAction) (MetricsSnapshot, error) {
	return v.backend.Snapshot(ctx, action)
}

// Verify waits the configured delay, re-queries metrics, and applies the
// success formula:
//
//	success = (error_rate_after < error_rate_before*ratio OR error_rate_after < floor)
//	          AND restart_count_delta_post == 0
//	          AND pods_ready_ratio >= 0.9
func (v *Verifier) Verify(ctx context.Context, action domain.RemediationAction, errorRateBefore float64, latencyBefore time.Duration) (domain.VerificationResult, error) {
	if err := v.clock.Sleep(ctx, v.verificationDelay); err != nil {
		return domain.VerificationResult{}, err
	}

	snap, err := v.backend.Snapshot(ctx, action)
	if err != nil {
		return domain.VerificationResult{}, err
	}

	errorImproved := snap.ErrorRate < errorRateBefore*v.errorImprovementRatio || snap.ErrorRate < v.errorRateFloor
	success := errorImproved && snap.RestartCountDelta == 0 && snap.PodsReadyRatio >= 0.9

	return domain.VerificationResult{
		ActionID:            action.ID,
		Success:             success,
		MetricsImproved:     errorImproved,
		ErrorRateBefore:     errorRateBefore,
		ErrorRateAfter:      snap.ErrorRate,
		LatencyBefore:       latencyBefore,
		LatencyAfter:        snap.Latency,
		RestartDeltaAfter:   snap.RestartCountDelta,
		PodsReadyRatio:      snap.PodsReadyRatio,
		VerificationDetails: verificationDetails(success, errorImproved, snap),
	}, nil
}

func verificationDetails(success, errorImproved bool, snap MetricsSnapshot) string {
	if success {
		return "error rate improved, no new restarts, pods ready"
	}
	if !errorImproved {
		return "error rate did not improve sufficiently"
	}
	if snap.RestartCountDelta != 0 {
		return "restarts observed after action"
	}
	return "pods not sufficiently ready"
}
