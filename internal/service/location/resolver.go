// Package location resolves the device position for an alert on a best-effort
// basis. Every failure collapses to an absent fix; callers never see an error.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/shake-guard/internal/config"
	"github.com/oshokin/shake-guard/internal/domain/shake"
	"github.com/oshokin/shake-guard/internal/logger"
	"github.com/oshokin/shake-guard/internal/service/permission"
)

// Provider is the platform location service.
type Provider interface {
	// CurrentFix requests a fresh high-accuracy fix.
	CurrentFix(ctx context.Context) (shake.Fix, error)
	// LastKnownFix returns the cached fix immediately, absent if there is none.
	LastKnownFix(ctx context.Context) (shake.Fix, error)
}

// ErrUnknownStrategy is logged when the configured strategy has no provider method.
var ErrUnknownStrategy = errors.New("unknown location strategy")

// Resolver fetches one fix per request and never caches it.
type Resolver struct {
	// provider is the platform location service.
	provider Provider
	// gate is consulted before every lookup.
	gate permission.Gate
	// timeout bounds a lookup; zero means no hard timeout.
	timeout time.Duration
}

// NewResolver creates a resolver. A zero timeout leaves lookups bounded only by ctx.
func NewResolver(provider Provider, gate permission.Gate, timeout time.Duration) *Resolver {
	return &Resolver{
		provider: provider,
		gate:     gate,
		timeout:  timeout,
	}
}

// Resolve returns a fix using the given strategy, or an absent fix on any failure.
func (r *Resolver) Resolve(ctx context.Context, strategy config.LocationStrategy) shake.Fix {
	if !r.gate.IsGranted(shake.CapabilityLocation) {
		logger.Warn(ctx, "Location permission not granted")

		return shake.NoFix
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	started := time.Now()

	fix, err := r.lookup(ctx, strategy)
	if err != nil {
		logger.WarnKV(ctx, "Failed to get location", "strategy", strategy, "error", err)

		return shake.NoFix
	}

	// The permission may have been revoked while the lookup was in flight.
	if !r.gate.IsGranted(shake.CapabilityLocation) {
		logger.Warn(ctx, "Location permission revoked during lookup")

		return shake.NoFix
	}

	logger.DebugKV(ctx, "Location resolved",
		"strategy", strategy,
		"present", fix.Present,
		"elapsed", time.Since(started).String())

	return fix
}

// lookup dispatches to the provider method for the strategy.
func (r *Resolver) lookup(ctx context.Context, strategy config.LocationStrategy) (shake.Fix, error) {
	switch strategy {
	case config.StrategyLastKnown:
		return r.provider.LastKnownFix(ctx)
	case config.StrategyFresh:
		return r.provider.CurrentFix(ctx)
	default:
		return shake.NoFix, fmt.Errorf("strategy %q: %w", strategy, ErrUnknownStrategy)
	}
}
