package location

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/shake-guard/internal/config"
	"github.com/oshokin/shake-guard/internal/domain/shake"
	"github.com/oshokin/shake-guard/internal/service/permission"
)

var errNoProvider = errors.New("no location provider")

// fakeProvider returns canned fixes and counts calls per strategy.
type fakeProvider struct {
	// current is returned by CurrentFix.
	current shake.Fix
	// last is returned by LastKnownFix.
	last shake.Fix
	// err is returned by both methods when set.
	err error
	// block makes CurrentFix wait for ctx cancellation.
	block bool
	// onLookup runs inside every lookup.
	onLookup func()

	currentCalls int
	lastCalls    int
}

// CurrentFix implements Provider.
func (f *fakeProvider) CurrentFix(ctx context.Context) (shake.Fix, error) {
	f.currentCalls++

	if f.onLookup != nil {
		f.onLookup()
	}

	if f.block {
		<-ctx.Done()

		return shake.NoFix, ctx.Err()
	}

	return f.current, f.err
}

// LastKnownFix implements Provider.
func (f *fakeProvider) LastKnownFix(context.Context) (shake.Fix, error) {
	f.lastCalls++

	if f.onLookup != nil {
		f.onLookup()
	}

	return f.last, f.err
}

// grantAll returns a gate granting the location capability.
func grantAll() *permission.Static {
	return permission.NewStatic(map[shake.Capability]bool{shake.CapabilityLocation: true})
}

// TestResolve_Strategies picks the provider method matching the strategy.
func TestResolve_Strategies(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		current: shake.NewFix(23.81, 90.41),
		last:    shake.NewFix(1, 2),
	}
	r := NewResolver(provider, grantAll(), 0)

	fix := r.Resolve(context.Background(), config.StrategyFresh)
	require.Equal(t, shake.NewFix(23.81, 90.41), fix)

	fix = r.Resolve(context.Background(), config.StrategyLastKnown)
	require.Equal(t, shake.NewFix(1, 2), fix)

	require.Equal(t, 1, provider.currentCalls)
	require.Equal(t, 1, provider.lastCalls)

	// Unknown strategies yield an absent fix.
	require.False(t, r.Resolve(context.Background(), "psychic").Present)
}

// TestResolve_LastKnownEmpty treats a missing cache entry as a valid absent outcome.
func TestResolve_LastKnownEmpty(t *testing.T) {
	t.Parallel()

	r := NewResolver(&fakeProvider{}, grantAll(), 0)
	require.False(t, r.Resolve(context.Background(), config.StrategyLastKnown).Present)
}

// TestResolve_FailuresCollapseToAbsent covers provider errors, denied and revoked permissions.
func TestResolve_FailuresCollapseToAbsent(t *testing.T) {
	t.Parallel()

	// Provider failure.
	r := NewResolver(&fakeProvider{err: errNoProvider}, grantAll(), 0)
	require.False(t, r.Resolve(context.Background(), config.StrategyFresh).Present)

	// Permission denied: the provider is never asked.
	provider := &fakeProvider{current: shake.NewFix(1, 1)}
	r = NewResolver(provider, permission.NewStatic(nil), 0)
	require.False(t, r.Resolve(context.Background(), config.StrategyFresh).Present)
	require.Zero(t, provider.currentCalls)

	// Permission revoked mid-flight.
	gate := grantAll()
	provider = &fakeProvider{
		current:  shake.NewFix(1, 1),
		onLookup: func() { gate.Set(shake.CapabilityLocation, false) },
	}
	r = NewResolver(provider, gate, 0)
	require.False(t, r.Resolve(context.Background(), config.StrategyFresh).Present)
}

// TestResolve_Timeout bounds a hanging lookup.
func TestResolve_Timeout(t *testing.T) {
	t.Parallel()

	r := NewResolver(&fakeProvider{block: true}, grantAll(), 20*time.Millisecond)

	started := time.Now()
	fix := r.Resolve(context.Background(), config.StrategyFresh)

	require.False(t, fix.Present)
	require.Less(t, time.Since(started), 2*time.Second)
}

// TestResolve_Canceled returns absent when the caller cancels.
func TestResolve_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewResolver(&fakeProvider{block: true}, grantAll(), 0)
	require.False(t, r.Resolve(ctx, config.StrategyFresh).Present)
}
