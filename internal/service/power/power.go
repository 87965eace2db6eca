// Package power keeps the device awake while the daemon listens to the
// accelerometer. Without a wake lock the platform suspends the sensor stream
// shortly after the screen turns off.
package power

import (
	"context"
	"fmt"
	"sync"

	"github.com/oshokin/shake-guard/internal/logger"
)

const (
	// ToolAcquire takes the platform wake lock.
	ToolAcquire = "termux-wake-lock"
	// ToolRelease drops the platform wake lock.
	ToolRelease = "termux-wake-unlock"
)

// Runner executes a platform tool to completion.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// WakeLock holds the platform wake lock at most once.
type WakeLock struct {
	// runner invokes the lock tools.
	runner Runner
	// mu guards held.
	mu sync.Mutex
	// held reports whether Acquire succeeded without a later Release.
	held bool
}

// NewWakeLock returns a released wake lock.
func NewWakeLock(runner Runner) *WakeLock {
	return &WakeLock{runner: runner}
}

// Acquire takes the lock. Calling it while held is a no-op.
func (w *WakeLock) Acquire(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.held {
		return nil
	}

	if _, err := w.runner.Output(ctx, ToolAcquire); err != nil {
		return fmt.Errorf("acquire wake lock: %w", err)
	}

	w.held = true

	logger.Debugf(ctx, "Wake lock acquired")

	return nil
}

// Release drops the lock if held.
func (w *WakeLock) Release(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.held {
		return nil
	}

	if _, err := w.runner.Output(ctx, ToolRelease); err != nil {
		return fmt.Errorf("release wake lock: %w", err)
	}

	w.held = false

	logger.Debugf(ctx, "Wake lock released")

	return nil
}

// Held reports whether the lock is currently taken.
func (w *WakeLock) Held() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.held
}
