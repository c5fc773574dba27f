package arbiter

import (
	"context"
	"errors"
	"time"
)

type lifecycleState int

const (
	stateIdle lifecycleState = iota
	stateRunning
	stateStopped
)

// Start opens every source and launches the polling loop. Calling Start on a
// running arbiter is a no-op; once the loop has ended, by Stop or by ctx,
// Start returns ErrStopped. Sources that fail to open are disabled (or
// retried, per their reopen interval); the loop runs as long as at least one
// source is configured.
func (a *Arbiter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case stateRunning:
		return nil
	case stateStopped:
		return ErrStopped
	}
	if len(a.entries) == 0 {
		return ErrNoSources
	}

	now := a.now()
	for _, e := range a.entries {
		a.openSource(e, now)
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.state = stateRunning

	go a.run(ctx)

	a.logger.Infof("telemetry loop started with %d source(s), polling every %v", len(a.entries), a.cfg.PollInterval)
	return nil
}

// Stop cancels the polling loop and waits up to the configured stop timeout
// for it to exit. Sources are closed whether or not the loop exited in time.
// Stop is safe to call more than once.
func (a *Arbiter) Stop() {
	a.mu.Lock()
	if a.state != stateRunning {
		a.state = stateStopped
		a.mu.Unlock()
		a.closeSources()
		return
	}
	a.state = stateStopped
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	cancel()

	timer := time.NewTimer(a.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		a.logger.Info("telemetry loop stopped")
	case <-timer.C:
		a.logger.Warnf("telemetry loop did not stop within %v, continuing shutdown", a.cfg.StopTimeout)
	}

	a.closeSources()
}

// Done is closed when the polling loop has exited. It is nil before Start.
func (a *Arbiter) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

func (a *Arbiter) run(ctx context.Context) {
	defer close(a.done)
	// A loop ended by its parent context cannot be restarted.
	defer a.markStopped()
	defer a.closeSubscribers()
	defer a.closeSources()

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		a.safeTick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *Arbiter) markStopped() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = stateStopped
}

// safeTick keeps the loop alive through a panicking tick.
func (a *Arbiter) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Errorf("telemetry tick panicked: %v", r)
		}
	}()
	a.tick(ctx)
}

// closeSources releases every source exactly once.
func (a *Arbiter) closeSources() {
	a.closeOnce.Do(func() {
		var errs []error
		for _, e := range a.entries {
			if err := e.Source.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			a.logger.Warnf("error closing telemetry sources: %v", err)
		}
	})
}
