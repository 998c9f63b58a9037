package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/logging"
	"github.com/entrhq/capture/pkg/metrics"
	"github.com/entrhq/capture/pkg/types"
)

// recoveryTarget is the part of the controller a recovery drives.
type recoveryTarget interface {
	recoveryURL() string
	teardownForRecovery()
	recreate(ctx context.Context) error
	renavigate(ctx context.Context, url string) error
	emit(ev *types.SessionEvent)
}

// CrashRecoveryManager rebuilds the session after a renderer crash and
// reports responsiveness changes. At most one recovery runs at a time; crash
// signals arriving during one are dropped.
type CrashRecoveryManager struct {
	target  recoveryTarget
	backoff time.Duration
	log     *logging.Logger
	metrics *metrics.Collector

	inProgress   atomic.Bool
	unresponsive atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newCrashRecoveryManager(target recoveryTarget, backoff time.Duration, log *logging.Logger, m *metrics.Collector) *CrashRecoveryManager {
	return &CrashRecoveryManager{target: target, backoff: backoff, log: log, metrics: m}
}

// InProgress reports whether a recovery cycle is running.
func (r *CrashRecoveryManager) InProgress() bool { return r.inProgress.Load() }

// Unresponsive reports whether the renderer is currently considered hung.
func (r *CrashRecoveryManager) Unresponsive() bool { return r.unresponsive.Load() }

// HandleCrash starts a recovery for the session. It returns false when the
// signal was dropped because a recovery is already running.
func (r *CrashRecoveryManager) HandleCrash(sessionID, reason string) bool {
	if !r.inProgress.CompareAndSwap(false, true) {
		r.log.Warnf("crash signal for %s ignored: recovery in progress", sessionID)
		r.metrics.CrashSuppressed()
		return false
	}

	r.metrics.Crash()
	r.unresponsive.Store(false)
	r.log.Errorf("renderer crashed (session %s): %s", sessionID, reason)
	r.target.emit(types.NewCrashedEvent(sessionID))

	url := r.target.recoveryURL()

	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx, cancel, url)
	return true
}

func (r *CrashRecoveryManager) run(ctx context.Context, cancel context.CancelFunc, url string) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancel()
		r.inProgress.Store(false)
	}()

	r.target.teardownForRecovery()

	timer := time.NewTimer(r.backoff)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		r.log.Infof("recovery aborted during backoff")
		r.metrics.Recovery(metrics.ResultAborted)
		return
	}

	if err := r.target.recreate(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
			r.log.Infof("recovery aborted: %v", err)
			r.metrics.Recovery(metrics.ResultAborted)
			return
		}
		r.log.Errorf("recovery failed to recreate session: %v", err)
		r.metrics.Recovery(metrics.ResultFailure)
		return
	}

	if url == "" {
		r.log.Infof("recovered session; no page to restore")
		r.metrics.Recovery(metrics.ResultSuccess)
		return
	}
	if err := r.target.renavigate(ctx, url); err != nil {
		r.log.Errorf("recovery failed to restore %s: %v", url, err)
		r.metrics.Recovery(metrics.ResultFailure)
		return
	}
	r.log.Infof("recovered session; restoring %s", url)
	r.metrics.Recovery(metrics.ResultSuccess)
}

// Abort cancels a running recovery before it recreates the session.
func (r *CrashRecoveryManager) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// Wait blocks until a running recovery has finished.
func (r *CrashRecoveryManager) Wait() { r.wg.Wait() }

// SetResponsive records the renderer's responsiveness and emits an event on
// each change.
func (r *CrashRecoveryManager) SetResponsive(sessionID string, responsive bool) {
	if responsive {
		if r.unresponsive.CompareAndSwap(true, false) {
			r.log.Infof("renderer responsive again (session %s)", sessionID)
			r.target.emit(types.NewResponsiveEvent(sessionID))
		}
		return
	}
	if r.unresponsive.CompareAndSwap(false, true) {
		r.log.Warnf("renderer unresponsive (session %s)", sessionID)
		r.metrics.BecameUnresponsive()
		r.target.emit(types.NewUnresponsiveEvent(sessionID))
	}
}

func (r *CrashRecoveryManager) resetResponsiveness() {
	r.unresponsive.Store(false)
}

// Pinger round-trips through a renderer.
type Pinger interface {
	Ping(ctx context.Context) error
}

// watch probes p every interval until ctx ends. A probe outliving timeout
// reports the renderer hung; the next successful probe reports it back.
func (r *CrashRecoveryManager) watch(ctx context.Context, p Pinger, interval, timeout time.Duration, report func(responsive bool)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pctx, cancel := context.WithTimeout(ctx, timeout)
		err := p.Ping(pctx)
		cancel()
		if ctx.Err() != nil {
			return
		}

		switch {
		case err == nil:
			report(true)
		case errors.Is(err, context.DeadlineExceeded):
			report(false)
		case errors.Is(err, engine.ErrInstanceClosed):
			return
		default:
			r.log.Debugf("responsiveness probe failed: %v", err)
		}
	}
}
