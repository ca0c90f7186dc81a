// Package model owns the synthesis model lifecycle: lazy load, warmup,
// single-flight inference, and idle unload or idle process exit.
package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/vibevoice-community/vibevoice-server/internal/engine"
	"github.com/vibevoice-community/vibevoice-server/internal/observability"
)

// Phase is the lifecycle phase of the singleton model.
type Phase string

const (
	PhaseUnloaded  Phase = "unloaded"
	PhaseLoading   Phase = "loading"
	PhaseReady     Phase = "ready"
	PhaseUnloading Phase = "unloading"
)

// ErrLoadFailed wraps loader errors surfaced to callers. The manager does
// not retry on its own; a persistent failure (missing weights) should fail
// fast on every request instead of hiding behind repeated long waits.
var ErrLoadFailed = errors.New("model load failed")

// Loader produces a ready Synthesizer. Loading is expected to block for
// seconds to tens of seconds.
type Loader interface {
	Load(ctx context.Context) (engine.Synthesizer, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context) (engine.Synthesizer, error)

func (f LoaderFunc) Load(ctx context.Context) (engine.Synthesizer, error) { return f(ctx) }

// Config wires a Manager.
type Config struct {
	Loader Loader
	// Warmup, when set, runs throwaway inference after each load so kernel
	// and cache init cost lands outside the first real request.
	Warmup func(context.Context, engine.Synthesizer) error
	// IdleUnload releases the model after this much time without use.
	// Zero or negative disables unloading.
	IdleUnload time.Duration
	// ExitOnIdle, when positive, requests process exit via ExitHook after
	// this much time without a served request (scale-to-zero deployments).
	ExitOnIdle time.Duration
	ExitHook   func()
	Metrics    *observability.Metrics
}

type inflight struct {
	done  chan struct{}
	synth engine.Synthesizer
	err   error
}

// Manager is the process-wide model state machine. All requests share one
// Manager; tests instantiate their own.
type Manager struct {
	cfg Config

	// inferMu serializes inference with unloading, so the watcher can never
	// rip the model out from under an in-flight call.
	inferMu sync.Mutex

	mu         sync.Mutex
	phase      Phase
	synth      engine.Synthesizer
	loading    *inflight
	lastUsed   time.Time
	used       bool
	warmupDone bool
	exitOnce   sync.Once
}

// State is a read-only snapshot for health reporting and tests.
type State struct {
	Phase      Phase
	LastUsedAt time.Time
	WarmupDone bool
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, phase: PhaseUnloaded}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{Phase: m.phase, LastUsedAt: m.lastUsed, WarmupDone: m.warmupDone}
}

// Acquire returns the ready Synthesizer, loading the model on demand.
// Concurrent callers during a load all wait on the same in-flight load and
// share its outcome; a failed load is reported to every waiter and leaves
// the manager unloaded for the next attempt.
func (m *Manager) Acquire(ctx context.Context) (engine.Synthesizer, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m.mu.Lock()
		switch m.phase {
		case PhaseReady:
			s := m.synth
			m.mu.Unlock()
			return s, nil

		case PhaseLoading:
			fl := m.loading
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-fl.done:
			}
			if fl.err != nil {
				return nil, fmt.Errorf("%w: %v", ErrLoadFailed, fl.err)
			}
			return fl.synth, nil

		case PhaseUnloading:
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(20 * time.Millisecond):
			}

		default: // PhaseUnloaded
			fl := &inflight{done: make(chan struct{})}
			m.loading = fl
			m.phase = PhaseLoading
			m.mu.Unlock()
			return m.runLoad(ctx, fl)
		}
	}
}

func (m *Manager) runLoad(ctx context.Context, fl *inflight) (engine.Synthesizer, error) {
	// Detach from the triggering request so one client disconnect cannot
	// fail the load for every waiter queued behind it.
	loadCtx := context.WithoutCancel(ctx)

	started := time.Now()
	log.Printf("model: loading")
	s, err := m.cfg.Loader.Load(loadCtx)

	warmed := false
	if err == nil && m.cfg.Warmup != nil {
		if werr := m.cfg.Warmup(loadCtx, s); werr != nil {
			// Warmup failure costs first-call latency, nothing else.
			log.Printf("model: warmup failed: %v", werr)
		} else {
			warmed = true
		}
	}

	m.mu.Lock()
	m.loading = nil
	if err != nil {
		m.phase = PhaseUnloaded
		fl.err = err
		m.mu.Unlock()
		close(fl.done)
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.ModelLoads.WithLabelValues("error").Inc()
		}
		log.Printf("model: load failed: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	m.phase = PhaseReady
	m.synth = s
	m.lastUsed = time.Now()
	m.warmupDone = warmed
	fl.synth = s
	m.mu.Unlock()
	close(fl.done)

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ModelLoads.WithLabelValues("success").Inc()
		m.cfg.Metrics.ModelReady.Set(1)
	}
	log.Printf("model: ready in %.1fs (warmup=%v)", time.Since(started).Seconds(), warmed)
	return s, nil
}

// Do runs fn against the ready model while holding the inference lock.
// Exactly one fn executes at a time; concurrent callers queue.
func (m *Manager) Do(ctx context.Context, fn func(engine.Synthesizer) error) error {
	for {
		s, err := m.Acquire(ctx)
		if err != nil {
			return err
		}

		m.inferMu.Lock()
		m.mu.Lock()
		if m.phase == PhaseReady && m.synth == s {
			m.mu.Unlock()
			err := fn(s)
			m.inferMu.Unlock()
			return err
		}
		// Idled out between Acquire and taking the lock; load again.
		m.mu.Unlock()
		m.inferMu.Unlock()
	}
}

// Touch records a served request. The pipeline calls this whenever the
// model actually ran, so failed validation never resets the idle clock.
func (m *Manager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUsed = time.Now()
	m.used = true
}

// Run starts the idle watcher. It polls at interval and, depending on
// configuration, unloads an idle model and/or fires the exit hook once.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(time.Now())
			}
		}
	}()
}

func (m *Manager) sweep(now time.Time) {
	// TryLock: if an inference holds the lock the model is in use, not idle.
	if !m.inferMu.TryLock() {
		return
	}
	defer m.inferMu.Unlock()

	if m.cfg.IdleUnload > 0 {
		m.maybeUnload(now)
	}
	if m.cfg.ExitOnIdle > 0 {
		m.maybeExit(now)
	}
}

func (m *Manager) maybeUnload(now time.Time) {
	m.mu.Lock()
	if m.phase != PhaseReady || now.Sub(m.lastUsed) < m.cfg.IdleUnload {
		m.mu.Unlock()
		return
	}
	s := m.synth
	m.synth = nil
	m.phase = PhaseUnloading
	m.mu.Unlock()

	if c, ok := s.(io.Closer); ok {
		_ = c.Close()
	}

	m.mu.Lock()
	m.phase = PhaseUnloaded
	m.warmupDone = false
	m.mu.Unlock()

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ModelUnloads.Inc()
		m.cfg.Metrics.ModelReady.Set(0)
	}
	log.Printf("model: unloaded after %s idle", m.cfg.IdleUnload)
}

func (m *Manager) maybeExit(now time.Time) {
	m.mu.Lock()
	// Exit only after the service has served at least one request, so a
	// freshly started replica is not killed before its first call.
	idle := m.used && now.Sub(m.lastUsed) >= m.cfg.ExitOnIdle
	m.mu.Unlock()
	if !idle {
		return
	}
	m.exitOnce.Do(func() {
		log.Printf("model: idle past %s, requesting process exit", m.cfg.ExitOnIdle)
		if m.cfg.ExitHook != nil {
			m.cfg.ExitHook()
		}
	})
}

// Close releases the model if loaded. Used on process shutdown.
func (m *Manager) Close() error {
	m.inferMu.Lock()
	defer m.inferMu.Unlock()

	m.mu.Lock()
	s := m.synth
	m.synth = nil
	if m.phase == PhaseReady {
		m.phase = PhaseUnloaded
	}
	m.warmupDone = false
	m.mu.Unlock()

	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
