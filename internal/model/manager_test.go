package model

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vibevoice-community/vibevoice-server/internal/engine"
)

// closableMock wraps the engine mock so unload tests can observe Close.
type closableMock struct {
	engine.Mock
	closed atomic.Int32
}

func (c *closableMock) Close() error {
	c.closed.Add(1)
	return nil
}

func countingLoader(loads *atomic.Int32, delay time.Duration, synth engine.Synthesizer, err error) Loader {
	return LoaderFunc(func(ctx context.Context) (engine.Synthesizer, error) {
		loads.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		return synth, err
	})
}

func TestAcquireLoadsOnce(t *testing.T) {
	var loads atomic.Int32
	mock := &engine.Mock{}
	gate := make(chan struct{})
	m := NewManager(Config{Loader: LoaderFunc(func(context.Context) (engine.Synthesizer, error) {
		loads.Add(1)
		<-gate
		return mock, nil
	})})

	const callers = 8
	results := make([]engine.Synthesizer, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire error = %v", err)
				return
			}
			results[i] = s
		}(i)
	}
	time.Sleep(50 * time.Millisecond) // let every caller reach Acquire
	close(gate)
	wg.Wait()

	if got := loads.Load(); got != 1 {
		t.Fatalf("loader ran %d times, want 1", got)
	}
	for i, s := range results {
		if s != engine.Synthesizer(mock) {
			t.Fatalf("caller %d got a different synthesizer", i)
		}
	}
	if got := m.State().Phase; got != PhaseReady {
		t.Fatalf("Phase = %q, want ready", got)
	}
}

func TestAcquireSharesLoadFailure(t *testing.T) {
	var loads atomic.Int32
	loadErr := errors.New("weights missing")
	gate := make(chan struct{})
	m := NewManager(Config{Loader: LoaderFunc(func(context.Context) (engine.Synthesizer, error) {
		loads.Add(1)
		if loads.Load() == 1 {
			<-gate
		}
		return nil, loadErr
	})})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Acquire(context.Background()); !errors.Is(err, ErrLoadFailed) {
				t.Errorf("Acquire error = %v, want ErrLoadFailed", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond) // let every caller reach Acquire
	close(gate)
	wg.Wait()

	if got := loads.Load(); got != 1 {
		t.Fatalf("loader ran %d times during one burst, want 1", got)
	}
	if got := m.State().Phase; got != PhaseUnloaded {
		t.Fatalf("Phase after failure = %q, want unloaded", got)
	}

	// The next call gets a fresh attempt rather than a cached error.
	if _, err := m.Acquire(context.Background()); !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("retry Acquire error = %v, want ErrLoadFailed", err)
	}
	if got := loads.Load(); got != 2 {
		t.Fatalf("loader ran %d times after retry, want 2", got)
	}
}

func TestAcquireRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewManager(Config{Loader: countingLoader(new(atomic.Int32), 0, &engine.Mock{}, nil)})
	if _, err := m.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire error = %v, want context.Canceled", err)
	}
}

func TestWarmupRunsAfterLoad(t *testing.T) {
	var warmed atomic.Int32
	m := NewManager(Config{
		Loader: countingLoader(new(atomic.Int32), 0, &engine.Mock{}, nil),
		Warmup: func(context.Context, engine.Synthesizer) error {
			warmed.Add(1)
			return nil
		},
	})
	if _, err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire error = %v", err)
	}
	if got := warmed.Load(); got != 1 {
		t.Fatalf("warmup ran %d times, want 1", got)
	}
	if !m.State().WarmupDone {
		t.Fatalf("WarmupDone = false after successful warmup")
	}
}

func TestWarmupFailureIsNonFatal(t *testing.T) {
	m := NewManager(Config{
		Loader: countingLoader(new(atomic.Int32), 0, &engine.Mock{}, nil),
		Warmup: func(context.Context, engine.Synthesizer) error {
			return errors.New("warmup exploded")
		},
	})
	if _, err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire error = %v, warmup failure must not fail the load", err)
	}
	state := m.State()
	if state.Phase != PhaseReady {
		t.Fatalf("Phase = %q, want ready", state.Phase)
	}
	if state.WarmupDone {
		t.Fatalf("WarmupDone = true after failed warmup")
	}
}

func TestIdleUnloadClosesModel(t *testing.T) {
	var loads atomic.Int32
	mock := &closableMock{}
	m := NewManager(Config{
		Loader:     countingLoader(&loads, 0, mock, nil),
		IdleUnload: time.Minute,
	})

	if _, err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire error = %v", err)
	}

	// Not yet idle for long enough.
	m.sweep(time.Now())
	if got := m.State().Phase; got != PhaseReady {
		t.Fatalf("Phase after early sweep = %q, want ready", got)
	}

	m.sweep(time.Now().Add(2 * time.Minute))
	if got := m.State().Phase; got != PhaseUnloaded {
		t.Fatalf("Phase after idle sweep = %q, want unloaded", got)
	}
	if got := mock.closed.Load(); got != 1 {
		t.Fatalf("model closed %d times, want 1", got)
	}

	// A later request loads again.
	if _, err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after unload error = %v", err)
	}
	if got := loads.Load(); got != 2 {
		t.Fatalf("loader ran %d times, want 2", got)
	}
}

func TestSweepSkipsWhileInferenceHoldsLock(t *testing.T) {
	release := make(chan struct{})
	mock := &closableMock{}
	mock.Delay = release
	m := NewManager(Config{
		Loader:     countingLoader(new(atomic.Int32), 0, mock, nil),
		IdleUnload: time.Minute,
	})

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.Do(context.Background(), func(s engine.Synthesizer) error {
			close(started)
			_, _, err := s.Synthesize(context.Background(), "Speaker 0: hold", "", 1)
			return err
		})
	}()

	<-started
	m.sweep(time.Now().Add(time.Hour))
	if got := m.State().Phase; got != PhaseReady {
		t.Fatalf("sweep unloaded a model mid-inference, phase = %q", got)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Do error = %v", err)
	}
}

func TestExitHookFiresOnceAfterUse(t *testing.T) {
	var exits atomic.Int32
	m := NewManager(Config{
		Loader:     countingLoader(new(atomic.Int32), 0, &engine.Mock{}, nil),
		ExitOnIdle: time.Minute,
		ExitHook:   func() { exits.Add(1) },
	})

	// Never served a request: no exit however long we idle.
	m.sweep(time.Now().Add(24 * time.Hour))
	if got := exits.Load(); got != 0 {
		t.Fatalf("exit hook fired %d times before first use, want 0", got)
	}

	m.Touch()
	m.sweep(time.Now().Add(2 * time.Minute))
	m.sweep(time.Now().Add(3 * time.Minute))
	if got := exits.Load(); got != 1 {
		t.Fatalf("exit hook fired %d times, want exactly 1", got)
	}
}

func TestDoSerializesInference(t *testing.T) {
	m := NewManager(Config{Loader: countingLoader(new(atomic.Int32), 0, &engine.Mock{}, nil)})

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Do(context.Background(), func(engine.Synthesizer) error {
				n := active.Add(1)
				for {
					cur := maxActive.Load()
					if n <= cur || maxActive.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				active.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("Do error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := maxActive.Load(); got != 1 {
		t.Fatalf("max concurrent inferences = %d, want 1", got)
	}
}

func TestCloseReleasesModel(t *testing.T) {
	mock := &closableMock{}
	m := NewManager(Config{Loader: countingLoader(new(atomic.Int32), 0, mock, nil)})

	if _, err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if got := mock.closed.Load(); got != 1 {
		t.Fatalf("model closed %d times, want 1", got)
	}
	if got := m.State().Phase; got != PhaseUnloaded {
		t.Fatalf("Phase after Close = %q, want unloaded", got)
	}
}
