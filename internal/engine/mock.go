package engine

import (
	"context"
	"math"
	"sync"
)

// Mock is a deterministic Synthesizer used in tests and in
// VIBEVOICE_ENGINE=mock deployments (CI, smoke tests). It emits a short
// sine burst whose length scales with the script length.
type Mock struct {
	// Err, when set, is returned from every Synthesize call.
	Err error
	// Delay lets tests hold the inference lock; nil means return immediately.
	Delay <-chan struct{}

	mu    sync.Mutex
	calls int
}

func (m *Mock) Synthesize(ctx context.Context, script, _ string, _ float64) ([]float32, int, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Delay != nil {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-m.Delay:
		}
	}
	if m.Err != nil {
		return nil, 0, m.Err
	}

	const sampleRate = 24000
	n := 240 * (len(script)/16 + 1)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.2 * math.Sin(2*math.Pi*440*float64(i)/sampleRate))
	}
	return samples, sampleRate, nil
}

// Calls reports how many synthesis calls the mock has served.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
