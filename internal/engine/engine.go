// Package engine abstracts the synthesis model behind a single capability
// so the pipeline and tests never touch inference internals.
package engine

import "context"

// Synthesizer turns a normalized speaker script plus a voice-clone reference
// into raw audio samples. Implementations are not required to be reentrant;
// callers serialize access.
type Synthesizer interface {
	Synthesize(ctx context.Context, script, voiceSamplePath string, cfgScale float64) (samples []float32, sampleRate int, err error)
}
