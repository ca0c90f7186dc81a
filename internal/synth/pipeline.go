// Package synth orchestrates one synthesis request end to end:
// normalize -> resolve voice -> acquire model -> infer -> encode.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/vibevoice-community/vibevoice-server/internal/audio"
	"github.com/vibevoice-community/vibevoice-server/internal/engine"
	"github.com/vibevoice-community/vibevoice-server/internal/model"
	"github.com/vibevoice-community/vibevoice-server/internal/observability"
	"github.com/vibevoice-community/vibevoice-server/internal/script"
	"github.com/vibevoice-community/vibevoice-server/internal/voicestore"
)

const (
	FormatWAV = "wav"
	FormatMP3 = "mp3"

	// DefaultCfgScale matches the model's recommended generation strength.
	DefaultCfgScale = 3.0
)

var (
	ErrUnsupportedFormat = errors.New("unsupported response format (expected wav or mp3)")
	ErrEncodingFailed    = errors.New("audio encoding failed")
)

// Request is one synthesis call.
type Request struct {
	VoiceID  string
	Input    string
	Format   string
	CfgScale float64
}

// Pipeline wires the registry, normalizer, and lifecycle manager together.
type Pipeline struct {
	voices     *voicestore.Store
	manager    *model.Manager
	metrics    *observability.Metrics
	modelID    string
	scriptOpts script.Options
}

func New(voices *voicestore.Store, manager *model.Manager, metrics *observability.Metrics, modelID string, scriptOpts script.Options) *Pipeline {
	return &Pipeline{
		voices:     voices,
		manager:    manager,
		metrics:    metrics,
		modelID:    modelID,
		scriptOpts: scriptOpts,
	}
}

// Synthesize returns encoded audio bytes and their MIME content type.
//
// The idle clock is touched whenever the model actually ran, including the
// case where inference succeeded and only encoding failed afterward: the
// expensive work happened, so the process earned its keep-warm credit.
func (p *Pipeline) Synthesize(ctx context.Context, req Request) ([]byte, string, error) {
	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format == "" {
		format = FormatWAV
	}
	if format != FormatWAV && format != FormatMP3 {
		p.countOutcome("client_error")
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}

	voice, err := p.voices.Get(strings.TrimSpace(req.VoiceID))
	if err != nil {
		p.countOutcome("client_error")
		return nil, "", err
	}

	normalized, err := script.Normalize(req.Input, p.scriptOpts)
	if err != nil {
		p.countOutcome("client_error")
		return nil, "", err
	}

	cfgScale := req.CfgScale
	if cfgScale <= 0 {
		cfgScale = DefaultCfgScale
	}

	startedAt := time.Now()
	log.Printf("tts start model=%s voice=%s format=%s chars=%d",
		p.modelID, voice.ID, format, len(req.Input))

	var (
		samples    []float32
		sampleRate int
		inferMS    int64
	)
	err = p.manager.Do(ctx, func(s engine.Synthesizer) error {
		inferStarted := time.Now()
		var ierr error
		samples, sampleRate, ierr = s.Synthesize(ctx, normalized, voice.SamplePath, cfgScale)
		inferMS = time.Since(inferStarted).Milliseconds()
		if p.metrics != nil {
			p.metrics.ObserveInferenceLatency(time.Since(inferStarted))
		}
		return ierr
	})
	if err != nil {
		p.countOutcome("server_error")
		return nil, "", err
	}
	// The model did real work from here on; credit the idle clock even if
	// encoding fails below.
	p.manager.Touch()

	encodeStarted := time.Now()
	wav, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		p.countOutcome("server_error")
		return nil, "", fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}

	out := wav
	contentType := "audio/wav"
	if format == FormatMP3 {
		mp3, err := audio.EncodeMP3(ctx, wav, "")
		if err != nil {
			p.countOutcome("server_error")
			return nil, "", fmt.Errorf("%w: %v", ErrEncodingFailed, err)
		}
		out = mp3
		contentType = "audio/mpeg"
	}

	p.countOutcome("ok")
	if p.metrics != nil {
		p.metrics.ObserveSynthesisLatency(time.Since(startedAt))
	}
	log.Printf("tts done model=%s voice=%s sr=%d bytes=%d total=%dms (infer=%dms encode=%dms)",
		p.modelID, voice.ID, sampleRate, len(out),
		time.Since(startedAt).Milliseconds(), inferMS, time.Since(encodeStarted).Milliseconds())

	return out, contentType, nil
}

func (p *Pipeline) countOutcome(outcome string) {
	if p.metrics != nil {
		p.metrics.SynthesisRequests.WithLabelValues(outcome).Inc()
	}
}
