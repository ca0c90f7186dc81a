package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// WorkerConfig describes how to launch the inference worker process.
type WorkerConfig struct {
	PythonPath string
	ScriptPath string
	ModelDir   string
	ModelID    string
}

// Worker runs the synthesis model in a long-lived python subprocess and
// speaks line-delimited JSON over stdin/stdout. Requests are single-flight:
// the process answers strictly in order, so a mutex keeps the protocol in
// sync.
type Worker struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	dec    *json.Decoder
	closed bool
}

type workerRequest struct {
	ID          string  `json:"id"`
	Script      string  `json:"script"`
	VoiceSample string  `json:"voice_sample"`
	CfgScale    float64 `json:"cfg_scale"`
}

type workerResponse struct {
	ID          string `json:"id"`
	OK          bool   `json:"ok"`
	SampleRate  int    `json:"sample_rate"`
	PCM16Base64 string `json:"pcm16_base64"`
	Error       string `json:"error"`
}

// StartWorker launches the worker process and waits for it to report ready.
// Launch cost covers model weight loading, so this can take tens of seconds.
func StartWorker(ctx context.Context, cfg WorkerConfig) (*Worker, error) {
	python := strings.TrimSpace(cfg.PythonPath)
	if python == "" {
		for _, candidate := range []string{".venv/bin/python3", ".venv/bin/python", "python3"} {
			if p, err := exec.LookPath(candidate); err == nil && strings.TrimSpace(p) != "" {
				python = p
				break
			}
		}
	}
	if python == "" {
		return nil, fmt.Errorf("VIBEVOICE_WORKER_PYTHON not set and python3 not found on PATH")
	}

	script := strings.TrimSpace(cfg.ScriptPath)
	if script == "" {
		script = "scripts/vibevoice_worker.py"
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("worker script not found: %s", script)
	}

	cmd := exec.Command(python, "-u", script)
	cmd.Env = append(os.Environ(),
		"VIBEVOICE_MODELS_DIR="+cfg.ModelDir,
		"VIBEVOICE_MODEL_ID="+cfg.ModelID,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	w := &Worker{cmd: cmd, stdin: stdin, dec: json.NewDecoder(stdout)}

	// The worker emits one ready line after weights are on the device.
	// Surfacing load errors here keeps them out of the first real request.
	ready := make(chan error, 1)
	go func() {
		var resp workerResponse
		if err := w.dec.Decode(&resp); err != nil {
			ready <- err
			return
		}
		if !resp.OK {
			msg := strings.TrimSpace(resp.Error)
			if msg == "" {
				msg = "worker reported failure"
			}
			ready <- fmt.Errorf("%s", msg)
			return
		}
		ready <- nil
	}()

	select {
	case <-ctx.Done():
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		return nil, ctx.Err()
	case err := <-ready:
		if err != nil {
			_ = stdin.Close()
			_ = cmd.Process.Kill()
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = err.Error()
			}
			return nil, fmt.Errorf("inference worker failed to start: %s", msg)
		}
	}

	return w, nil
}

// Synthesize sends one request and decodes exactly one response.
func (w *Worker) Synthesize(ctx context.Context, script, voiceSamplePath string, cfgScale float64) ([]float32, int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, 0, fmt.Errorf("inference worker closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if cfgScale <= 0 {
		cfgScale = 3.0
	}

	id := fmt.Sprintf("req-%d", time.Now().UnixNano())
	line, _ := json.Marshal(workerRequest{
		ID:          id,
		Script:      script,
		VoiceSample: voiceSamplePath,
		CfgScale:    cfgScale,
	})
	line = append(line, '\n')
	if _, err := w.stdin.Write(line); err != nil {
		return nil, 0, err
	}

	var resp workerResponse
	if err := w.dec.Decode(&resp); err != nil {
		return nil, 0, err
	}
	if resp.ID != id {
		return nil, 0, fmt.Errorf("inference worker out-of-sync (got %q, expected %q)", resp.ID, id)
	}
	if !resp.OK {
		msg := strings.TrimSpace(resp.Error)
		if msg == "" {
			msg = "unknown inference error"
		}
		return nil, 0, fmt.Errorf("%s", msg)
	}

	sampleRate := resp.SampleRate
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	if strings.TrimSpace(resp.PCM16Base64) == "" {
		return nil, 0, fmt.Errorf("inference produced no audio")
	}

	pcm, err := base64.StdEncoding.DecodeString(resp.PCM16Base64)
	if err != nil {
		return nil, 0, fmt.Errorf("decode pcm16_base64: %w", err)
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(v) / 32768
	}
	return samples, sampleRate, nil
}

// Close shuts the worker down, escalating from interrupt to kill.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	stdin := w.stdin
	cmd := w.cmd
	w.stdin = nil
	w.cmd = nil
	w.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = cmd.Process.Signal(os.Interrupt)
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-time.After(1200 * time.Millisecond):
		_ = cmd.Process.Kill()
		<-done
	case <-done:
	}
	return nil
}
