package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the TTS service. Every knob is
// read once at startup; nothing here is runtime-mutable.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	// APIKey gates every /v1/* endpoint when set. Empty means no auth,
	// which is the documented default for localhost deployments.
	APIKey string

	ModelID string

	DataDir          string
	VoicesDir        string
	BuiltinVoicesDir string
	ModelsDir        string

	Engine       string
	WorkerPython string
	WorkerScript string

	PreloadModel    bool
	WarmupOnPreload bool

	IdleUnload time.Duration
	ExitOnIdle time.Duration

	CNPunctNormalize   bool
	ScriptLineMaxChars int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	dataDir := envOrDefault("VIBEVOICE_DATA_DIR", "/data")

	cfg := Config{
		BindAddr:         envOrDefault("VIBEVOICE_BIND_ADDR", ":8000"),
		MetricsNamespace: envOrDefault("VIBEVOICE_METRICS_NAMESPACE", "vibevoice"),
		APIKey:           strings.TrimSpace(os.Getenv("VIBEVOICE_API_KEY")),
		DataDir:          dataDir,
		VoicesDir:        envOrDefault("VIBEVOICE_VOICES_DIR", filepath.Join(dataDir, "voices")),
		BuiltinVoicesDir: envOrDefault("VIBEVOICE_BUILTIN_VOICES_DIR", "/opt/vibevoice/voices"),
		ModelsDir:        envOrDefault("VIBEVOICE_MODELS_DIR", "/models"),
		Engine:           strings.ToLower(envOrDefault("VIBEVOICE_ENGINE", "worker")),
		WorkerPython:     strings.TrimSpace(os.Getenv("VIBEVOICE_WORKER_PYTHON")),
		WorkerScript:     envOrDefault("VIBEVOICE_WORKER_SCRIPT", "scripts/vibevoice_worker.py"),
		ShutdownTimeout:  15 * time.Second,
	}

	// VIBEVOICE_PRELOAD_MODEL doubles as a model selector, so
	// VIBEVOICE_PRELOAD_MODEL=vibevoice-7b both preloads and picks the 7B.
	preload := strings.TrimSpace(os.Getenv("VIBEVOICE_PRELOAD_MODEL"))
	modelID := strings.TrimSpace(os.Getenv("VIBEVOICE_MODEL_ID"))
	if modelID == "" {
		modelID = preload
	}
	cfg.ModelID = normalizeModelID(modelID)
	cfg.PreloadModel = preload != ""

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("VIBEVOICE_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WarmupOnPreload, err = boolFromEnv("VIBEVOICE_WARMUP_ON_PRELOAD", true)
	if err != nil {
		return Config{}, err
	}
	cfg.CNPunctNormalize, err = boolFromEnv("VIBEVOICE_ENABLE_CN_PUNCT_NORMALIZE", true)
	if err != nil {
		return Config{}, err
	}
	cfg.ScriptLineMaxChars, err = intFromEnv("VIBEVOICE_SCRIPT_LINE_MAX_CHARS", 150)
	if err != nil {
		return Config{}, err
	}

	idleUnloadSec, err := intFromEnv("VIBEVOICE_IDLE_UNLOAD_SECONDS", 15*60)
	if err != nil {
		return Config{}, err
	}
	exitOnIdleSec, err := intFromEnv("VIBEVOICE_EXIT_ON_IDLE_SECONDS", 0)
	if err != nil {
		return Config{}, err
	}
	if idleUnloadSec < 0 {
		return Config{}, fmt.Errorf("VIBEVOICE_IDLE_UNLOAD_SECONDS must be >= 0")
	}
	if exitOnIdleSec < 0 {
		return Config{}, fmt.Errorf("VIBEVOICE_EXIT_ON_IDLE_SECONDS must be >= 0")
	}
	cfg.IdleUnload = time.Duration(idleUnloadSec) * time.Second
	cfg.ExitOnIdle = time.Duration(exitOnIdleSec) * time.Second

	switch cfg.Engine {
	case "worker", "mock":
	default:
		return Config{}, fmt.Errorf("invalid VIBEVOICE_ENGINE: %q (expected worker|mock)", cfg.Engine)
	}

	return cfg, nil
}

// normalizeModelID folds the accepted model aliases onto canonical ids.
func normalizeModelID(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "vibevoice-1.5b", "1.5b", "vibevoice-1.5":
		return "vibevoice-1.5b"
	case "vibevoice-7b", "7b", "vibevoice-7":
		return "vibevoice-7b"
	default:
		return "vibevoice-1.5b"
	}
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
