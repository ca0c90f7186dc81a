package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vibevoice-community/vibevoice-server/internal/config"
	"github.com/vibevoice-community/vibevoice-server/internal/engine"
	"github.com/vibevoice-community/vibevoice-server/internal/httpapi"
	"github.com/vibevoice-community/vibevoice-server/internal/model"
	"github.com/vibevoice-community/vibevoice-server/internal/observability"
	"github.com/vibevoice-community/vibevoice-server/internal/script"
	"github.com/vibevoice-community/vibevoice-server/internal/synth"
	"github.com/vibevoice-community/vibevoice-server/internal/voicestore"
)

const idleWatchInterval = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	voices := voicestore.New(cfg.BuiltinVoicesDir, cfg.VoicesDir)
	if err := voices.EnsureDirs(); err != nil {
		log.Fatalf("voice store init failed: %v", err)
	}
	metrics.CustomVoices.Set(float64(voices.CustomCount()))

	var loader model.Loader
	switch cfg.Engine {
	case "mock":
		loader = model.LoaderFunc(func(context.Context) (engine.Synthesizer, error) {
			return &engine.Mock{}, nil
		})
		log.Printf("engine: mock")
	default:
		loader = model.LoaderFunc(func(ctx context.Context) (engine.Synthesizer, error) {
			return engine.StartWorker(ctx, engine.WorkerConfig{
				PythonPath: cfg.WorkerPython,
				ScriptPath: cfg.WorkerScript,
				ModelDir:   cfg.ModelsDir,
				ModelID:    cfg.ModelID,
			})
		})
		log.Printf("engine: worker (%s)", cfg.ModelID)
	}

	var warmup func(context.Context, engine.Synthesizer) error
	if cfg.WarmupOnPreload {
		warmup = func(ctx context.Context, s engine.Synthesizer) error {
			all, err := voices.List()
			if err != nil || len(all) == 0 {
				// No reference voice to warm with; first real call pays the cost.
				return err
			}
			_, _, err = s.Synthesize(ctx, "Speaker 0: Hello.", all[0].SamplePath, synth.DefaultCfgScale)
			return err
		}
	}

	// Scale-to-zero: the exit hook delivers SIGTERM to ourselves so the
	// regular graceful-shutdown path below runs and the host platform
	// restarts us on the next request.
	exitHook := func() {
		p, err := os.FindProcess(os.Getpid())
		if err != nil {
			os.Exit(0)
		}
		if err := p.Signal(syscall.SIGTERM); err != nil {
			os.Exit(0)
		}
	}

	manager := model.NewManager(model.Config{
		Loader:     loader,
		Warmup:     warmup,
		IdleUnload: cfg.IdleUnload,
		ExitOnIdle: cfg.ExitOnIdle,
		ExitHook:   exitHook,
		Metrics:    metrics,
	})
	defer manager.Close()

	pipeline := synth.New(voices, manager, metrics, cfg.ModelID, script.Options{
		CNPunctNormalize: cfg.CNPunctNormalize,
		MaxLineChars:     cfg.ScriptLineMaxChars,
	})

	api := httpapi.New(cfg, voices, pipeline, manager, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	manager.Run(runCtx, idleWatchInterval)

	if cfg.PreloadModel {
		go func() {
			if _, err := manager.Acquire(runCtx); err != nil {
				// Preload failure must not take the service down; the next
				// request retries the load and reports the real error.
				log.Printf("model preload failed: %v", err)
			}
		}()
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
