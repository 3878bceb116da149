package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/chorus/internal/availability"
	"github.com/zjrosen/chorus/internal/config"
	"github.com/zjrosen/chorus/internal/log"
	"github.com/zjrosen/chorus/internal/manager"
	"github.com/zjrosen/chorus/internal/provider"
	"github.com/zjrosen/chorus/internal/store"
	"github.com/zjrosen/chorus/internal/tracing"
	"github.com/zjrosen/chorus/internal/watcher"
	"github.com/zjrosen/chorus/internal/wshub"

	// Register provider adapters.
	_ "github.com/zjrosen/chorus/internal/provider/claude"
	_ "github.com/zjrosen/chorus/internal/provider/codex"
	_ "github.com/zjrosen/chorus/internal/provider/cursor"
	_ "github.com/zjrosen/chorus/internal/provider/gemini"
	_ "github.com/zjrosen/chorus/internal/provider/qwen"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration daemon",
	Long: `Opens the event store, constructs the provider adapters, and serves the
turn API and the per-project WebSocket event feed until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "bind address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cleanup, err := log.Init(cfg.Log.File)
	if err != nil {
		return fmt.Errorf("initializing log: %w", err)
	}
	defer cleanup()
	log.SetMinLevel(log.ParseLevel(cfg.Log.Level))

	if cfg.ModelOverridesPath != "" {
		overrides, err := config.LoadModelOverrides(cfg.ModelOverridesPath)
		if err != nil {
			return fmt.Errorf("loading model overrides: %w", err)
		}
		provider.ApplyModelOverrides(overrides)

		stopWatch, err := watchModelOverrides(cfg.ModelOverridesPath)
		if err != nil {
			// A daemon without hot reload is still a working daemon.
			log.Warn(log.CatDaemon, "model overrides watch disabled", "error", err)
		} else {
			defer stopWatch()
		}
	}

	systemPrompt, err := cfg.SystemPrompt()
	if err != nil {
		return err
	}

	tracesPath := cfg.Tracing.FilePath
	if tracesPath == "" {
		tracesPath = config.DefaultTracesFilePath()
	}
	traceProvider, err := tracing.NewProvider(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		FilePath:     tracesPath,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		ServiceName:  "chorus",
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = traceProvider.Shutdown(ctx)
	}()

	db, err := store.NewDB(cfg.ResolvedDBPath())
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = db.Close() }()

	hub := wshub.New()
	defer hub.Close()

	checker := availability.NewChecker(cfg.Availability.TTL,
		availability.WithTracer(traceProvider.Tracer()))
	mgr := manager.New(db, hub, checker, provider.Deps{
		Sessions:     db,
		Repo:         db,
		SystemPrompt: systemPrompt,
	}, manager.WithTracer(traceProvider.Tracer()))

	listen := cfg.Listen
	if flagListen, _ := cmd.Flags().GetString("listen"); flagListen != "" {
		listen = flagListen
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{project_id}", hub.ServeWS)
	mux.HandleFunc("POST /api/projects/{project_id}/turns", handleTurn(mgr))

	server := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(log.CatDaemon, "listening", "addr", listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		log.Info(log.CatDaemon, "shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// watchModelOverrides re-applies the overrides file whenever it changes, so
// alias edits take effect without restarting the daemon.
func watchModelOverrides(path string) (func(), error) {
	w, err := watcher.New(watcher.DefaultConfig(path))
	if err != nil {
		return nil, err
	}
	changes, err := w.Start()
	if err != nil {
		_ = w.Stop()
		return nil, err
	}

	go func() {
		for range changes {
			overrides, err := config.LoadModelOverrides(path)
			if err != nil {
				log.Warn(log.CatDaemon, "model overrides reload failed",
					"path", path, "error", err)
				continue
			}
			provider.ApplyModelOverrides(overrides)
			log.Info(log.CatDaemon, "model overrides reloaded", "path", path)
		}
	}()

	return func() { _ = w.Stop() }, nil
}

// turnRequest is the POST /api/projects/{project_id}/turns body.
type turnRequest struct {
	Instruction     string           `json:"instruction"`
	Provider        string           `json:"provider"`
	Model           string           `json:"model"`
	Images          []provider.Image `json:"images"`
	ProjectPath     string           `json:"project_path"`
	SessionID       string           `json:"session_id"`
	ConversationID  string           `json:"conversation_id"`
	IsInitialPrompt bool             `json:"is_initial_prompt"`
}

func handleTurn(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := r.PathValue("project_id")

		var body turnRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if body.Instruction == "" {
			http.Error(w, "instruction is required", http.StatusBadRequest)
			return
		}
		name, err := provider.Parse(body.Provider)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		outcome := mgr.Execute(r.Context(), manager.Request{
			ProjectID:       projectID,
			ProjectPath:     body.ProjectPath,
			SessionID:       body.SessionID,
			ConversationID:  body.ConversationID,
			Provider:        name,
			Instruction:     body.Instruction,
			Images:          body.Images,
			Model:           body.Model,
			IsInitialPrompt: body.IsInitialPrompt,
		})

		w.Header().Set("Content-Type", "application/json")
		if !outcome.Success {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}
		if err := json.NewEncoder(w).Encode(outcome); err != nil {
			log.Warn(log.CatDaemon, "failed to encode outcome", "error", err)
		}
	}
}
