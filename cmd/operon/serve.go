package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/operon/internal/agent"
	"github.com/haasonsaas/operon/internal/config"
	"github.com/haasonsaas/operon/internal/observability"
	"github.com/haasonsaas/operon/internal/sessions"
	"github.com/haasonsaas/operon/pkg/models"
)

// buildServeCmd starts a thin HTTP front end over Runtime and Loop: a
// /metrics endpoint plus minimal run-plan and chat APIs. It is not the full
// gateway the teacher's serve command describes (no gRPC, no channel
// adapters) - just enough surface to drive the runtime over HTTP.
func buildServeCmd() *cobra.Command {
	var (
		configPath   string
		host         string
		port         int
		workspaceDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ambient HTTP front end",
		Long: `serve starts a minimal HTTP server exposing Prometheus metrics at
/metrics and thin JSON APIs over the plan scheduler and agent loop. It loads
configuration, builds the provider chain and runtime once, and serves
requests against them until SIGINT/SIGTERM triggers a graceful shutdown.`,
		Example: `  operon serve
  operon serve --host 0.0.0.0 --port 9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg, workspaceDir)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: operon.yaml)")
	cmd.Flags().StringVar(&host, "host", "", "Override server.host from the config")
	cmd.Flags().IntVar(&port, "port", 0, "Override server.port from the config")
	cmd.Flags().StringVar(&workspaceDir, "workspace", ".", "Working directory for exec/process tools")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, workspaceDir string) error {
	logger := slogFromConfig(cfg.Logging)
	metrics := observability.NewMetrics()

	provider, err := buildProviderChain(ctx, cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("build provider chain: %w", err)
	}
	runtime := buildRuntime(cfg.Tools, workspaceDir, logger, nil)
	obsLogger := newObservabilityLogger(cfg.Logging)
	loop := agent.NewLoop(runtime, provider, obsLogger)
	store := sessions.NewMemoryStore()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/run-plan", handleRunPlan(runtime, metrics))
	mux.HandleFunc("/v1/chat", handleChat(loop, store, metrics))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("serve listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("serve stopped gracefully")
	return nil
}

type runPlanRequest struct {
	SessionID string      `json:"session_id"`
	Plan      models.Plan `json:"plan"`
}

func handleRunPlan(runtime *agent.Runtime, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status := http.StatusOK
		defer func() {
			metrics.RecordHTTPRequest(r.Method, "/v1/run-plan", fmt.Sprint(status), time.Since(start).Seconds())
		}()

		if r.Method != http.MethodPost {
			status = http.StatusMethodNotAllowed
			http.Error(w, "method not allowed", status)
			return
		}
		var req runPlanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			status = http.StatusBadRequest
			http.Error(w, fmt.Sprintf("decode request: %v", err), status)
			return
		}
		sessionID := req.SessionID
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		result, err := runtime.RunPlan(r.Context(), sessionID, req.Plan, models.PermissionExecute)
		if err != nil {
			metrics.RecordRunAttempt("failed")
			status = http.StatusInternalServerError
			http.Error(w, fmt.Sprintf("run plan: %v", err), status)
			return
		}
		metrics.RecordRunAttempt("success")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(planResultView(result))
	}
}

func planResultView(result *agent.PlanResult) any {
	view := struct {
		PlanID string           `json:"plan_id"`
		Steps  []stepResultView `json:"steps"`
	}{PlanID: result.PlanID}

	for _, step := range result.Steps {
		sv := stepResultView{
			Index:      step.Index,
			ID:         step.ID,
			Tool:       step.Tool,
			Output:     step.Output,
			DurationMs: step.DurationMs,
		}
		if step.Err != nil {
			sv.Error = step.Err.Error()
		}
		view.Steps = append(view.Steps, sv)
	}
	return view
}

type chatRequest struct {
	Agent     string `json:"agent"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

func handleChat(loop *agent.Loop, store sessions.Store, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status := http.StatusOK
		defer func() {
			metrics.RecordHTTPRequest(r.Method, "/v1/chat", fmt.Sprint(status), time.Since(start).Seconds())
		}()

		if r.Method != http.MethodPost {
			status = http.StatusMethodNotAllowed
			http.Error(w, "method not allowed", status)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			status = http.StatusBadRequest
			http.Error(w, fmt.Sprintf("decode request: %v", err), status)
			return
		}
		if req.Agent == "" {
			status = http.StatusBadRequest
			http.Error(w, "agent is required", status)
			return
		}

		session, err := loadOrCreateSession(r.Context(), store, req.SessionID, req.Agent)
		if err != nil {
			status = http.StatusInternalServerError
			http.Error(w, fmt.Sprintf("load session: %v", err), status)
			return
		}

		tools := toolNames(loop.Runtime.Schemas(nil))
		reply, err := loop.ProcessMessage(r.Context(), session, req.Message, tools)
		if err != nil {
			status = http.StatusInternalServerError
			http.Error(w, fmt.Sprintf("process message: %v", err), status)
			return
		}
		if err := store.Update(r.Context(), session); err != nil {
			status = http.StatusInternalServerError
			http.Error(w, fmt.Sprintf("persist session: %v", err), status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse{SessionID: session.ID, Reply: reply})
	}
}
