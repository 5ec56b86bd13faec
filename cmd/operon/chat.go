package main

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/operon/internal/agent"
	"github.com/haasonsaas/operon/internal/config"
	"github.com/haasonsaas/operon/internal/hooks"
	"github.com/haasonsaas/operon/internal/sessions"
	"github.com/haasonsaas/operon/pkg/models"
)

func buildChatCmd() *cobra.Command {
	var (
		configPath   string
		agentName    string
		sessionID    string
		sessionsDir  string
		workspaceDir string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session with an agent",
		Long: `chat runs a REPL over stdin: each line is dispatched through the
agent loop's process_message state machine against the configured provider
chain, with every tool call gated by the tool-policy pipeline.`,
		Example: `  operon chat --agent writer
  operon chat --agent writer --session 5a9c7b3e-...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentName == "" {
				return fmt.Errorf("--agent is required")
			}

			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := slogFromConfig(cfg.Logging)
			obsLogger := newObservabilityLogger(cfg.Logging)

			provider, err := buildProviderChain(cmd.Context(), cfg.LLM, logger)
			if err != nil {
				return fmt.Errorf("build provider chain: %w", err)
			}

			runtime := buildRuntime(cfg.Tools, workspaceDir, logger, nil)
			loop := agent.NewLoop(runtime, provider, obsLogger)

			store, err := newSessionStore(sessionsDir)
			if err != nil {
				return fmt.Errorf("open session store: %w", err)
			}

			session, err := loadOrCreateSession(cmd.Context(), store, sessionID, agentName)
			if err != nil {
				return err
			}

			registry := hooks.NewRegistry(logger)
			if cfg.Tools.Hooks.Enabled {
				registerChatHooks(registry, logger)
			}

			ctx := cmd.Context()
			if _, err := registry.Dispatch(ctx, hooks.Event{Type: hooks.SessionStart, SessionID: session.ID, Data: session}); err != nil {
				return fmt.Errorf("session_start hook: %w", err)
			}
			defer func() {
				_, _ = registry.Dispatch(ctx, hooks.Event{Type: hooks.SessionEnd, SessionID: session.ID, Data: session})
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "session %s (agent %s); type your message, Ctrl-D to exit\n", session.ID, agentName)

			tools := toolNames(runtime.Schemas(nil))
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				line := scanner.Text()
				if line == "" {
					continue
				}
				reply, err := loop.ProcessMessage(ctx, session, line, tools)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), reply)
				if err := store.Update(ctx, session); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to persist session: %v\n", err)
				}
			}
			if err := scanner.Err(); err != nil && err != io.EOF {
				return fmt.Errorf("read stdin: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: operon.yaml)")
	cmd.Flags().StringVar(&agentName, "agent", "", "Agent name to chat with (required)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Resume an existing session id, or start a new one if omitted")
	cmd.Flags().StringVar(&sessionsDir, "sessions-dir", "", "Persist sessions to this directory instead of memory-only")
	cmd.Flags().StringVar(&workspaceDir, "workspace", ".", "Working directory for exec/process tools")
	cmd.MarkFlagRequired("agent")

	return cmd
}

func newSessionStore(dir string) (sessions.Store, error) {
	if dir == "" {
		return sessions.NewMemoryStore(), nil
	}
	return sessions.NewFileStore(dir)
}

func loadOrCreateSession(ctx context.Context, store sessions.Store, id, agentName string) (*models.Session, error) {
	if id != "" {
		session, err := store.Get(ctx, id)
		if err == nil {
			return session, nil
		}
		if err != sessions.ErrSessionNotFound {
			return nil, fmt.Errorf("load session %s: %w", id, err)
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	session := models.NewSession(id, agentName)
	if err := store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session %s: %w", id, err)
	}
	return session, nil
}

// registerChatHooks wires the session lifecycle events to structured log
// lines; a config file wanting richer hooks (webhooks, transcript export)
// can register its own Handler here following the same pattern.
func registerChatHooks(registry *hooks.Registry, logger interface {
	Info(msg string, args ...any)
}) {
	registry.Register(hooks.Hook{
		Name:   "chat-session-log",
		Events: []hooks.EventType{hooks.SessionStart, hooks.SessionEnd},
		Handler: func(ctx context.Context, event hooks.Event) (hooks.Result, error) {
			logger.Info("chat session lifecycle", "event", event.Type, "session_id", event.SessionID)
			return hooks.Result{}, nil
		},
	})
}

func toolNames(schemas []models.ToolSchema) []string {
	names := make([]string, 0, len(schemas))
	for _, s := range schemas {
		names = append(names, s.Name)
	}
	return names
}
