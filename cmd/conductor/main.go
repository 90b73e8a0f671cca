// Command conductor runs the multi-expert orchestration engine, either
// as an HTTP server streaming step events or as a one-shot CLI ask.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/martinemde/conductor/config"
	"github.com/martinemde/conductor/expertloop"
	"github.com/martinemde/conductor/httpapi"
	"github.com/martinemde/conductor/modelclient"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "conductor",
		Short: "Route coding requests to specialized model experts",
		Long: `conductor routes each user request to a specialized expert (planner,
code generator, code reviewer), runs the expert's tool loop inside a
per-session sandbox, and streams structured step events.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newAskCmd(&configPath))
	return root
}

func buildEngine(configPath string) (*expertloop.Engine, config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, config.Config{}, err
	}

	var clientOpts []modelclient.OpenAIOption
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, modelclient.WithBaseURL(cfg.BaseURL))
	}
	client, err := modelclient.NewOpenAIClient(cfg.APIKey, clientOpts...)
	if err != nil {
		return nil, config.Config{}, err
	}

	experts, err := expertsWithOverrides(cfg.Experts)
	if err != nil {
		return nil, config.Config{}, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	engine, err := expertloop.NewEngine(client, expertloop.EngineConfig{
		Model:              cfg.Model,
		WorkspaceRoot:      cfg.WorkspaceRoot,
		EventBuffer:        cfg.EventBuffer,
		CommandTimeout:     cfg.CommandTimeout(),
		SafeCommandTimeout: cfg.SafeCommandTimeout(),
		Experts:            experts,
		Logger:             logger,
	})
	if err != nil {
		return nil, config.Config{}, err
	}
	return engine, cfg, nil
}

// expertsWithOverrides applies per-expert limit tuning from config onto
// the built-in expert set.
func expertsWithOverrides(overrides []config.ExpertOverride) (*expertloop.ExpertRegistry, error) {
	base := expertloop.DefaultExperts()
	if len(overrides) == 0 {
		return base, nil
	}
	byID := make(map[string]config.ExpertOverride, len(overrides))
	for _, o := range overrides {
		byID[o.ID] = o
	}
	defs := base.All()
	for i, def := range defs {
		o, ok := byID[def.ID]
		if !ok {
			continue
		}
		delete(byID, def.ID)
		if o.IterationLimit > 0 {
			defs[i].IterationLimit = o.IterationLimit
		}
		if o.LoopThreshold > 0 {
			defs[i].LoopThreshold = o.LoopThreshold
		}
	}
	for id := range byID {
		return nil, fmt.Errorf("expert override for unknown expert %q", id)
	}
	reg, err := expertloop.NewExpertRegistry(base.Default().ID, defs...)
	if err != nil {
		return nil, fmt.Errorf("apply expert overrides: %w", err)
	}
	return reg, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cfg, err := buildEngine(*configPath)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			if ttl := cfg.SessionTTL(); ttl > 0 {
				go func() {
					ticker := time.NewTicker(ttl / 4)
					defer ticker.Stop()
					for range ticker.C {
						if evicted := engine.Sessions().EvictIdle(ttl); len(evicted) > 0 {
							logger.Info("evicted idle sessions", "count", len(evicted))
						}
					}
				}()
			}

			server := &http.Server{
				Addr:    cfg.Listen,
				Handler: httpapi.NewServer(engine, logger).Handler(),
			}
			go func() {
				sig := make(chan os.Signal, 1)
				signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
				<-sig
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			logger.Info("listening", "addr", cfg.Listen, "model", cfg.Model)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}

func newAskCmd(configPath *string) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Run a single request and print the streamed events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := buildEngine(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			id, events, err := engine.Stream(ctx, sessionID, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "session: %s\n", id)

			for ev := range events {
				printEvent(ev)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id to continue")
	return cmd
}

func printEvent(ev expertloop.StepEvent) {
	switch ev.Kind {
	case expertloop.EventRouting:
		fmt.Printf("[routing] %s\n", ev.Routing.Expert)
	case expertloop.EventModelMessage:
		fmt.Printf("\n%s\n", ev.ModelMessage.Content)
	case expertloop.EventToolInvoked:
		fmt.Printf("[tool] %s %s\n", ev.ToolInvoked.Tool, ev.ToolInvoked.Arguments)
	case expertloop.EventToolResult:
		status := "ok"
		if !ev.ToolResult.Success {
			status = "failed"
		}
		fmt.Printf("[tool] %s %s\n", ev.ToolResult.Tool, status)
	case expertloop.EventFileOperation:
		fmt.Printf("[file] %s %s (+%d -%d)\n", ev.FileOperation.Op, ev.FileOperation.Path,
			ev.FileOperation.Additions, ev.FileOperation.Deletions)
	case expertloop.EventTerminalCommand:
		fmt.Printf("[cmd] %s\n", ev.TerminalCommand.Command)
	case expertloop.EventError:
		fmt.Printf("[error] %s\n", ev.Error.Message)
	case expertloop.EventEnd:
		fmt.Println("[done]")
	}
}
