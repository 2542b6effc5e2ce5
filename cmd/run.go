// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/agent"
	"github.com/xkilldash9x/webpilot-cli/internal/artifacts"
	"github.com/xkilldash9x/webpilot-cli/internal/browser"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
	"github.com/xkilldash9x/webpilot-cli/internal/llmclient"
	"github.com/xkilldash9x/webpilot-cli/internal/mcp"
	"github.com/xkilldash9x/webpilot-cli/internal/observability"
	"github.com/xkilldash9x/webpilot-cli/internal/ocr"
	"github.com/xkilldash9x/webpilot-cli/internal/planner"
	"github.com/xkilldash9x/webpilot-cli/internal/reporting"
	"github.com/xkilldash9x/webpilot-cli/internal/store"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [objective...]",
		Short: "Plans and executes a browser test run for the given objective",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so CLI flags override the config
			// file and environment variables with the right precedence.
			if err := viper.BindPFlag("agent.max_steps", cmd.Flags().Lookup("max-steps")); err != nil {
				return err
			}
			if err := viper.BindPFlag("agent.max_attempts", cmd.Flags().Lookup("max-attempts")); err != nil {
				return err
			}
			if err := viper.BindPFlag("agent.step_timeout", cmd.Flags().Lookup("step-timeout")); err != nil {
				return err
			}
			if err := viper.BindPFlag("mcp.command", cmd.Flags().Lookup("mcp-command")); err != nil {
				return err
			}
			if err := viper.BindPFlag("ocr.enabled", cmd.Flags().Lookup("ocr")); err != nil {
				return err
			}
			if err := viper.BindPFlag("artifacts.dir", cmd.Flags().Lookup("artifacts-dir")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the signal-aware context passed down from main.
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// Re-decode the config now that flag bindings are in place.
			cfg, err := config.NewFromViper(viper.GetViper())
			if err != nil {
				return fmt.Errorf("failed to finalize configuration: %w", err)
			}

			prompt := strings.Join(args, " ")
			format := viper.GetString("format")
			output := viper.GetString("output")

			return executeRun(ctx, cfg, prompt, format, output, logger)
		},
	}

	// Reporting flags.
	runCmd.Flags().StringP("output", "o", "", "Output path for the run summary. Defaults to stdout.")
	runCmd.Flags().StringP("format", "f", "text", "Summary format ('text' or 'json').")

	// Run configuration override flags.
	runCmd.Flags().Int("max-steps", 0, "Global ceiling on executed attempts across all steps. (Overrides config/env)")
	runCmd.Flags().Int("max-attempts", 0, "Tries per step including the first. (Overrides config/env)")
	runCmd.Flags().Duration("step-timeout", 0, "Timeout for a single step execution. (Overrides config/env)")
	runCmd.Flags().String("mcp-command", "", "Command that launches the browser tool server. (Overrides config/env)")
	runCmd.Flags().Bool("ocr", false, "Extract text from screenshots with tesseract. (Overrides config/env)")
	runCmd.Flags().String("artifacts-dir", "", "Base directory for per-run artifacts. (Overrides config/env)")

	return runCmd
}

// runComponents holds the initialized services of one run.
type runComponents struct {
	Session   *mcp.Session
	Facade    *browser.Facade
	Driver    *browser.Browser
	Planner   *planner.Planner
	Artifacts *artifacts.Run
	DBPool    *pgxpool.Pool
	Store     *store.Store

	shutdownGrace time.Duration
}

// Shutdown closes the browser pages, the protocol session, and the database
// pool. It uses a fresh context so cleanup survives a canceled run.
func (rc *runComponents) Shutdown() {
	logger := observability.GetLogger()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), rc.shutdownGrace)
	defer cancel()

	if rc.Facade != nil {
		if err := rc.Facade.ClosePages(shutdownCtx); err != nil {
			logger.Warn("Failed to close browser pages", zap.Error(err))
		}
	}
	if rc.Session != nil {
		if err := rc.Session.Close(shutdownCtx); err != nil {
			logger.Warn("Error during session shutdown", zap.Error(err))
		}
	}
	if rc.DBPool != nil {
		rc.DBPool.Close()
	}
}

// initializeRunComponents handles dependency injection for one run.
func initializeRunComponents(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*runComponents, error) {
	grace := cfg.MCP().ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	components := &runComponents{shutdownGrace: grace}

	// 1. Artifact directory for this run.
	run, err := artifacts.NewRun(cfg.Artifacts().Dir, logger)
	if err != nil {
		return components, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	components.Artifacts = run

	// 2. Tool server subprocess and protocol session.
	transport := mcp.NewStdioTransport(cfg.MCP(), logger)
	session := mcp.NewSession(transport, cfg.MCP(), logger)
	if err := session.Start(ctx); err != nil {
		return components, fmt.Errorf("failed to start tool server: %w", err)
	}
	components.Session = session

	initCtx, cancel := context.WithTimeout(ctx, cfg.MCP().InitTimeout)
	defer cancel()
	if _, err := session.Initialize(initCtx); err != nil {
		return components, fmt.Errorf("protocol handshake failed: %w", err)
	}

	tools, err := session.ListTools(ctx)
	if err != nil {
		return components, fmt.Errorf("failed to list server tools: %w", err)
	}
	logger.Info("Tool server ready", zap.Int("tool_count", len(tools)))

	// 3. Planner backend.
	llm, err := llmclient.New(cfg.LLM(), logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	components.Planner = planner.New(llm, cfg.LLM().Temperature, logger)

	// 4. Browser driver: capability facade plus observer.
	var ocrEngine schemas.OCRProvider
	if cfg.OCR().Enabled {
		ocrEngine = ocr.NewTesseractEngine(cfg.OCR(), logger)
	}
	facade := browser.NewFacade(session, logger)
	observer := browser.NewObserver(session, run, ocrEngine, cfg.Agent().ObserveTimeout, logger)
	components.Facade = facade
	components.Driver = browser.NewBrowser(facade, observer)

	// 5. Optional run persistence. An empty URL disables it.
	if url := cfg.Database().URL; url != "" {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return components, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.DBPool = pool

		dbStore, err := store.New(ctx, pool, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize run store: %w", err)
		}
		if err := dbStore.EnsureSchema(ctx); err != nil {
			return components, fmt.Errorf("failed to ensure store schema: %w", err)
		}
		components.Store = dbStore
	}

	return components, nil
}

// executeRun wires the components together and drives one run end to end.
func executeRun(ctx context.Context, cfg config.Interface, prompt, format, output string, logger *zap.Logger) error {
	components, err := initializeRunComponents(ctx, cfg, logger)
	if err != nil {
		if components != nil {
			components.Shutdown()
		}
		return fmt.Errorf("failed to initialize run components: %w", err)
	}
	defer components.Shutdown()

	runID := components.Artifacts.ID()
	logger.Info("Starting new run",
		zap.String("runID", runID),
		zap.String("objective", prompt),
		zap.Int("max_steps", cfg.Agent().MaxSteps),
		zap.Int("max_attempts", cfg.Agent().MaxAttempts),
	)

	plan, err := components.Planner.Plan(ctx, prompt)
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}

	loop, err := agent.NewLoop(components.Driver, cfg.Agent(), logger)
	if err != nil {
		return err
	}

	mem, err := loop.Run(ctx, runID, prompt, plan)
	if err != nil {
		return err
	}

	// The run is over; everything below is best-effort bookkeeping.
	if path, err := components.Artifacts.WriteReport(mem); err != nil {
		logger.Warn("Failed to write run report", zap.Error(err))
	} else {
		logger.Info("Run report written", zap.String("path", path))
	}

	if components.Store != nil {
		if err := components.Store.PersistRun(ctx, mem); err != nil {
			logger.Warn("Failed to persist run", zap.Error(err))
		}
	}

	if err := summarizeRun(ctx, mem, format, output, logger); err != nil {
		return err
	}

	if mem.Status != schemas.RunSucceeded {
		return fmt.Errorf("run %s %s: %s", mem.RunID, mem.Status, mem.LastError)
	}
	return nil
}

// summarizeRun renders the finished run to the configured destination.
func summarizeRun(ctx context.Context, mem *schemas.RunMemory, format, output string, logger *zap.Logger) error {
	reporter, err := reporting.New(format, output)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	defer func() {
		if err := reporter.Close(); err != nil {
			logger.Error("Failed to close reporter", zap.Error(err))
		}
	}()

	if err := reporter.Report(ctx, mem); err != nil {
		return fmt.Errorf("failed to write run summary: %w", err)
	}
	return nil
}
