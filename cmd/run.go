// -- cmd/run.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/desktop"
	"github.com/xkilldash9x/deskpilot/internal/llmclient"
	"github.com/xkilldash9x/deskpilot/internal/observability"
	"github.com/xkilldash9x/deskpilot/internal/planner"
	"github.com/xkilldash9x/deskpilot/internal/session"
	"github.com/xkilldash9x/deskpilot/internal/transport"
)

// newRunCmd creates the `run` command hosting the agent loop. The process
// reads goal messages from stdin and writes one JSON event per line to
// stdout until stdin closes or a signal arrives.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs the agent loop over stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// 1. AI client and planner.
			llm, err := llmclient.New(cfg.LLM, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize LLM client: %w", err)
			}
			defer llm.Close()
			pl := planner.New(llm, cfg.LLM, logger)

			// 2. Desktop executor over the real input devices.
			executor, err := desktop.NewExecutor(desktop.NewRobotDevice(), cfg.Desktop, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize desktop executor: %w", err)
			}

			// 3. Stdio transport. Nothing else may write to stdout.
			tr := transport.NewStdio(os.Stdin, os.Stdout, cfg.Agent.EventBufferSize, logger)

			// 4. Session controller wiring it all together.
			controller, err := session.New(cfg.Agent, pl, executor, llm, tr, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize session controller: %w", err)
			}

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			tr.Start(runCtx)

			logger.Info("Agent loop running",
				zap.String("model", cfg.LLM.Model),
				zap.Int("max_iterations", cfg.Agent.MaxIterations))

			err = controller.Run(runCtx, tr.Messages())
			cancel()
			switch {
			case err == nil:
				// Stdin closed; let the transport flush queued events.
				tr.Wait()
				logger.Info("Agent loop finished")
				return nil
			case errors.Is(err, context.Canceled):
				logger.Info("Agent loop stopped by signal")
				return nil
			default:
				return err
			}
		},
	}
}
