package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rshade/gruf/internal/config"
	"github.com/rshade/gruf/internal/logging"
)

// setupLogging builds the process logger from the merged logging config and
// attaches it, with a fresh trace ID, to the command's context.
func setupLogging(cmd *cobra.Command, loggingCfg config.LoggingConfig) logging.LogPathResult {
	if loggingCfg.Format == "" {
		loggingCfg.Format = logging.FormatJSON
		if isTerminal(os.Stderr) {
			loggingCfg.Format = logging.FormatConsole
		}
	}

	result := logging.NewLoggerWithPath(loggingCfg.ToLoggingConfig())
	rootLogger = result.Logger
	logger = logging.ComponentLogger(rootLogger, "cli")

	if result.FallbackUsed {
		logging.PrintFallbackWarning(cmd.ErrOrStderr(), result.FallbackReason)
	}

	ctx := cmd.Context()
	traceID := logging.GetOrGenerateTraceID(ctx)
	ctx = logging.ContextWithTraceID(ctx, traceID)
	ctx = logger.WithContext(ctx)
	cmd.SetContext(ctx)

	logger.Debug().Ctx(ctx).Msg("logging configured")
	return result
}
