// Package shutdown wires cooperative termination: the first stop signal
// cancels the returned context so the loops drain, a second signal kills
// the process through the restored default handlers.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/CESNET/Pandda-ADiCT/internal/logger"
)

// NotifyContext returns a context cancelled by SIGINT, SIGTERM or SIGABRT.
func NotifyContext(log *logger.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGABRT)

	go func() {
		select {
		case <-sigChan:
			log.Info("Signal received, going to stop after the cached data are sent. " +
				"Send the signal again to exit immediately.")
			signal.Reset(os.Interrupt, syscall.SIGTERM, syscall.SIGABRT)
			cancel()
		case <-ctx.Done():
			signal.Stop(sigChan)
		}
	}()

	return ctx, cancel
}
