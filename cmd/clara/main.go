// Command clara builds annotated multimedia texts for language learners
// and renders them as static sites.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// An interrupt cancels the running job and the command exits.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := exitCode(ctx, rootCmd.ExecuteContext(ctx))
	cancel()
	os.Exit(code)
}

// exitCode is 130 for a command stopped by a signal, 1 for any other
// failure.
func exitCode(ctx context.Context, err error) int {
	switch {
	case err == nil:
		return 0
	case ctx.Err() != nil:
		return 130
	}
	return 1
}
