package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/meikuraledutech/procgraph/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		logging.WithModule("cli").ErrorContext(ctx, "command failed", "error", err)
		stop()
		os.Exit(1)
	}
}
