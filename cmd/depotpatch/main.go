package main

import (
	"context"
	"os"
	"os/signal"
)

func main() {
	// Interrupts stop an update between files.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
