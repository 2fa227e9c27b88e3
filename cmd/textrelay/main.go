package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"TextRelay/cmd/textrelay/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.New().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "textrelay: %v\n", err)
		os.Exit(1)
	}
}
