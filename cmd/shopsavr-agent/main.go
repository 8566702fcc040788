package main

import (
	"context"
	"os/signal"
	"syscall"

	"shopsavr-agent/cmd/shopsavr-agent/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	commands.ExecuteContext(ctx)
}
