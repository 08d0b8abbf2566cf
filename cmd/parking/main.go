package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"smartparking/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, cli.Options{})
	stop()
	os.Exit(code)
}
