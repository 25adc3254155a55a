package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"stagehand/internal/cli"
)

// main hands the command line to the CLI. SIGINT and SIGTERM cancel the
// context, which kills the running script's process group.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Main(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
