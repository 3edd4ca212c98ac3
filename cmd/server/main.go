// Command server runs the ledger HTTP API. It is equivalent to `app serve`.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"equipment-ledger/internal/adapters/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, []string{"serve"}, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
