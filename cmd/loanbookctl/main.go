package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/loanbook/cmd/loanbookctl/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(cli.DefaultDeps()).ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "loanbookctl:", err)
		stop()
		os.Exit(1)
	}
}
