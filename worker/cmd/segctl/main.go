package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spheroseg/segpipeline/worker/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	root := cli.NewRootCmd()
	root.SetContext(ctx)
	cli.Execute(root)
}
