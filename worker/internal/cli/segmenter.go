package cli

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/spheroseg/segpipeline/core/libs/grpcsrv"
	"github.com/spheroseg/segpipeline/worker/internal/infra/segmenter"
)

func newServeSegmenterCmd() *cobra.Command {
	var (
		addr        string
		size        int
		delay       time.Duration
		maxParallel int
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve-segmenter",
		Short: "Serve the synthetic segmenter over gRPC",
		Long:  "Serves deterministic disc masks on the segmenter gRPC contract, for running workers without a model.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen: %w", err)
			}

			srv := grpcsrv.NewServer(slog.Default())
			segmenter.Register(srv, segmenter.NewSynthetic(size, delay, maxParallel), timeout)

			errCh := make(chan error, 1)
			go func() {
				fmt.Fprintf(cmd.OutOrStdout(), "synthetic segmenter listening on %s\n", lis.Addr())
				errCh <- srv.Serve(lis)
			}()

			select {
			case <-cmd.Context().Done():
				slog.Info("stopping segmenter gracefully")
				srv.GracefulStop()
				return nil
			case err := <-errCh:
				return fmt.Errorf("failed to serve: %w", err)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":50051", "listen address")
	cmd.Flags().IntVar(&size, "size", 1024, "mask side length in pixels")
	cmd.Flags().DurationVar(&delay, "delay", 0, "simulated inference time per request")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 2, "concurrent inferences")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "per-request deadline")
	return cmd
}
