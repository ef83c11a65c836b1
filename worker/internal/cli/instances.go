package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	rediscli "github.com/spheroseg/segpipeline/core/libs/redis"
	instancestore "github.com/spheroseg/segpipeline/worker/internal/infra/store/instance"
)

func newInstancesCmd(root *rootOptions) *cobra.Command {
	var (
		redisAddr string
		format    string
	)

	cmd := &cobra.Command{
		Use:   "instances",
		Short: "List workers that published a heartbeat recently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("redis-addr") {
				cfg.Redis.Addr = redisAddr
			}
			if cfg.Redis.Addr == "" {
				return fmt.Errorf("no redis address configured")
			}

			rdb, err := rediscli.NewClient(cmd.Context(), rediscli.Config{
				Addr:     cfg.Redis.Addr,
				User:     cfg.Redis.Username,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			if err != nil {
				return err
			}
			defer rdb.Close()

			list, err := instancestore.NewRedisInstanceStore(rdb, cfg.Redis.TTL).List(cmd.Context())
			if err != nil {
				return err
			}

			if format != "table" {
				return encode(cmd.OutOrStdout(), format, list)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tREADY\tTASKS\tUPDATED\tREASON")
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%d/%d\t%s\t%s\n",
					s.ID, s.Status, s.Ready, s.ActiveTasks, s.MaxTasks,
					time.Since(s.UpdatedAt).Round(time.Second), s.Reason)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&redisAddr, "redis-addr", "", "registry address, overrides the config")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format: table, json or yaml")
	return cmd
}
