package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newDiscoverCommand(root *rootOptions) *cobra.Command {
	var before string
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "enqueue due scheduled content once (for an external cron)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			at := a.clock.Now()
			if before != "" {
				if at, err = time.Parse(time.RFC3339, before); err != nil {
					return fmt.Errorf("invalid --before: %w", err)
				}
			}
			stats, err := a.engine.Scheduler.Discover(ctx, at)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fetches=%d found=%d enqueued=%d skipped=%d\n",
				stats.Fetches, stats.Found, stats.Enqueued, stats.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "RFC3339 cutoff, default now")
	return cmd
}

func newRebuildReactionsCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-reactions <content-id>...",
		Short: "recompute reaction count caches from the reactions table",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, id := range args {
				counts, err := a.engine.Reactions.Rebuild(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %v\n", id, counts)
			}
			return nil
		},
	}
}

func newReconcileCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-newsfeed <user-id>...",
		Short: "re-attach content of every active group of the given users",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, uid := range args {
				n, err := a.engine.Follow.Reconcile(ctx, uid)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s attached=%d\n", uid, n)
			}
			return nil
		},
	}
}
