package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"coursejobs/internal/config"
	"coursejobs/internal/models"
	"coursejobs/internal/queue"
	"coursejobs/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "jobsctl",
		Short:         "Inspect and maintain background job queues and history",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRoutesCmd(),
		newStatsCmd(),
		newShowCmd(),
		newStuckCmd(),
		newCleanupCmd(),
		newQueuesCmd(),
		newMigrateCmd(),
	)
	return root
}

func newRoutesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the job type to queue routing table and queue policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := queue.ValidateRouting(); err != nil {
				return err
			}
			return printRoutes(cmd.OutOrStdout())
		},
	}
}

func printRoutes(out io.Writer) error {
	table := queue.Table()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "QUEUE\tCONCURRENCY\tATTEMPTS\tTIMEOUT\tJOB TYPE")
	for _, desc := range queue.Descriptors() {
		for _, t := range table[desc.Name] {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", desc.Name, desc.Concurrency, desc.MaxAttempts, desc.Timeout, t)
		}
	}
	return tw.Flush()
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count job history records by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(st *store.Store) error {
				counts, err := st.CountByStatus(cmd.Context())
				if err != nil {
					return err
				}
				printCounts(cmd.OutOrStdout(), counts)
				return nil
			})
		},
	}
}

func printCounts(out io.Writer, counts models.StatusCounts) {
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tCOUNT")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%s\t%d\n", s, counts[models.JobStatus(s)])
	}
	_ = tw.Flush()
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <history-id>",
		Short: "Print one job history record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(st *store.Store) error {
				rec, err := st.GetHistory(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			})
		},
	}
}

func newStuckCmd() *cobra.Command {
	var olderThan time.Duration
	var limit int
	cmd := &cobra.Command{
		Use:   "stuck",
		Short: "List pending history records that never started",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(st *store.Store) error {
				recs, err := st.StuckPending(cmd.Context(), time.Now().Add(-olderThan), limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tJOB TYPE\tCREATED")
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.JobType, r.CreatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 15*time.Minute, "minimum age of a pending record")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum records to print")
	return cmd
}

func newCleanupCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete completed and failed history records older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return withStore(cmd.Context(), func(st *store.Store) error {
				n, err := st.PurgeTerminal(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d records\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of terminal records to delete")
	return cmd
}

func newQueuesCmd() *cobra.Command {
	var recent int64
	cmd := &cobra.Command{
		Use:   "queues",
		Short: "Show ready depth and recently finished ids per queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			rdb := queue.NewRedisClient(cfg)
			defer rdb.Close()
			return printQueues(cmd.Context(), cmd.OutOrStdout(), rdb, cfg.LeaseGrace, recent)
		},
	}
	cmd.Flags().Int64Var(&recent, "recent", 5, "recent completed and failed ids to show")
	return cmd
}

func printQueues(ctx context.Context, out io.Writer, rdb *redis.Client, grace time.Duration, recent int64) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "QUEUE\tREADY\tRECENT COMPLETED\tRECENT FAILED")
	for _, desc := range queue.Descriptors() {
		q := queue.NewRedisQueue(rdb, desc, grace)
		depth, err := q.Depth(ctx)
		if err != nil {
			return fmt.Errorf("depth of %s: %w", desc.Name, err)
		}
		done, err := q.Recent(ctx, false, recent)
		if err != nil {
			return err
		}
		failed, err := q.Recent(ctx, true, recent)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%d\t%v\t%v\n", desc.Name, depth, done, failed)
	}
	return tw.Flush()
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(st *store.Store) error {
				if err := st.RunMigrations(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func withStore(ctx context.Context, fn func(*store.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer st.Close()
	return fn(st)
}
