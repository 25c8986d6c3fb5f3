// Package queue groups job- and task-queue maintenance commands.
package queue

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hostwerk/cloudpod/platform/go/persistence"
)

// Command groups queue helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Maintain the push job queue and pull task queue",
	}

	cmd.AddCommand(releaseTasksCommand())
	cmd.AddCommand(requeueJobsCommand())
	return cmd
}

// releaseTasksCommand returns expired pull-queue claims to pending.
func releaseTasksCommand() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "release-expired-tasks",
		Short: "Return pull tasks with lapsed leases to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if databaseURL == "" {
				databaseURL = os.Getenv("DATABASE_URL")
			}
			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			store, err := persistence.NewTaskStore(pool)
			if err != nil {
				return fmt.Errorf("init task store: %w", err)
			}

			released, err := store.ReleaseExpired(ctx, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("release expired tasks: %w", err)
			}
			cmd.Printf("released %d task(s)\n", released)
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string (defaults to DATABASE_URL)")
	return c
}

// requeueJobsCommand returns running jobs orphaned by a crashed worker to
// queued.
func requeueJobsCommand() *cobra.Command {
	var (
		databaseURL string
		olderThan   time.Duration
	)

	c := &cobra.Command{
		Use:   "requeue-stuck-jobs",
		Short: "Return running jobs untouched for longer than --older-than to queued",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if databaseURL == "" {
				databaseURL = os.Getenv("DATABASE_URL")
			}
			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			store, err := persistence.NewJobStore(pool)
			if err != nil {
				return fmt.Errorf("init job store: %w", err)
			}

			requeued, err := store.RequeueStuck(ctx, time.Now().UTC().Add(-olderThan))
			if err != nil {
				return fmt.Errorf("requeue stuck jobs: %w", err)
			}
			cmd.Printf("requeued %d job(s)\n", requeued)
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string (defaults to DATABASE_URL)")
	c.Flags().DurationVar(&olderThan, "older-than", 10*time.Minute, "Minimum age of the last update before a running job counts as stuck")
	return c
}
