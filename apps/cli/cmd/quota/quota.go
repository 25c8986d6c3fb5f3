// Package quota groups capacity-ledger maintenance commands.
package quota

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	capacityrepo "github.com/hostwerk/cloudpod/domains/capacity/be/repo"
	capacityservice "github.com/hostwerk/cloudpod/domains/capacity/be/service"
	"github.com/hostwerk/cloudpod/platform/go/persistence"
)

// Command groups quota helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect and reconcile tenant capacity ledgers",
	}

	cmd.AddCommand(recalculateCommand())
	cmd.AddCommand(setCommand())
	cmd.AddCommand(showCommand())
	return cmd
}

func capacityFor(ctx context.Context, databaseURL string) (*capacityservice.Service, func(), error) {
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
	if err != nil {
		return nil, nil, fmt.Errorf("init pool: %w", err)
	}

	store, err := persistence.NewQuotaStore(pool)
	if err != nil {
		persistence.ClosePool(pool)
		return nil, nil, fmt.Errorf("init quota store: %w", err)
	}
	svc := capacityservice.New(capacityrepo.NewPostgresRepository(store))
	return svc, func() { persistence.ClosePool(pool) }, nil
}

// recalculateCommand rebuilds a tenant's usage counters from the pod table.
// Use after manual intervention on errored pods left the ledger drifted.
func recalculateCommand() *cobra.Command {
	var (
		databaseURL string
		tenantID    string
	)

	c := &cobra.Command{
		Use:   "recalculate",
		Short: "Rebuild a tenant's usage counters from its pods",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			tenant, err := uuid.Parse(tenantID)
			if err != nil {
				return fmt.Errorf("parse tenant id: %w", err)
			}

			svc, closeFn, err := capacityFor(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer closeFn()

			quota, err := svc.Recalculate(ctx, tenant)
			if err != nil {
				return fmt.Errorf("recalculate: %w", err)
			}
			printQuota(cmd, quota)
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string (defaults to DATABASE_URL)")
	c.Flags().StringVar(&tenantID, "tenant-id", "", "Tenant UUID")
	_ = c.MarkFlagRequired("tenant-id")
	return c
}

func setCommand() *cobra.Command {
	var (
		databaseURL string
		tenantID    string
		pods        int
		cores       int
		memoryMB    int64
		diskGB      int64
	)

	c := &cobra.Command{
		Use:   "set",
		Short: "Set a tenant's capacity limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			tenant, err := uuid.Parse(tenantID)
			if err != nil {
				return fmt.Errorf("parse tenant id: %w", err)
			}

			svc, closeFn, err := capacityFor(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer closeFn()

			quota, err := svc.SetLimits(ctx, tenant, capacityservice.Dimensions{
				Pods:     pods,
				Cores:    cores,
				MemoryMB: memoryMB,
				DiskGB:   diskGB,
			})
			if err != nil {
				return fmt.Errorf("set limits: %w", err)
			}
			printQuota(cmd, quota)
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string (defaults to DATABASE_URL)")
	c.Flags().StringVar(&tenantID, "tenant-id", "", "Tenant UUID")
	c.Flags().IntVar(&pods, "pods", 0, "Maximum pods")
	c.Flags().IntVar(&cores, "cores", 0, "Maximum cores")
	c.Flags().Int64Var(&memoryMB, "memory-mb", 0, "Maximum memory in MB")
	c.Flags().Int64Var(&diskGB, "disk-gb", 0, "Maximum disk in GB")
	_ = c.MarkFlagRequired("tenant-id")
	return c
}

func showCommand() *cobra.Command {
	var (
		databaseURL string
		tenantID    string
	)

	c := &cobra.Command{
		Use:   "show",
		Short: "Print a tenant's quota snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			tenant, err := uuid.Parse(tenantID)
			if err != nil {
				return fmt.Errorf("parse tenant id: %w", err)
			}

			svc, closeFn, err := capacityFor(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer closeFn()

			summary, err := svc.Summary(ctx, tenant)
			if err != nil {
				return fmt.Errorf("load quota: %w", err)
			}
			cmd.Printf("tenant %s\n", summary.TenantID)
			cmd.Printf("  pods:      %d / %d\n", summary.Used.Pods, summary.Limits.Pods)
			cmd.Printf("  cores:     %d / %d\n", summary.Used.Cores, summary.Limits.Cores)
			cmd.Printf("  memory_mb: %d / %d\n", summary.Used.MemoryMB, summary.Limits.MemoryMB)
			cmd.Printf("  disk_gb:   %d / %d\n", summary.Used.DiskGB, summary.Limits.DiskGB)
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string (defaults to DATABASE_URL)")
	c.Flags().StringVar(&tenantID, "tenant-id", "", "Tenant UUID")
	_ = c.MarkFlagRequired("tenant-id")
	return c
}

func printQuota(cmd *cobra.Command, quota capacityservice.Quota) {
	cmd.Printf("tenant %s\n", quota.TenantID)
	cmd.Printf("  pods:      %d / %d\n", quota.Used.Pods, quota.Limits.Pods)
	cmd.Printf("  cores:     %d / %d\n", quota.Used.Cores, quota.Limits.Cores)
	cmd.Printf("  memory_mb: %d / %d\n", quota.Used.MemoryMB, quota.Limits.MemoryMB)
	cmd.Printf("  disk_gb:   %d / %d\n", quota.Used.DiskGB, quota.Limits.DiskGB)
}
