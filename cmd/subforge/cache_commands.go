package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"subforge/internal/cache"
	"subforge/internal/logging"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the artifact cache",
	}

	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))
	cacheCmd.AddCommand(newCacheSweepCommand(ctx))

	return cacheCmd
}

func (c *commandContext) withCache(fn func(*cache.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	cacheStore, err := c.openCache(cfg, logging.NewNop())
	if err != nil {
		return err
	}
	return fn(cacheStore)
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache size and entry counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(cacheStore *cache.Store) error {
				stats := cacheStore.Stats()
				rows := [][]string{
					{"Directory", cacheStore.Dir()},
					{"Entries", strconv.Itoa(stats.Entries)},
					{"Size", formatBytes(stats.TotalBytes)},
					{"Limit", formatBytes(stats.MaxBytes)},
				}
				if !stats.Oldest.IsZero() {
					rows = append(rows, []string{"Oldest entry", stats.Oldest.Local().Format(time.DateTime)})
				}
				table := renderTable([]column{{header: "Field"}, {header: "Value"}}, rows)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(cacheStore *cache.Store) error {
				removed, err := cacheStore.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached artifact(s)\n", removed)
				return nil
			})
		},
	}
}

func newCacheSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Evict expired and over-budget cache entries now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(cacheStore *cache.Store) error {
				before := cacheStore.Stats()
				if err := cacheStore.Sweep(cmd.Context()); err != nil {
					return err
				}
				after := cacheStore.Stats()
				fmt.Fprintf(cmd.OutOrStdout(), "Swept %d entry(ies), reclaimed %s\n",
					before.Entries-after.Entries, formatBytes(before.TotalBytes-after.TotalBytes))
				return nil
			})
		},
	}
}
