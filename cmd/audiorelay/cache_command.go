package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/spf13/cobra"

	"audiorelay/internal/audiocache"
	"audiorelay/internal/pipeline"
)

var errCacheDisabled = errors.New("audio cache is disabled (set cache.enabled = true)")

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the audio file cache",
	}
	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCachePruneCommand(ctx))
	cacheCmd.AddCommand(newCacheRemoveCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))
	return cacheCmd
}

func withCache(ctx *commandContext, fn func(*audiocache.Cache) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	cache, err := audiocache.Open(cfg, nil)
	if err != nil {
		return err
	}
	if cache == nil {
		return errCacheDisabled
	}
	defer cache.Close()
	return fn(cache)
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached audio files, most recently used first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(ctx, func(cache *audiocache.Cache) error {
				entries, err := cache.List(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, entries)
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "Cache is empty")
					return nil
				}
				rows := lo.Map(entries, func(e audiocache.Entry, _ int) []string {
					return []string{
						e.VideoID,
						e.Title,
						pipeline.FormatDuration(mo.Some(e.Duration)),
						humanize.IBytes(uint64(e.SizeBytes)),
						humanize.Time(e.AccessedAt),
					}
				})
				fmt.Fprint(out, renderTable(
					[]column{leftCol("ID"), leftCol("Title"), rightCol("Duration"), rightCol("Size"), leftCol("Last Used")},
					rows,
				))
				fmt.Fprintln(out)
				return nil
			})
		},
	}
	addJSONFlag(cmd, &asJSON, "entries")
	return cmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache usage against its limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(ctx, func(cache *audiocache.Cache) error {
				stats, err := cache.Stats(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderCacheStats(stats))
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}
}

func newCachePruneCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Evict expired and least recently used files until within limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(ctx, func(cache *audiocache.Cache) error {
				report, err := cache.Prune(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Removed %d file(s), freed %s; %d remaining (%s)\n",
					len(report.Removed),
					humanize.IBytes(uint64(report.FreedBytes)),
					report.Remaining,
					humanize.IBytes(uint64(report.RemainingBytes)),
				)
				return nil
			})
		},
	}
}

func newCacheRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <video-id>...",
		Short: "Remove specific entries from the cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(ctx, func(cache *audiocache.Cache) error {
				out := cmd.OutOrStdout()
				for _, id := range lo.Uniq(args) {
					removed, err := cache.Remove(cmd.Context(), id)
					if err != nil {
						return fmt.Errorf("remove %s: %w", id, err)
					}
					if removed {
						fmt.Fprintf(out, "Removed %s\n", id)
					} else {
						fmt.Fprintf(out, "%s not cached\n", id)
					}
				}
				return nil
			})
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear the cache without --yes")
			}
			return withCache(ctx, func(cache *audiocache.Cache) error {
				removed, err := cache.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d cached file(s)\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm clearing the cache")
	return cmd
}

func renderCacheStats(stats audiocache.Stats) string {
	rows := [][]string{
		{"Entries", strconv.Itoa(stats.Entries)},
		{"Used", fmt.Sprintf("%s of %s", humanize.IBytes(uint64(stats.TotalBytes)), humanize.IBytes(uint64(stats.MaxBytes)))},
		{"Filesystem free", fmt.Sprintf("%s (%.1f%%, floor %.1f%%)", humanize.IBytes(stats.FreeBytes), stats.FreeRatio*100, stats.MinFreeRatio*100)},
	}
	return renderTable([]column{leftCol("Metric"), rightCol("Value")}, rows)
}

func renderStrategyStats(counts []pipeline.StrategyCounts) string {
	rows := lo.Map(counts, func(c pipeline.StrategyCounts, _ int) []string {
		kinds := lo.Keys(c.Failures)
		sort.Strings(kinds)
		var total int64
		detail := lo.Map(kinds, func(kind string, _ int) string {
			total += c.Failures[kind]
			return fmt.Sprintf("%s=%d", kind, c.Failures[kind])
		})
		return []string{c.Name, strconv.FormatInt(c.Successes, 10), strconv.FormatInt(total, 10), strings.Join(detail, " ")}
	})
	return renderTable(
		[]column{leftCol("Strategy"), rightCol("Successes"), rightCol("Failures"), leftCol("By Kind")},
		rows,
	)
}
