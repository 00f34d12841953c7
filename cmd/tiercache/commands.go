package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/IvanBrykalov/tiercache/cache"
)

var (
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show disk tier usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := openManager(nil)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()
			printStats(cmd.OutOrStdout(), m.Stats())
			return nil
		},
	}

	lsCmd = &cobra.Command{
		Use:   "ls [identity]",
		Short: "List cached records, optionally for one identity",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openManager(nil)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			identity := ""
			if len(args) == 1 {
				identity = args[0]
			}
			return printEntries(cmd.OutOrStdout(), m.Entries(), identity, time.Now())
		},
	}

	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := openManager(nil)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			r := m.Cleanup()
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired records\n", r.MemoryRemoved+r.DiskRemoved)
			return nil
		},
	}

	clearCmd = &cobra.Command{
		Use:   "clear [identity]",
		Short: "Remove every record, or only those memoized under identity",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openManager(nil)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			if len(args) == 1 {
				n := m.ClearIdentity(args[0])
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d records for %q\n", n, args[0])
				return nil
			}
			before := m.Stats().DiskItems
			m.ClearAll()
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d records\n", before)
			return nil
		},
	}
)

func printStats(w io.Writer, s cache.Stats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "memory\t%d items\t%s\n", s.MemoryItems, humanize.IBytes(uint64(s.MemoryUsageBytes)))
	fmt.Fprintf(tw, "disk\t%d items\t%s\n", s.DiskItems, humanize.IBytes(uint64(s.DiskUsageBytes)))
	fmt.Fprintf(tw, "hits\t%d\t(memory %d, disk %d)\n", s.Hits, s.MemoryHits, s.DiskHits)
	fmt.Fprintf(tw, "misses\t%d\t\n", s.Misses)
	fmt.Fprintf(tw, "hit rate\t%.2f%%\t\n", s.HitRatePercent)
	fmt.Fprintf(tw, "evictions\t%d\t(demoted %d)\n", s.Evictions, s.Demotions)
	fmt.Fprintf(tw, "promotions\t%d\t\n", s.Promotions)
	fmt.Fprintf(tw, "expirations\t%d\t\n", s.Expirations)
	_ = tw.Flush()
}

// printEntries writes one row per entry, oldest first.
func printEntries(w io.Writer, entries []cache.EntryInfo, identity string, now time.Time) error {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tIDENTITY\tTIER\tSIZE\tCREATED\tEXPIRES")
	for _, e := range entries {
		if identity != "" && e.Identity != identity {
			continue
		}
		expires := humanize.RelTime(e.ExpiresAt, now, "ago", "from now")
		if e.Expired(now) {
			expires = "expired " + expires
		}
		id := e.Identity
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Key, id, e.Tier, humanize.IBytes(uint64(e.SizeBytes)),
			humanize.RelTime(e.CreatedAt, now, "ago", "from now"), expires)
	}
	return tw.Flush()
}
