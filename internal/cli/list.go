// Dbbak - MySQL Point-in-Time Backup and Recovery CLI
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dbbak

package cli

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tomtom215/dbbak/internal/chain"
	"github.com/tomtom215/dbbak/internal/layout"
)

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Overview of series chains and binlog windows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			dirents, err := os.ReadDir(a.lay.SeriesRoot())
			if os.IsNotExist(err) {
				fmt.Fprintln(out, "No series found.")
				return nil
			}
			if err != nil {
				return err
			}

			var buckets []string
			for _, d := range dirents {
				if d.IsDir() && layout.ValidateBucket(d.Name()) == nil {
					buckets = append(buckets, d.Name())
				}
			}
			sort.Strings(buckets)
			if len(buckets) == 0 {
				fmt.Fprintln(out, "No series found.")
				return nil
			}

			for _, bucket := range buckets {
				if err := a.printBucket(out, bucket); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) printBucket(out io.Writer, bucket string) error {
	fmt.Fprintf(out, "SERIES %s:\n", bucket)

	if a.chains.HasFull(bucket) {
		fmt.Fprintln(out, "  base: present")
	} else {
		fmt.Fprintln(out, "  base: missing")
	}

	records, err := a.chains.ListChain(bucket)
	if err != nil {
		return err
	}
	var incs []string
	for _, rec := range records {
		if rec.Kind == chain.KindIncremental {
			incs = append(incs, rec.CreatedAt)
		}
	}
	sort.Strings(incs)
	if len(incs) > 0 {
		fmt.Fprintf(out, "  incr: %d (%s .. %s)\n", len(incs), incs[0], incs[len(incs)-1])
	} else {
		fmt.Fprintln(out, "  incr: 0")
	}

	entries, err := a.index.Load(bucket)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "  binlogs: <empty>")
		return nil
	}
	var total uint64
	for _, e := range entries {
		total += uint64(e.Size)
	}
	fmt.Fprintf(out, "  binlogs: %d files (%s), window %s .. %s\n",
		len(entries), humanize.Bytes(total),
		entries[0].FirstEventTime, entries[len(entries)-1].LastEventTime)
	return nil
}
