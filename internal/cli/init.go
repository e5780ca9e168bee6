// Dbbak - MySQL Point-in-Time Backup and Recovery CLI
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dbbak

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/dbbak/internal/fsutil"
	"github.com/tomtom215/dbbak/internal/layout"
)

func newInitCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the backup root layout and the current month's state files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bucket := layout.BucketOf(time.Now())

			err := a.run.Do("mkdir -p "+a.lay.SeriesRoot()+" "+a.lay.BinlogRoot(), func() error {
				if err := fsutil.EnsureDir(a.lay.SeriesRoot()); err != nil {
					return err
				}
				return fsutil.EnsureDir(a.lay.BinlogRoot())
			})
			if err != nil {
				return err
			}

			if err := a.chains.InitBucket(bucket); err != nil {
				return err
			}
			if err := a.index.InitBucket(bucket); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Initialized at %s\n", a.lay.Root)
			return nil
		},
	}
}
