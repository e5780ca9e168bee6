// Dbbak - MySQL Point-in-Time Backup and Recovery CLI
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dbbak

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/dbbak/internal/chain"
	"github.com/tomtom215/dbbak/internal/fsutil"
	"github.com/tomtom215/dbbak/internal/layout"
	"github.com/tomtom215/dbbak/internal/runner"
)

func newBackupFullCommand(a *app) *cobra.Command {
	var series string

	cmd := &cobra.Command{
		Use:   "backup-full",
		Short: "Take the month's full physical backup (one per series)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			bucket, err := resolveBucket(series, layout.BucketOf(now))
			if err != nil {
				return err
			}

			// Checked up front so the error surfaces before any tool run.
			if a.chains.HasFull(bucket) {
				return &chain.Error{Bucket: bucket, Reason: "a full backup already exists for this series"}
			}

			target := a.lay.BaseRaw(bucket)
			if err := a.run.Do("mkdir -p "+target, func() error {
				return fsutil.EnsureDir(target)
			}); err != nil {
				return err
			}

			backup := runner.Command{
				Path: a.cfg.Xtrabackup,
				Args: []string{
					"--backup",
					"--target-dir=" + target,
					"--defaults-file=" + a.cfg.MySQLOptionFile,
				},
			}
			if err := a.run.Run(cmd.Context(), backup); err != nil {
				return fmt.Errorf("full backup: %w", err)
			}

			rec := chain.Record{
				Kind:      chain.KindFull,
				CreatedAt: layout.StampOf(now),
				Bucket:    bucket,
			}
			if err := a.chains.RecordFull(bucket, rec); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Full backup recorded for %s at %s\n", bucket, rec.CreatedAt)
			return nil
		},
	}

	cmd.Flags().StringVar(&series, "series", "", "series bucket (YYYY-MM, default: current month)")
	return cmd
}

func newBackupIncrCommand(a *app) *cobra.Command {
	var series string

	cmd := &cobra.Command{
		Use:   "backup-incr",
		Short: "Take an incremental backup against the month's full",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			bucket, err := resolveBucket(series, layout.BucketOf(now))
			if err != nil {
				return err
			}

			if !a.chains.HasFull(bucket) {
				return &chain.Error{Bucket: bucket, Reason: "no full backup to base an incremental on; run backup-full first"}
			}

			stamp := layout.StampOf(now)
			target := a.lay.IncrRaw(bucket, stamp)
			if err := a.run.Do("mkdir -p "+target, func() error {
				return fsutil.EnsureDir(target)
			}); err != nil {
				return err
			}

			backup := runner.Command{
				Path: a.cfg.Xtrabackup,
				Args: []string{
					"--backup",
					"--incremental",
					"--incremental-basedir=" + a.lay.BaseRaw(bucket),
					"--target-dir=" + target,
					"--defaults-file=" + a.cfg.MySQLOptionFile,
				},
			}
			if err := a.run.Run(cmd.Context(), backup); err != nil {
				return fmt.Errorf("incremental backup: %w", err)
			}

			rec := chain.Record{
				Kind:      chain.KindIncremental,
				CreatedAt: stamp,
				Bucket:    bucket,
			}
			if err := a.chains.RecordIncremental(bucket, rec); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Incremental backup recorded for %s at %s\n", bucket, stamp)
			return nil
		},
	}

	cmd.Flags().StringVar(&series, "series", "", "series bucket (YYYY-MM, default: current month)")
	return cmd
}
