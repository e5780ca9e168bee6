// Dbbak - MySQL Point-in-Time Backup and Recovery CLI
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dbbak

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/dbbak/internal/restore"
)

// restoreTimeFormat is the operator-facing target format; seconds are
// dropped because targets are floored to the recovery granularity anyway.
const restoreTimeFormat = "2006-01-02 15:04"

func newRestoreCommand(a *app) *cobra.Command {
	var (
		target  string
		workdir string
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Assemble a point-in-time restore in a working directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			when := time.Now().UTC()
			if target != "" {
				parsed, err := time.ParseInLocation(restoreTimeFormat, target, time.UTC)
				if err != nil {
					return fmt.Errorf("parse --time %q (want %s): %w", target, restoreTimeFormat, err)
				}
				when = parsed
			}

			planner := restore.NewPlanner(a.lay, a.chains, a.index, a.cfg.PITRRoundMinutes)
			plan, err := planner.Plan(when)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Restore target %s (series %s)\n",
				plan.StopAt.Format(restoreTimeFormat), plan.Bucket)
			fmt.Fprintf(out, "  base: %s\n", plan.Full.CreatedAt)
			for _, inc := range plan.Incrementals {
				fmt.Fprintf(out, "  incr: %s\n", inc.CreatedAt)
			}
			if plan.NeedReplay {
				fmt.Fprintf(out, "  replay: %d segment(s)\n", len(plan.Segments))
			} else {
				fmt.Fprintln(out, "  replay: not needed")
			}

			exec := restore.NewExecutor(restore.ExecutorOptions{
				XtrabackupPath:  a.cfg.Xtrabackup,
				MysqlbinlogPath: a.cfg.Mysqlbinlog,
				MysqlClientPath: a.cfg.MysqlClient,
				ClientArgs:      a.cfg.ClientArgs(),
			}, a.lay, a.run)

			work, err := exec.Execute(cmd.Context(), plan, workdir)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Restore assembled at %s\n", work)
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "time", "", "recovery target, UTC \"YYYY-MM-DD HH:MM\" (default: now)")
	cmd.Flags().StringVar(&workdir, "workdir", "", "working directory for the assembled restore (default: fresh temp dir)")
	return cmd
}
