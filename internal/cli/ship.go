// Dbbak - MySQL Point-in-Time Backup and Recovery CLI
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dbbak

package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/dbbak/internal/binlog"
	"github.com/tomtom215/dbbak/internal/layout"
)

func newShipLogsCommand(a *app) *cobra.Command {
	var flushFirst bool

	cmd := &cobra.Command{
		Use:     "ship-logs",
		Aliases: []string{"ship-binlogs"},
		Short:   "Archive rotated binlog segments into the current month's bucket",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Resolved once so the run never straddles a month rollover.
			bucket := layout.BucketOf(time.Now().UTC())

			shipper := binlog.NewShipper(binlog.ShipperOptions{
				SourceDir:       a.cfg.BinlogSourceDir,
				MysqlbinlogPath: a.cfg.Mysqlbinlog,
				MysqlClientPath: a.cfg.MysqlClient,
				ClientArgs:      a.cfg.ClientArgs(),
				CompressLevel:   a.cfg.CompressLevel,
			}, a.lay, a.index, a.run)

			return shipper.Ship(cmd.Context(), bucket, flushFirst)
		},
	}

	cmd.Flags().BoolVar(&flushFirst, "flush-first", false, "run FLUSH BINARY LOGS before shipping so the active segment rotates")
	return cmd
}
