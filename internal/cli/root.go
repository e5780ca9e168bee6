// Dbbak - MySQL Point-in-Time Backup and Recovery CLI
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dbbak

// Package cli wires the dbbak command tree.
//
// Every command runs in dry-run mode by default: mutating actions are
// printed with a DRY prefix and skipped, reads still execute. Pass --exec
// to run for real.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/tomtom215/dbbak/internal/binlog"
	"github.com/tomtom215/dbbak/internal/chain"
	"github.com/tomtom215/dbbak/internal/config"
	"github.com/tomtom215/dbbak/internal/layout"
	"github.com/tomtom215/dbbak/internal/logging"
	"github.com/tomtom215/dbbak/internal/runner"
)

// app holds the wired components shared by all subcommands, built once
// in the root's PersistentPreRunE.
type app struct {
	cfg    *config.Config
	run    *runner.Runner
	lay    layout.Layout
	chains *chain.Store
	index  *binlog.IndexStore
}

// NewRootCommand builds the dbbak command tree.
func NewRootCommand() *cobra.Command {
	var (
		configPath string
		execMode   bool
	)
	a := &app{}

	root := &cobra.Command{
		Use:           "dbbak",
		Short:         "MySQL backup CLI: full + incremental physical backups with point-in-time recovery",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logging.Init(logging.Config{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
			})

			a.cfg = cfg
			a.run = runner.New(execMode)
			a.lay = layout.New(cfg.BackupRoot)
			a.chains = chain.NewStore(a.lay, a.run)
			a.index = binlog.NewIndexStore(a.lay, a.run)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config (default: ~/.dbbak.yaml)")
	root.PersistentFlags().BoolVar(&execMode, "exec", false, "actually execute side effects (default: dry-run)")

	root.AddCommand(
		newInitCommand(a),
		newListCommand(a),
		newBackupFullCommand(a),
		newBackupIncrCommand(a),
		newShipLogsCommand(a),
		newRestoreCommand(a),
	)
	return root
}

// resolveBucket returns the explicit series bucket or the current UTC
// month, validated either way.
func resolveBucket(series, now string) (string, error) {
	bucket := series
	if bucket == "" {
		bucket = now
	}
	if err := layout.ValidateBucket(bucket); err != nil {
		return "", err
	}
	return bucket, nil
}
