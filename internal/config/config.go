// Dbbak - MySQL Point-in-Time Backup and Recovery CLI
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dbbak

// Package config loads and validates dbbak configuration.
//
// Configuration is layered with koanf: struct defaults, then an optional
// YAML config file, then DBBAK_-prefixed environment variables, highest
// last. Every component receives its settings explicitly at construction;
// there is no process-wide mutable configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Config holds everything dbbak needs: external tool paths, the backup
// root, binlog shipping settings, and database client credentials.
type Config struct {
	// MySQLOptionFile is the option file passed to every tool that talks
	// to the server (credentials live there, not in flags).
	MySQLOptionFile string `koanf:"mysql_option_file" validate:"required"`

	// BackupRoot is the directory holding all series and binlog state.
	BackupRoot string `koanf:"backup_root" validate:"required"`

	// Tool paths.
	Xtrabackup  string `koanf:"xtrabackup" validate:"required"`
	Mysqlbinlog string `koanf:"mysqlbinlog" validate:"required"`
	MysqlClient string `koanf:"mysql_client" validate:"required"`

	// PITRRoundMinutes floors restore targets to this granularity.
	PITRRoundMinutes int `koanf:"pitr_round_minutes" validate:"min=0,max=60"`

	// CompressLevel is the gzip level for shipped binlogs (1-9).
	CompressLevel int `koanf:"compress_level" validate:"min=1,max=9"`

	// BinlogSourceDir is where the server writes its binlogs. Empty
	// makes ship-logs a no-op.
	BinlogSourceDir string `koanf:"binlog_source_dir"`

	// DB are the client connection settings layered on the option file.
	DB DBConfig `koanf:"db"`

	// Logging configures the global logger.
	Logging LoggingConfig `koanf:"logging"`
}

// DBConfig holds database client connection settings.
type DBConfig struct {
	Host     string `koanf:"host" validate:"required"`
	Port     int    `koanf:"port" validate:"min=1,max=65535"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	SSLCA    string `koanf:"ssl_ca"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=console json"`
}

// Error reports missing or malformed configuration. Detected before any
// action runs.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Reason, e.Err)
	}
	return "config: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// defaultConfig returns the built-in defaults, applied before file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		MysqlClient:      "mysql",
		PITRRoundMinutes: 15,
		CompressLevel:    6,
		DB: DBConfig{
			Host: "127.0.0.1",
			Port: 3306,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks that required settings are present and well-formed.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return &Error{Reason: "invalid configuration", Err: err}
	}
	if c.BinlogSourceDir != "" && c.BinlogSourceDir == c.BackupRoot {
		return &Error{Reason: "binlog_source_dir must differ from backup_root"}
	}
	return nil
}

// ClientArgs builds the argument prefix for every mysql client
// invocation: option file first so explicit connection flags win.
func (c *Config) ClientArgs() []string {
	args := []string{
		"--defaults-file=" + c.MySQLOptionFile,
		"--host=" + c.DB.Host,
		"--port=" + strconv.Itoa(c.DB.Port),
	}
	if c.DB.User != "" {
		args = append(args, "--user="+c.DB.User)
	}
	if c.DB.Password != "" {
		args = append(args, "--password="+c.DB.Password)
	}
	if c.DB.SSLCA != "" {
		args = append(args, "--ssl-ca="+c.DB.SSLCA)
	}
	return args
}

// expandHome resolves a leading ~/ against the user's home directory.
func expandHome(path string) string {
	if len(path) < 2 || path[0] != '~' || path[1] != filepath.Separator {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// expandPaths applies home expansion to every path-valued field.
func (c *Config) expandPaths() {
	c.MySQLOptionFile = expandHome(c.MySQLOptionFile)
	c.BackupRoot = expandHome(c.BackupRoot)
	c.Xtrabackup = expandHome(c.Xtrabackup)
	c.Mysqlbinlog = expandHome(c.Mysqlbinlog)
	c.MysqlClient = expandHome(c.MysqlClient)
	c.BinlogSourceDir = expandHome(c.BinlogSourceDir)
	c.DB.SSLCA = expandHome(c.DB.SSLCA)
}
