// Dbbak - MySQL Point-in-Time Backup and Recovery CLI
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dbbak

package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where a config file is searched, in priority
// order. The first file found wins.
var DefaultConfigPaths = []string{
	"~/.dbbak.yaml",
	"~/.dbbak.yml",
	"/etc/dbbak/config.yaml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "DBBAK_CONFIG"

// envPrefix namespaces the environment variable layer.
const envPrefix = "DBBAK_"

// Load builds the configuration from layered sources:
//  1. Built-in defaults
//  2. YAML config file (explicitPath, or the first default path found)
//  3. DBBAK_-prefixed environment variables (highest priority)
//
// An explicitPath that does not exist is an error; a missing default
// path is not.
func Load(explicitPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, &Error{Reason: "load defaults", Err: err}
	}

	path := explicitPath
	if path == "" {
		path = findConfigFile()
	} else {
		path = expandHome(path)
		if _, err := os.Stat(path); err != nil {
			return nil, &Error{Reason: "config file " + path, Err: err}
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, &Error{Reason: "load config file " + path, Err: err}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, &Error{Reason: "load environment", Err: err}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, &Error{Reason: "unmarshal configuration", Err: err}
	}

	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		p := expandHome(envPath)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, path := range DefaultConfigPaths {
		p := expandHome(path)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransform maps environment variable names to koanf paths:
//
//	DBBAK_BACKUP_ROOT   -> backup_root
//	DBBAK_DB_HOST       -> db.host
//	DBBAK_LOGGING_LEVEL -> logging.level
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	switch {
	case strings.HasPrefix(s, "db_"):
		return "db." + strings.TrimPrefix(s, "db_")
	case strings.HasPrefix(s, "logging_"):
		return "logging." + strings.TrimPrefix(s, "logging_")
	default:
		return s
	}
}
