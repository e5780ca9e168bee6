// Dbbak - MySQL Point-in-Time Backup and Recovery CLI
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dbbak

// Package layout maps monthly series buckets to their on-disk paths.
//
// All persisted state lives under a single backup root:
//
//	/backup_root
//	├─ series/
//	│  ├─ YYYY-MM/
//	│  │  ├─ base/
//	│  │  │  ├─ raw/
//	│  │  │  ├─ xtrabackup_binlog_info
//	│  │  │  └─ meta.json
//	│  │  ├─ incr/
//	│  │  │  └─ <YYYY-MM-DDThh-mmZ>/raw/
//	│  │  └─ manifest.json
//	└─ binlogs/
//	   └─ YYYY-MM/
//	      ├─ mysql-bin.000001.gz
//	      └─ index.json
//
// The package is pure path construction: no I/O, deterministic for any
// validated bucket and stamp string.
package layout

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"
)

const (
	// BucketFormat is the time layout for a monthly series bucket.
	BucketFormat = "2006-01"

	// StampFormat is the time layout for backup timestamps. Minute
	// precision with a literal Z suffix; no timezone offsets.
	StampFormat = "2006-01-02T15-04Z"
)

var (
	bucketRe = regexp.MustCompile(`^\d{4}-\d{2}$`)
	stampRe  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}-\d{2}Z$`)
)

// Error reports a malformed bucket or timestamp string.
type Error struct {
	Value  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("layout: invalid %s %q", e.Reason, e.Value)
}

// ValidateBucket checks that s is a well-formed YYYY-MM bucket.
func ValidateBucket(s string) error {
	if !bucketRe.MatchString(s) {
		return &Error{Value: s, Reason: "bucket"}
	}
	if _, err := time.Parse(BucketFormat, s); err != nil {
		return &Error{Value: s, Reason: "bucket"}
	}
	return nil
}

// ValidateStamp checks that s is a well-formed backup timestamp.
func ValidateStamp(s string) error {
	if !stampRe.MatchString(s) {
		return &Error{Value: s, Reason: "timestamp"}
	}
	if _, err := time.Parse(StampFormat, s); err != nil {
		return &Error{Value: s, Reason: "timestamp"}
	}
	return nil
}

// BucketOf returns the bucket that instant t belongs to (UTC month).
func BucketOf(t time.Time) string {
	return t.UTC().Format(BucketFormat)
}

// StampOf formats instant t as a backup timestamp (UTC, minute precision).
func StampOf(t time.Time) string {
	return t.UTC().Format(StampFormat)
}

// ParseStamp parses a backup timestamp into a UTC instant.
func ParseStamp(s string) (time.Time, error) {
	if err := ValidateStamp(s); err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(StampFormat, s)
	if err != nil {
		return time.Time{}, &Error{Value: s, Reason: "timestamp"}
	}
	return t.UTC(), nil
}

// NextBucket returns the bucket for the calendar month following b.
// b must be a validated bucket string.
func NextBucket(b string) (string, error) {
	t, err := time.Parse(BucketFormat, b)
	if err != nil {
		return "", &Error{Value: b, Reason: "bucket"}
	}
	return t.AddDate(0, 1, 0).Format(BucketFormat), nil
}

// FloorToMinutes floors t to the nearest lower multiple of the given
// minute granularity within its hour. Already-aligned instants are
// unchanged; a granularity of zero or less disables flooring.
func FloorToMinutes(t time.Time, minutes int) time.Time {
	if minutes <= 0 {
		return t
	}
	t = t.UTC()
	m := (t.Minute() / minutes) * minutes
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), m, 0, 0, time.UTC)
}

// Layout resolves series and binlog paths under a backup root.
type Layout struct {
	Root string
}

// New returns a Layout rooted at root.
func New(root string) Layout {
	return Layout{Root: root}
}

// SeriesRoot is the directory holding all monthly series.
func (l Layout) SeriesRoot() string {
	return filepath.Join(l.Root, "series")
}

// BinlogRoot is the directory holding all monthly binlog archives.
func (l Layout) BinlogRoot() string {
	return filepath.Join(l.Root, "binlogs")
}

// SeriesDir is the directory for one monthly series.
func (l Layout) SeriesDir(bucket string) string {
	return filepath.Join(l.SeriesRoot(), bucket)
}

// BaseRaw is the raw storage directory of the bucket's full backup.
func (l Layout) BaseRaw(bucket string) string {
	return filepath.Join(l.SeriesDir(bucket), "base", "raw")
}

// BaseMeta is the metadata file of the bucket's full backup.
func (l Layout) BaseMeta(bucket string) string {
	return filepath.Join(l.SeriesDir(bucket), "base", "meta.json")
}

// BaseBinlogInfo is the recovery position marker emitted by the full
// backup (xtrabackup_binlog_info sidecar).
func (l Layout) BaseBinlogInfo(bucket string) string {
	return filepath.Join(l.SeriesDir(bucket), "base", "xtrabackup_binlog_info")
}

// IncrDir is the directory holding all incrementals of the bucket.
func (l Layout) IncrDir(bucket string) string {
	return filepath.Join(l.SeriesDir(bucket), "incr")
}

// IncrRaw is the raw storage directory of one incremental backup.
func (l Layout) IncrRaw(bucket, stamp string) string {
	return filepath.Join(l.IncrDir(bucket), stamp, "raw")
}

// IncrMeta is the metadata file of one incremental backup.
func (l Layout) IncrMeta(bucket, stamp string) string {
	return filepath.Join(l.IncrDir(bucket), stamp, "meta.json")
}

// Manifest is the chain manifest file of the bucket.
func (l Layout) Manifest(bucket string) string {
	return filepath.Join(l.SeriesDir(bucket), "manifest.json")
}

// BinlogMonth is the directory holding one month's archived binlogs.
func (l Layout) BinlogMonth(bucket string) string {
	return filepath.Join(l.BinlogRoot(), bucket)
}

// BinlogIndex is the archive index file of one binlog month.
func (l Layout) BinlogIndex(bucket string) string {
	return filepath.Join(l.BinlogMonth(bucket), "index.json")
}
