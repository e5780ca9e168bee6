// Dbbak - MySQL Point-in-Time Backup and Recovery CLI
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dbbak

// Package chain tracks the full and incremental backups of each monthly
// series as an append-only dependency chain.
//
// The chain manifest (manifest.json) is the single source of truth for
// what backups exist in a bucket and in what order. It is mutated only by
// appending a record after a successful backup, and every write goes
// through an atomic temp-file-then-rename replace.
//
// Invariants enforced here:
//   - at most one full backup per bucket, created before any incremental
//     (presence of the base metadata file is the guard);
//   - incrementals are ordered by their minute-precision creation stamp,
//     which doubles as the natural dedup key.
//
// The package also owns parsing of the recovery position marker the full
// backup leaves behind (xtrabackup_binlog_info), which bounds log replay
// during point-in-time recovery.
package chain

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/tomtom215/dbbak/internal/fsutil"
	"github.com/tomtom215/dbbak/internal/layout"
	"github.com/tomtom215/dbbak/internal/runner"
)

// Kind identifies the backup kind in a chain record.
type Kind string

const (
	// KindFull is a complete physical snapshot of the database files.
	KindFull Kind = "full"

	// KindIncremental is a block-level delta against the bucket's chain.
	KindIncremental Kind = "incr"
)

// Record is one backup in a bucket's chain. Immutable once appended.
type Record struct {
	Kind      Kind   `json:"kind"`
	CreatedAt string `json:"created_at"`
	Bucket    string `json:"bucket"`
}

// Time returns the record's creation instant.
func (r Record) Time() (time.Time, error) {
	return layout.ParseStamp(r.CreatedAt)
}

// Error reports a violated chain invariant.
type Error struct {
	Bucket string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("chain %s: %s", e.Bucket, e.Reason)
}

// Store persists chain manifests and per-backup metadata under a layout.
// Writes are gated by the runner's dry-run switch; reads always execute.
type Store struct {
	lay layout.Layout
	run runner.Interface
}

// NewStore returns a Store over the given layout.
func NewStore(lay layout.Layout, run runner.Interface) *Store {
	return &Store{lay: lay, run: run}
}

// HasFull reports whether the bucket already has a full backup recorded.
func (s *Store) HasFull(bucket string) bool {
	return fsutil.FileExists(s.lay.BaseMeta(bucket))
}

// Full returns the bucket's full backup record, or ok=false if none.
func (s *Store) Full(bucket string) (Record, bool, error) {
	var rec Record
	ok, err := fsutil.ReadJSON(s.lay.BaseMeta(bucket), &rec)
	if err != nil {
		return Record{}, false, err
	}
	return rec, ok, nil
}

// RecordFull appends the bucket's full backup to the chain. It fails if
// the bucket already has a full backup.
func (s *Store) RecordFull(bucket string, rec Record) error {
	if err := layout.ValidateBucket(bucket); err != nil {
		return err
	}
	if err := layout.ValidateStamp(rec.CreatedAt); err != nil {
		return err
	}
	if s.HasFull(bucket) {
		return &Error{Bucket: bucket, Reason: "full backup already recorded"}
	}

	meta := s.lay.BaseMeta(bucket)
	if err := s.run.Do("write "+meta, func() error {
		if err := fsutil.EnsureDir(filepath.Dir(meta)); err != nil {
			return err
		}
		return fsutil.WriteJSONAtomic(meta, rec)
	}); err != nil {
		return err
	}
	return s.appendManifest(bucket, rec)
}

// RecordIncremental appends an incremental backup to the chain. It fails
// if the bucket has no full backup yet.
func (s *Store) RecordIncremental(bucket string, rec Record) error {
	if err := layout.ValidateBucket(bucket); err != nil {
		return err
	}
	if err := layout.ValidateStamp(rec.CreatedAt); err != nil {
		return err
	}
	if !s.HasFull(bucket) {
		return &Error{Bucket: bucket, Reason: "no full backup yet; run backup-full first"}
	}

	meta := s.lay.IncrMeta(bucket, rec.CreatedAt)
	if err := s.run.Do("write "+meta, func() error {
		if err := fsutil.EnsureDir(filepath.Dir(meta)); err != nil {
			return err
		}
		return fsutil.WriteJSONAtomic(meta, rec)
	}); err != nil {
		return err
	}
	return s.appendManifest(bucket, rec)
}

// ListChain returns the bucket's manifest in recorded order, or an empty
// slice for an unknown bucket.
func (s *Store) ListChain(bucket string) ([]Record, error) {
	var records []Record
	if _, err := fsutil.ReadJSON(s.lay.Manifest(bucket), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// InitBucket bootstraps an empty manifest for the bucket if none exists.
func (s *Store) InitBucket(bucket string) error {
	manifest := s.lay.Manifest(bucket)
	if fsutil.FileExists(manifest) {
		return nil
	}
	return s.run.Do("write "+manifest, func() error {
		if err := fsutil.EnsureDir(s.lay.SeriesDir(bucket)); err != nil {
			return err
		}
		return fsutil.WriteJSONAtomic(manifest, []Record{})
	})
}

func (s *Store) appendManifest(bucket string, rec Record) error {
	records, err := s.ListChain(bucket)
	if err != nil {
		return err
	}
	records = append(records, rec)

	manifest := s.lay.Manifest(bucket)
	return s.run.Do("append "+manifest, func() error {
		return fsutil.WriteJSONAtomic(manifest, records)
	})
}
