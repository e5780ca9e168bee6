// Dbbak - MySQL Point-in-Time Backup and Recovery CLI
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dbbak

// Package binlog archives the database's binary logs into monthly buckets
// and maintains a per-bucket index of the archived segments.
//
// Segments are archived under the shipping month (current UTC month at
// ship time), while each index entry carries the segment's own first and
// last event times extracted from its content. Entries are unique by
// archived filename and kept sorted by it; log rotation guarantees
// lexicographically monotonic names, so filename order equals
// chronological order without parsing any segment content.
package binlog

import (
	"fmt"
	"sort"
	"time"

	"github.com/tomtom215/dbbak/internal/fsutil"
	"github.com/tomtom215/dbbak/internal/layout"
	"github.com/tomtom215/dbbak/internal/runner"
)

// EventTimeFormat is the layout of first/last event times in the index.
const EventTimeFormat = "2006-01-02 15:04:05"

// Entry is one archived binlog segment in a bucket's index.
type Entry struct {
	// File is the archived (compressed) filename, e.g. mysql-bin.000001.gz.
	File string `json:"file"`

	// Size is the original (uncompressed) segment size in bytes.
	Size int64 `json:"size"`

	// SHA256 is the checksum of the archived artifact. Empty in dry-run,
	// where no artifact is written.
	SHA256 string `json:"sha256"`

	// FirstEventTime and LastEventTime bound the events the segment
	// contains, derived from the segment's own timestamps.
	FirstEventTime string `json:"first_event_time"`
	LastEventTime  string `json:"last_event_time"`
}

// FirstEvent parses the entry's first event time.
func (e Entry) FirstEvent() (time.Time, error) {
	return time.ParseInLocation(EventTimeFormat, e.FirstEventTime, time.UTC)
}

// index is the persisted shape of a bucket's archive index.
type index struct {
	Files []Entry `json:"files"`
}

// IndexStore persists per-bucket archive indexes under a layout.
// Writes are gated by the runner's dry-run switch; reads always execute.
type IndexStore struct {
	lay layout.Layout
	run runner.Interface
}

// NewIndexStore returns an IndexStore over the given layout.
func NewIndexStore(lay layout.Layout, run runner.Interface) *IndexStore {
	return &IndexStore{lay: lay, run: run}
}

// Load returns the bucket's index entries in filename order, or an empty
// slice for an unknown bucket.
func (s *IndexStore) Load(bucket string) ([]Entry, error) {
	var idx index
	if _, err := fsutil.ReadJSON(s.lay.BinlogIndex(bucket), &idx); err != nil {
		return nil, err
	}
	return idx.Files, nil
}

// Upsert replaces any existing entry with the same filename, re-sorts by
// filename, and persists the index atomically.
func (s *IndexStore) Upsert(bucket string, e Entry) error {
	if err := layout.ValidateBucket(bucket); err != nil {
		return err
	}

	entries, err := s.Load(bucket)
	if err != nil {
		return err
	}

	kept := make([]Entry, 0, len(entries)+1)
	for _, existing := range entries {
		if existing.File != e.File {
			kept = append(kept, existing)
		}
	}
	kept = append(kept, e)
	sort.Slice(kept, func(i, j int) bool { return kept[i].File < kept[j].File })

	path := s.lay.BinlogIndex(bucket)
	return s.run.Do(fmt.Sprintf("upsert %s into %s", e.File, path), func() error {
		return fsutil.WriteJSONAtomic(path, index{Files: kept})
	})
}

// Window returns the event window covered by the bucket's index: the
// first event time of the earliest entry and the last event time of the
// latest. ok is false for an empty or unknown bucket.
func (s *IndexStore) Window(bucket string) (first, last string, ok bool, err error) {
	entries, err := s.Load(bucket)
	if err != nil {
		return "", "", false, err
	}
	if len(entries) == 0 {
		return "", "", false, nil
	}
	return entries[0].FirstEventTime, entries[len(entries)-1].LastEventTime, true, nil
}

// InitBucket bootstraps an empty index for the bucket if none exists.
func (s *IndexStore) InitBucket(bucket string) error {
	path := s.lay.BinlogIndex(bucket)
	if fsutil.FileExists(path) {
		return nil
	}
	return s.run.Do("write "+path, func() error {
		if err := fsutil.EnsureDir(s.lay.BinlogMonth(bucket)); err != nil {
			return err
		}
		return fsutil.WriteJSONAtomic(path, index{Files: []Entry{}})
	})
}
