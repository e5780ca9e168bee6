// Dbbak - MySQL Point-in-Time Backup and Recovery CLI
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dbbak

package binlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/tomtom215/dbbak/internal/fsutil"
	"github.com/tomtom215/dbbak/internal/layout"
	"github.com/tomtom215/dbbak/internal/logging"
	"github.com/tomtom215/dbbak/internal/runner"
)

var (
	// segmentNameRe matches rotated binlog files (numeric suffix),
	// skipping the .index file the server keeps alongside them.
	segmentNameRe = regexp.MustCompile(`\.\d+$`)

	// timestampRe extracts the epoch seconds mysqlbinlog embeds in its
	// decoded statement stream.
	timestampRe = regexp.MustCompile(`SET TIMESTAMP=(\d+)`)
)

// ShipError reports a failure archiving or indexing one segment. It is
// logged as a warning by Ship; other segments in the run are unaffected.
type ShipError struct {
	File string
	Err  error
}

func (e *ShipError) Error() string {
	return fmt.Sprintf("ship %s: %v", e.File, e.Err)
}

func (e *ShipError) Unwrap() error { return e.Err }

// ShipperOptions carries the tool paths and source location the shipper
// needs. Values come from configuration at construction; there is no
// process-wide state.
type ShipperOptions struct {
	// SourceDir is where the database server writes its binlogs.
	SourceDir string

	// MysqlbinlogPath is the log tool used for checksum verification and
	// event-time extraction.
	MysqlbinlogPath string

	// MysqlClientPath and ClientArgs are used for FLUSH BINARY LOGS.
	MysqlClientPath string
	ClientArgs      []string

	// CompressLevel is the gzip level for archived segments (1-9).
	CompressLevel int
}

// Shipper archives newly discovered binlog segments into a bucket and
// keeps the bucket's index accurate.
type Shipper struct {
	opts ShipperOptions
	lay  layout.Layout
	idx  *IndexStore
	run  runner.Interface
}

// NewShipper returns a Shipper writing through the given index store.
func NewShipper(opts ShipperOptions, lay layout.Layout, idx *IndexStore, run runner.Interface) *Shipper {
	return &Shipper{opts: opts, lay: lay, idx: idx, run: run}
}

// Ship archives every source segment not yet present in the destination
// bucket. The bucket is the shipping month, resolved once by the caller,
// so a run never straddles a month rollover mid-execution.
//
// Per-segment failures are logged as warnings and do not abort the run.
// Re-running is idempotent: an already-archived segment skips
// recompression but is still re-verified and re-windowed, so a previously
// incomplete index converges.
func (s *Shipper) Ship(ctx context.Context, bucket string, flushFirst bool) error {
	if err := layout.ValidateBucket(bucket); err != nil {
		return err
	}
	if s.opts.SourceDir == "" {
		logging.Info().Msg("binlog_source_dir not configured; nothing to ship")
		return nil
	}

	if flushFirst {
		flush := runner.Command{
			Path: s.opts.MysqlClientPath,
			Args: append(append([]string{}, s.opts.ClientArgs...), "-e", "FLUSH BINARY LOGS"),
		}
		if err := s.run.Run(ctx, flush); err != nil {
			return fmt.Errorf("flush binary logs: %w", err)
		}
	}

	segments, err := s.discover()
	if err != nil {
		return err
	}

	destDir := s.lay.BinlogMonth(bucket)
	if err := s.run.Do("mkdir -p "+destDir, func() error {
		return fsutil.EnsureDir(destDir)
	}); err != nil {
		return err
	}

	shipped := 0
	for _, name := range segments {
		if err := s.shipOne(ctx, bucket, name); err != nil {
			logging.Warn().Err(err).Str("segment", name).Msg("segment shipping failed; continuing")
			continue
		}
		shipped++
	}

	logging.Info().
		Int("segments", shipped).
		Str("bucket", bucket).
		Msg("binlog shipping complete")
	return nil
}

// discover lists rotated binlog files in the source directory, in name
// (= rotation) order.
func (s *Shipper) discover() ([]string, error) {
	dirents, err := os.ReadDir(s.opts.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("read binlog source dir: %w", err)
	}
	var names []string
	for _, d := range dirents {
		if d.Type().IsRegular() && segmentNameRe.MatchString(d.Name()) {
			names = append(names, d.Name())
		}
	}
	return names, nil
}

func (s *Shipper) shipOne(ctx context.Context, bucket, name string) error {
	src := filepath.Join(s.opts.SourceDir, name)
	gzName := name + ".gz"
	dst := filepath.Join(s.lay.BinlogMonth(bucket), gzName)

	if !fsutil.FileExists(dst) {
		err := s.run.Do(fmt.Sprintf("gzip_copy %s -> %s", src, dst), func() error {
			return s.compress(src, dst)
		})
		if err != nil {
			return &ShipError{File: name, Err: err}
		}
	}

	// Verification failure indicates risk, not certain corruption; the
	// segment may still be usable, so shipping continues.
	verify := runner.Command{
		Path: s.opts.MysqlbinlogPath,
		Args: []string{"--verify-binlog-checksum", src},
	}
	if err := s.run.Run(ctx, verify); err != nil {
		logging.Warn().Err(err).Str("segment", name).Msg("checksum verification failed")
	}

	first, last := s.eventWindow(ctx, src)

	info, err := os.Stat(src)
	if err != nil {
		return &ShipError{File: name, Err: err}
	}

	sha := ""
	if fsutil.FileExists(dst) {
		sha, err = fsutil.Sha256File(dst)
		if err != nil {
			return &ShipError{File: name, Err: err}
		}
	}

	entry := Entry{
		File:           gzName,
		Size:           info.Size(),
		SHA256:         sha,
		FirstEventTime: first,
		LastEventTime:  last,
	}
	if err := s.idx.Upsert(bucket, entry); err != nil {
		return &ShipError{File: name, Err: err}
	}
	return nil
}

// compress writes the gzip-compressed source to dst via a temp file so a
// crashed run never leaves a truncated archive behind.
func (s *Shipper) compress(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // G304: src comes from the configured source dir
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck // Read-only file

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	level := s.opts.CompressLevel
	if level == 0 {
		level = gzip.DefaultCompression
	}
	gw, err := gzip.NewWriterLevel(tmp, level)
	if err != nil {
		tmp.Close()        //nolint:errcheck // Best effort cleanup on error
		os.Remove(tmpName) //nolint:errcheck // Best effort cleanup on error
		return err
	}
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()         //nolint:errcheck // Best effort cleanup on error
		tmp.Close()        //nolint:errcheck // Best effort cleanup on error
		os.Remove(tmpName) //nolint:errcheck // Best effort cleanup on error
		return err
	}
	if err := gw.Close(); err != nil {
		tmp.Close()        //nolint:errcheck // Best effort cleanup on error
		os.Remove(tmpName) //nolint:errcheck // Best effort cleanup on error
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck // Best effort cleanup on error
		return err
	}
	return os.Rename(tmpName, dst)
}

// eventWindow extracts the segment's first and last event times from the
// log tool's decoded output. If the tool cannot run (dry-run included) or
// yields no timestamps, the segment's mtime serves as a degraded but
// always-available signal for both bounds.
func (s *Shipper) eventWindow(ctx context.Context, src string) (first, last string) {
	decode := runner.Command{
		Path: s.opts.MysqlbinlogPath,
		Args: []string{"--base64-output=DECODE-ROWS", "--verbose", src},
	}

	err := s.run.Stream(ctx, decode, func(line string) {
		m := timestampRe.FindStringSubmatch(line)
		if m == nil {
			return
		}
		epoch, convErr := strconv.ParseInt(m[1], 10, 64)
		if convErr != nil {
			return
		}
		t := time.Unix(epoch, 0).UTC().Format(EventTimeFormat)
		if first == "" {
			first = t
		}
		last = t
	})
	if err != nil || first == "" {
		if err != nil && !errors.Is(err, runner.ErrDryRun) {
			logging.Warn().Err(err).Str("segment", src).Msg("event-time extraction failed; using mtime")
		}
		return mtimeWindow(src)
	}
	return first, last
}

func mtimeWindow(src string) (first, last string) {
	info, err := os.Stat(src)
	if err != nil {
		now := time.Now().UTC().Format(EventTimeFormat)
		return now, now
	}
	ts := info.ModTime().UTC().Format(EventTimeFormat)
	return ts, ts
}
