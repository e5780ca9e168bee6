// Dbbak - MySQL Point-in-Time Backup and Recovery CLI
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dbbak

package binlog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/dbbak/internal/fsutil"
	"github.com/tomtom215/dbbak/internal/layout"
	"github.com/tomtom215/dbbak/internal/runner"
)

// fakeRunner records invocations and lets tests script tool behavior.
// Side effects passed to Do run for real so state files land on disk.
type fakeRunner struct {
	runs []runner.Command
	dos  []string

	flushErr    error
	verifyErr   error
	streamLines []string
	streamErr   error
}

func (f *fakeRunner) Exec() bool { return true }

func (f *fakeRunner) Run(_ context.Context, c runner.Command) error {
	f.runs = append(f.runs, c)
	for _, a := range c.Args {
		if a == "FLUSH BINARY LOGS" {
			return f.flushErr
		}
		if a == "--verify-binlog-checksum" {
			return f.verifyErr
		}
	}
	return nil
}

func (f *fakeRunner) Stream(_ context.Context, c runner.Command, fn func(string)) error {
	f.runs = append(f.runs, c)
	if f.streamErr != nil {
		return f.streamErr
	}
	for _, line := range f.streamLines {
		fn(line)
	}
	return nil
}

func (f *fakeRunner) Pipe(_ context.Context, _ runner.Source, cmds ...runner.Command) error {
	f.runs = append(f.runs, cmds...)
	return nil
}

func (f *fakeRunner) Do(desc string, fn func() error) error {
	f.dos = append(f.dos, desc)
	return fn()
}

type shipperFixture struct {
	shipper *Shipper
	index   *IndexStore
	lay     layout.Layout
	run     *fakeRunner
	srcDir  string
}

func newShipperFixture(t *testing.T) *shipperFixture {
	t.Helper()
	run := &fakeRunner{}
	lay := layout.New(t.TempDir())
	idx := NewIndexStore(lay, run)
	srcDir := t.TempDir()

	shipper := NewShipper(ShipperOptions{
		SourceDir:       srcDir,
		MysqlbinlogPath: "mysqlbinlog",
		MysqlClientPath: "mysql",
		ClientArgs:      []string{"--host", "127.0.0.1"},
		CompressLevel:   6,
	}, lay, idx, run)

	return &shipperFixture{shipper: shipper, index: idx, lay: lay, run: run, srcDir: srcDir}
}

func (fx *shipperFixture) addSegment(t *testing.T, name string, content []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(fx.srcDir, name), content, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestShipArchivesAndIndexes(t *testing.T) {
	fx := newShipperFixture(t)
	fx.addSegment(t, "mysql-bin.000001", []byte("segment-one-bytes"))
	fx.addSegment(t, "mysql-bin.000002", []byte("segment-two"))

	firstEpoch := int64(1759761000)
	lastEpoch := int64(1759764600)
	fx.run.streamLines = []string{
		"SET TIMESTAMP=1759761000/*!*/;",
		"some statement",
		"SET TIMESTAMP=1759764600/*!*/;",
	}

	if err := fx.shipper.Ship(context.Background(), testBucket, false); err != nil {
		t.Fatalf("Ship error = %v", err)
	}

	entries, err := fx.index.Load(testBucket)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("indexed %d entries, want 2", len(entries))
	}

	e := entries[0]
	if e.File != "mysql-bin.000001.gz" {
		t.Errorf("entry file = %s, want mysql-bin.000001.gz", e.File)
	}
	if e.Size != int64(len("segment-one-bytes")) {
		t.Errorf("entry size = %d, want original segment size", e.Size)
	}
	if e.SHA256 == "" {
		t.Error("entry checksum empty after real compression")
	}
	wantFirst := time.Unix(firstEpoch, 0).UTC().Format(EventTimeFormat)
	wantLast := time.Unix(lastEpoch, 0).UTC().Format(EventTimeFormat)
	if e.FirstEventTime != wantFirst || e.LastEventTime != wantLast {
		t.Errorf("entry window = (%s, %s), want (%s, %s)", e.FirstEventTime, e.LastEventTime, wantFirst, wantLast)
	}

	if !fsutil.FileExists(filepath.Join(fx.lay.BinlogMonth(testBucket), "mysql-bin.000001.gz")) {
		t.Error("archived artifact missing")
	}
}

func TestShipSkipsAlreadyArchived(t *testing.T) {
	fx := newShipperFixture(t)
	fx.addSegment(t, "mysql-bin.000001", []byte("bytes"))

	if err := fx.shipper.Ship(context.Background(), testBucket, false); err != nil {
		t.Fatal(err)
	}

	fx.run.dos = nil
	if err := fx.shipper.Ship(context.Background(), testBucket, false); err != nil {
		t.Fatal(err)
	}
	for _, desc := range fx.run.dos {
		if strings.HasPrefix(desc, "gzip_copy") {
			t.Errorf("second run recompressed: %s", desc)
		}
	}

	// The index still converges on re-runs.
	entries, err := fx.index.Load(testBucket)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("indexed %d entries after re-run, want 1", len(entries))
	}
}

func TestShipVerificationFailureContinues(t *testing.T) {
	fx := newShipperFixture(t)
	fx.addSegment(t, "mysql-bin.000001", []byte("bytes"))
	fx.run.verifyErr = errors.New("checksum mismatch")

	if err := fx.shipper.Ship(context.Background(), testBucket, false); err != nil {
		t.Fatalf("Ship error = %v", err)
	}

	entries, err := fx.index.Load(testBucket)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("suspect segment not indexed: %d entries", len(entries))
	}
}

func TestShipFallsBackToMtimeWindow(t *testing.T) {
	fx := newShipperFixture(t)
	fx.addSegment(t, "mysql-bin.000001", []byte("bytes"))
	fx.run.streamErr = runner.ErrDryRun

	mtime := time.Date(2025, 10, 6, 12, 0, 0, 0, time.UTC)
	src := filepath.Join(fx.srcDir, "mysql-bin.000001")
	if err := os.Chtimes(src, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	if err := fx.shipper.Ship(context.Background(), testBucket, false); err != nil {
		t.Fatal(err)
	}

	entries, err := fx.index.Load(testBucket)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("indexed %d entries, want 1", len(entries))
	}
	want := mtime.Format(EventTimeFormat)
	if entries[0].FirstEventTime != want || entries[0].LastEventTime != want {
		t.Errorf("fallback window = (%s, %s), want both %s",
			entries[0].FirstEventTime, entries[0].LastEventTime, want)
	}
}

func TestShipFlushFirst(t *testing.T) {
	fx := newShipperFixture(t)
	if err := fx.shipper.Ship(context.Background(), testBucket, true); err != nil {
		t.Fatalf("Ship error = %v", err)
	}

	found := false
	for _, c := range fx.run.runs {
		for _, a := range c.Args {
			if a == "FLUSH BINARY LOGS" {
				found = true
			}
		}
	}
	if !found {
		t.Error("flush-first run never issued FLUSH BINARY LOGS")
	}
}

func TestShipFlushFailureIsFatal(t *testing.T) {
	fx := newShipperFixture(t)
	fx.addSegment(t, "mysql-bin.000001", []byte("bytes"))
	fx.run.flushErr = errors.New("server gone")

	if err := fx.shipper.Ship(context.Background(), testBucket, true); err == nil {
		t.Fatal("Ship expected flush error, got nil")
	}

	// Nothing shipped after the fatal flush.
	entries, err := fx.index.Load(testBucket)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("segments shipped despite flush failure: %v", entries)
	}
}

func TestShipIgnoresNonSegmentFiles(t *testing.T) {
	fx := newShipperFixture(t)
	fx.addSegment(t, "mysql-bin.000001", []byte("bytes"))
	fx.addSegment(t, "mysql-bin.index", []byte("mysql-bin.000001\n"))
	fx.addSegment(t, "ib_logfile0", []byte("redo"))

	if err := fx.shipper.Ship(context.Background(), testBucket, false); err != nil {
		t.Fatal(err)
	}

	entries, err := fx.index.Load(testBucket)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].File != "mysql-bin.000001.gz" {
		t.Errorf("indexed entries = %+v, want just mysql-bin.000001.gz", entries)
	}
}

func TestShipUnconfiguredSourceIsNoop(t *testing.T) {
	run := &fakeRunner{}
	lay := layout.New(t.TempDir())
	shipper := NewShipper(ShipperOptions{}, lay, NewIndexStore(lay, run), run)

	if err := shipper.Ship(context.Background(), testBucket, false); err != nil {
		t.Fatalf("Ship error = %v", err)
	}
	if len(run.runs) != 0 || len(run.dos) != 0 {
		t.Error("unconfigured source still touched the runner")
	}
}

func TestShipValidatesBucket(t *testing.T) {
	fx := newShipperFixture(t)
	var lerr *layout.Error
	if err := fx.shipper.Ship(context.Background(), "2025-13", false); !errors.As(err, &lerr) {
		t.Errorf("Ship(bad bucket) error = %v, want *layout.Error", err)
	}
}
