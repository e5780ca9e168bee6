// Dbbak - MySQL Point-in-Time Backup and Recovery CLI
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dbbak

package restore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/dbbak/internal/binlog"
	"github.com/tomtom215/dbbak/internal/chain"
	"github.com/tomtom215/dbbak/internal/fsutil"
	"github.com/tomtom215/dbbak/internal/layout"
	"github.com/tomtom215/dbbak/internal/runner"
)

const (
	planBucket = "2025-10"

	stampFull  = "2025-10-01T02-00Z"
	stampIncr1 = "2025-10-05T02-00Z"
	stampIncr2 = "2025-10-12T02-00Z"
	stampIncr3 = "2025-10-19T02-00Z"
)

type plannerFixture struct {
	planner *Planner
	chains  *chain.Store
	index   *binlog.IndexStore
	lay     layout.Layout
}

// newPlannerFixture builds a populated October 2025 series: a full backup,
// three weekly incrementals, a position marker, and archived segments in
// both October and November.
func newPlannerFixture(t *testing.T) *plannerFixture {
	t.Helper()
	run := runner.New(true)
	lay := layout.New(t.TempDir())
	chains := chain.NewStore(lay, run)
	index := binlog.NewIndexStore(lay, run)

	if err := fsutil.EnsureDir(lay.BaseRaw(planBucket)); err != nil {
		t.Fatal(err)
	}
	full := chain.Record{Kind: chain.KindFull, CreatedAt: stampFull, Bucket: planBucket}
	if err := chains.RecordFull(planBucket, full); err != nil {
		t.Fatal(err)
	}
	for _, stamp := range []string{stampIncr1, stampIncr2, stampIncr3} {
		rec := chain.Record{Kind: chain.KindIncremental, CreatedAt: stamp, Bucket: planBucket}
		if err := chains.RecordIncremental(planBucket, rec); err != nil {
			t.Fatal(err)
		}
	}

	marker := "mysql-bin.000005\t1240\n"
	if err := os.WriteFile(lay.BaseBinlogInfo(planBucket), []byte(marker), 0o600); err != nil {
		t.Fatal(err)
	}

	nextBucket, err := layout.NextBucket(planBucket)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range []string{planBucket, nextBucket} {
		if err := index.InitBucket(b); err != nil {
			t.Fatal(err)
		}
	}
	seed := []struct {
		bucket string
		entry  binlog.Entry
	}{
		{planBucket, binlog.Entry{File: "mysql-bin.000005.gz", FirstEventTime: "2025-10-01 02:00:00", LastEventTime: "2025-10-10 00:00:00"}},
		{planBucket, binlog.Entry{File: "mysql-bin.000006.gz", FirstEventTime: "2025-10-14 00:00:00", LastEventTime: "2025-10-18 00:00:00"}},
		{planBucket, binlog.Entry{File: "mysql-bin.000007.gz", FirstEventTime: "2025-10-20 00:00:00", LastEventTime: "2025-10-25 00:00:00"}},
		{nextBucket, binlog.Entry{File: "mysql-bin.000008.gz", FirstEventTime: "2025-11-01 00:00:00", LastEventTime: "2025-11-02 00:00:00"}},
		{nextBucket, binlog.Entry{File: "mysql-bin.000009.gz", FirstEventTime: "", LastEventTime: ""}},
	}
	for _, s := range seed {
		if err := index.Upsert(s.bucket, s.entry); err != nil {
			t.Fatal(err)
		}
	}

	return &plannerFixture{
		planner: NewPlanner(lay, chains, index, 15),
		chains:  chains,
		index:   index,
		lay:     lay,
	}
}

func mustStamp(t *testing.T, stamp string) time.Time {
	t.Helper()
	ts, err := layout.ParseStamp(stamp)
	if err != nil {
		t.Fatal(err)
	}
	return ts
}

func incStamps(incs []chain.Record) []string {
	out := make([]string, len(incs))
	for i, rec := range incs {
		out[i] = rec.CreatedAt
	}
	return out
}

func TestPlanTargetAtIncrementalNeedsNoReplay(t *testing.T) {
	fx := newPlannerFixture(t)

	plan, err := fx.planner.Plan(mustStamp(t, stampIncr2))
	if err != nil {
		t.Fatalf("Plan error = %v", err)
	}

	want := []string{stampIncr1, stampIncr2}
	got := incStamps(plan.Incrementals)
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("incrementals = %v, want %v", got, want)
	}
	if plan.NeedReplay {
		t.Error("NeedReplay = true for a target sitting exactly on an incremental")
	}
	if plan.Marker != nil {
		t.Errorf("Marker = %+v, want nil when replay is not needed", plan.Marker)
	}
	if len(plan.Segments) != 0 {
		t.Errorf("Segments = %v, want none", plan.Segments)
	}
}

func TestPlanTargetBetweenIncrementalsReplays(t *testing.T) {
	fx := newPlannerFixture(t)

	// 2025-10-15 14:37 floors to 14:30 at quarter-hour granularity.
	target := time.Date(2025, 10, 15, 14, 37, 0, 0, time.UTC)
	plan, err := fx.planner.Plan(target)
	if err != nil {
		t.Fatalf("Plan error = %v", err)
	}

	wantTarget := time.Date(2025, 10, 15, 14, 30, 0, 0, time.UTC)
	if !plan.Target.Equal(wantTarget) {
		t.Errorf("Target = %v, want floored %v", plan.Target, wantTarget)
	}
	if !plan.StopAt.Equal(wantTarget) {
		t.Errorf("StopAt = %v, want %v", plan.StopAt, wantTarget)
	}

	want := []string{stampIncr1, stampIncr2}
	got := incStamps(plan.Incrementals)
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("incrementals = %v, want %v", got, want)
	}

	if !plan.NeedReplay {
		t.Fatal("NeedReplay = false for a target past the last selected incremental")
	}
	if plan.Marker == nil || plan.Marker.Mode != chain.ModePosition {
		t.Errorf("Marker = %+v, want position marker", plan.Marker)
	}

	// 000005 and 000006 start before the stop instant; 000007 and 000008
	// start after it. 000009 has no parsable window and is kept.
	wantSegs := []string{
		filepath.Join(fx.lay.BinlogMonth(planBucket), "mysql-bin.000005.gz"),
		filepath.Join(fx.lay.BinlogMonth(planBucket), "mysql-bin.000006.gz"),
		filepath.Join(fx.lay.BinlogMonth("2025-11"), "mysql-bin.000009.gz"),
	}
	if len(plan.Segments) != len(wantSegs) {
		t.Fatalf("Segments = %v, want %v", plan.Segments, wantSegs)
	}
	for i := range wantSegs {
		if plan.Segments[i] != wantSegs[i] {
			t.Errorf("segment %d = %s, want %s", i, plan.Segments[i], wantSegs[i])
		}
	}
}

func TestPlanTargetBeforeFirstIncremental(t *testing.T) {
	fx := newPlannerFixture(t)

	target := time.Date(2025, 10, 3, 12, 0, 0, 0, time.UTC)
	plan, err := fx.planner.Plan(target)
	if err != nil {
		t.Fatalf("Plan error = %v", err)
	}
	if len(plan.Incrementals) != 0 {
		t.Errorf("incrementals = %v, want none", incStamps(plan.Incrementals))
	}
	if !plan.NeedReplay {
		t.Error("NeedReplay = false with no incremental selected")
	}
	if plan.Full.CreatedAt != stampFull {
		t.Errorf("Full = %s, want %s", plan.Full.CreatedAt, stampFull)
	}
	if plan.BaseRaw != fx.lay.BaseRaw(planBucket) {
		t.Errorf("BaseRaw = %s", plan.BaseRaw)
	}
}

func TestPlanTargetPredatesFullBackup(t *testing.T) {
	fx := newPlannerFixture(t)

	target := time.Date(2025, 10, 1, 1, 0, 0, 0, time.UTC)
	_, err := fx.planner.Plan(target)
	var perr *PlanError
	if !errors.As(err, &perr) {
		t.Fatalf("Plan error = %v, want *PlanError", err)
	}
}

func TestPlanNoFullBackup(t *testing.T) {
	fx := newPlannerFixture(t)

	target := time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC)
	_, err := fx.planner.Plan(target)
	var perr *PlanError
	if !errors.As(err, &perr) {
		t.Fatalf("Plan error = %v, want *PlanError", err)
	}
}

func TestPlanMissingMarkerFailsReplay(t *testing.T) {
	fx := newPlannerFixture(t)
	if err := os.Remove(fx.lay.BaseBinlogInfo(planBucket)); err != nil {
		t.Fatal(err)
	}

	// Replay required, marker gone: planning must fail before execution.
	target := time.Date(2025, 10, 15, 14, 30, 0, 0, time.UTC)
	_, err := fx.planner.Plan(target)
	var perr *PlanError
	if !errors.As(err, &perr) {
		t.Fatalf("Plan error = %v, want *PlanError", err)
	}

	// A target covered by an incremental never consults the marker.
	if _, err := fx.planner.Plan(mustStamp(t, stampIncr2)); err != nil {
		t.Errorf("Plan(covered target) error = %v", err)
	}
}

func TestPlanGTIDMarker(t *testing.T) {
	fx := newPlannerFixture(t)
	gtid := "mysql-bin.000005\t1240\t3e11fa47-71ca-11e1-9e33-c80aa9429562:1-5\n"
	if err := os.WriteFile(fx.lay.BaseBinlogInfo(planBucket), []byte(gtid), 0o600); err != nil {
		t.Fatal(err)
	}

	target := time.Date(2025, 10, 15, 14, 30, 0, 0, time.UTC)
	plan, err := fx.planner.Plan(target)
	if err != nil {
		t.Fatalf("Plan error = %v", err)
	}
	if plan.Marker == nil || plan.Marker.Mode != chain.ModeGTID {
		t.Fatalf("Marker = %+v, want GTID mode", plan.Marker)
	}
	if plan.Marker.GTIDSet != "3e11fa47-71ca-11e1-9e33-c80aa9429562:1-5" {
		t.Errorf("GTIDSet = %q", plan.Marker.GTIDSet)
	}
}
