// Dbbak - MySQL Point-in-Time Backup and Recovery CLI
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dbbak

// Package restore turns a target instant into an executable recovery
// plan and drives the external tools that carry it out.
//
// A plan combines two recovery mechanisms with a principled cutover:
// physical deltas (the full backup plus ordered incrementals) cover
// discrete checkpoints, and binlog replay closes the gap between the last
// covered checkpoint and the arbitrary target instant. The recovery
// position marker written by the full backup is the boundary between the
// two: replay is bounded below by the marker (GTID exclusion set or
// file/offset start position) and above by the target instant.
package restore

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/tomtom215/dbbak/internal/binlog"
	"github.com/tomtom215/dbbak/internal/chain"
	"github.com/tomtom215/dbbak/internal/layout"
	"github.com/tomtom215/dbbak/internal/logging"
)

// PlanError reports why a restore target cannot be planned. Planning
// failures surface before any mutating action begins.
type PlanError struct {
	Bucket string
	Reason string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("plan %s: %s", e.Bucket, e.Reason)
}

// Plan is the computed recovery recipe for one target instant. It is
// ephemeral: computed, executed, never persisted.
type Plan struct {
	// Target is the (floored) restore instant.
	Target time.Time

	// Bucket is the monthly series the target falls in.
	Bucket string

	// Full is the bucket's full backup record; BaseRaw its storage dir.
	Full    chain.Record
	BaseRaw string

	// Incrementals are the deltas to fold in, ascending creation order.
	// Each is defined relative to the cumulative state of the prior ones.
	Incrementals []chain.Record

	// NeedReplay is true when the target lies beyond the last selected
	// incremental (or no incremental exists), so binlog replay must
	// close the remaining gap.
	NeedReplay bool

	// Marker bounds the replay start; nil when NeedReplay is false.
	Marker *chain.Marker

	// StopAt is the replay cutoff (= Target).
	StopAt time.Time

	// Segments are the archived binlog paths overlapping the replay
	// window, in filename (= chronological) order.
	Segments []string
}

// Planner resolves restore targets against the chain store and the
// binlog archive index.
type Planner struct {
	lay          layout.Layout
	chains       *chain.Store
	index        *binlog.IndexStore
	roundMinutes int
}

// NewPlanner returns a Planner. roundMinutes is the flooring granularity
// applied to every target so restores align to reproducible checkpoints.
func NewPlanner(lay layout.Layout, chains *chain.Store, index *binlog.IndexStore, roundMinutes int) *Planner {
	return &Planner{lay: lay, chains: chains, index: index, roundMinutes: roundMinutes}
}

// Plan computes the recovery recipe for the given target instant.
//
// A target earlier than the bucket's full backup fails: the chain cannot
// reach backwards, and silently restoring different data would be worse
// than telling the operator the earliest restorable instant.
func (p *Planner) Plan(target time.Time) (*Plan, error) {
	target = layout.FloorToMinutes(target.UTC(), p.roundMinutes)
	bucket := layout.BucketOf(target)

	full, ok, err := p.chains.Full(bucket)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &PlanError{Bucket: bucket, Reason: "no full backup"}
	}

	fullTime, err := full.Time()
	if err != nil {
		return nil, err
	}
	if target.Before(fullTime) {
		return nil, &PlanError{
			Bucket: bucket,
			Reason: fmt.Sprintf("target %s predates the full backup at %s", layout.StampOf(target), full.CreatedAt),
		}
	}

	incs, err := p.selectIncrementals(bucket, target)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Target:       target,
		Bucket:       bucket,
		Full:         full,
		BaseRaw:      p.lay.BaseRaw(bucket),
		Incrementals: incs,
		StopAt:       target,
	}

	plan.NeedReplay = true
	if len(incs) > 0 {
		lastTime, err := incs[len(incs)-1].Time()
		if err != nil {
			return nil, err
		}
		plan.NeedReplay = target.After(lastTime)
	}

	if plan.NeedReplay {
		marker, err := p.chains.Marker(bucket)
		if err != nil {
			return nil, err
		}
		if marker == nil {
			return nil, &PlanError{Bucket: bucket, Reason: "missing recovery marker"}
		}
		plan.Marker = marker

		plan.Segments, err = p.selectSegments(bucket, target)
		if err != nil {
			return nil, err
		}
		if len(plan.Segments) == 0 {
			logging.Warn().
				Str("bucket", bucket).
				Msg("no archived binlog segments overlap the replay window")
		}
	}

	return plan, nil
}

// selectIncrementals returns the bucket's incrementals created at or
// before target, ascending. Creation stamps are lexicographically
// monotonic, so string order equals time order.
func (p *Planner) selectIncrementals(bucket string, target time.Time) ([]chain.Record, error) {
	records, err := p.chains.ListChain(bucket)
	if err != nil {
		return nil, err
	}

	var incs []chain.Record
	for _, rec := range records {
		if rec.Kind != chain.KindIncremental {
			continue
		}
		t, err := rec.Time()
		if err != nil {
			return nil, err
		}
		if !t.After(target) {
			incs = append(incs, rec)
		}
	}
	sort.Slice(incs, func(i, j int) bool { return incs[i].CreatedAt < incs[j].CreatedAt })
	return incs, nil
}

// selectSegments collects archived segments from the target's bucket and
// the succeeding one. Log archiving is bucketed by shipping month, so a
// replay window may straddle a month boundary. A segment qualifies when
// its first event is not past the stop instant; segments with unparsable
// windows are included so a degraded index never hides data from replay.
func (p *Planner) selectSegments(bucket string, stop time.Time) ([]string, error) {
	next, err := layout.NextBucket(bucket)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, b := range []string{bucket, next} {
		entries, err := p.index.Load(b)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			first, err := e.FirstEvent()
			if err == nil && first.After(stop) {
				continue
			}
			paths = append(paths, filepath.Join(p.lay.BinlogMonth(b), e.File))
		}
	}
	return paths, nil
}
