// Dbbak - MySQL Point-in-Time Backup and Recovery CLI
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dbbak

package restore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/tomtom215/dbbak/internal/chain"
	"github.com/tomtom215/dbbak/internal/fsutil"
	"github.com/tomtom215/dbbak/internal/layout"
	"github.com/tomtom215/dbbak/internal/logging"
	"github.com/tomtom215/dbbak/internal/runner"
)

// ExecError reports a failed step of the ordered restore sequence. The
// sequence halts at the failing step; the partially-built working area is
// left in place for operator inspection.
type ExecError struct {
	Step string
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("restore step %s: %v", e.Step, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// ExecutorOptions carries the tool paths the executor invokes.
type ExecutorOptions struct {
	XtrabackupPath  string
	MysqlbinlogPath string

	// MysqlClientPath and ClientArgs form the replay application stage.
	MysqlClientPath string
	ClientArgs      []string
}

// Executor carries out a Plan by driving the snapshot and log-replay
// tools in strict order: seed, fold incrementals ascending, finalize
// exactly once, then replay. Finalizing early would make the working area
// unable to accept further incrementals, so the order is not negotiable.
type Executor struct {
	opts ExecutorOptions
	lay  layout.Layout
	run  runner.Interface
}

// NewExecutor returns an Executor.
func NewExecutor(opts ExecutorOptions, lay layout.Layout, run runner.Interface) *Executor {
	return &Executor{opts: opts, lay: lay, run: run}
}

// Execute runs the plan against workdir, creating a fresh temp dir when
// workdir is empty. It returns the working area path in either case. On
// failure the area is never cleaned up automatically.
func (e *Executor) Execute(ctx context.Context, plan *Plan, workdir string) (string, error) {
	if workdir == "" {
		workdir = filepath.Join(os.TempDir(), "dbbak-restore-"+uuid.NewString())
	}

	if err := e.seed(plan, workdir); err != nil {
		return workdir, err
	}
	if err := e.applyIncrementals(ctx, plan, workdir); err != nil {
		return workdir, err
	}
	if err := e.finalize(ctx, workdir); err != nil {
		return workdir, err
	}
	if err := e.replay(ctx, plan); err != nil {
		return workdir, err
	}

	logging.Info().Str("workdir", workdir).Msg("restore assembled")
	return workdir, nil
}

// seed copies the full backup's raw storage into the working area.
func (e *Executor) seed(plan *Plan, workdir string) error {
	err := e.run.Do(fmt.Sprintf("copy_tree %s -> %s", plan.BaseRaw, workdir), func() error {
		return fsutil.CopyTree(plan.BaseRaw, workdir)
	})
	if err != nil {
		return &ExecError{Step: "seed", Err: err}
	}
	return nil
}

// applyIncrementals folds each selected incremental into the working
// area in ascending order, apply-log-only so the area stays open for the
// next delta.
func (e *Executor) applyIncrementals(ctx context.Context, plan *Plan, workdir string) error {
	for _, inc := range plan.Incrementals {
		cmd := runner.Command{
			Path: e.opts.XtrabackupPath,
			Args: []string{
				"--prepare", "--apply-log-only",
				"--target-dir=" + workdir,
				"--incremental-dir=" + e.lay.IncrRaw(plan.Bucket, inc.CreatedAt),
			},
		}
		if err := e.run.Run(ctx, cmd); err != nil {
			return &ExecError{Step: "apply-incremental " + inc.CreatedAt, Err: err}
		}
	}
	return nil
}

// finalize runs the terminal prepare pass, making the working area
// consistent. Runs exactly once, after all incrementals are folded.
func (e *Executor) finalize(ctx context.Context, workdir string) error {
	cmd := runner.Command{
		Path: e.opts.XtrabackupPath,
		Args: []string{"--prepare", "--target-dir=" + workdir},
	}
	if err := e.run.Run(ctx, cmd); err != nil {
		return &ExecError{Step: "finalize", Err: err}
	}
	return nil
}

// replay streams the decompressed segment stream through the log-replay
// tool into the database client, bounded below by the recovery marker and
// above by the stop instant. Stages are separate subprocesses with
// independently checked exit codes.
func (e *Executor) replay(ctx context.Context, plan *Plan) error {
	if !plan.NeedReplay {
		return nil
	}
	if len(plan.Segments) == 0 {
		logging.Warn().Str("bucket", plan.Bucket).Msg("log replay required but no segments archived; skipping")
		return nil
	}

	args := []string{
		"--base64-output=DECODE-ROWS", "--verbose",
		"--stop-datetime", plan.StopAt.UTC().Format("2006-01-02 15:04:05"),
	}
	switch plan.Marker.Mode {
	case chain.ModeGTID:
		args = append(args, "--exclude-gtids", plan.Marker.GTIDSet)
	case chain.ModePosition:
		args = append(args, "--start-position", plan.Marker.Offset)
	}
	args = append(args, "-")

	replayCmd := runner.Command{Path: e.opts.MysqlbinlogPath, Args: args}
	applyCmd := runner.Command{
		Path: e.opts.MysqlClientPath,
		Args: append([]string{}, e.opts.ClientArgs...),
	}

	if err := e.run.Pipe(ctx, segmentSource(plan.Segments), replayCmd, applyCmd); err != nil {
		return &ExecError{Step: "replay", Err: err}
	}
	return nil
}

// segmentSource concatenates the decompressed contents of the archived
// segments, opening each lazily as the previous one drains.
func segmentSource(paths []string) runner.Source {
	return runner.Source{
		Desc: "gzip -cd " + strings.Join(paths, " "),
		Open: func() (io.ReadCloser, error) {
			return &segmentReader{paths: paths}, nil
		},
	}
}

// segmentReader streams one gzip-compressed segment after another.
type segmentReader struct {
	paths []string
	next  int
	file  *os.File
	gz    *gzip.Reader
}

func (r *segmentReader) Read(p []byte) (int, error) {
	for {
		if r.gz == nil {
			if r.next >= len(r.paths) {
				return 0, io.EOF
			}
			if err := r.open(r.paths[r.next]); err != nil {
				return 0, err
			}
			r.next++
		}

		n, err := r.gz.Read(p)
		if err == io.EOF {
			if closeErr := r.closeCurrent(); closeErr != nil {
				return n, closeErr
			}
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *segmentReader) open(path string) error {
	f, err := os.Open(path) //nolint:gosec // G304: paths come from the layout resolver
	if err != nil {
		return err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close() //nolint:errcheck // Best effort cleanup on error
		return fmt.Errorf("open segment %s: %w", path, err)
	}
	r.file, r.gz = f, gz
	return nil
}

func (r *segmentReader) closeCurrent() error {
	if r.gz == nil {
		return nil
	}
	gzErr := r.gz.Close()
	fileErr := r.file.Close()
	r.gz, r.file = nil, nil
	if gzErr != nil {
		return gzErr
	}
	return fileErr
}

// Close releases any segment still open mid-stream.
func (r *segmentReader) Close() error {
	return r.closeCurrent()
}
