// Dbbak - MySQL Point-in-Time Backup and Recovery CLI
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dbbak

// Package runner executes external tools and gates every side effect
// behind the global dry-run switch.
//
// dbbak defaults to dry-run: every mutating action is printed with a DRY
// prefix and skipped, while read paths still execute so planning logic can
// be exercised without touching state. With --exec the same actions run
// for real under an EXEC prefix.
//
// Replay pipelines are composed as separately-owned subprocess stages
// connected by in-process piping; each stage's exit status is checked
// independently instead of trusting a single composite shell exit code.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/tomtom215/dbbak/internal/logging"
)

// ErrDryRun is returned by Stream in dry-run mode, where external tool
// output cannot be observed. Callers fall back to a degraded signal.
var ErrDryRun = errors.New("runner: dry-run, no output available")

// Command describes one external tool invocation.
type Command struct {
	// Path is the executable to run.
	Path string

	// Args are the command arguments, excluding the executable name.
	Args []string

	// Dir is the working directory; empty means the caller's.
	Dir string
}

// Printable renders the command the way a shell user would type it.
func (c Command) Printable() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, shellQuote(c.Path))
	for _, a := range c.Args {
		parts = append(parts, shellQuote(a))
	}
	s := strings.Join(parts, " ")
	if c.Dir != "" {
		s = fmt.Sprintf("(cd %s && %s)", shellQuote(c.Dir), s)
	}
	return s
}

var plainArgRe = regexp.MustCompile(`^[A-Za-z0-9_./:=+-]+$`)

// shellQuote quotes s for display in a POSIX shell command line.
func shellQuote(s string) string {
	if plainArgRe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Source lazily opens the input stream of a pipeline. The description is
// what gets printed in place of the stream in dry-run mode.
type Source struct {
	Desc string
	Open func() (io.ReadCloser, error)
}

// Interface is the execution surface consumed by the shipper, the chain
// store, and the restore executor. The concrete Runner implements it;
// tests substitute a recording fake.
type Interface interface {
	// Exec reports whether side effects actually run (false = dry-run).
	Exec() bool

	// Run invokes c, blocking until it exits. In dry-run mode the command
	// is printed and nil is returned.
	Run(ctx context.Context, c Command) error

	// Stream invokes c and feeds each stdout line to fn. In dry-run mode
	// the command is printed and ErrDryRun is returned.
	Stream(ctx context.Context, c Command, fn func(line string)) error

	// Pipe connects src to the stdin of cmds[0], each stage's stdout to
	// the next stage's stdin, and the final stdout to the runner's output.
	// Every stage's exit status is checked; the first failure is returned
	// with the failing stage named.
	Pipe(ctx context.Context, src Source, cmds ...Command) error

	// Do performs an in-process side effect (file write, copy, compress).
	// In dry-run mode the description is printed and fn is skipped.
	Do(desc string, fn func() error) error
}

// Runner is the real Interface implementation.
type Runner struct {
	exec bool

	// Stdout receives the final stage output of Pipe. Defaults to
	// os.Stdout; tests redirect it.
	Stdout io.Writer
}

// New returns a Runner. Side effects run only when exec is true.
func New(exec bool) *Runner {
	return &Runner{exec: exec, Stdout: os.Stdout}
}

// Exec implements Interface.
func (r *Runner) Exec() bool { return r.exec }

func (r *Runner) announce(what string) {
	if r.exec {
		logging.Info().Str("mode", "EXEC").Msg(what)
	} else {
		logging.Info().Str("mode", "DRY").Msg(what)
	}
}

// Run implements Interface.
func (r *Runner) Run(ctx context.Context, c Command) error {
	r.announce(c.Printable())
	if !r.exec {
		return nil
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...) //nolint:gosec // G204: tool paths come from operator configuration
	cmd.Dir = c.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", c.Path, err)
	}
	return nil
}

// Stream implements Interface.
func (r *Runner) Stream(ctx context.Context, c Command, fn func(line string)) error {
	r.announce(c.Printable() + " | (scan output)")
	if !r.exec {
		return ErrDryRun
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...) //nolint:gosec // G204: tool paths come from operator configuration
	cmd.Dir = c.Dir
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%s: %w", c.Path, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s: %w", c.Path, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s: %w", c.Path, err)
	}
	if scanErr != nil {
		return fmt.Errorf("%s: scan output: %w", c.Path, scanErr)
	}
	return nil
}

// Pipe implements Interface.
func (r *Runner) Pipe(ctx context.Context, src Source, cmds ...Command) error {
	if len(cmds) == 0 {
		return errors.New("runner: pipe needs at least one stage")
	}

	stages := make([]string, 0, len(cmds)+1)
	stages = append(stages, src.Desc)
	for _, c := range cmds {
		stages = append(stages, c.Printable())
	}
	r.announce(strings.Join(stages, " | "))
	if !r.exec {
		return nil
	}

	input, err := src.Open()
	if err != nil {
		return fmt.Errorf("open pipeline source: %w", err)
	}
	defer input.Close() //nolint:errcheck // Read-only source

	procs := make([]*exec.Cmd, len(cmds))
	var upstream io.Reader = input
	for i, c := range cmds {
		cmd := exec.CommandContext(ctx, c.Path, c.Args...) //nolint:gosec // G204: tool paths come from operator configuration
		cmd.Dir = c.Dir
		cmd.Stdin = upstream
		cmd.Stderr = os.Stderr
		if i < len(cmds)-1 {
			pipe, err := cmd.StdoutPipe()
			if err != nil {
				return fmt.Errorf("%s: %w", c.Path, err)
			}
			upstream = pipe
		} else {
			out := r.Stdout
			if out == nil {
				out = os.Stdout
			}
			cmd.Stdout = out
		}
		procs[i] = cmd
	}

	for i, cmd := range procs {
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start %s: %w", cmds[i].Path, err)
		}
	}

	// Wait in pipeline order so the first failing stage is the one
	// reported, not a downstream EPIPE casualty.
	var firstErr error
	for i, cmd := range procs {
		if err := cmd.Wait(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("pipeline stage %s: %w", cmds[i].Path, err)
		}
	}
	return firstErr
}

// Do implements Interface.
func (r *Runner) Do(desc string, fn func() error) error {
	r.announce(desc)
	if !r.exec {
		return nil
	}
	return fn()
}
