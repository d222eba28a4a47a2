// Package sandbox runs untrusted snippets in a child process with a wall-clock
// limit and bounded output capture.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Status classifies how an invocation ended.
type Status string

const (
	StatusSuccess      Status = "SUCCESS"
	StatusTimeout      Status = "TIMEOUT"
	StatusRuntimeError Status = "RUNTIME_ERROR"
	StatusCompileError Status = "COMPILE_ERROR"
)

const (
	DefaultTimeout        = 5 * time.Second
	DefaultMaxOutputBytes = 64 * 1024
)

// Request is one execution of a snippet.
type Request struct {
	Code    string
	Stdin   string
	Timeout time.Duration
}

// Outcome is what an execution produced.
type Outcome struct {
	Status    Status        `json:"status"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	Duration  time.Duration `json:"duration"`
	Truncated bool          `json:"truncated,omitempty"`

	// StdoutTruncated means Stdout is only a prefix of what was printed.
	StdoutTruncated bool `json:"-"`
}

// Sandbox executes code. Implementations must be safe for concurrent use and
// must never block past the request timeout.
type Sandbox interface {
	Run(ctx context.Context, req Request) Outcome
}

// Options tunes a ProcessSandbox.
type Options struct {
	DefaultTimeout time.Duration
	MaxOutputBytes int
	// TempDir is the parent of per-invocation work dirs. Empty means os.TempDir.
	TempDir string
}

// ProcessSandbox runs each request as a fresh interpreter process in its own
// process group and work dir.
type ProcessSandbox struct {
	runtime Runtime
	opts    Options
	log     zerolog.Logger
}

// NewProcessSandbox creates a sandbox for the given runtime.
func NewProcessSandbox(rt Runtime, opts Options, log zerolog.Logger) (*ProcessSandbox, error) {
	if err := rt.Validate(); err != nil {
		return nil, err
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return &ProcessSandbox{
		runtime: rt,
		opts:    opts,
		log:     log.With().Str("component", "sandbox").Str("runtime", rt.Name).Logger(),
	}, nil
}

// Runtime returns the runtime this sandbox executes.
func (s *ProcessSandbox) Runtime() Runtime {
	return s.runtime
}

// Run executes req. It returns TIMEOUT as soon as the deadline passes; the
// process group is killed and the work dir is removed in the background.
func (s *ProcessSandbox) Run(ctx context.Context, req Request) Outcome {
	if strings.TrimSpace(req.Code) == "" {
		return Outcome{Status: StatusCompileError, Stderr: "code is empty"}
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.opts.DefaultTimeout
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Outcome, 1)
	go func() {
		done <- s.execute(runCtx, req)
	}()

	var out Outcome
	select {
	case out = <-done:
	case <-runCtx.Done():
		out = Outcome{Status: StatusTimeout, Stderr: fmt.Sprintf("time limit of %s exceeded", timeout)}
		if !errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			out = Outcome{Status: StatusRuntimeError, Stderr: "execution canceled"}
		}
	}
	out.Duration = time.Since(start)

	s.log.Debug().
		Str("status", string(out.Status)).
		Dur("duration", out.Duration).
		Bool("truncated", out.Truncated).
		Msg("Sandbox run finished")
	return out
}

// execute does the blocking work. It owns the work dir.
func (s *ProcessSandbox) execute(ctx context.Context, req Request) Outcome {
	dir, err := os.MkdirTemp(s.opts.TempDir, "exstem-run-*")
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to create sandbox work dir")
		return Outcome{Status: StatusRuntimeError, Stderr: "sandbox unavailable"}
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, s.runtime.SourceFile)
	if err := os.WriteFile(src, []byte(req.Code), 0o600); err != nil {
		s.log.Error().Err(err).Msg("Failed to write snippet")
		return Outcome{Status: StatusRuntimeError, Stderr: "sandbox unavailable"}
	}

	if s.runtime.CheckCmd != "" {
		res := s.spawn(ctx, s.runtime.CheckCmd, src, dir, "")
		switch {
		case res.status == StatusTimeout:
			return Outcome{Status: StatusTimeout}
		case res.startErr != nil:
			return Outcome{Status: StatusRuntimeError, Stderr: res.startErr.Error()}
		case res.exitErr != nil:
			msg := res.stderr.String()
			if strings.TrimSpace(msg) == "" {
				msg = res.stdout.String()
			}
			return Outcome{Status: StatusCompileError, Stderr: msg, Truncated: res.stderr.Truncated()}
		}
	}

	res := s.spawn(ctx, s.runtime.RunCmd, src, dir, req.Stdin)
	out := Outcome{
		Status:          StatusSuccess,
		Stdout:          res.stdout.String(),
		Stderr:          res.stderr.String(),
		Truncated:       res.stdout.Truncated() || res.stderr.Truncated(),
		StdoutTruncated: res.stdout.Truncated(),
	}
	switch {
	case res.status == StatusTimeout:
		out.Status = StatusTimeout
	case res.startErr != nil:
		out.Status = StatusRuntimeError
		out.Stderr = res.startErr.Error()
	case res.exitErr != nil:
		out.Status = StatusRuntimeError
		if out.Stderr == "" {
			out.Stderr = res.exitErr.Error()
		}
	}
	return out
}

type spawnResult struct {
	status   Status
	stdout   *limitedBuffer
	stderr   *limitedBuffer
	startErr error
	exitErr  error
}

func (s *ProcessSandbox) spawn(ctx context.Context, tpl, src, dir, stdin string) spawnResult {
	res := spawnResult{
		stdout: newLimitedBuffer(s.opts.MaxOutputBytes),
		stderr: newLimitedBuffer(s.opts.MaxOutputBytes),
	}
	argv, err := buildCommand(tpl, src)
	if err != nil {
		res.startErr = err
		return res
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append([]string{"PATH=" + os.Getenv("PATH"), "HOME=" + dir, "LANG=C.UTF-8"}, s.runtime.Env...)
	cmd.Stdin = bytes.NewBufferString(stdin)
	cmd.Stdout = res.stdout
	cmd.Stderr = res.stderr
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		res.startErr = fmt.Errorf("start %s: %w", argv[0], err)
		return res
	}
	err = cmd.Wait()
	if ctx.Err() != nil {
		res.status = StatusTimeout
		return res
	}
	res.exitErr = err
	return res
}
