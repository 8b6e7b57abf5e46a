// Package process builds and runs child processes for tasks and toolchains.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// GracePeriod is how long a cancelled process may take to exit after the
// termination signal before it is killed.
const GracePeriod = 2 * time.Second

// MaxCapture bounds the stdout/stderr kept in execution records.
const MaxCapture = 64 * 1024

// Shell wraps a command line, e.g. {Bin: "bash", Args: ["-c"]}.
type Shell struct {
	Bin  string
	Args []string
}

// Command describes a child process.
type Command struct {
	Bin  string
	Args []string
	// Script is a raw command line run through Shell; Bin and Args are ignored.
	Script       string
	Env          map[string]string
	Cwd          string
	Input        string
	Shell        *Shell
	PathPrefixes []string
}

// NewCommand returns a command for bin with args.
func NewCommand(bin string, args ...string) *Command {
	return &Command{Bin: bin, Args: args, Env: map[string]string{}}
}

// SetEnv sets a single environment variable.
func (c *Command) SetEnv(k, v string) *Command {
	if c.Env == nil {
		c.Env = map[string]string{}
	}
	c.Env[k] = v
	return c
}

// Line renders the command as a shell-quoted line.
func (c *Command) Line() string {
	if c.Script != "" {
		return c.Script
	}
	return shellquote.Join(append([]string{c.Bin}, c.Args...)...)
}

// Argv returns the program and arguments actually executed.
func (c *Command) Argv() []string {
	if c.Shell == nil {
		if c.Script != "" {
			if words, err := shellquote.Split(c.Script); err == nil && len(words) > 0 {
				return words
			}
		}
		return append([]string{c.Bin}, c.Args...)
	}
	argv := append([]string{c.Shell.Bin}, c.Shell.Args...)
	return append(argv, c.Line())
}

// Environ returns the child environment: the parent environment overlaid
// with the command's variables and PATH prefixes.
func (c *Command) Environ() []string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	for k, v := range c.Env {
		env[k] = v
	}
	if len(c.PathPrefixes) > 0 {
		parts := append([]string{}, c.PathPrefixes...)
		if p := env["PATH"]; p != "" {
			parts = append(parts, p)
		}
		env["PATH"] = strings.Join(parts, string(os.PathListSeparator))
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Output is the result of a finished process.
type Output struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Success reports whether the process exited with code 0.
func (o *Output) Success() bool { return o.ExitCode == 0 }

// ExecutionError reports a process that exited unsuccessfully.
type ExecutionError struct {
	Command  string
	Cwd      string
	ExitCode int
	Stderr   string
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("process %q failed with exit code %d", e.Command, e.ExitCode)
	if e.Cwd != "" {
		msg += " in " + e.Cwd
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Options select how output is handled.
type Options struct {
	// Stream copies output to Stdout/Stderr while capturing it.
	Stream bool
	// Interactive inherits stdin/stdout/stderr and captures nothing.
	Interactive bool
	Stdout      io.Writer
	Stderr      io.Writer
}

// Exec runs the command. A non-zero exit returns the Output together with an
// *ExecutionError. When ctx is cancelled the process group receives a
// termination signal and is killed after GracePeriod.
func (c *Command) Exec(ctx context.Context, opts Options) (*Output, error) {
	argv := c.Argv()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.Cwd
	cmd.Env = c.Environ()
	configureProcess(cmd)
	cmd.WaitDelay = GracePeriod

	if os.Getenv("MOON_DEBUG_PROCESS_ENV") != "" {
		slog.Debug("process env", "command", c.Line(), "env", cmd.Env)
	}
	if c.Input != "" {
		if os.Getenv("MOON_DEBUG_PROCESS_INPUT") != "" {
			slog.Debug("process input", "command", c.Line(), "input", c.Input)
		}
		cmd.Stdin = strings.NewReader(c.Input)
	}

	var stdout, stderr bytes.Buffer
	switch {
	case opts.Interactive:
		if cmd.Stdin == nil {
			cmd.Stdin = os.Stdin
		}
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	case opts.Stream:
		cmd.Stdout = io.MultiWriter(&stdout, writerOr(opts.Stdout, os.Stdout))
		cmd.Stderr = io.MultiWriter(&stderr, writerOr(opts.Stderr, os.Stderr))
	default:
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	err := cmd.Run()
	out := &Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		out.ExitCode = -1
		return out, fmt.Errorf("process %q interrupted: %w", c.Line(), context.Cause(ctx))
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, &ExecutionError{
			Command:  c.Line(),
			Cwd:      c.Cwd,
			ExitCode: out.ExitCode,
			Stderr:   strings.TrimSpace(Tail(out.Stderr, 2048)),
		}
	}
	return out, fmt.Errorf("spawn %q: %w", c.Line(), err)
}

// Tail returns the last n bytes of b as a string.
func Tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}

// LookPath resolves bin against PATH, also trying it relative to cwd.
func LookPath(bin, cwd string) (string, error) {
	if strings.ContainsRune(bin, filepath.Separator) || strings.ContainsRune(bin, '/') {
		p := bin
		if !filepath.IsAbs(p) {
			p = filepath.Join(cwd, p)
		}
		if _, err := os.Stat(p); err != nil {
			return "", err
		}
		return p, nil
	}
	return exec.LookPath(bin)
}

func writerOr(w, fallback io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return fallback
}
