package process_test

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/moon/internal/process"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix shell required")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestLine_Quotes(t *testing.T) {
	c := process.NewCommand("echo", "hello world")
	if got := c.Line(); got != `echo 'hello world'` {
		t.Errorf("Line() = %s", got)
	}
}

func TestArgv_Shell(t *testing.T) {
	c := &process.Command{Script: "echo a && echo b", Shell: &process.Shell{Bin: "bash", Args: []string{"-c"}}}
	argv := c.Argv()
	if len(argv) != 3 || argv[0] != "bash" || argv[2] != "echo a && echo b" {
		t.Errorf("Argv() = %v", argv)
	}
}

func TestExec_CapturesOutputAndEnv(t *testing.T) {
	requireShell(t)
	c := &process.Command{
		Script: `printf "%s" "$MOON_TARGET"; printf err >&2`,
		Shell:  &process.Shell{Bin: "sh", Args: []string{"-c"}},
		Env:    map[string]string{"MOON_TARGET": "app:build"},
		Cwd:    t.TempDir(),
	}
	out, err := c.Exec(context.Background(), process.Options{})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if string(out.Stdout) != "app:build" || string(out.Stderr) != "err" {
		t.Errorf("stdout=%q stderr=%q", out.Stdout, out.Stderr)
	}
}

func TestExec_NonZeroExit(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	c := &process.Command{Script: "echo boom >&2; exit 3", Shell: &process.Shell{Bin: "sh", Args: []string{"-c"}}, Cwd: dir}
	out, err := c.Exec(context.Background(), process.Options{})

	var execErr *process.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.ExitCode != 3 || out.ExitCode != 3 {
		t.Errorf("exit code = %d", execErr.ExitCode)
	}
	if !strings.Contains(execErr.Stderr, "boom") {
		t.Errorf("stderr tail = %q", execErr.Stderr)
	}
	if execErr.Cwd != dir || !strings.Contains(execErr.Error(), dir) {
		t.Errorf("error should name the working directory: %v", execErr)
	}
}

func TestExec_CancelTerminates(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithCancel(context.Background())
	c := &process.Command{Script: "sleep 30", Shell: &process.Shell{Bin: "sh", Args: []string{"-c"}}}

	time.AfterFunc(100*time.Millisecond, cancel)
	start := time.Now()
	_, err := c.Exec(ctx, process.Options{})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if elapsed := time.Since(start); elapsed > process.GracePeriod+5*time.Second {
		t.Fatalf("process outlived the grace period: %v", elapsed)
	}
}

func TestEnviron_PathPrefixes(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	c := &process.Command{Bin: "x", PathPrefixes: []string{"/ws/node_modules/.bin"}}
	var path string
	for _, kv := range c.Environ() {
		if strings.HasPrefix(kv, "PATH=") {
			path = strings.TrimPrefix(kv, "PATH=")
		}
	}
	if !strings.HasPrefix(path, "/ws/node_modules/.bin") || !strings.HasSuffix(path, "/usr/bin") {
		t.Errorf("PATH = %q", path)
	}
}

func TestTail(t *testing.T) {
	if got := process.Tail([]byte("abcdef"), 3); got != "def" {
		t.Errorf("Tail = %q", got)
	}
}
