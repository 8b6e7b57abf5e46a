package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Strob0t/moon/internal/cache"
	"github.com/Strob0t/moon/internal/domain/action"
	"github.com/Strob0t/moon/internal/domain/touched"
	"github.com/Strob0t/moon/internal/process"
	"github.com/Strob0t/moon/internal/service"
)

// runOptions are the flags shared by run and ci.
type runOptions struct {
	affected    bool
	remote      bool
	local       bool
	base        string
	head        string
	status      string
	dependents  bool
	interactive bool
	concurrency int
	noBail      bool
	updateCache bool
}

func (o *runOptions) register(fs *flag.FlagSet) {
	fs.StringVar(&o.base, "base", "", "base revision to compare against")
	fs.StringVar(&o.head, "head", "", "head revision to compare with")
	fs.StringVar(&o.status, "status", "", "comma separated touched statuses to consider (added, modified, ...)")
	fs.IntVar(&o.concurrency, "concurrency", 0, "maximum actions running at once (default: CPU count)")
	fs.BoolVar(&o.noBail, "no-bail", false, "keep running after a task fails")
	fs.BoolVar(&o.updateCache, "u", false, "bypass cache reads and refresh the cache")
}

// compareLocal reports whether touched files come from the working tree.
// Revision ranges are the default in CI unless --local is given.
func (o *runOptions) compareLocal(ci bool) bool {
	if o.local {
		return true
	}
	return !o.remote && !ci
}

func (o *runOptions) touchedOptions(local bool) service.TouchedOptions {
	opts := service.TouchedOptions{Base: o.base, Head: o.head, Local: local}
	for _, s := range strings.Split(o.status, ",") {
		if s = strings.TrimSpace(s); s != "" {
			opts.Status = append(opts.Status, touched.Status(s))
		}
	}
	return opts
}

// runRun implements "moon run [options] <target>... [-- args]".
func runRun(ctx context.Context, args []string) error {
	args, passthrough := splitPassthrough(args)

	var opts runOptions
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	opts.register(fs)
	fs.BoolVar(&opts.affected, "affected", false, "only run tasks affected by touched files")
	fs.BoolVar(&opts.remote, "remote", false, "compare a revision range instead of the working tree when --affected")
	fs.BoolVar(&opts.local, "local", false, "compare the working tree even in CI")
	fs.BoolVar(&opts.dependents, "dependents", false, "also run tasks that depend on the requested targets")
	fs.BoolVar(&opts.interactive, "interactive", false, "run the targets interactively with stdin attached")
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("%w: run requires at least one target", errUsage)
	}

	ctx, s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	return execute(ctx, s, fs.Args(), passthrough, &opts, service.RunRequirements{
		Dependents:  opts.dependents,
		Interactive: opts.interactive,
	})
}

// runCI implements "moon ci [options] [target]...". Without targets every
// task that runs in CI is considered. Affected filtering is always on.
func runCI(ctx context.Context, args []string) error {
	var opts runOptions
	fs := flag.NewFlagSet("ci", flag.ContinueOnError)
	opts.register(fs)
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}
	opts.affected = true
	opts.remote = true

	locators := fs.Args()
	if len(locators) == 0 {
		locators = []string{"*:*"}
	}

	ctx, s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	return execute(ctx, s, locators, nil, &opts, service.RunRequirements{
		CI:      true,
		CICheck: len(fs.Args()) > 0,
	})
}

func execute(ctx context.Context, s *session, locators, passthrough []string, opts *runOptions, reqs service.RunRequirements) error {
	if opts.updateCache {
		cache.SetMode(cache.ModeWrite)
	}

	g, err := s.projectGraph(ctx)
	if err != nil {
		return err
	}
	builder := service.NewActionGraphBuilder(s.ws, g)

	var files touched.Set
	if opts.affected {
		ci := reqs.CI || isCI()
		a, set, err := s.affected(ctx, opts.touchedOptions(opts.compareLocal(ci)), ci)
		if err != nil {
			return err
		}
		if a != nil {
			builder.SetAffected(a)
			files = set
		}
	}

	targets, err := builder.ResolveLocators(locators, s.cwd)
	if err != nil {
		return err
	}
	added, err := builder.RunTargets(targets, reqs)
	if err != nil {
		return err
	}
	if added == 0 {
		if opts.affected {
			fmt.Fprintln(os.Stderr, "No tasks affected by touched files")
		} else {
			fmt.Fprintln(os.Stderr, "No tasks to run")
		}
		return nil
	}

	ag, err := builder.Build()
	if err != nil {
		return err
	}

	pipeline := service.NewPipeline(s.ws, g, s.emitter(ctx))
	if opts.concurrency > 0 {
		pipeline.Concurrency = opts.concurrency
	}
	if opts.noBail {
		pipeline.BailOnError = false
	}

	actx := service.NewActionContext(files, passthrough, builder.PrimaryTargets())
	res, runErr := pipeline.Run(ctx, ag, actx)
	if res == nil {
		return runErr
	}
	printSummary(os.Stderr, res)

	if runErr != nil || res.Failed() {
		if runErr == nil {
			runErr = errors.New("one or more tasks failed")
		}
		return fmt.Errorf("%w: %w", errTasksFailed, runErr)
	}
	slog.DebugContext(ctx, "run finished", "actions", len(res.Actions), "duration", res.Duration)
	return nil
}

// splitPassthrough separates arguments after the first "--".
func splitPassthrough(args []string) (own, passthrough []string) {
	for i, a := range args {
		if a == "--" {
			return args[:i], args[i+1:]
		}
	}
	return args, nil
}

// printSummary writes one line per task action, a report for every failed
// task and a totals line.
func printSummary(w io.Writer, res *service.RunResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	counts := make(map[action.Status]int)
	var failed []*action.Action
	for _, a := range res.Actions {
		if a.Node.Kind != action.KindRunTask {
			continue
		}
		counts[a.Status]++
		line := fmt.Sprintf("%s\t%s\t%s", a.Node.Target, a.Status, a.Duration.Round(time.Millisecond))
		if a.Flaky {
			line += "\tflaky"
		}
		fmt.Fprintln(tw, line)
		if a.HasFailed() {
			failed = append(failed, a)
		}
	}
	_ = tw.Flush()

	for _, a := range failed {
		printFailure(w, a)
	}

	cached := counts[action.StatusCached] + counts[action.StatusCachedFromRemote]
	fmt.Fprintf(w, "\nTasks: %d passed, %d cached, %d failed, %d skipped (%s)\n",
		counts[action.StatusPassed], cached, counts[action.StatusFailed]+counts[action.StatusFailedAndAbort],
		counts[action.StatusSkipped], res.Duration.Round(time.Millisecond))
}

// printFailure reports the command, working directory, hash and stderr of a
// failed task.
func printFailure(w io.Writer, a *action.Action) {
	fmt.Fprintf(w, "\n%s failed\n", a.Node.Target)
	if a.Hash != "" {
		fmt.Fprintf(w, "  hash:    %s\n", a.Hash)
	}
	var execErr *process.ExecutionError
	if !errors.As(a.Err(), &execErr) {
		if err := a.Err(); err != nil {
			fmt.Fprintf(w, "  error:   %v\n", err)
		}
		return
	}
	fmt.Fprintf(w, "  command: %s\n", execErr.Command)
	if execErr.Cwd != "" {
		fmt.Fprintf(w, "  cwd:     %s\n", execErr.Cwd)
	}
	fmt.Fprintf(w, "  exit:    %d\n", execErr.ExitCode)
	if execErr.Stderr != "" {
		fmt.Fprintln(w, "  stderr:")
		for _, line := range strings.Split(execErr.Stderr, "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
}
