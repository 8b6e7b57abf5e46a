// Command moon runs tasks across the projects of a monorepo workspace.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/Strob0t/moon/internal/adapter/gitlocal"
	_ "github.com/Strob0t/moon/internal/adapter/svn"
	"github.com/Strob0t/moon/internal/config"
	"github.com/Strob0t/moon/internal/domain"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	// errTasksFailed marks a run where at least one task failed.
	errTasksFailed = errors.New("tasks failed")
	// errUsage marks bad command line input.
	errUsage = errors.New("usage")
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, errTasksFailed) {
			slog.Error("fatal", "error", err)
		}
		os.Exit(exitCode(err))
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" || args[0] == "-h" {
		printHelp()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "run":
		return runRun(ctx, args[1:])
	case "ci":
		return runCI(ctx, args[1:])
	case "clean":
		return runClean(ctx, args[1:])
	case "query":
		return runQuery(ctx, args[1:])
	case "version", "--version":
		fmt.Println(version)
		return nil
	default:
		printHelp()
		return fmt.Errorf("%w: unknown command %s", errUsage, args[0])
	}
}

// exitCode maps an error to the process exit status: 1 for failed tasks and
// pipeline errors, 2 for configuration, graph and usage errors.
func exitCode(err error) int {
	var cfgErr *config.Error
	switch {
	case errors.Is(err, errTasksFailed):
		return 1
	case errors.As(err, &cfgErr),
		errors.Is(err, errUsage),
		errors.Is(err, domain.ErrUnknownProject),
		errors.Is(err, domain.ErrUnknownTask),
		errors.Is(err, domain.ErrUnknownTarget),
		errors.Is(err, domain.ErrDuplicateProject),
		errors.Is(err, domain.ErrCycleDetected),
		errors.Is(err, domain.ErrPersistentDependency),
		errors.Is(err, domain.ErrInvalidTaskDependency):
		return 2
	default:
		return 1
	}
}

// parseFlags parses args, turning a help request into a nil error and any
// other parse failure into a usage error.
func parseFlags(fs *flag.FlagSet, args []string) (help bool, err error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return true, nil
		}
		return false, fmt.Errorf("%w: %w", errUsage, err)
	}
	return false, nil
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: moon <command> [options]

Commands:
  run <target>...        Run one or more task targets
  ci [target]...         Run affected tasks in a continuous integration environment
  clean                  Delete stale cache entries
  query touched-files    Print the files touched in the working tree or a revision range
  query projects         Print the projects of the workspace
  version                Print the moon version
  help                   Show this help message

Examples:
  moon run web:build
  moon run :lint --affected
  moon run web:test -- --watch
  moon query touched-files --base origin/master | moon ci
  moon clean --lifetime "1 day"
`)
}
