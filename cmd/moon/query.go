package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/Strob0t/moon/internal/domain/project"
)

// runQuery dispatches query subcommands (touched-files, projects).
func runQuery(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printQueryHelp()
		return nil
	}

	switch args[0] {
	case "touched-files":
		return runQueryTouchedFiles(ctx, args[1:])
	case "projects":
		return runQueryProjects(ctx, args[1:])
	default:
		printQueryHelp()
		return fmt.Errorf("%w: unknown query command %s", errUsage, args[0])
	}
}

func printQueryHelp() {
	fmt.Fprintf(os.Stderr, `Usage: moon query <command> [options]

Commands:
  touched-files   Print touched files as JSON, suitable for piping into run or ci
  projects        List the projects of the workspace
  help            Show this help message

Examples:
  moon query touched-files --remote --base origin/master
  moon query touched-files --status modified,added
  moon query projects --affected --json
`)
}

func runQueryTouchedFiles(ctx context.Context, args []string) error {
	var opts runOptions
	fs := flag.NewFlagSet("touched-files", flag.ContinueOnError)
	fs.StringVar(&opts.base, "base", "", "base revision to compare against")
	fs.StringVar(&opts.head, "head", "", "head revision to compare with")
	fs.StringVar(&opts.status, "status", "", "comma separated statuses to include")
	fs.BoolVar(&opts.remote, "remote", false, "compare a revision range instead of the working tree")
	fs.BoolVar(&opts.local, "local", false, "compare the working tree even in CI")
	defaultBranch := fs.Bool("default-branch", false, "compare against the previous revision on the default branch")
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	ctx, s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	to := opts.touchedOptions(opts.compareLocal(isCI()))
	to.DefaultBranch = *defaultBranch
	res, err := s.touchedFiles(ctx, to)
	if err != nil {
		return err
	}
	return writeJSON(res)
}

// projectRow is the JSON shape printed by "moon query projects --json".
type projectRow struct {
	ID        string       `json:"id"`
	Source    string       `json:"source"`
	Type      project.Type `json:"type"`
	Language  string       `json:"language"`
	Tags      []string     `json:"tags,omitempty"`
	Tasks     []string     `json:"tasks"`
	DependsOn []string     `json:"dependsOn,omitempty"`
}

func runQueryProjects(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("projects", flag.ContinueOnError)
	onlyAffected := fs.Bool("affected", false, "only list projects affected by touched files")
	var opts runOptions
	fs.BoolVar(&opts.remote, "remote", false, "compare a revision range instead of the working tree when --affected")
	fs.BoolVar(&opts.local, "local", false, "compare the working tree even in CI when --affected")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	ctx, s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	g, err := s.projectGraph(ctx)
	if err != nil {
		return err
	}

	var rows []projectRow
	keep := func(string) bool { return true }
	if *onlyAffected {
		ci := isCI()
		a, _, err := s.affected(ctx, opts.touchedOptions(opts.compareLocal(ci)), ci)
		if err != nil {
			return err
		}
		if a != nil {
			keep = a.IsProjectAffected
		}
	}
	for _, p := range g.Projects() {
		if !keep(p.ID) {
			continue
		}
		rows = append(rows, projectRow{
			ID:        p.ID,
			Source:    p.Source,
			Type:      p.Type,
			Language:  p.Language,
			Tags:      p.Tags,
			Tasks:     p.TaskIDs(),
			DependsOn: p.DependencyIDs(),
		})
	}

	if *asJSON {
		if rows == nil {
			rows = []projectRow{}
		}
		return writeJSON(map[string]any{"projects": rows})
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tTYPE\tLANGUAGE\tTASKS")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Source, r.Type, r.Language, strings.Join(r.Tasks, ","))
	}
	return tw.Flush()
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
