package config

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/Strob0t/moon/internal/cache"
)

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.:-]*$`)

// validate checks that required fields are present and values are sane.
func (c *Workspace) validate() error {
	switch c.VCS.Manager {
	case "git", "svn":
	default:
		return fmt.Errorf("vcs.manager must be git or svn, got %q", c.VCS.Manager)
	}
	if c.VCS.DefaultBranch == "" {
		return errors.New("vcs.defaultBranch is required")
	}
	if c.Runner.Concurrency < 0 {
		return errors.New("runner.concurrency must not be negative")
	}
	if c.Runner.RetryCount < 0 || c.Runner.RetryCount > 255 {
		return errors.New("runner.retryCount must be within 0..255")
	}
	if err := validOutputStyle(c.Runner.OutputStyle); err != nil {
		return fmt.Errorf("runner.outputStyle: %w", err)
	}
	if _, err := cache.ParseLifetime(c.Runner.CacheLifetime); err != nil {
		return fmt.Errorf("runner.cacheLifetime: %w", err)
	}
	switch c.Hasher.Optimization {
	case "accuracy", "performance":
	default:
		return fmt.Errorf("hasher.optimization must be accuracy or performance, got %q", c.Hasher.Optimization)
	}
	switch c.Cache.Compression {
	case "gzip", "zstd":
	default:
		return fmt.Errorf("cache.compression must be gzip or zstd, got %q", c.Cache.Compression)
	}
	if c.RemoteCache.Endpoint != "" && c.RemoteCache.Bucket == "" {
		return errors.New("remoteCache.bucket is required when remoteCache.endpoint is set")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

func (n *Node) validate() error {
	switch n.PackageManager {
	case "npm", "pnpm", "yarn", "bun":
	default:
		return fmt.Errorf("node.packageManager must be npm, pnpm, yarn or bun, got %q", n.PackageManager)
	}
	switch n.DependencyVersionFormat {
	case "workspace", "star", "file":
	default:
		return fmt.Errorf("node.dependencyVersionFormat: unsupported %q", n.DependencyVersionFormat)
	}
	return nil
}

func (p *Project) validate() error {
	switch p.Type {
	case "", "application", "library", "tool", "unknown":
	default:
		return fmt.Errorf("type: unsupported %q", p.Type)
	}
	for i, d := range p.DependsOn {
		if d.ID == "" {
			return fmt.Errorf("dependsOn[%d]: id is required", i)
		}
		switch d.Scope {
		case "", "production", "development", "peer", "build", "root":
		default:
			return fmt.Errorf("dependsOn[%d]: unsupported scope %q", i, d.Scope)
		}
	}
	for id, t := range p.Tasks {
		if err := t.validate(id); err != nil {
			return err
		}
	}
	return nil
}

func (t *Task) validate(id string) error {
	if !taskIDPattern.MatchString(id) {
		return fmt.Errorf("tasks: invalid task id %q", id)
	}
	if t.Script != "" && !t.Command.IsEmpty() {
		return fmt.Errorf("tasks.%s: command and script are mutually exclusive", id)
	}
	switch t.Type {
	case "", "build", "run", "test":
	default:
		return fmt.Errorf("tasks.%s.type: unsupported %q", id, t.Type)
	}
	if t.Outputs != nil {
		for _, o := range *t.Outputs {
			if len(o) > 0 && o[0] == '!' {
				return fmt.Errorf("tasks.%s.outputs: negated globs are not supported (%s)", id, o)
			}
		}
	}
	o := t.Options
	if o.RetryCount != nil && (*o.RetryCount < 0 || *o.RetryCount > 255) {
		return fmt.Errorf("tasks.%s.options.retryCount must be within 0..255", id)
	}
	if o.OutputStyle != nil {
		if err := validOutputStyle(*o.OutputStyle); err != nil {
			return fmt.Errorf("tasks.%s.options.outputStyle: %w", id, err)
		}
	}
	for name, m := range map[string]*string{
		"mergeArgs": o.MergeArgs, "mergeDeps": o.MergeDeps, "mergeEnv": o.MergeEnv,
		"mergeInputs": o.MergeInputs, "mergeOutputs": o.MergeOutputs,
	} {
		if m == nil {
			continue
		}
		switch *m {
		case "append", "prepend", "replace":
		default:
			return fmt.Errorf("tasks.%s.options.%s: unsupported %q", id, name, *m)
		}
	}
	return nil
}

func validOutputStyle(s string) error {
	switch s {
	case "", "buffer", "buffer-only-failure", "hash", "none", "stream":
		return nil
	default:
		return fmt.Errorf("unsupported output style %q", s)
	}
}
