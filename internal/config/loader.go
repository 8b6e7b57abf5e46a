package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Well-known file locations, relative to the workspace root.
const (
	Dir              = ".moon"
	WorkspaceFile    = ".moon/workspace.yml"
	ToolchainFile    = ".moon/toolchain.yml"
	InheritedFile    = ".moon/tasks.yml"
	InheritedDir     = ".moon/tasks"
	ProjectFile      = "moon.yml"
	GlobalLookupKey  = "*"
	workspaceRootEnv = "MOON_WORKSPACE_ROOT"
)

// FindRoot returns the workspace root: MOON_WORKSPACE_ROOT when set,
// otherwise the closest ancestor of start containing a .moon directory.
func FindRoot(start string) (string, error) {
	if v := os.Getenv(workspaceRootEnv); v != "" {
		return filepath.Abs(v)
	}
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, Dir)); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s directory found from %s", Dir, start)
		}
		dir = parent
	}
}

// LoadWorkspace reads .moon/workspace.yml under root.
// Hierarchy: defaults < YAML file < environment variables.
func LoadWorkspace(root string) (*Workspace, error) {
	cfg := Defaults()
	path := filepath.Join(root, filepath.FromSlash(WorkspaceFile))

	if err := loadYAML(path, &cfg); err != nil {
		return nil, fileError(path, err)
	}

	loadEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fileError(path, err)
	}

	return &cfg, nil
}

// LoadToolchain reads .moon/toolchain.yml under root. A missing file
// yields an empty toolchain (system platform only).
func LoadToolchain(root string) (*Toolchain, error) {
	path := filepath.Join(root, filepath.FromSlash(ToolchainFile))

	var raw struct {
		Node yaml.Node `yaml:"node"`
	}
	if err := loadYAML(path, &raw); err != nil {
		return nil, fileError(path, err)
	}

	tc := &Toolchain{}
	if raw.Node.Kind != 0 {
		node := DefaultNode()
		if err := raw.Node.Decode(&node); err != nil {
			return nil, fileError(path, err)
		}
		tc.Node = &node
	}
	if tc.Node != nil {
		setString(&tc.Node.Version, "MOON_NODE_VERSION")
		if err := tc.Node.validate(); err != nil {
			return nil, fileError(path, err)
		}
	}
	return tc, nil
}

// LoadProject reads the moon.yml in dir. The second result reports whether
// the file exists.
func LoadProject(dir string) (*Project, bool, error) {
	path := filepath.Join(dir, ProjectFile)
	cfg := &Project{}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, false, nil
	}
	if err != nil {
		return nil, false, fileError(path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, true, fileError(path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, true, fileError(path, err)
	}
	return cfg, true, nil
}

// LoadInheritedTasks reads .moon/tasks.yml (lookup key "*") and every
// .moon/tasks/<key>.yml file under root.
func LoadInheritedTasks(root string) (map[string]*InheritedTasks, error) {
	out := make(map[string]*InheritedTasks)

	global := filepath.Join(root, filepath.FromSlash(InheritedFile))
	if cfg, ok, err := loadInheritedFile(global); err != nil {
		return nil, err
	} else if ok {
		out[GlobalLookupKey] = cfg
	}

	dir := filepath.Join(root, filepath.FromSlash(InheritedDir))
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fileError(dir, err)
	}
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yml" && ext != ".yaml") {
			continue
		}
		cfg, _, err := loadInheritedFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out[strings.TrimSuffix(e.Name(), ext)] = cfg
	}
	return out, nil
}

// LookupOrder returns the inherited tasks keys for a project, broadest first.
func LookupOrder(platform, language, projectType string) []string {
	keys := []string{GlobalLookupKey}
	add := func(k string) {
		if k == "" || k == "unknown" || k == "-unknown" {
			return
		}
		for _, existing := range keys {
			if existing == k {
				return
			}
		}
		keys = append(keys, k)
	}
	add(platform)
	add(language)
	if projectType != "" && projectType != "unknown" {
		if platform != "" {
			add(platform + "-" + projectType)
		}
		if language != "" {
			add(language + "-" + projectType)
		}
	}
	return keys
}

// Files returns every configuration file of the workspace that exists,
// workspace-relative and sorted.
func Files(root string) ([]string, error) {
	candidates := []string{WorkspaceFile, ToolchainFile, InheritedFile}
	entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(InheritedDir)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			candidates = append(candidates, InheritedDir+"/"+e.Name())
		}
	}

	var out []string
	for _, rel := range candidates {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel))); err == nil {
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out, nil
}

func loadInheritedFile(path string) (*InheritedTasks, bool, error) {
	cfg := &InheritedTasks{}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, false, nil
	}
	if err != nil {
		return nil, false, fileError(path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, true, fileError(path, err)
	}
	for id, t := range cfg.Tasks {
		if err := t.validate(id); err != nil {
			return nil, true, fileError(path, err)
		}
	}
	return cfg, true, nil
}

// loadYAML reads a YAML file and unmarshals it into out.
// A missing file is not an error (defaults are used).
func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// loadEnv overrides config fields with environment variables when set.
func loadEnv(cfg *Workspace) {
	// Logging
	setString(&cfg.Logging.Level, "MOON_LOG_LEVEL")
	setString(&cfg.Logging.Format, "MOON_LOG_FORMAT")
	setBool(&cfg.Logging.Async, "MOON_LOG_ASYNC")

	// Runner
	setInt(&cfg.Runner.Concurrency, "MOON_CONCURRENCY")
	setString(&cfg.Runner.OutputStyle, "MOON_OUTPUT_STYLE")
	setInt(&cfg.Runner.RetryCount, "MOON_RETRY_COUNT")
	setString(&cfg.Runner.CacheLifetime, "MOON_CACHE_LIFETIME")

	// VCS
	setString(&cfg.VCS.DefaultBranch, "MOON_DEFAULT_BRANCH")

	// Remote cache
	setString(&cfg.RemoteCache.Endpoint, "MOON_REMOTE_CACHE_ENDPOINT")
	setString(&cfg.RemoteCache.Bucket, "MOON_REMOTE_CACHE_BUCKET")
	setString(&cfg.RemoteCache.AccessKey, "MOON_REMOTE_CACHE_ACCESS_KEY")
	setString(&cfg.RemoteCache.SecretKey, "MOON_REMOTE_CACHE_SECRET_KEY")
	setString(&cfg.RemoteCache.Region, "MOON_REMOTE_CACHE_REGION")
	setString(&cfg.RemoteCache.Prefix, "MOON_REMOTE_CACHE_PREFIX")
	setBool(&cfg.RemoteCache.UseSSL, "MOON_REMOTE_CACHE_USE_SSL")
	setDuration(&cfg.RemoteCache.Timeout, "MOON_REMOTE_CACHE_TIMEOUT")

	// Notifier
	setString(&cfg.Notifier.NatsURL, "MOON_NATS_URL")
	setString(&cfg.Notifier.Subject, "MOON_NATS_SUBJECT")

	// Telemetry
	setString(&cfg.Telemetry.OTLPEndpoint, "MOON_OTLP_ENDPOINT")
	setFloat64(&cfg.Telemetry.SampleRate, "MOON_OTEL_SAMPLE_RATE")

	// Cache
	setString(&cfg.Cache.Compression, "MOON_CACHE_COMPRESSION")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
