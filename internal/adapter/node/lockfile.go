package node

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/buger/jsonparser"
	"gopkg.in/yaml.v3"
)

// lockfileFor returns the lockfile names a package manager writes.
func lockfileFor(pm string) []string {
	switch pm {
	case "pnpm":
		return []string{"pnpm-lock.yaml"}
	case "yarn":
		return []string{"yarn.lock"}
	case "bun":
		return []string{"bun.lock", "bun.lockb"}
	default:
		return []string{"package-lock.json", "npm-shrinkwrap.json"}
	}
}

// resolvedVersions maps package names to every version the lockfile in dir
// resolves. A missing or binary lockfile yields an empty map.
func resolvedVersions(dir, pm string) (map[string][]string, error) {
	for _, name := range lockfileFor(pm) {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}

		var out map[string][]string
		switch name {
		case "package-lock.json", "npm-shrinkwrap.json":
			out, err = parseNpmLock(data)
		case "pnpm-lock.yaml":
			out, err = parsePnpmLock(data)
		case "yarn.lock":
			out = parseYarnLock(data)
		default:
			out = map[string][]string{}
		}
		if err != nil {
			return nil, err
		}
		for k := range out {
			sort.Strings(out[k])
			out[k] = compact(out[k])
		}
		return out, nil
	}
	return map[string][]string{}, nil
}

func parseNpmLock(data []byte) (map[string][]string, error) {
	out := make(map[string][]string)
	add := func(name, version string) {
		if name != "" && version != "" {
			out[name] = append(out[name], version)
		}
	}

	// lockfileVersion 2 and 3
	err := jsonparser.ObjectEach(data, func(k, v []byte, _ jsonparser.ValueType, _ int) error {
		key := string(k)
		idx := strings.LastIndex(key, "node_modules/")
		if idx < 0 {
			return nil
		}
		version, _ := jsonparser.GetString(v, "version")
		add(key[idx+len("node_modules/"):], version)
		return nil
	}, "packages")
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, err
	}

	// lockfileVersion 1
	err = jsonparser.ObjectEach(data, func(k, v []byte, _ jsonparser.ValueType, _ int) error {
		version, _ := jsonparser.GetString(v, "version")
		add(string(k), version)
		return nil
	}, "dependencies")
	if err != nil && !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, err
	}
	return out, nil
}

func parsePnpmLock(data []byte) (map[string][]string, error) {
	var lock struct {
		Packages map[string]yaml.Node `yaml:"packages"`
	}
	if err := yaml.Unmarshal(data, &lock); err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	for key := range lock.Packages {
		key = strings.TrimPrefix(key, "/")
		if i := strings.IndexByte(key, '('); i >= 0 {
			key = key[:i]
		}
		at := strings.LastIndexByte(key, '@')
		if at <= 0 {
			continue
		}
		name, version := key[:at], key[at+1:]
		out[name] = append(out[name], version)
	}
	return out, nil
}

// parseYarnLock reads the classic yarn.lock format:
//
//	"react@^18.0.0", react@^18.2.0:
//	  version "18.2.0"
func parseYarnLock(data []byte) map[string][]string {
	out := make(map[string][]string)
	var names []string

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			names = nil
		case !strings.HasPrefix(line, " ") && strings.HasSuffix(line, ":"):
			names = names[:0]
			for _, spec := range strings.Split(strings.TrimSuffix(line, ":"), ",") {
				spec = strings.Trim(strings.TrimSpace(spec), `"`)
				if at := strings.LastIndexByte(spec, '@'); at > 0 {
					names = append(names, spec[:at])
				}
			}
		case strings.HasPrefix(strings.TrimSpace(line), "version "):
			version := strings.Trim(strings.TrimPrefix(strings.TrimSpace(line), "version "), `"`)
			for _, n := range names {
				out[n] = append(out[n], version)
			}
			names = nil
		}
	}
	return out
}

func compact(in []string) []string {
	out := in[:0]
	for i, s := range in {
		if i == 0 || s != in[i-1] {
			out = append(out, s)
		}
	}
	return out
}
