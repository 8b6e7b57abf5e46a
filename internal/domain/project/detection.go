package project

import (
	"os"
	"path/filepath"

	"github.com/Strob0t/moon/internal/domain/toolchain"
)

// manifestMap maps manifest filenames to their primary language, in detection priority order.
var manifestMap = []struct {
	File     string
	Language string
}{
	{"tsconfig.json", "typescript"},
	{"deno.json", "typescript"},
	{"deno.jsonc", "typescript"},
	{"package.json", "javascript"},
	{"Cargo.toml", "rust"},
	{"go.mod", "go"},
	{"pyproject.toml", "python"},
	{"requirements.txt", "python"},
	{"Pipfile", "python"},
	{"setup.py", "python"},
	{"Gemfile", "ruby"},
	{"composer.json", "php"},
	{"pom.xml", "java"},
	{"build.gradle", "java"},
	{"mix.exs", "elixir"},
	{"Package.swift", "swift"},
}

// DetectLanguage guesses a project's language from the manifests in dir.
func DetectLanguage(dir string) string {
	for _, m := range manifestMap {
		if _, err := os.Stat(filepath.Join(dir, m.File)); err == nil {
			return m.Language
		}
	}
	return "unknown"
}

// DefaultPlatform maps a language to the platform that runs its tasks.
func DefaultPlatform(language string, dir string) toolchain.Platform {
	switch language {
	case "javascript", "typescript":
		if exists(filepath.Join(dir, "deno.json")) || exists(filepath.Join(dir, "deno.jsonc")) {
			return toolchain.PlatformDeno
		}
		if exists(filepath.Join(dir, "bun.lockb")) || exists(filepath.Join(dir, "bun.lock")) {
			return toolchain.PlatformBun
		}
		return toolchain.PlatformNode
	case "python":
		return toolchain.PlatformPython
	case "rust":
		return toolchain.PlatformRust
	default:
		return toolchain.PlatformSystem
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
