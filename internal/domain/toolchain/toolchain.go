// Package toolchain defines platform identities and runtime selections.
package toolchain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Platform identifies a toolchain family that can run tasks.
type Platform string

const (
	PlatformBun     Platform = "bun"
	PlatformDeno    Platform = "deno"
	PlatformNode    Platform = "node"
	PlatformPython  Platform = "python"
	PlatformRust    Platform = "rust"
	PlatformSystem  Platform = "system"
	PlatformUnknown Platform = "unknown"
)

// ParsePlatform converts a config string into a Platform. Unrecognised values map to PlatformUnknown.
func ParsePlatform(s string) Platform {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformBun, PlatformDeno, PlatformNode, PlatformPython, PlatformRust, PlatformSystem:
		return p
	default:
		return PlatformUnknown
	}
}

// IsSystem reports whether the platform runs commands directly on the host.
func (p Platform) IsSystem() bool {
	return p == PlatformSystem || p == PlatformUnknown || p == ""
}

// Requirement describes which version of a toolchain a runtime needs.
type Requirement struct {
	Version string // empty means the globally installed binary
}

// IsGlobal reports whether the requirement uses whatever is on PATH.
func (r Requirement) IsGlobal() bool { return r.Version == "" }

func (r Requirement) String() string {
	if r.IsGlobal() {
		return "global"
	}
	return r.Version
}

// Runtime is the platform plus version selection applied to a task.
type Runtime struct {
	Platform    Platform    `json:"platform"`
	Requirement Requirement `json:"-"`
}

// System returns the host runtime.
func System() Runtime {
	return Runtime{Platform: PlatformSystem}
}

// NewRuntime creates a runtime for platform pinned to version (empty = global).
func NewRuntime(p Platform, version string) Runtime {
	return Runtime{Platform: p, Requirement: Requirement{Version: version}}
}

// String returns a stable identifier such as `system`, `node` or `node:20.11.0`.
func (r Runtime) String() string {
	if r.Platform.IsSystem() {
		return string(PlatformSystem)
	}
	if r.Requirement.IsGlobal() {
		return string(r.Platform)
	}
	return fmt.Sprintf("%s:%s", r.Platform, r.Requirement.Version)
}

// Key returns a filesystem-safe identifier used for cache state file names.
func (r Runtime) Key() string {
	return strings.NewReplacer(":", "-", "/", "-").Replace(r.String())
}

type runtimeJSON struct {
	Platform Platform `json:"platform"`
	Version  string   `json:"version,omitempty"`
}

// MarshalJSON encodes the runtime with an optional version.
func (r Runtime) MarshalJSON() ([]byte, error) {
	return json.Marshal(runtimeJSON{Platform: r.Platform, Version: r.Requirement.Version})
}

// UnmarshalJSON decodes a runtime.
func (r *Runtime) UnmarshalJSON(b []byte) error {
	var raw runtimeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*r = NewRuntime(raw.Platform, raw.Version)
	return nil
}
