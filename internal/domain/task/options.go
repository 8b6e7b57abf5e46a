package task

import (
	"fmt"
	"strings"
)

// AffectedFiles controls how affected files are passed to a task process.
type AffectedFiles string

const (
	AffectedOff  AffectedFiles = "off"
	AffectedArgs AffectedFiles = "args"
	AffectedEnv  AffectedFiles = "env"
	AffectedBoth AffectedFiles = "both"
)

// PassesArgs reports whether affected files are appended to the arguments.
func (a AffectedFiles) PassesArgs() bool { return a == AffectedArgs || a == AffectedBoth }

// PassesEnv reports whether affected files are exported as MOON_AFFECTED_FILES.
func (a AffectedFiles) PassesEnv() bool { return a == AffectedEnv || a == AffectedBoth }

// MergeStrategy decides how inherited and local task settings combine.
type MergeStrategy string

const (
	MergeAppend  MergeStrategy = "append"
	MergePrepend MergeStrategy = "prepend"
	MergeReplace MergeStrategy = "replace"
)

// OutputStyle controls how process output is surfaced to the console.
type OutputStyle string

const (
	OutputBuffer            OutputStyle = "buffer"
	OutputBufferOnlyFailure OutputStyle = "buffer-only-failure"
	OutputHash              OutputStyle = "hash"
	OutputNone              OutputStyle = "none"
	OutputStream            OutputStyle = "stream"
)

// ParseOutputStyle validates s; an empty string yields "".
func ParseOutputStyle(s string) (OutputStyle, error) {
	switch o := OutputStyle(strings.TrimSpace(s)); o {
	case "", OutputBuffer, OutputBufferOnlyFailure, OutputHash, OutputNone, OutputStream:
		return o, nil
	default:
		return "", fmt.Errorf("invalid output style %q", s)
	}
}

// UnixShell is the shell used to run commands on unix hosts.
type UnixShell string

const (
	UnixBash   UnixShell = "bash"
	UnixElvish UnixShell = "elvish"
	UnixFish   UnixShell = "fish"
	UnixIon    UnixShell = "ion"
	UnixMurex  UnixShell = "murex"
	UnixNu     UnixShell = "nu"
	UnixPwsh   UnixShell = "pwsh"
	UnixXonsh  UnixShell = "xonsh"
	UnixZsh    UnixShell = "zsh"
)

// WindowsShell is the shell used to run commands on windows hosts.
type WindowsShell string

const (
	WindowsBash   WindowsShell = "bash"
	WindowsElvish WindowsShell = "elvish"
	WindowsFish   WindowsShell = "fish"
	WindowsMurex  WindowsShell = "murex"
	WindowsNu     WindowsShell = "nu"
	WindowsPwsh   WindowsShell = "pwsh"
	WindowsXonsh  WindowsShell = "xonsh"
)

// Options are the resolved runtime options of a task.
type Options struct {
	AffectedFiles        AffectedFiles `json:"affectedFiles"`
	AffectedPassInputs   bool          `json:"affectedPassInputs"`
	AllowFailure         bool          `json:"allowFailure"`
	Cache                bool          `json:"cache"`
	EnvFiles             []string      `json:"envFiles,omitempty"`
	Internal             bool          `json:"internal"`
	Interactive          bool          `json:"interactive"`
	MergeArgs            MergeStrategy `json:"mergeArgs"`
	MergeDeps            MergeStrategy `json:"mergeDeps"`
	MergeEnv             MergeStrategy `json:"mergeEnv"`
	MergeInputs          MergeStrategy `json:"mergeInputs"`
	MergeOutputs         MergeStrategy `json:"mergeOutputs"`
	Mutex                string        `json:"mutex,omitempty"`
	OutputStyle          OutputStyle   `json:"outputStyle,omitempty"`
	Persistent           bool          `json:"persistent"`
	RetryCount           uint8         `json:"retryCount"`
	RunDepsInParallel    bool          `json:"runDepsInParallel"`
	RunInCI              bool          `json:"runInCI"`
	RunFromWorkspaceRoot bool          `json:"runFromWorkspaceRoot"`
	Shell                *bool         `json:"shell,omitempty"`
	UnixShell            UnixShell     `json:"unixShell"`
	WindowsShell         WindowsShell  `json:"windowsShell"`
}

// DefaultOptions returns the options applied before any configuration.
func DefaultOptions() Options {
	return Options{
		AffectedFiles:     AffectedOff,
		Cache:             true,
		MergeArgs:         MergeAppend,
		MergeDeps:         MergeAppend,
		MergeEnv:          MergeAppend,
		MergeInputs:       MergeAppend,
		MergeOutputs:      MergeAppend,
		RunDepsInParallel: true,
		RunInCI:           true,
		UnixShell:         UnixBash,
		WindowsShell:      WindowsPwsh,
	}
}

// UsesShell reports whether the command should be wrapped in a shell.
func (o Options) UsesShell() bool {
	return o.Shell == nil || *o.Shell
}

// MergeSlices combines base (inherited) and next (local) according to strategy.
func MergeSlices[T any](strategy MergeStrategy, base, next []T) []T {
	switch strategy {
	case MergeReplace:
		return append([]T(nil), next...)
	case MergePrepend:
		out := make([]T, 0, len(base)+len(next))
		out = append(out, next...)
		return append(out, base...)
	default:
		out := make([]T, 0, len(base)+len(next))
		out = append(out, base...)
		return append(out, next...)
	}
}

// MergeMaps combines base and next; with prepend the base wins conflicts.
func MergeMaps(strategy MergeStrategy, base, next map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(next))
	switch strategy {
	case MergeReplace:
		for k, v := range next {
			out[k] = v
		}
	case MergePrepend:
		for k, v := range next {
			out[k] = v
		}
		for k, v := range base {
			out[k] = v
		}
	default:
		for k, v := range base {
			out[k] = v
		}
		for k, v := range next {
			out[k] = v
		}
	}
	return out
}
