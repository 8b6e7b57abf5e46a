// Package action defines action graph nodes and the runtime records the
// pipeline produces while executing them.
package action

import (
	"fmt"

	"github.com/Strob0t/moon/internal/domain/target"
	"github.com/Strob0t/moon/internal/domain/toolchain"
)

// NodeKind is the variant of a Node.
type NodeKind string

const (
	KindSyncWorkspace  NodeKind = "sync-workspace"
	KindSetupToolchain NodeKind = "setup-toolchain"
	KindInstallDeps    NodeKind = "install-deps"
	KindSyncProject    NodeKind = "sync-project"
	KindRunTask        NodeKind = "run-task"
)

// Node is a discrete unit of work in the action graph.
// Only the fields relevant to Kind are populated.
type Node struct {
	Kind        NodeKind          `json:"kind"`
	Runtime     toolchain.Runtime `json:"runtime"`
	Project     string            `json:"project,omitempty"`
	Target      target.Target     `json:"target"`
	Persistent  bool              `json:"persistent,omitempty"`
	Interactive bool              `json:"interactive,omitempty"`
	// Required marks a task pulled into a CI check although it was not affected.
	Required bool `json:"required,omitempty"`
}

// SyncWorkspace returns the singleton root node.
func SyncWorkspace() Node {
	return Node{Kind: KindSyncWorkspace, Runtime: toolchain.System()}
}

// SetupToolchain returns a node that installs or verifies a toolchain.
func SetupToolchain(rt toolchain.Runtime) Node {
	return Node{Kind: KindSetupToolchain, Runtime: rt}
}

// InstallDeps returns a dependency install node; project is empty for workspace-level installs.
func InstallDeps(rt toolchain.Runtime, project string) Node {
	return Node{Kind: KindInstallDeps, Runtime: rt, Project: project}
}

// SyncProject returns a node that syncs a project's manifests with the graph.
func SyncProject(rt toolchain.Runtime, project string) Node {
	return Node{Kind: KindSyncProject, Runtime: rt, Project: project}
}

// RunTask returns a node that runs a task target.
func RunTask(rt toolchain.Runtime, t target.Target, persistent, interactive bool) Node {
	return Node{Kind: KindRunTask, Runtime: rt, Target: t, Persistent: persistent, Interactive: interactive}
}

// Label is the deterministic, human-readable identity of a node.
func (n Node) Label() string {
	switch n.Kind {
	case KindSyncWorkspace:
		return "SyncWorkspace"
	case KindSetupToolchain:
		return fmt.Sprintf("SetupToolchain(%s)", n.Runtime)
	case KindInstallDeps:
		if n.Project != "" {
			return fmt.Sprintf("InstallProjectDeps(%s, %s)", n.Runtime, n.Project)
		}
		return fmt.Sprintf("InstallWorkspaceDeps(%s)", n.Runtime)
	case KindSyncProject:
		return fmt.Sprintf("SyncProject(%s, %s)", n.Runtime, n.Project)
	case KindRunTask:
		switch {
		case n.Interactive:
			return fmt.Sprintf("RunInteractiveTask(%s)", n.Target)
		case n.Persistent:
			return fmt.Sprintf("RunPersistentTask(%s)", n.Target)
		default:
			return fmt.Sprintf("RunTask(%s)", n.Target)
		}
	default:
		return string(n.Kind)
	}
}

// IsRunTask reports whether the node runs a task.
func (n Node) IsRunTask() bool { return n.Kind == KindRunTask }

// IsSetup reports whether failure of this node aborts the pipeline.
func (n Node) IsSetup() bool {
	return n.Kind == KindSetupToolchain || n.Kind == KindInstallDeps
}
