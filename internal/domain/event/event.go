// Package event defines the events a pipeline emits to its subscribers.
package event

import (
	"time"

	"github.com/Strob0t/moon/internal/domain/action"
	"github.com/Strob0t/moon/internal/domain/target"
	"github.com/Strob0t/moon/internal/domain/toolchain"
)

// Type identifies the kind of pipeline event.
type Type string

const (
	TypePipelineStarted  Type = "pipeline.started"
	TypePipelineFinished Type = "pipeline.finished"
	TypeActionStarted    Type = "action.started"
	TypeActionFinished   Type = "action.finished"

	TypeWorkspaceSyncing       Type = "workspace.syncing"
	TypeWorkspaceSynced        Type = "workspace.synced"
	TypeToolInstalling         Type = "tool.installing"
	TypeToolInstalled          Type = "tool.installed"
	TypeDependenciesInstalling Type = "deps.installing"
	TypeDependenciesInstalled  Type = "deps.installed"
	TypeProjectSyncing         Type = "project.syncing"
	TypeProjectSynced          Type = "project.synced"

	TypeTaskRunning Type = "task.running"
	TypeTaskRan     Type = "task.ran"

	TypeTargetOutputCacheCheck Type = "target.output.cache_check"
	TypeTargetOutputHydrating  Type = "target.output.hydrating"
	TypeTargetOutputHydrated   Type = "target.output.hydrated"
	TypeTargetOutputArchiving  Type = "target.output.archiving"
	TypeTargetOutputArchived   Type = "target.output.archived"
)

// Cache locations a subscriber may return for TypeTargetOutputCacheCheck.
const (
	LocationLocal  = "local-cache"
	LocationRemote = "remote-cache"
)

// Event is a single pipeline occurrence. Fields not relevant to Type are zero.
type Event struct {
	Type    Type              `json:"type"`
	RunID   string            `json:"run_id"`
	Time    time.Time         `json:"time"`
	Action  *action.Action    `json:"action,omitempty"`
	Target  target.Target     `json:"target"`
	Runtime toolchain.Runtime `json:"runtime"`
	Project string            `json:"project,omitempty"`
	Hash    string            `json:"hash,omitempty"`
	// Location is where a cache hit came from, for hydration events.
	Location  string           `json:"location,omitempty"`
	Installed int              `json:"installed,omitempty"`
	Actions   []*action.Action `json:"actions,omitempty"`
	Duration  time.Duration    `json:"duration,omitempty"`
	Aborted   bool             `json:"aborted,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// New returns an event of type t stamped with the current time.
func New(t Type) Event {
	return Event{Type: t, Time: time.Now()}
}

// HasTarget reports whether the event refers to a run target.
func (e Event) HasTarget() bool { return e.Target.TaskID != "" }

// FlowKind tells the emitter how to proceed after a subscriber handled an event.
type FlowKind int

const (
	FlowContinue FlowKind = iota
	FlowBreak
	FlowReturn
)

// Flow is a subscriber's answer to an event.
type Flow struct {
	Kind  FlowKind
	Value string
}

// Continue passes the event to the next subscriber.
func Continue() Flow { return Flow{Kind: FlowContinue} }

// Break stops emission without a value.
func Break() Flow { return Flow{Kind: FlowBreak} }

// Return stops emission and hands value back to the emitter's caller.
func Return(value string) Flow { return Flow{Kind: FlowReturn, Value: value} }
