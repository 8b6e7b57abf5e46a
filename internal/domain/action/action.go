package action

import (
	"errors"
	"time"
)

// Status is the outcome of an action or attempt.
type Status string

const (
	StatusRunning          Status = "running"
	StatusPassed           Status = "passed"
	StatusCached           Status = "cached"
	StatusCachedFromRemote Status = "cached-from-remote"
	StatusFailed           Status = "failed"
	StatusFailedAndAbort   Status = "failed-and-abort"
	StatusInvalid          Status = "invalid"
	StatusSkipped          Status = "skipped"
)

// IsFailure reports whether the status is a failed outcome.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusFailedAndAbort || s == StatusInvalid
}

// IsCached reports whether the status came from a cache hit.
func (s Status) IsCached() bool {
	return s == StatusCached || s == StatusCachedFromRemote
}

// AttemptType identifies one phase of an action's execution.
type AttemptType string

const (
	AttemptHashGeneration   AttemptType = "hash-generation"
	AttemptMutexAcquisition AttemptType = "mutex-acquisition"
	AttemptOutputHydration  AttemptType = "output-hydration"
	AttemptTaskExecution    AttemptType = "task-execution"
	AttemptArchiveCreation  AttemptType = "archive-creation"
	AttemptNoOperation      AttemptType = "no-operation"
)

// Execution is the captured result of a spawned process.
type Execution struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// Attempt is one timed phase of an action.
type Attempt struct {
	Type       AttemptType   `json:"type"`
	Status     Status        `json:"status"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
	Duration   time.Duration `json:"duration"`
	Execution  *Execution    `json:"execution,omitempty"`
}

// Finish records the attempt outcome and duration.
func (a *Attempt) Finish(status Status) {
	now := time.Now()
	a.Status = status
	a.FinishedAt = &now
	a.Duration = now.Sub(a.StartedAt)
}

// Action is the runtime record of executing a Node.
type Action struct {
	Node         Node          `json:"node"`
	NodeIndex    int           `json:"nodeIndex"`
	Label        string        `json:"label"`
	CreatedAt    time.Time     `json:"createdAt"`
	StartedAt    *time.Time    `json:"startedAt,omitempty"`
	FinishedAt   *time.Time    `json:"finishedAt,omitempty"`
	Duration     time.Duration `json:"duration"`
	Status       Status        `json:"status"`
	Attempts     []*Attempt    `json:"attempts,omitempty"`
	Hash         string        `json:"hash,omitempty"`
	Error        string        `json:"error,omitempty"`
	AllowFailure bool          `json:"allowFailure"`
	Flaky        bool          `json:"flaky"`

	err error
}

// New creates an action record for node at index.
func New(node Node, index int) *Action {
	return &Action{
		Node:      node,
		NodeIndex: index,
		Label:     node.Label(),
		CreatedAt: time.Now(),
		Status:    StatusRunning,
	}
}

// Start marks the action as running.
func (a *Action) Start() {
	now := time.Now()
	a.StartedAt = &now
	a.Status = StatusRunning
}

// BeginAttempt appends a new running attempt.
func (a *Action) BeginAttempt(t AttemptType) *Attempt {
	att := &Attempt{Type: t, Status: StatusRunning, StartedAt: time.Now()}
	a.Attempts = append(a.Attempts, att)
	return att
}

// Finish records the final status and duration.
func (a *Action) Finish(status Status) {
	now := time.Now()
	a.Status = status
	a.FinishedAt = &now
	if a.StartedAt != nil {
		a.Duration = now.Sub(*a.StartedAt)
	}
}

// Fail stores err and finishes the action with StatusFailed, or
// StatusFailedAndAbort for setup nodes.
func (a *Action) Fail(err error) {
	a.SetError(err)
	if a.Node.IsSetup() {
		a.Finish(StatusFailedAndAbort)
		return
	}
	a.Finish(StatusFailed)
}

// Abort finishes the action with StatusFailedAndAbort.
func (a *Action) Abort(err error) {
	a.SetError(err)
	a.Finish(StatusFailedAndAbort)
}

// SetError stores the error without changing status.
func (a *Action) SetError(err error) {
	if err == nil {
		return
	}
	a.err = err
	a.Error = err.Error()
}

// Err returns the underlying error, if any.
func (a *Action) Err() error {
	if a.err == nil && a.Error != "" {
		return errors.New(a.Error)
	}
	return a.err
}

// HasFailed reports whether the action ended in a failure status.
func (a *Action) HasFailed() bool { return a.Status.IsFailure() }

// ShouldAbort reports whether the pipeline must stop regardless of bail settings.
func (a *Action) ShouldAbort() bool { return a.Status == StatusFailedAndAbort }

// ShouldBail reports whether this action's failure stops the pipeline.
func (a *Action) ShouldBail(bailOnError bool) bool {
	if a.ShouldAbort() {
		return true
	}
	return bailOnError && !a.AllowFailure && a.HasFailed()
}

// LastExecution returns the most recent task execution attempt, if any.
func (a *Action) LastExecution() *Attempt {
	for i := len(a.Attempts) - 1; i >= 0; i-- {
		if a.Attempts[i].Type == AttemptTaskExecution {
			return a.Attempts[i]
		}
	}
	return nil
}
