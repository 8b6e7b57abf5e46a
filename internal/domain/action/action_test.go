package action_test

import (
	"errors"
	"testing"

	"github.com/Strob0t/moon/internal/domain/action"
	"github.com/Strob0t/moon/internal/domain/target"
	"github.com/Strob0t/moon/internal/domain/toolchain"
)

func TestLabels(t *testing.T) {
	node := toolchain.NewRuntime(toolchain.PlatformNode, "20.1.0")
	tests := []struct {
		node action.Node
		want string
	}{
		{action.SyncWorkspace(), "SyncWorkspace"},
		{action.SetupToolchain(node), "SetupToolchain(node:20.1.0)"},
		{action.InstallDeps(node, ""), "InstallWorkspaceDeps(node:20.1.0)"},
		{action.InstallDeps(node, "web"), "InstallProjectDeps(node:20.1.0, web)"},
		{action.SyncProject(toolchain.System(), "web"), "SyncProject(system, web)"},
		{action.RunTask(node, target.MustParse("web:build"), false, false), "RunTask(web:build)"},
		{action.RunTask(node, target.MustParse("web:dev"), true, false), "RunPersistentTask(web:dev)"},
		{action.RunTask(node, target.MustParse("web:init"), false, true), "RunInteractiveTask(web:init)"},
	}
	for _, tt := range tests {
		if got := tt.node.Label(); got != tt.want {
			t.Errorf("Label() = %q, want %q", got, tt.want)
		}
	}
}

func TestFail_SetupAborts(t *testing.T) {
	a := action.New(action.SetupToolchain(toolchain.System()), 1)
	a.Start()
	a.Fail(errors.New("boom"))

	if a.Status != action.StatusFailedAndAbort {
		t.Fatalf("status = %s", a.Status)
	}
	if !a.ShouldBail(false) {
		t.Error("abort must bail even without bail-on-error")
	}
	if a.Error != "boom" {
		t.Errorf("error = %q", a.Error)
	}
}

func TestShouldBail_AllowFailure(t *testing.T) {
	a := action.New(action.RunTask(toolchain.System(), target.MustParse("p:lint"), false, false), 2)
	a.AllowFailure = true
	a.Start()
	a.Fail(errors.New("exit 1"))

	if a.Status != action.StatusFailed {
		t.Fatalf("status = %s", a.Status)
	}
	if a.ShouldBail(true) {
		t.Error("allow_failure must never bail")
	}

	a.AllowFailure = false
	if !a.ShouldBail(true) {
		t.Error("failed action should bail when bail-on-error is set")
	}
	if a.ShouldBail(false) {
		t.Error("failed action should not bail when bail-on-error is off")
	}
}
