package config

// Task is a task entry of moon.yml or an inherited tasks file.
type Task struct {
	Description string            `yaml:"description"`
	Command     Argv              `yaml:"command"`
	Args        Argv              `yaml:"args"`
	Script      string            `yaml:"script"`
	Deps        []TaskDependency  `yaml:"deps"`
	Env         map[string]string `yaml:"env"`
	Inputs      *[]string         `yaml:"inputs"`
	Outputs     *[]string         `yaml:"outputs"`
	Options     TaskOptions       `yaml:"options"`
	Platform    string            `yaml:"platform"`
	Type        string            `yaml:"type"`
	Local       *bool             `yaml:"local"`
}

// TaskOptions are optional overrides; nil means "not set".
type TaskOptions struct {
	AffectedFiles        *AffectedFilesOption `yaml:"affectedFiles"`
	AffectedPassInputs   *bool                `yaml:"affectedPassInputs"`
	AllowFailure         *bool                `yaml:"allowFailure"`
	Cache                *bool                `yaml:"cache"`
	EnvFile              *EnvFileOption       `yaml:"envFile"`
	Internal             *bool                `yaml:"internal"`
	Interactive          *bool                `yaml:"interactive"`
	MergeArgs            *string              `yaml:"mergeArgs"`
	MergeDeps            *string              `yaml:"mergeDeps"`
	MergeEnv             *string              `yaml:"mergeEnv"`
	MergeInputs          *string              `yaml:"mergeInputs"`
	MergeOutputs         *string              `yaml:"mergeOutputs"`
	Mutex                *string              `yaml:"mutex"`
	OutputStyle          *string              `yaml:"outputStyle"`
	Persistent           *bool                `yaml:"persistent"`
	RetryCount           *int                 `yaml:"retryCount"`
	RunDepsInParallel    *bool                `yaml:"runDepsInParallel"`
	RunInCI              *bool                `yaml:"runInCI"`
	RunFromWorkspaceRoot *bool                `yaml:"runFromWorkspaceRoot"`
	Shell                *bool                `yaml:"shell"`
	UnixShell            *string              `yaml:"unixShell"`
	WindowsShell         *string              `yaml:"windowsShell"`
}

// Overlay returns o with every field set in next replacing its counterpart.
func (o TaskOptions) Overlay(next TaskOptions) TaskOptions {
	pick(&o.AffectedFiles, next.AffectedFiles)
	pick(&o.AffectedPassInputs, next.AffectedPassInputs)
	pick(&o.AllowFailure, next.AllowFailure)
	pick(&o.Cache, next.Cache)
	pick(&o.EnvFile, next.EnvFile)
	pick(&o.Internal, next.Internal)
	pick(&o.Interactive, next.Interactive)
	pick(&o.MergeArgs, next.MergeArgs)
	pick(&o.MergeDeps, next.MergeDeps)
	pick(&o.MergeEnv, next.MergeEnv)
	pick(&o.MergeInputs, next.MergeInputs)
	pick(&o.MergeOutputs, next.MergeOutputs)
	pick(&o.Mutex, next.Mutex)
	pick(&o.OutputStyle, next.OutputStyle)
	pick(&o.Persistent, next.Persistent)
	pick(&o.RetryCount, next.RetryCount)
	pick(&o.RunDepsInParallel, next.RunDepsInParallel)
	pick(&o.RunInCI, next.RunInCI)
	pick(&o.RunFromWorkspaceRoot, next.RunFromWorkspaceRoot)
	pick(&o.Shell, next.Shell)
	pick(&o.UnixShell, next.UnixShell)
	pick(&o.WindowsShell, next.WindowsShell)
	return o
}

func pick[T any](dst **T, next *T) {
	if next != nil {
		*dst = next
	}
}

// Owners configures code ownership of a project.
type Owners struct {
	DefaultOwner string      `yaml:"defaultOwner"`
	Paths        OwnersPaths `yaml:"paths"`
}

// InheritedTasksFilter narrows the inherited tasks of a project.
type InheritedTasksFilter struct {
	Include *[]string         `yaml:"include"`
	Exclude []string          `yaml:"exclude"`
	Rename  map[string]string `yaml:"rename"`
}

// ProjectWorkspace holds per-project workspace settings.
type ProjectWorkspace struct {
	InheritedTasks InheritedTasksFilter `yaml:"inheritedTasks"`
}

// ProjectToolchain overrides toolchain settings for one project.
type ProjectToolchain struct {
	Node *struct {
		Version string `yaml:"version"`
	} `yaml:"node"`
}

// Project holds the settings of a project's moon.yml.
type Project struct {
	Language   string              `yaml:"language"`
	Platform   string              `yaml:"platform"`
	Type       string              `yaml:"type"`
	Stack      string              `yaml:"stack"`
	Tags       []string            `yaml:"tags"`
	DependsOn  []ProjectDependency `yaml:"dependsOn"`
	FileGroups map[string][]string `yaml:"fileGroups"`
	Tasks      map[string]Task     `yaml:"tasks"`
	Env        map[string]string   `yaml:"env"`
	Owners     Owners              `yaml:"owners"`
	Workspace  ProjectWorkspace    `yaml:"workspace"`
	Toolchain  ProjectToolchain    `yaml:"toolchain"`
}

// InheritedTasks holds a tasks.yml (or tasks/<lookup>.yml) file.
type InheritedTasks struct {
	FileGroups     map[string][]string `yaml:"fileGroups"`
	ImplicitDeps   []TaskDependency    `yaml:"implicitDeps"`
	ImplicitInputs []string            `yaml:"implicitInputs"`
	Tasks          map[string]Task     `yaml:"tasks"`
	TaskOptions    TaskOptions         `yaml:"taskOptions"`
}
