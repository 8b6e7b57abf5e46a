package config

// Toolchain holds the settings of .moon/toolchain.yml.
type Toolchain struct {
	Node *Node `yaml:"node"`
}

// Node configures the Node.js platform. A nil Node disables it.
type Node struct {
	Version                          string `yaml:"version"`
	PackageManager                   string `yaml:"packageManager"` // npm | pnpm | yarn | bun
	InferTasksFromScripts            bool   `yaml:"inferTasksFromScripts"`
	SyncProjectWorkspaceDependencies bool   `yaml:"syncProjectWorkspaceDependencies"`
	DependencyVersionFormat          string `yaml:"dependencyVersionFormat"` // workspace | star | file
	AliasPackageNames                bool   `yaml:"aliasPackageNames"`
}

// DefaultNode returns the Node settings applied before YAML.
func DefaultNode() Node {
	return Node{
		PackageManager:                   "npm",
		SyncProjectWorkspaceDependencies: true,
		DependencyVersionFormat:          "workspace",
		AliasPackageNames:                true,
	}
}
