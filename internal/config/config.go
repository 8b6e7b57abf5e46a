// Package config provides configuration loading with hierarchy: defaults < YAML < environment variables.
package config

import "time"

// Workspace holds the settings of .moon/workspace.yml.
type Workspace struct {
	Projects    Projects    `yaml:"projects"`
	VCS         VCS         `yaml:"vcs"`
	Runner      Runner      `yaml:"runner"`
	Hasher      Hasher      `yaml:"hasher"`
	Codeowners  Codeowners  `yaml:"codeowners"`
	RemoteCache RemoteCache `yaml:"remoteCache"`
	Notifier    Notifier    `yaml:"notifier"`
	Telemetry   Telemetry   `yaml:"telemetry"`
	Logging     Logging     `yaml:"logging"`
	Cache       Cache       `yaml:"cache"`
}

// VCS configures the version control adapter.
type VCS struct {
	Manager          string              `yaml:"manager"`
	DefaultBranch    string              `yaml:"defaultBranch"`
	RemoteCandidates []string            `yaml:"remoteCandidates"`
	Hooks            map[string][]string `yaml:"hooks"`
	SyncHooks        bool                `yaml:"syncHooks"`
	MaxConcurrent    int                 `yaml:"maxConcurrent"`
}

// Runner configures the action pipeline.
type Runner struct {
	CacheLifetime     string `yaml:"cacheLifetime"`
	AutoCleanCache    bool   `yaml:"autoCleanCache"`
	Concurrency       int    `yaml:"concurrency"` // 0 = logical CPU count
	BailOnError       bool   `yaml:"bailOnError"`
	LogRunningCommand bool   `yaml:"logRunningCommand"`
	OutputStyle       string `yaml:"outputStyle"`
	RetryCount        int    `yaml:"retryCount"`
}

// Hasher configures task hashing.
type Hasher struct {
	Optimization        string   `yaml:"optimization"` // accuracy | performance
	WarnOnMissingInputs bool     `yaml:"warnOnMissingInputs"`
	IgnorePatterns      []string `yaml:"ignorePatterns"`
	BatchSize           int      `yaml:"batchSize"`
}

// Codeowners configures CODEOWNERS generation.
type Codeowners struct {
	SyncOnRun   bool                `yaml:"syncOnRun"`
	GlobalPaths map[string][]string `yaml:"globalPaths"`
}

// RemoteCache configures the S3 compatible output cache.
type RemoteCache struct {
	Endpoint    string        `yaml:"endpoint"`
	Bucket      string        `yaml:"bucket"`
	AccessKey   string        `yaml:"accessKey"`
	SecretKey   string        `yaml:"secretKey"`
	Region      string        `yaml:"region"`
	Prefix      string        `yaml:"prefix"`
	UseSSL      bool          `yaml:"useSSL"`
	MaxFailures int           `yaml:"maxFailures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Enabled reports whether a remote cache is configured.
func (r RemoteCache) Enabled() bool { return r.Endpoint != "" && r.Bucket != "" }

// Notifier configures the NATS event notifier.
type Notifier struct {
	NatsURL string `yaml:"natsUrl"`
	Subject string `yaml:"subject"`
	Stream  string `yaml:"stream"`
}

// Telemetry configures OpenTelemetry export.
type Telemetry struct {
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	ServiceName  string  `yaml:"serviceName"`
	Insecure     bool    `yaml:"insecure"`
	SampleRate   float64 `yaml:"sampleRate"`
}

// Logging holds logging configuration.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json, empty selects by terminal
	Async  bool   `yaml:"async"`
}

// Cache configures the local cache engine.
type Cache struct {
	Compression string `yaml:"compression"` // gzip | zstd
}

// Defaults returns a Workspace with sensible default values.
func Defaults() Workspace {
	return Workspace{
		VCS: VCS{
			Manager:          "git",
			DefaultBranch:    "master",
			RemoteCandidates: []string{"origin", "upstream"},
			MaxConcurrent:    5,
		},
		Runner: Runner{
			CacheLifetime:  "7 days",
			AutoCleanCache: true,
			BailOnError:    true,
			OutputStyle:    "",
		},
		Hasher: Hasher{
			Optimization:        "accuracy",
			WarnOnMissingInputs: false,
			BatchSize:           2500,
		},
		RemoteCache: RemoteCache{
			Region:      "us-east-1",
			Prefix:      "moon",
			UseSSL:      true,
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Notifier: Notifier{
			Subject: "moon.pipeline",
			Stream:  "MOON",
		},
		Telemetry: Telemetry{
			ServiceName: "moon",
			Insecure:    true,
			SampleRate:  1.0,
		},
		Logging: Logging{
			Level: "info",
		},
		Cache: Cache{
			Compression: "gzip",
		},
	}
}
