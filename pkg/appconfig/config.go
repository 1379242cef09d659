package appconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendConfig describes one agent CLI back-end.
// The binary is treated as a black box: it takes the prompt via argv, emits
// newline-delimited JSON events on stdout, and reads approval decisions as
// JSON lines on stdin.
type BackendConfig struct {
	// Name is the model selector sent by clients ("claude", "gemini").
	Name string `yaml:"name"`

	// Command is the CLI binary to spawn.
	Command string `yaml:"command"`

	// ExtraArgs are appended after the generated arguments.
	ExtraArgs []string `yaml:"extra_args,omitempty"`

	// Env entries are added to the process environment, KEY=VALUE.
	Env []string `yaml:"env,omitempty"`
}

// ApprovalConfig controls the dangerous-tool approval gate.
type ApprovalConfig struct {
	// Timeout is the single canonical auto-deny window. Seconds.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// DangerousTools overrides the built-in mutating/dangerous tool set.
	DangerousTools []string `yaml:"dangerous_tools,omitempty"`

	// PreApprovedPaths are doublestar globs; file-writing tool calls whose
	// target matches one of them skip the gate.
	PreApprovedPaths []string `yaml:"pre_approved_paths,omitempty"`
}

// Timeout returns the configured window as a duration, defaulting to 5m.
func (a ApprovalConfig) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// StreamConfig controls incremental persistence during streaming.
type StreamConfig struct {
	// PersistEveryChunks flushes the partial assistant message after this
	// many content deltas. Default 5.
	PersistEveryChunks int `yaml:"persist_every_chunks"`

	// PersistEverySeconds flushes on this wall-clock interval. Default 2.
	PersistEverySeconds int `yaml:"persist_every_seconds"`
}

func (s StreamConfig) ChunkInterval() int {
	if s.PersistEveryChunks <= 0 {
		return 5
	}
	return s.PersistEveryChunks
}

func (s StreamConfig) TimeInterval() time.Duration {
	if s.PersistEverySeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(s.PersistEverySeconds) * time.Second
}

// WatcherConfig controls the workspace file watcher.
type WatcherConfig struct {
	Enabled bool `yaml:"enabled"`

	// IgnoreGlobs are doublestar patterns excluded from change events.
	IgnoreGlobs []string `yaml:"ignore_globs,omitempty"`

	// DebounceMillis coalesces bursts of FS events. Default 250.
	DebounceMillis int `yaml:"debounce_millis"`
}

func (w WatcherConfig) Debounce() time.Duration {
	if w.DebounceMillis <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(w.DebounceMillis) * time.Millisecond
}

// Config is the top-level application configuration.
type Config struct {
	// DataDir is the root for conversation logs and checkpoints.
	DataDir string `yaml:"data_dir"`

	// StoreDriver selects the persistence backend: "json" or "sqlite".
	StoreDriver string `yaml:"store_driver"`

	// WorkspacesDir is the root under which workspace file trees live; an
	// agent's process runs with workdir WorkspacesDir/<workspace_id>.
	WorkspacesDir string `yaml:"workspaces_dir"`

	// ContextFile is the per-workspace permissions/context document injected
	// into every turn, relative to the workspace root.
	ContextFile string `yaml:"context_file"`

	// MaxAgentsPerWorkspace caps concurrently deployed agents. Default 4.
	MaxAgentsPerWorkspace int `yaml:"max_agents_per_workspace"`

	Backends []BackendConfig `yaml:"backends"`
	Approval ApprovalConfig  `yaml:"approval"`
	Stream   StreamConfig    `yaml:"stream"`
	Watcher  WatcherConfig   `yaml:"watcher"`
}

// MaxAgents returns the per-workspace cap with its default applied.
func (c *Config) MaxAgents() int {
	if c.MaxAgentsPerWorkspace <= 0 {
		return 4
	}
	return c.MaxAgentsPerWorkspace
}

// Backend looks up a back-end by model name.
func (c *Config) Backend(name string) (BackendConfig, bool) {
	for _, b := range c.Backends {
		if b.Name == name {
			return b, true
		}
	}
	return BackendConfig{}, false
}

// Default returns a runnable development configuration.
func Default() *Config {
	return &Config{
		DataDir:       ".data/agentdeck",
		StoreDriver:   "json",
		WorkspacesDir: ".data/workspaces",
		ContextFile:   "AGENTS.md",
		Backends: []BackendConfig{
			{Name: "claude", Command: "claude"},
			{Name: "gemini", Command: "gemini"},
		},
		Approval: ApprovalConfig{TimeoutSeconds: 300},
		Watcher: WatcherConfig{
			Enabled:     true,
			IgnoreGlobs: []string{".git/**", "node_modules/**", "**/*.tmp"},
		},
	}
}

// Load reads a YAML config from path, filling unset fields with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if len(cfg.Backends) == 0 {
		return nil, fmt.Errorf("config: at least one backend is required")
	}
	return cfg, nil
}
