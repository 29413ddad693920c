// Package config loads the runtime's configuration from a YAML file with
// environment variable overrides layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Defaults holds per-session execution defaults.
type Defaults struct {
	InitialCwd       string   `yaml:"initial_cwd"`
	CommandTimeoutMs int      `yaml:"command_timeout_ms"`
	OutputCapBytes   int64    `yaml:"output_cap_bytes"`
	PollIntervalMs   int      `yaml:"poll_interval_ms"`
	EnvOverlay       []string `yaml:"env_overlay"`
}

// FileOpsConfig controls the file-operations component's safety rules.
type FileOpsConfig struct {
	AllowedRoots       []string `yaml:"allowed_roots"`
	MaxPathLength      int      `yaml:"max_path_length"`
	DenyExecInTmp      bool     `yaml:"deny_exec_in_tmp"`
	ReadStreamChunkSize int     `yaml:"read_stream_chunk_size"`
}

// PreviewConfig controls preview-URL hostname composition and parsing.
type PreviewConfig struct {
	SandboxID    string `yaml:"sandbox_id"`
	BaseDomain   string `yaml:"base_domain"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
}

// InterpreterConfig controls how kernel subprocesses are launched.
type InterpreterConfig struct {
	// KernelCommand maps a language tag to the argv used to launch its
	// kernel subprocess. The runtime only owns lifecycle/framing; the
	// kernel binary itself is an external collaborator.
	KernelCommand map[string][]string `yaml:"kernel_command"`
	StartupTimeout time.Duration      `yaml:"startup_timeout"`
}

// Config is the root configuration object.
type Config struct {
	Listen           string            `yaml:"listen"`
	DataDir          string            `yaml:"data_dir"`
	ProcessRetention time.Duration     `yaml:"process_retention"`
	ReaperInterval   time.Duration     `yaml:"reaper_interval"`
	Defaults         Defaults          `yaml:"defaults"`
	FileOps          FileOpsConfig     `yaml:"file_ops"`
	Preview          PreviewConfig     `yaml:"preview"`
	Interpreter      InterpreterConfig `yaml:"interpreter"`
}

// Load reads yamlPath (if it exists) over sensible defaults and then
// applies SANDRUN_* environment overrides.
func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		Listen:           "0.0.0.0:3000",
		DataDir:          "/tmp/sandrun",
		ProcessRetention: 10 * time.Minute,
		ReaperInterval:   time.Minute,
		Defaults: Defaults{
			InitialCwd:       "/workspace",
			CommandTimeoutMs: 120_000,
			OutputCapBytes:   10 * 1024 * 1024,
			PollIntervalMs:   30,
		},
		FileOps: FileOpsConfig{
			AllowedRoots:        []string{"/tmp", "/home", "/workspace"},
			MaxPathLength:       4096,
			DenyExecInTmp:       true,
			ReadStreamChunkSize: 64 * 1024,
		},
		Preview: PreviewConfig{
			BaseDomain:  "sandrun.dev",
			DialTimeout: 5 * time.Second,
		},
		Interpreter: InterpreterConfig{
			KernelCommand:  map[string][]string{},
			StartupTimeout: 10 * time.Second,
		},
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SANDRUN_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("SANDRUN_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SANDRUN_SANDBOX_ID"); v != "" {
		cfg.Preview.SandboxID = v
	}
	if v := os.Getenv("SANDRUN_BASE_DOMAIN"); v != "" {
		cfg.Preview.BaseDomain = v
	}
	if v := os.Getenv("SANDRUN_INITIAL_CWD"); v != "" {
		cfg.Defaults.InitialCwd = v
	}
	if v := os.Getenv("SANDRUN_ENV_OVERLAY"); v != "" {
		cfg.Defaults.EnvOverlay = strings.Split(v, ",")
	}
	if v := os.Getenv("SANDRUN_COMMAND_TIMEOUT_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SANDRUN_COMMAND_TIMEOUT_MS: %w", err)
		}
		cfg.Defaults.CommandTimeoutMs = n
	}
	// Human-readable size strings ("10MB", "512KiB") via docker/go-units.
	if v := os.Getenv("SANDRUN_OUTPUT_CAP"); v != "" {
		n, err := units.FromHumanSize(v)
		if err != nil {
			return fmt.Errorf("SANDRUN_OUTPUT_CAP: %w", err)
		}
		cfg.Defaults.OutputCapBytes = n
	}
	if v := os.Getenv("SANDRUN_PROCESS_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SANDRUN_PROCESS_RETENTION: %w", err)
		}
		cfg.ProcessRetention = d
	}
	if v := os.Getenv("SANDRUN_REAPER_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SANDRUN_REAPER_INTERVAL: %w", err)
		}
		cfg.ReaperInterval = d
	}
	if v := os.Getenv("SANDRUN_ALLOWED_ROOTS"); v != "" {
		cfg.FileOps.AllowedRoots = strings.Split(v, ",")
	}
	return nil
}

// CommandTimeout returns the configured command timeout as a time.Duration.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Defaults.CommandTimeoutMs) * time.Millisecond
}

// PollInterval returns the exit-code polling interval as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Defaults.PollIntervalMs) * time.Millisecond
}
