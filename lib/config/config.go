// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tracecathq/executor/lib/process"
)

// BackendType selects the execution strategy.
type BackendType string

const (
	BackendSandboxedPool BackendType = "sandboxed_pool"
	BackendEphemeral     BackendType = "ephemeral"
	BackendDirect        BackendType = "direct"
	BackendAuto          BackendType = "auto"
)

// Valid reports whether b is one of the known backend types.
func (b BackendType) Valid() bool {
	switch b {
	case BackendSandboxedPool, BackendEphemeral, BackendDirect, BackendAuto:
		return true
	}
	return false
}

// Environment variables consumed by ApplyEnvironment.
const (
	EnvConfigFile             = "TRACECAT_EXECUTOR_CONFIG"
	EnvBackend                = "TRACECAT__EXECUTOR_BACKEND"
	EnvDisableSandbox         = "TRACECAT__DISABLE_NSJAIL"
	EnvSandboxBinary          = "TRACECAT__SANDBOX_BINARY"
	EnvSandboxRootfs          = "TRACECAT__SANDBOX_ROOTFS_PATH"
	EnvPoolSize               = "TRACECAT__EXECUTOR_WORKER_POOL_SIZE"
	EnvMaxConcurrentPerWorker = "TRACECAT__EXECUTOR_MAX_CONCURRENT_PER_WORKER"
	EnvMaxTasksPerWorker      = "TRACECAT__EXECUTOR_MAX_TASKS_PER_WORKER"
)

// Config is the executor configuration.
type Config struct {
	// Backend is the execution strategy. Default: auto.
	Backend BackendType `yaml:"backend"`

	Paths    PathsConfig    `yaml:"paths"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Pool     PoolConfig     `yaml:"pool"`
	Registry RegistryConfig `yaml:"registry"`
	Secrets  SecretsConfig  `yaml:"secrets"`
}

// PathsConfig locates binaries and scratch space.
type PathsConfig struct {
	// Bin is searched first for the worker binary.
	Bin string `yaml:"bin"`

	// WorkerBinary is the tracecat-worker executable. A bare name is
	// resolved through Bin, the executor's own directory, and PATH.
	WorkerBinary string `yaml:"worker_binary"`

	// WorkRoot holds per-worker and per-call work directories.
	WorkRoot string `yaml:"work_root"`
}

// SandboxConfig configures OS isolation.
type SandboxConfig struct {
	// Disabled turns sandboxing off entirely. The auto backend then
	// selects direct execution.
	Disabled bool `yaml:"disabled"`

	// Binary is the bubblewrap executable.
	Binary string `yaml:"binary"`

	// RootfsPath is the root filesystem mounted read-only at / inside
	// the sandbox.
	RootfsPath string `yaml:"rootfs_path"`

	// Network shares the host network namespace with sandboxed code.
	// Actions call external APIs, so this defaults to true.
	Network bool `yaml:"network"`

	// MemoryLimit caps each sandboxed process tree through a systemd
	// scope ("512M", "2G"). Empty means no limit.
	MemoryLimit string `yaml:"memory_limit"`

	// TasksMax caps the number of processes per sandbox. Zero means no
	// limit.
	TasksMax int `yaml:"tasks_max"`
}

// PoolConfig sizes the warm worker pool.
type PoolConfig struct {
	// Size is the number of workers. Zero means auto.
	Size int `yaml:"size"`

	MaxConcurrentPerWorker int `yaml:"max_concurrent_per_worker"`

	// MaxTasksPerWorker is the recycle threshold.
	MaxTasksPerWorker int `yaml:"max_tasks_per_worker"`

	StartupTimeout  time.Duration `yaml:"startup_timeout"`
	AcquireTimeout  time.Duration `yaml:"acquire_timeout"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`

	// StuckThreshold is how long a worker may run its oldest task
	// before the metrics loop warns.
	StuckThreshold time.Duration `yaml:"stuck_threshold"`

	// Watchdog replaces dead idle workers on every metrics tick instead
	// of waiting for the next selection to notice them.
	Watchdog bool `yaml:"watchdog"`
}

// RegistryConfig configures registry bundle resolution.
type RegistryConfig struct {
	// CacheDir is where registry tarballs are extracted.
	CacheDir string `yaml:"cache_dir"`

	// Manifest is the YAML manifest of origins and actions.
	Manifest string `yaml:"manifest"`

	// CacheTTL bounds how long per-workspace artifact lists are reused.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// SecretsConfig locates the secret store used by trusted backends.
type SecretsConfig struct {
	// File is the secret store, age-encrypted or plain YAML.
	File string `yaml:"file"`

	// IdentityFile holds the age identity that decrypts File.
	IdentityFile string `yaml:"identity_file"`
}

// Default returns the configuration before any file or environment
// variable is applied.
func Default() *Config {
	return &Config{
		Backend: BackendAuto,
		Paths: PathsConfig{
			WorkerBinary: "tracecat-worker",
			WorkRoot:     filepath.Join(os.TempDir(), "tracecat-executor"),
		},
		Sandbox: SandboxConfig{
			Binary:     "/usr/bin/bwrap",
			RootfsPath: "/var/lib/tracecat/sandbox-rootfs",
			Network:    true,
		},
		Pool: PoolConfig{
			MaxConcurrentPerWorker: 16,
			MaxTasksPerWorker:      1000,
			StartupTimeout:         30 * time.Second,
			AcquireTimeout:         30 * time.Second,
			MetricsInterval:        10 * time.Second,
			StuckThreshold:         60 * time.Second,
		},
		Registry: RegistryConfig{
			CacheDir: "${HOME}/.cache/tracecat/registry",
			CacheTTL: 5 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults, the file at path (or
// TRACECAT_EXECUTOR_CONFIG when path is empty), and the process
// environment.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnvironment(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile builds the configuration from defaults and the file at
// path only. The environment surface is not consulted.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// ApplyEnvironment overlays the TRACECAT__* variables visible through
// lookup. Malformed values are reported together.
func (c *Config) ApplyEnvironment(lookup func(string) (string, bool)) error {
	var errs []error

	if value, ok := lookup(EnvBackend); ok && value != "" {
		c.Backend = BackendType(strings.ToLower(strings.TrimSpace(value)))
	}
	if value, ok := lookup(EnvDisableSandbox); ok && value != "" {
		disabled, err := parseBool(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvDisableSandbox, err))
		}
		c.Sandbox.Disabled = disabled
	}
	if value, ok := lookup(EnvSandboxBinary); ok && value != "" {
		c.Sandbox.Binary = value
	}
	if value, ok := lookup(EnvSandboxRootfs); ok && value != "" {
		c.Sandbox.RootfsPath = value
	}

	integers := []struct {
		name   string
		target *int
	}{
		{EnvPoolSize, &c.Pool.Size},
		{EnvMaxConcurrentPerWorker, &c.Pool.MaxConcurrentPerWorker},
		{EnvMaxTasksPerWorker, &c.Pool.MaxTasksPerWorker},
	}
	for _, integer := range integers {
		value, ok := lookup(integer.name)
		if !ok || value == "" {
			continue
		}
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", integer.name, err))
			continue
		}
		*integer.target = parsed
	}

	return errors.Join(errs...)
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", value)
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	for _, field := range []*string{
		&c.Paths.Bin,
		&c.Paths.WorkerBinary,
		&c.Paths.WorkRoot,
		&c.Sandbox.Binary,
		&c.Sandbox.RootfsPath,
		&c.Registry.CacheDir,
		&c.Registry.Manifest,
		&c.Secrets.File,
		&c.Secrets.IdentityFile,
	} {
		*field = expandVars(*field, vars)
	}
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if !c.Backend.Valid() {
		errs = append(errs, fmt.Errorf("backend must be one of sandboxed_pool, ephemeral, direct, auto; got %q", c.Backend))
	}
	if c.Pool.Size < 0 {
		errs = append(errs, fmt.Errorf("pool.size must not be negative"))
	}
	if c.Pool.MaxConcurrentPerWorker < 1 {
		errs = append(errs, fmt.Errorf("pool.max_concurrent_per_worker must be at least 1"))
	}
	if c.Pool.MaxTasksPerWorker < 1 {
		errs = append(errs, fmt.Errorf("pool.max_tasks_per_worker must be at least 1"))
	}
	for name, duration := range map[string]time.Duration{
		"pool.startup_timeout":  c.Pool.StartupTimeout,
		"pool.acquire_timeout":  c.Pool.AcquireTimeout,
		"pool.metrics_interval": c.Pool.MetricsInterval,
		"pool.stuck_threshold":  c.Pool.StuckThreshold,
	} {
		if duration <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Paths.WorkRoot == "" {
		errs = append(errs, fmt.Errorf("paths.work_root is required"))
	}
	if c.Registry.CacheDir == "" {
		errs = append(errs, fmt.Errorf("registry.cache_dir is required"))
	}
	if c.Secrets.File == "" && c.Secrets.IdentityFile != "" {
		errs = append(errs, fmt.Errorf("secrets.identity_file is set without secrets.file"))
	}
	return errors.Join(errs...)
}

// PoolSize returns the configured pool size, or the effective CPU
// count when the size is auto.
func (c *Config) PoolSize() int {
	if c.Pool.Size > 0 {
		return c.Pool.Size
	}
	return process.EffectiveCPUCount()
}

// HasSystemd reports whether systemd is running on this host.
func (c *Config) HasSystemd() bool {
	_, err := os.Stat("/run/systemd/system")
	return err == nil
}

// WorkerBinaryPath resolves Paths.WorkerBinary. An absolute path is
// returned as is; a bare name is looked up in Paths.Bin, next to the
// running executable, and on PATH, in that order.
func (c *Config) WorkerBinaryPath() (string, error) {
	name := c.Paths.WorkerBinary
	if filepath.IsAbs(name) {
		return name, nil
	}
	var candidates []string
	if c.Paths.Bin != "" {
		candidates = append(candidates, filepath.Join(c.Paths.Bin, name))
	}
	if executable, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(executable), name))
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in %v or PATH", name, candidates)
	}
	return path, nil
}
