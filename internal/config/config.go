// Package config loads and watches the first-run wizard's config.json.
//
// config.json is a single static artifact (no env/flag/remote layering), so
// it is parsed directly with encoding/json rather than a layered config
// library. fsnotify watches the file so forged picks up wizard-authored
// edits — a changed aiAgent or defaultNetworkInterface — without a restart.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// AppDirName is the directory under $HOME forge persists all of its state in.
const AppDirName = ".forge"

// AIAgent identifies the default interactive program configured for new
// workspaces.
type AIAgent string

const (
	AgentClaude AIAgent = "claude"
	AgentCodex  AIAgent = "codex"
	AgentBoth   AIAgent = "both"
)

// ContainerRuntimeKind names the runtime the wizard pinned, if any.
type ContainerRuntimeKind string

const (
	RuntimeDocker ContainerRuntimeKind = "docker"
	RuntimePodman ContainerRuntimeKind = "podman"
)

// NetworkInterface controls whether published ports bind to loopback only
// or to all interfaces.
type NetworkInterface string

const (
	NetworkLocalhost NetworkInterface = "localhost"
	NetworkAll       NetworkInterface = "all"
)

// Config is the wizard-authored config.json shape.
type Config struct {
	RepositoryRoot          string               `json:"repositoryRoot"`
	AIAgent                 AIAgent              `json:"aiAgent"`
	ContainerRuntime        ContainerRuntimeKind `json:"containerRuntime,omitempty"`
	DefaultNetworkInterface NetworkInterface     `json:"defaultNetworkInterface"`

	// PtyCaptureInterval overrides the default PTY state-capture cadence.
	// A forge-specific addition beyond the wizard's minimum fields; empty
	// means "use the package default" (2s in production).
	PtyCaptureInterval time.Duration `json:"ptyCaptureInterval,omitempty"`
}

// DefaultPtyCaptureInterval is used when the config omits PtyCaptureInterval.
const DefaultPtyCaptureInterval = 2 * time.Second

// CaptureInterval returns the configured PTY capture cadence, falling back
// to DefaultPtyCaptureInterval when unset.
func (c *Config) CaptureInterval() time.Duration {
	if c.PtyCaptureInterval <= 0 {
		return DefaultPtyCaptureInterval
	}
	return c.PtyCaptureInterval
}

// Path returns $HOME/.forge/config.json.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, AppDirName, "config.json"), nil
}

// Load reads and parses the config file at path. A missing file returns a
// zero-value Config and no error, since the wizard may not have run yet.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

// Watcher wraps fsnotify to deliver reloaded Config values whenever
// config.json changes on disk.
type Watcher struct {
	mu      sync.RWMutex
	current *Config
	path    string
	fsw     *fsnotify.Watcher
	onChange func(*Config)
}

// NewWatcher loads path once, then starts watching its parent directory
// (watching the directory rather than the file survives editors that
// replace the file via rename-over rather than in-place write).
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
		fsw.Close()
		return nil, fmt.Errorf("create config directory %s: %w", dir, mkErr)
	}
	if watchErr := fsw.Add(dir); watchErr != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config directory %s: %w", dir, watchErr)
	}

	w := &Watcher{current: cfg, path: path, fsw: fsw, onChange: onChange}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				continue
			}
			w.mu.Lock()
			w.current = cfg
			w.mu.Unlock()
			if w.onChange != nil {
				w.onChange(cfg)
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
