package portregistry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultFileName is the registry file's name under the app's state directory.
const DefaultFileName = "ports.json"

// maxPort is the highest valid TCP/UDP port number.
const maxPort = 65535

// Registry is the on-disk (workspace,service) -> port table. All mutations
// go through a single mutex so allocation is linearized per process; the
// file itself is rewritten atomically (temp file, fsync, rename) so a crash
// mid-write never leaves a truncated registry behind.
type Registry struct {
	mu      sync.Mutex
	path    string
	scanner *Scanner
	ports   map[string]int // "workspace:service" -> port
}

// NewRegistry loads the registry from path, treating a missing or malformed
// file as an empty table rather than an error.
func NewRegistry(path string, scanner *Scanner) (*Registry, error) {
	r := &Registry{
		path:    path,
		scanner: scanner,
		ports:   make(map[string]int),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// DefaultPath returns $HOME/.forge/ports.json, creating the parent
// directory's name but not the directory itself.
func DefaultPath(appDir string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, appDir, DefaultFileName), nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		// Any other read error (permissions, etc.) is still non-fatal: an
		// empty in-memory table lets the caller keep working, and the next
		// successful persist will repair the file.
		return nil
	}

	var loaded map[string]int
	if jsonErr := json.Unmarshal(data, &loaded); jsonErr != nil {
		// Malformed file is treated as an empty registry, per spec.
		return nil
	}
	r.ports = loaded
	return nil
}

// persist rewrites the registry file atomically: write to a temp file in the
// same directory, fsync, then rename over the target.
func (r *Registry) persist() error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(r.ports, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal port registry: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ports-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp registry file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp registry file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp registry file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("rename registry file into place: %w", err)
	}
	return nil
}

func key(workspace, service string) string {
	return workspace + ":" + service
}

// Allocate returns the port assigned to (workspace,service). If an entry
// already exists it is returned unchanged (idempotent). Otherwise it scans
// upward from basePort for the smallest port that is neither already present
// in the table nor bound by some other process on the host, inserts it, and
// persists the table.
func (r *Registry) Allocate(workspace, service string, basePort int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(workspace, service)
	if existing, ok := r.ports[k]; ok {
		return existing, nil
	}

	used := make(map[int]bool, len(r.ports))
	for _, p := range r.ports {
		used[p] = true
	}

	port := basePort
	for {
		if port > maxPort {
			return 0, fmt.Errorf("no available port found starting from %d for %s/%s", basePort, workspace, service)
		}
		if !used[port] && r.scanner.IsPortAvailable(port, "tcp") {
			break
		}
		port++
	}

	r.ports[k] = port
	if err := r.persist(); err != nil {
		delete(r.ports, k)
		return 0, err
	}
	return port, nil
}

// Release removes every entry whose key's workspace component exactly
// equals workspace. Boundary-aware: releasing "work" must not remove an
// entry keyed "worktree:svc". A workspace with no entries is a no-op, but
// the table is still persisted.
func (r *Registry) Release(workspace string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := workspace + ":"
	for k := range r.ports {
		if strings.HasPrefix(k, prefix) {
			delete(r.ports, k)
		}
	}
	return r.persist()
}

// GetPorts projects the table to service -> port for the given workspace.
func (r *Registry) GetPorts(workspace string) map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := workspace + ":"
	out := make(map[string]int)
	for k, port := range r.ports {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			out[rest] = port
		}
	}
	return out
}
