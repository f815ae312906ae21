// Package portregistry implements the on-disk port allocation table shared
// by every workspace: a single JSON map of "<workspace>:<service>" -> port,
// persisted at $HOME/.forge/ports.json.
//
// Allocation scans upward from a caller-supplied base port for the smallest
// value not already present in the table, so collisions across workspaces
// are impossible by construction rather than by a deterministic offset
// formula. Release removes every key whose workspace component exactly
// matches the given name (boundary-aware: releasing "work" must not touch
// "worktree:svc"). Scanner does the OS-level availability probing that keeps
// an allocation from colliding with a non-forge process.
package portregistry
