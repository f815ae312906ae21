// Package model defines the domain types and value objects for the
// forge CLI.
//
// This package contains pure data structures with no external dependencies.
// The container-facing types (WorktreeEnv, ContainerInfo) are transient
// representations reconstructed from Docker container labels at runtime.
// The port table and PTY session state are persisted on disk by the
// portregistry (ports.json) and pty (pty-state.json) packages.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
