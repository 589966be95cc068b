// ABOUTME: Configuration loading for the warren host and worker binaries.
// ABOUTME: Host config is YAML, worker config is TOML; both expand ${VAR}.

// Package config loads and validates warren's configuration files.
//
// The host reads a YAML file describing the channel directory, database,
// Matrix connection, supervision timing, and pipeline presentation. The
// worker reads a smaller TOML file describing the channel directory and the
// agent adapter to run. Environment variables in ${VAR} form are expanded in
// both before parsing, and duration fields accept Go duration strings
// ("250ms", "5m").
//
// Every timing knob has a default matching the package that consumes it, so
// a minimal config only needs the channel root and the credentials.
package config
