// Package commands defines the mleschat CLI and wires dependencies for subcommands.
//
// Commands
//
//   - join           Chat interactively on a channel
//   - send           Send one message to a channel
//   - send-image     Send a file as a multipart image
//   - channels       List joined channels
//   - fingerprint    Print the key fingerprint of a channel
//
// # Implementation
//
// The root command loads the TOML config from the home directory and builds
// the dependency graph (log backend, bbolt state, protocol engine) before any
// subcommand runs. The engine is shut down after the subcommand returns.
package commands
