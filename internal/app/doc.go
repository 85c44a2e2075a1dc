// Package app wires application dependencies for the CLI.
//
// It loads the TOML Config and builds the logging backend, the persisted
// channel state and the protocol engine from it, exposing them via the Wire
// struct for commands to use.
package app
