// Package main hosts the vidflow CLI entrypoint and command graph.
//
// `vidflow daemon` runs the coordinator in the foreground. Every other
// command is a thin client of the daemon's HTTP API: submit, list, status,
// remove, retry and watch translate into apiclient calls and render the
// results as go-pretty tables, plain lines or JSON. Configuration is loaded
// lazily so `config init` works before a config file exists.
package main
