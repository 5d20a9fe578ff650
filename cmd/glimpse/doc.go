// Package main hosts the glimpse CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into
// captioning runs, run-history queries, preset listings, environment
// checks, and configuration scaffolding. It centralizes configuration
// resolution and logger setup so subcommands can focus on user
// experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the
// internal packages first, then surface it through dedicated commands
// or flags here.
package main
