// Package main hosts the ferry CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into calls
// against the daemon's HTTP API: starting and watching transfer batches,
// listing records, and controlling the daemon process itself. Record entry,
// log tailing, and configuration scaffolding work directly on local files.
//
// Keep this package lean: add new functionality to the internal packages
// first, then surface it through dedicated commands or flags here.
package main
