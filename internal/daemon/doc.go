// Package daemon coordinates the long-running ferry process.
//
// It wires configuration, the records store, the transfer service, and the
// event hub into a single lifecycle with flock-based locking to prevent
// multiple instances. The daemon serves the HTTP API, prunes finished batches
// from the job registry on a timer, and drains running batches on shutdown.
//
// Keep orchestration logic here: batch execution lives in internal/transfer
// while the daemon focuses on startup, shutdown, and exposing the service.
package daemon
