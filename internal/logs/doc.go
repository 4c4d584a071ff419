// Package logs reads the daemon log file for `ferry logs`.
//
// Tail returns the last N lines or everything after a byte offset, optionally
// narrowed to lines mentioning one batch, and can poll for new lines in follow
// mode. Memory stays bounded by the requested line count.
package logs
