// Package notifications delivers terminal transfer outcomes via ntfy.
//
// NewService returns an ntfy-backed Service when a topic is configured and a
// no-op otherwise. Sink adapts a Service to the transfer event sink contract:
// it reacts only to batch-done and batch-error events and sends in the
// background so a slow ntfy server never stalls a batch.
package notifications
