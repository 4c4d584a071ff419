// Package events fans transfer progress out of the orchestrator.
//
// Hub keeps a bounded, sequence-numbered buffer in memory and serves
// long-poll reads for the API and the CLI watcher. RedisPublisher mirrors
// events onto Redis pub/sub for external dashboards. Fanout combines sinks.
// Every sink honours the transfer.EventSink contract: Publish never blocks on
// I/O and never reports failure to the caller.
package events
