// Package automation implements the transfer.Driver contract.
//
// FormDriver talks to the remote system over HTTP: it logs in, keeps the
// session cookie, and posts url-encoded forms to the configured endpoints.
// DryRunDriver performs no I/O and accepts every submission except those for
// explicitly rejected student numbers, which makes rehearsal batches possible
// against real data. Factory picks one per batch from remote.mode.
//
// Faults that leave the session unusable (connection failures, expired
// sessions, server errors during login) wrap transfer.ErrDriverUnavailable and
// abort the batch. Remote refusals are returned as unsuccessful results.
package automation
