// Package services defines shared utilities consumed by the transfer engine
// and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp batch IDs, item indexes, tenants, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so failures carry a
//     consistent classification from the driver up to the API layer.
//
// Use these helpers when wiring new integrations so operational behaviour
// (error handling, observability) stays uniform across the daemon.
package services
