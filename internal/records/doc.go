// Package records persists transferable records in SQLite.
//
// The Store is both the transfer Record Source (SelectRecords) and its
// Persistence (MarkTransferred, RecordError). Every write is scoped to a
// tenant; a write that matches no row owned by that tenant fails with
// services.ErrNotFound instead of silently touching another tenant's data.
// Transferred marks are recorded once per record in transfer_log, which makes
// repeated marking a no-op.
package records
