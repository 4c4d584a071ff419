// Package api defines the wire-format types and converters shared by the
// daemon's HTTP server and the CLI client. It translates transfer job
// snapshots, buffered progress events, and stored records into
// transport-friendly DTOs so consumers never depend on internal types.
//
// DTOs use camelCase JSON tags. Timestamps are RFC3339 with milliseconds in
// UTC, and zero times are omitted. Event payloads travel as json.RawMessage so
// the client can decode them against the transfer event structs without
// double encoding.
//
// HTTPStatus maps domain errors to response codes in one place: missing
// records are 422, duplicates 409, capacity and shutdown 503, unknown batches
// 404, and validation failures 400.
package api
