// Package apiclient talks to the ferry daemon's HTTP API on behalf of the CLI.
//
// Every method maps one endpoint to its api wire type. Non-2xx responses
// become *StatusError carrying the server's error message; connection
// failures are recognized by IsAPIUnavailable so commands can suggest
// starting the daemon.
package apiclient
