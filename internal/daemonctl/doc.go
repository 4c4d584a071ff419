// Package daemonctl launches, stops, and inspects the ferry daemon process
// for the CLI. It talks to the daemon through its HTTP API and falls back to
// the pid file and local database when the API is down.
package daemonctl
