// Package daemonctl starts and stops a background vidflow daemon from the
// CLI. Start launches `vidflow daemon` detached and polls the API health
// endpoint; Stop signals the process recorded in the pid file.
package daemonctl
