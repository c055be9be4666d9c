// Package daemonctl holds the CLI-side daemon process control: launching a
// detached daemon, waiting for its socket, stopping it, and building the
// status view whether or not a daemon is reachable.
package daemonctl
