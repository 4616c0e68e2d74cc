// Package server turns listening sockets into per-connection handling.
//
// Ownership boundary:
// - address resolution into one endpoint per address family
// - one listener goroutine per endpoint with a deadline-bounded accept
// - one handler goroutine per accepted connection, optionally bounded
// - coordinated shutdown: listeners stop, handlers get a grace period,
//   then tracked connections are closed
package server
