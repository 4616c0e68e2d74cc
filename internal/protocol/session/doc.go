// Package session moves framed messages over a connected stream socket.
//
// Ownership boundary:
// - one-shot send through a private send ring
// - per-connection receive ring and header/payload state machine
// - read/write deadlines and receive timeouts
// - client dial with retry backoff
//
// A Conn is owned by a single goroutine. Callers that share one across
// goroutines must serialize Receive and Send themselves.
package session
