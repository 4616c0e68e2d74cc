package server

import (
	"context"
	"net"
	"time"

	"github.com/danmuck/ringwire/internal/protocol/session"
)

// ConnInfo describes one accepted connection. It is created at accept time
// and owned by the handler goroutine.
type ConnInfo struct {
	ID       string
	Network  string
	Remote   net.Addr
	Local    net.Addr
	Accepted time.Time
}

// Handler serves one connection until it returns. The connection is closed
// by the server afterwards; a returned error is logged and affects only this
// connection. ctx is cancelled when the server shuts down.
type Handler interface {
	ServeConn(ctx context.Context, info ConnInfo, conn *session.Conn) error
}

type HandlerFunc func(ctx context.Context, info ConnInfo, conn *session.Conn) error

func (f HandlerFunc) ServeConn(ctx context.Context, info ConnInfo, conn *session.Conn) error {
	return f(ctx, info, conn)
}
