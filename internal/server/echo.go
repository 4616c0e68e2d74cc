package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/ringwire/internal/logging"
	"github.com/danmuck/ringwire/internal/protocol"
	"github.com/danmuck/ringwire/internal/protocol/session"
)

// EchoHandler answers case-conversion requests until the client sends
// REQUEST_FINISH, the peer closes, the connection sits idle for IdleTimeout,
// or the server shuts down. Responses reuse the request's sequence number.
type EchoHandler struct {
	// IdleTimeout closes a connection that delivered no frame for this long.
	// Zero disables the limit.
	IdleTimeout time.Duration
}

func (h EchoHandler) ServeConn(ctx context.Context, info ConnInfo, conn *session.Conn) error {
	lastFrame := time.Now()
	for {
		if ctx.Err() != nil {
			logging.Debugf("server: conn=%s stopping on shutdown", info.ID)
			return nil
		}
		m, err := conn.Receive()
		switch {
		case err == nil:
		case errors.Is(err, session.ErrTimeout):
			idle := time.Since(lastFrame)
			if h.IdleTimeout > 0 && idle >= h.IdleTimeout {
				logging.Infof("server: conn=%s idle for %s, closing", info.ID, idle.Round(time.Millisecond))
				return nil
			}
			logging.Debugf("server: conn=%s receive timeout, buffered=%d", info.ID, conn.Buffered())
			continue
		case errors.Is(err, io.EOF):
			logging.Infof("server: conn=%s peer closed", info.ID)
			return nil
		default:
			return err
		}
		lastFrame = time.Now()

		respType, ok := m.Type.Response()
		if !ok {
			return fmt.Errorf("%w: client sent %s seq=%d", session.ErrUnexpectedType, m.Type, m.Seq)
		}
		payload, err := echoPayload(m.Type, m.Payload)
		if err != nil {
			return err
		}
		if err := conn.Send(respType, m.Seq, payload); err != nil {
			return err
		}
		logging.Infof("server: conn=%s %s seq=%d len=%d", info.ID, respType, m.Seq, len(payload))
		if m.Type == protocol.RequestFinish {
			return nil
		}
	}
}

func echoPayload(t protocol.MessageType, in []byte) ([]byte, error) {
	switch t {
	case protocol.RequestToUpper:
		return bytes.ToUpper(in), nil
	case protocol.RequestToLower:
		return bytes.ToLower(in), nil
	case protocol.RequestFinish:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s", session.ErrUnexpectedType, t)
	}
}
