// Package client drives the echo exchange against a ringwire server.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/ringwire/internal/logging"
	"github.com/danmuck/ringwire/internal/protocol"
	"github.com/danmuck/ringwire/internal/protocol/frame"
	"github.com/danmuck/ringwire/internal/protocol/session"
	"github.com/danmuck/ringwire/internal/server"
)

const DefaultText = "Das ist der Daumen, " +
	"der schüttelt die Pflaumen, " +
	"der liest sie auf, " +
	"der trägt sie heim, " +
	"und der kleine isst sie ganz allein."

type Config struct {
	Host    string
	Service string
	Family  server.Family
	Text    string
	// ExchangeTimeout bounds the whole exchange once connected.
	ExchangeTimeout time.Duration
	Session         session.Config
}

func DefaultConfig() Config {
	return Config{
		Service:         server.DefaultService,
		Family:          server.FamilyUnspec,
		Text:            DefaultText,
		ExchangeTimeout: 10 * time.Second,
		Session:         session.DefaultConfig(),
	}
}

// Exchange sends REQUEST_TO_UPPER, REQUEST_TO_LOWER and REQUEST_FINISH with
// sequence numbers 1, 2 and 3 back to back, then collects the three
// responses in order. Receive timeouts are retried until ctx is done.
func Exchange(ctx context.Context, conn *session.Conn, text string) ([]frame.Message, error) {
	requests := []frame.Message{
		{Type: protocol.RequestToUpper, Seq: 1, Payload: []byte(text)},
		{Type: protocol.RequestToLower, Seq: 2, Payload: []byte(text)},
		{Type: protocol.RequestFinish, Seq: 3},
	}
	for _, req := range requests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := conn.Send(req.Type, req.Seq, req.Payload); err != nil {
			return nil, err
		}
	}

	responses := make([]frame.Message, 0, len(requests))
	for _, req := range requests {
		m, err := receive(ctx, conn)
		if err != nil {
			return responses, err
		}
		want, _ := req.Type.Response()
		if m.Type != want {
			return responses, fmt.Errorf("%w: got %s, want %s", session.ErrUnexpectedType, m.Type, want)
		}
		if m.Seq != req.Seq {
			return responses, fmt.Errorf("%w: got %d, want %d", session.ErrSequenceMismatch, m.Seq, req.Seq)
		}
		responses = append(responses, m)
	}
	return responses, nil
}

func receive(ctx context.Context, conn *session.Conn) (frame.Message, error) {
	for {
		m, err := conn.Receive()
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, session.ErrTimeout) {
			return frame.Message{}, err
		}
		if ctx.Err() != nil {
			return frame.Message{}, ctx.Err()
		}
		logging.Debugf("client: waiting for response from %s", conn.RemoteAddr())
	}
}

// Run resolves the server, connects to the first reachable candidate and
// performs one Exchange.
func Run(ctx context.Context, cfg Config) ([]frame.Message, error) {
	endpoints, err := server.Resolve(ctx, cfg.Host, cfg.Service, cfg.Family, false)
	if err != nil {
		logging.Gaif(logging.LevelError, err, "client: resolve host=%q service=%q", cfg.Host, cfg.Service)
		return nil, err
	}

	var conn *session.Conn
	var errs []error
	for _, ep := range endpoints {
		logging.Infof("client: connecting to %s", ep)
		c, err := session.Dial(ctx, ep.Network, ep.Addr.String(), cfg.Session)
		if err == nil {
			conn = c
			break
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if conn == nil {
		return nil, fmt.Errorf("client: no reachable endpoint: %w", errors.Join(errs...))
	}
	defer conn.Close()

	if cfg.ExchangeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ExchangeTimeout)
		defer cancel()
	}
	text := cfg.Text
	if text == "" {
		text = DefaultText
	}
	responses, err := Exchange(ctx, conn, text)
	for _, m := range responses {
		logging.Infof("client: %s seq=%d %q", m.Type, m.Seq, m.Payload)
	}
	return responses, err
}
