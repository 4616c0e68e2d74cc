package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/danmuck/ringwire/internal/logging"
	"github.com/danmuck/ringwire/internal/observability"
	"github.com/danmuck/ringwire/internal/protocol/session"
)

const (
	DefaultService = "2345"
	acceptBackoff  = 50 * time.Millisecond
)

// Config drives the dispatcher.
type Config struct {
	Host    string
	Service string
	Family  Family
	// PollInterval bounds each accept wait; shutdown is observed between waits.
	PollInterval time.Duration
	// ShutdownGrace is how long in-flight handlers may run after the
	// listeners stop before their connections are closed.
	ShutdownGrace time.Duration
	// MaxConnections bounds concurrent handlers. Zero is unbounded.
	MaxConnections int64
	Session        session.Config
}

func DefaultConfig() Config {
	return Config{
		Service:       DefaultService,
		Family:        FamilyUnspec,
		PollInterval:  time.Second,
		ShutdownGrace: 5 * time.Second,
		Session:       session.DefaultConfig(),
	}
}

// Server owns the listeners and the set of live connections.
type Server struct {
	cfg     Config
	handler Handler
	slots   *semaphore.Weighted

	mu        sync.Mutex
	listeners map[string]net.Addr
	conns     map[string]net.Conn

	handlers sync.WaitGroup
}

func New(cfg Config, h Handler) *Server {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	s := &Server{
		cfg:       cfg,
		handler:   h,
		listeners: make(map[string]net.Addr),
		conns:     make(map[string]net.Conn),
	}
	if cfg.MaxConnections > 0 {
		s.slots = semaphore.NewWeighted(cfg.MaxConnections)
	}
	return s
}

// Run resolves the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	endpoints, err := Resolve(ctx, s.cfg.Host, s.cfg.Service, s.cfg.Family, true)
	if err != nil {
		logging.Gaif(logging.LevelError, err, "server: resolve host=%q service=%q family=%s", s.cfg.Host, s.cfg.Service, s.cfg.Family)
		return err
	}
	return s.Serve(ctx, endpoints)
}

// Serve starts one listener goroutine per IP endpoint and returns after all
// of them stopped and in-flight handlers were drained. Listener setup
// failures are joined into the returned error; a failing listener does not
// stop the others.
func (s *Server) Serve(ctx context.Context, endpoints []Endpoint) error {
	var (
		g      errgroup.Group
		errMu  sync.Mutex
		errs   []error
		served int
	)
	for _, ep := range endpoints {
		if ep.Network != "tcp4" && ep.Network != "tcp6" {
			logging.Warnf("server: ignoring endpoint %s: %v", ep, ErrUnsupportedFamily)
			continue
		}
		served++
		ep := ep
		g.Go(func() error {
			if err := s.serveEndpoint(ctx, ep); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	if served == 0 {
		return ErrNoEndpoints
	}
	_ = g.Wait()
	s.drain()
	return errors.Join(errs...)
}

func (s *Server) serveEndpoint(ctx context.Context, ep Endpoint) error {
	lc := net.ListenConfig{Control: listenControl}
	ln, err := lc.Listen(ctx, ep.Network, ep.Addr.String())
	if err != nil {
		logging.Errnof(logging.LevelError, err, "server: listen %s", ep)
		return fmt.Errorf("server: listen %s: %w", ep, err)
	}
	tl := ln.(*net.TCPListener)
	defer tl.Close()

	key := ep.String()
	s.addListener(key, tl.Addr())
	defer s.removeListener(key)
	logging.Infof("server: listening on %s (%s)", tl.Addr(), ep.Network)

	for ctx.Err() == nil {
		if s.slots != nil {
			if err := s.slots.Acquire(ctx, 1); err != nil {
				break
			}
		}
		if err := tl.SetDeadline(time.Now().Add(s.cfg.PollInterval)); err != nil {
			s.release()
			return fmt.Errorf("server: set accept deadline on %s: %w", tl.Addr(), err)
		}
		nc, err := tl.Accept()
		if err != nil {
			s.release()
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			observability.RecordAcceptError(ep.Network)
			logging.Errnof(logging.LevelError, err, "server: accept on %s", tl.Addr())
			select {
			case <-ctx.Done():
			case <-time.After(acceptBackoff):
			}
			continue
		}
		s.spawn(ctx, ep.Network, nc)
	}
	logging.Infof("server: listener %s stopped", tl.Addr())
	return nil
}

func (s *Server) spawn(ctx context.Context, network string, nc net.Conn) {
	info := ConnInfo{
		ID:       uuid.NewString(),
		Network:  network,
		Remote:   nc.RemoteAddr(),
		Local:    nc.LocalAddr(),
		Accepted: time.Now(),
	}
	s.trackConn(info.ID, nc)
	observability.RecordAccept(network)
	logging.Infof("server: accepted conn=%s remote=%s active=%d", info.ID, info.Remote, s.ActiveConnections())

	s.handlers.Add(1)
	go func() {
		defer s.handlers.Done()
		defer s.release()
		defer observability.RecordConnectionClosed()
		defer s.untrackConn(info.ID)
		defer nc.Close()
		defer func() {
			if r := recover(); r != nil {
				logging.Errorf("server: handler panic conn=%s: %v", info.ID, r)
			}
		}()

		conn, err := session.NewConn(nc, s.cfg.Session)
		if err != nil {
			logging.Errorf("server: conn=%s: %v", info.ID, err)
			return
		}
		if err := s.handler.ServeConn(ctx, info, conn); err != nil {
			logging.Errnof(logging.LevelWarn, err, "server: conn=%s remote=%s closed with error", info.ID, info.Remote)
			return
		}
		logging.Infof("server: conn=%s remote=%s closed after %s", info.ID, info.Remote, time.Since(info.Accepted).Round(time.Millisecond))
	}()
}

// drain waits ShutdownGrace for handlers, then closes what is left and waits
// for those handlers to unwind.
func (s *Server) drain() {
	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	if s.cfg.ShutdownGrace > 0 {
		timer := time.NewTimer(s.cfg.ShutdownGrace)
		defer timer.Stop()
		select {
		case <-done:
			return
		case <-timer.C:
		}
	}
	if n := s.closeAllConns(); n > 0 {
		logging.Warnf("server: closed %d connections still open at shutdown", n)
	}
	<-done
}

func (s *Server) release() {
	if s.slots != nil {
		s.slots.Release(1)
	}
}

// ActiveConnections reports how many handlers currently own a connection.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Addrs returns the bound listener addresses, sorted.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]net.Addr, 0, len(s.listeners))
	for _, a := range s.listeners {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (s *Server) addListener(key string, addr net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[key] = addr
}

func (s *Server) removeListener(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, key)
}

func (s *Server) trackConn(id string, nc net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[id] = nc
}

func (s *Server) untrackConn(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

func (s *Server) closeAllConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, nc := range s.conns {
		_ = nc.Close()
		delete(s.conns, id)
		n++
	}
	return n
}
