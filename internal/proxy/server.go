// Package proxy implements the accept/dispatch server and per-connection
// state machine described by the core forward-proxy design: bounded
// concurrency admission, header parsing, ACL/auth/filter policy
// evaluation, CONNECT tunneling, and one-shot HTTP forwarding.
package proxy

import (
	"net"
	"sync"
	"time"

	"github.com/xdg/tinygate/internal/acl"
	"github.com/xdg/tinygate/internal/auth"
	"github.com/xdg/tinygate/internal/clog"
	"github.com/xdg/tinygate/internal/config"
	"github.com/xdg/tinygate/internal/filter"
	"github.com/xdg/tinygate/internal/stats"
)

// acceptBackoff is the pause between accept-loop retries after an accept
// error, to avoid a spin loop when the descriptor table is exhausted.
const acceptBackoff = 100 * time.Millisecond

// shutdownGrace is how long Shutdown waits for in-flight handlers to
// finish on their own before the process gives up waiting on them.
const shutdownGrace = 5 * time.Second

// dialTimeout bounds origin dials for both CONNECT and forwarded requests.
const dialTimeout = 30 * time.Second

// Server is the accept/dispatch server: one listener per configured
// address, a shared admission semaphore capped at MaxClients, and a
// connection handler that runs the policy pipeline for every accepted
// socket.
type Server struct {
	cfg  *config.Config
	acl  *acl.List
	auth *auth.Authenticator
	flt  *filter.Engine
	sink *stats.Sink

	mu        sync.Mutex
	running   bool
	listeners []net.Listener
	sem       chan struct{}
	shutdownC chan struct{}
	wg        sync.WaitGroup
}

// New builds a Server from cfg, constructing its ACL, authenticator and
// filter engine. The filter engine is always built (disabled when
// cfg.Filter.Enabled is false); New returns an error if the filter file
// cannot be read.
func New(cfg *config.Config, sink *stats.Sink) (*Server, error) {
	aclList := acl.New(cfg.Allow, cfg.Deny)

	var creds *auth.Credentials
	if cfg.BasicAuth != nil {
		realm := cfg.BasicAuth.Realm
		if realm == "" {
			realm = "Tinyproxy"
		}
		creds = &auth.Credentials{
			Username: cfg.BasicAuth.Username,
			Password: cfg.BasicAuth.Password,
			Realm:    realm,
		}
	}

	fltEngine, err := filter.New(filter.Options{
		Enabled:       cfg.Filter.Enabled,
		CaseSensitive: cfg.Filter.CaseSensitive,
		Extended:      cfg.Filter.Extended,
		FilterPath:    cfg.Filter.Path,
	})
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:  cfg,
		acl:  aclList,
		auth: auth.New(creds),
		flt:  fltEngine,
		sink: sink,
	}, nil
}

// Run binds one listener per configured listen address and drives an
// accept loop on each until Shutdown is called, then waits up to
// shutdownGrace for in-flight handlers before returning. Failure to bind
// any configured address is fatal: Run closes whatever it already opened
// and returns the error.
func (s *Server) Run() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}

	addrs := s.cfg.ListenAddrs()
	listeners := make([]net.Listener, 0, len(addrs))
	for _, addr := range addrs {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, opened := range listeners {
				opened.Close()
			}
			s.mu.Unlock()
			return err
		}
		listeners = append(listeners, ln)
	}

	shutdownC := make(chan struct{})
	s.listeners = listeners
	s.sem = make(chan struct{}, s.cfg.MaxClients)
	s.shutdownC = shutdownC
	s.running = true
	s.mu.Unlock()

	for _, ln := range listeners {
		s.wg.Add(1)
		go s.acceptLoop(ln)
	}

	clog.Info("proxy: listening on %v", addrs)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownC:
		select {
		case <-done:
		case <-time.After(shutdownGrace):
		}
	}
	return nil
}

// acceptLoop runs one listener's accept/admit cycle until Shutdown closes
// the listener. It never blocks on admission: a full semaphore drops the
// new connection immediately rather than queuing it.
func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdownC:
				return
			default:
			}
			clog.Warn("proxy: accept error on %s: %v", ln.Addr(), err)
			time.Sleep(acceptBackoff)
			continue
		}

		select {
		case s.sem <- struct{}{}:
		default:
			clog.Warn("proxy: admission semaphore full, dropping connection from %s", conn.RemoteAddr())
			conn.Close()
			continue
		}

		s.sink.ConnectionOpened()
		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			defer s.sink.ConnectionClosed()
			defer func() {
				if r := recover(); r != nil {
					clog.Error("proxy: handler panic: %v", r)
				}
			}()
			start := time.Now()
			h := &handler{server: s, conn: c}
			h.run()
			clog.Debug("proxy: connection from %s handled in %v", c.RemoteAddr(), time.Since(start))
		}(conn)
	}
}

// Shutdown closes all listeners so their accept loops return, then waits
// up to shutdownGrace for in-flight handlers to finish on their own.
// Handlers are never individually cancelled; they terminate naturally on
// peer close or timeout. After the grace window, Shutdown returns
// regardless of whether handlers are still running.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.shutdownC)
	for _, ln := range s.listeners {
		ln.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		clog.Info("proxy: all connections drained")
	case <-time.After(shutdownGrace):
		clog.Warn("proxy: shutdown grace window elapsed with handlers still active")
	}
}
