package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"santhushare/internal/config"
	"santhushare/internal/session"
)

// ErrAddrInUse is returned by Start when the port stayed busy for every
// attempt.
var ErrAddrInUse = errors.New("server: address already in use")

var ErrNotStarted = errors.New("server: not started")

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 2 * time.Minute
)

// Server owns the listening socket and the HTTP serve loop. Each connection
// is handled on its own goroutine by net/http.
type Server struct {
	cfg     config.Config
	handler http.Handler
	sess    *session.Session
	logger  *log.Logger

	mu   sync.Mutex
	ln   net.Listener
	srv  *http.Server
	done chan struct{}
	err  error
}

func New(cfg config.Config, handler http.Handler, sess *session.Session, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stderr, "[server] ", log.LstdFlags|log.Lmicroseconds|log.Lmsgprefix)
	}
	return &Server{cfg: cfg, handler: handler, sess: sess, logger: logger}
}

// Start binds the configured address and serves in the background. While the
// port is in use it retries cfg.BindRetries times, cfg.RetryDelay apart.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		return errors.New("server: already started")
	}
	s.mu.Unlock()

	ln, err := s.listen(ctx)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          s.logger,
	}
	done := make(chan struct{})

	s.mu.Lock()
	s.ln, s.srv, s.done, s.err = ln, srv, done, nil
	s.mu.Unlock()

	go func() {
		defer close(done)
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return
		}
		s.logger.Printf("serve: %v", err)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}()

	s.logger.Printf("listening on %s", ln.Addr())
	if s.sess != nil {
		s.sess.Record(session.KindServerStarted, "Server Started", "Port "+portOf(ln.Addr()))
	}
	return nil
}

func (s *Server) listen(ctx context.Context) (net.Listener, error) {
	lc := net.ListenConfig{Control: controlReuseAddr}
	addr := s.cfg.Addr()
	attempts := max(s.cfg.BindRetries, 1)

	var lastErr error
	for i := 0; i < attempts; i++ {
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err == nil {
			return ln, nil
		}
		if !isAddrInUse(err) {
			return nil, errors.Wrapf(err, "listen %s", addr)
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		s.logger.Printf("port %s in use, retrying in %s (%d left)", portOfString(addr), s.cfg.RetryDelay, attempts-i-1)
		t := time.NewTimer(s.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return nil, errors.Wrapf(ErrAddrInUse, "listen %s after %d attempts: %v", addr, attempts, lastErr)
}

func isAddrInUse(err error) bool {
	if errors.Is(err, errAddrInUse) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "address already in use") || strings.Contains(msg, "only one usage of each socket address")
}

// Stop stops accepting, closes idle connections and waits for in-flight
// requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv, s.ln = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return ErrNotStarted
	}
	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	<-done
	s.logger.Printf("stopped")
	if s.sess != nil {
		s.sess.Record(session.KindServerStopped, "Server Stopped", "Manual Stop")
	}
	return err
}

// Addr is the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Done is closed when the serve loop exits.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Err is the error that ended the serve loop, if any.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func portOf(a net.Addr) string {
	return portOfString(a.String())
}

func portOfString(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return port
}
