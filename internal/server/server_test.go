package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/errors"

	"santhushare/internal/config"
	"santhushare/internal/session"
)

func testConfig(port int) config.Config {
	cfg := config.Default()
	cfg.Bind = "127.0.0.1"
	cfg.Port = port
	cfg.Password = "pw"
	cfg.BindRetries = 10
	cfg.RetryDelay = 50 * time.Millisecond
	return cfg
}

func hello() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello")
	})
}

func occupy(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestStartRetriesUntilPortFree(t *testing.T) {
	busy, port := occupy(t)
	go func() {
		time.Sleep(150 * time.Millisecond)
		busy.Close()
	}()

	sess := session.New(session.Sinks{}, nil)
	defer sess.Close()
	s := New(testConfig(port), hello(), sess, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(b) != "hello" {
		t.Fatalf("body = %q", b)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("serve loop did not exit")
	}
	if s.Err() != nil {
		t.Fatalf("Err = %v", s.Err())
	}

	h := sess.History()
	if len(h) != 2 || h[0].Kind != session.KindServerStopped || h[0].Subtitle != "Manual Stop" || h[1].Kind != session.KindServerStarted {
		t.Fatalf("history = %+v", h)
	}
}

func TestStartGivesUp(t *testing.T) {
	busy, port := occupy(t)
	defer busy.Close()

	cfg := testConfig(port)
	cfg.BindRetries = 2
	cfg.RetryDelay = 10 * time.Millisecond
	s := New(cfg, hello(), nil, nil)
	err := s.Start(context.Background())
	if !errors.Is(err, ErrAddrInUse) {
		t.Fatalf("Start = %v, want ErrAddrInUse", err)
	}
}

func TestStartHonorsContext(t *testing.T) {
	busy, port := occupy(t)
	defer busy.Close()

	cfg := testConfig(port)
	cfg.RetryDelay = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s := New(cfg, hello(), nil, nil)
	if err := s.Start(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Start = %v, want deadline exceeded", err)
	}
}

func TestStopBeforeStart(t *testing.T) {
	s := New(testConfig(1), hello(), nil, nil)
	if err := s.Stop(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Stop = %v", err)
	}
	if s.Addr() != nil {
		t.Fatalf("Addr before start = %v", s.Addr())
	}
}

func TestIsAddrInUse(t *testing.T) {
	busy, port := occupy(t)
	defer busy.Close()
	_, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err == nil {
		t.Fatalf("second listen succeeded")
	}
	if !isAddrInUse(err) {
		t.Fatalf("isAddrInUse(%v) = false", err)
	}
	if isAddrInUse(errors.New("permission denied")) {
		t.Fatalf("unrelated error classified as in use")
	}
}
