package shutdown

import (
	"context"
	"errors"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/tflog/internal/logging"
)

func newManager(timeout time.Duration) *Manager {
	return New(Config{Timeout: timeout, Logger: logging.Nop()})
}

func TestNew(t *testing.T) {
	if m := newManager(10 * time.Second); m.timeout != 10*time.Second {
		t.Errorf("Expected timeout 10s, got %v", m.timeout)
	}
	if m := New(Config{}); m.timeout != DefaultTimeout {
		t.Errorf("Expected default timeout, got %v", m.timeout)
	}
}

func TestShutdownRunsInReverseOrder(t *testing.T) {
	m := newManager(5 * time.Second)

	var order []string
	for _, name := range []string{"store", "router", "server"} {
		m.RegisterFunc(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	want := []string{"server", "router", "store"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("Expected order %v, got %v", want, order)
	}
}

func TestShutdownJoinsErrors(t *testing.T) {
	m := newManager(5 * time.Second)
	boom := errors.New("boom")

	ran := false
	m.RegisterFunc("store", func(ctx context.Context) error {
		ran = true
		return nil
	})
	m.RegisterFunc("router", func(ctx context.Context) error { return boom })

	err := m.Shutdown()
	if !errors.Is(err, boom) {
		t.Errorf("Expected joined error to wrap boom, got %v", err)
	}
	if !strings.Contains(err.Error(), "router") {
		t.Errorf("Expected hook name in error, got %v", err)
	}
	if !ran {
		t.Error("Hooks after a failure should still run")
	}
}

func TestShutdownOnce(t *testing.T) {
	m := newManager(time.Second)
	calls := 0
	m.RegisterFunc("server", func(ctx context.Context) error {
		calls++
		return nil
	})

	m.Shutdown()
	m.Shutdown()

	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestShutdownTimeout(t *testing.T) {
	m := newManager(50 * time.Millisecond)

	m.RegisterFunc("store", func(ctx context.Context) error { return nil })
	m.RegisterFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	err := m.Shutdown()
	if time.Since(start) > time.Second {
		t.Error("Shutdown should respect the timeout")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}
	if !strings.Contains(err.Error(), "store: skipped") {
		t.Errorf("Expected remaining hooks to be skipped, got %v", err)
	}
}

func TestShutdownChannel(t *testing.T) {
	m := newManager(time.Second)

	select {
	case <-m.ShutdownChannel():
		t.Fatal("Channel should not be closed before shutdown")
	default:
	}

	m.Shutdown()

	select {
	case <-m.ShutdownChannel():
	default:
		t.Error("Channel should be closed after shutdown")
	}
}

func TestWaitForSignal(t *testing.T) {
	m := newManager(time.Second)

	errCh := make(chan error, 1)
	go func() { errCh <- m.WaitForSignal(context.Background(), syscall.SIGUSR1) }()

	time.Sleep(50 * time.Millisecond)
	syscall.Kill(syscall.Getpid(), syscall.SIGUSR1)

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("WaitForSignal() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForSignal did not return")
	}
}

func TestWaitForSignalContext(t *testing.T) {
	m := newManager(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.WaitForSignal(ctx); err != nil {
		t.Errorf("WaitForSignal() error = %v", err)
	}
	if err := m.WaitWithTimeout(10 * time.Millisecond); err != nil {
		t.Errorf("Expected shutdown complete, got %v", err)
	}
}

func TestWaitWithTimeout(t *testing.T) {
	m := newManager(time.Second)
	if err := m.WaitWithTimeout(10 * time.Millisecond); err == nil {
		t.Error("Expected timeout error before shutdown")
	}
}

type mockComponent struct {
	name    string
	stopped bool
}

func (c *mockComponent) Name() string { return c.name }

func (c *mockComponent) Stop(ctx context.Context) error {
	c.stopped = true
	return nil
}

func TestRegisterComponentAndCloser(t *testing.T) {
	m := newManager(time.Second)
	c := &mockComponent{name: "server"}
	closed := false

	m.RegisterComponent(c)
	m.RegisterCloser("store", func() error {
		closed = true
		return nil
	})

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !c.stopped || !closed {
		t.Errorf("Expected component stopped and closer called (stopped=%v closed=%v)", c.stopped, closed)
	}
}
