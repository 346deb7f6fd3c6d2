package shutdown

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// MockComponent is a mock implementation of the Component interface for testing.
type MockComponent struct {
	name          string
	shutdownDelay time.Duration
	shouldFail    bool
	shutdownCount int32
	order         *orderLog
}

type orderLog struct {
	mu    sync.Mutex
	names []string
}

func (o *orderLog) add(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.names = append(o.names, name)
}

func NewMockComponent(name string, delay time.Duration, shouldFail bool) *MockComponent {
	return &MockComponent{
		name:          name,
		shutdownDelay: delay,
		shouldFail:    shouldFail,
	}
}

func (m *MockComponent) Name() string {
	return m.name
}

func (m *MockComponent) Shutdown(ctx context.Context) error {
	atomic.AddInt32(&m.shutdownCount, 1)
	if m.order != nil {
		m.order.add(m.name)
	}

	select {
	case <-time.After(m.shutdownDelay):
		if m.shouldFail {
			return errors.New("mock shutdown failed")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MockComponent) ShutdownCount() int {
	return int(atomic.LoadInt32(&m.shutdownCount))
}

// For any number of components, each is shut down exactly once and in
// reverse registration order.
func TestPropertyShutdownOrderIsLIFO(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("components stop last-registered first", prop.ForAll(
		func(n int) bool {
			order := &orderLog{}
			c := NewCoordinator(WithTimeout(time.Second))

			comps := make([]*MockComponent, n)
			for i := range comps {
				comps[i] = NewMockComponent(string(rune('a'+i)), 0, false)
				comps[i].order = order
				c.Register(comps[i])
			}

			c.Shutdown()
			c.Shutdown()
			c.Wait()

			if c.ExitCode() != 0 || len(order.names) != n {
				return false
			}
			for i, name := range order.names {
				if name != comps[n-1-i].name || comps[n-1-i].ShutdownCount() != 1 {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}

func TestExitCodeOnFailure(t *testing.T) {
	c := NewCoordinator(WithTimeout(time.Second))
	ok := NewMockComponent("ok", 0, false)
	c.Register(NewMockComponent("failing", 0, true))
	c.Register(ok)

	c.Shutdown()

	if c.ExitCode() != 1 {
		t.Errorf("expected exit code 1, got %d", c.ExitCode())
	}
	if ok.ShutdownCount() != 1 {
		t.Error("a failing component must not stop the rest")
	}
}

func TestExitCodeOnTimeout(t *testing.T) {
	c := NewCoordinator(WithTimeout(50 * time.Millisecond))
	c.Register(NewMockComponent("slow", 5*time.Second, false))

	start := time.Now()
	c.Shutdown()

	if time.Since(start) > 2*time.Second {
		t.Error("shutdown did not respect the timeout")
	}
	if c.ExitCode() != 1 {
		t.Errorf("expected exit code 1, got %d", c.ExitCode())
	}
}

func TestWaitForSignal(t *testing.T) {
	sigCh := make(chan os.Signal, 1)
	c := NewCoordinator(WithSignalChannel(sigCh), WithTimeout(time.Second))
	comp := NewMockComponent("sink", 0, false)
	c.Register(comp)

	go c.WaitForSignal(context.Background())
	sigCh <- syscall.SIGTERM

	select {
	case <-c.shutdownDone:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete after signal")
	}
	if comp.ShutdownCount() != 1 {
		t.Errorf("expected one shutdown, got %d", comp.ShutdownCount())
	}
}

func TestWaitForSignalContextCancel(t *testing.T) {
	c := NewCoordinator(WithSignalChannel(make(chan os.Signal)), WithTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.WaitForSignal(ctx)
	c.Wait()

	if c.ExitCode() != 0 {
		t.Errorf("expected clean exit, got %d", c.ExitCode())
	}
}

// An in-flight request finishes before the HTTP server component returns.
func TestHTTPServerComponentDrainsRequests(t *testing.T) {
	started := make(chan struct{})
	var completed atomic.Bool

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		completed.Store(true)
		w.WriteHeader(http.StatusOK)
	}))
	srv.Start()
	defer srv.Close()

	go func() {
		resp, err := http.Post(srv.URL, "application/x-www-form-urlencoded", nil)
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-started

	c := NewCoordinator(WithTimeout(2 * time.Second))
	c.Register(NewHTTPServerComponent("http", srv.Config))
	c.Shutdown()

	if !completed.Load() {
		t.Error("in-flight request did not complete before shutdown returned")
	}
	if c.ExitCode() != 0 {
		t.Errorf("expected clean exit, got %d", c.ExitCode())
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestCloserAndFuncComponents(t *testing.T) {
	var closed, called bool

	c := NewCoordinator(WithTimeout(time.Second))
	c.Register(NewCloserComponent("sink", closerFunc(func() error {
		closed = true
		return nil
	})))
	c.Register(NewFuncComponent("broker", func(ctx context.Context) error {
		called = true
		return nil
	}))
	c.Shutdown()

	if !closed || !called {
		t.Errorf("expected both components shut down, closed=%v called=%v", closed, called)
	}
}
