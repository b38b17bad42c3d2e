package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/resilience"
)

type fakeConn struct {
	id     int
	closed atomic.Bool
}

type dialer struct {
	mu      sync.Mutex
	next    int
	failAt  int
	dialed  []*fakeConn
	failErr error
}

func (d *dialer) dial(context.Context) (*fakeConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	if d.failAt > 0 && d.next == d.failAt {
		return nil, d.failErr
	}
	c := &fakeConn{id: d.next}
	d.dialed = append(d.dialed, c)
	return c, nil
}

func closeFake(c *fakeConn) error {
	c.closed.Store(true)
	return nil
}

func newTestPool(t *testing.T, size int) (*Pool[*fakeConn], *dialer) {
	t.Helper()
	d := &dialer{}
	p, err := New(context.Background(), Config[*fakeConn]{
		Name:   "test",
		Size:   size,
		Dial:   d.dial,
		Close:  closeFake,
		Redial: resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, d
}

func TestNewDialsEagerly(t *testing.T) {
	p, d := newTestPool(t, 3)
	if len(d.dialed) != 3 {
		t.Fatalf("dialed %d connections, want 3", len(d.dialed))
	}
	if s := p.Stats(); s.Idle != 3 || s.InUse != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestNewCleansUpOnFailure(t *testing.T) {
	d := &dialer{failAt: 3, failErr: errors.New("connection refused")}
	_, err := New(context.Background(), Config[*fakeConn]{Name: "test", Size: 4, Dial: d.dial, Close: closeFake})
	if err == nil {
		t.Fatal("expected construction error")
	}
	if !errors.Is(err, d.failErr) {
		t.Errorf("error %v does not wrap dial failure", err)
	}
	for _, c := range d.dialed {
		if !c.closed.Load() {
			t.Errorf("connection %d left open after failed construction", c.id)
		}
	}
}

func TestNewRejectsBadSize(t *testing.T) {
	d := &dialer{}
	if _, err := New(context.Background(), Config[*fakeConn]{Size: 0, Dial: d.dial}); err == nil {
		t.Fatal("expected error for size 0")
	}
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	p, _ := newTestPool(t, 1)
	first, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	got := make(chan *fakeConn, 1)
	go func() {
		c, err := p.Acquire(context.Background())
		if err != nil {
			t.Error(err)
		}
		got <- c
	}()

	select {
	case <-got:
		t.Fatal("second Acquire should block while the only connection is lent")
	case <-time.After(30 * time.Millisecond):
	}
	if w := p.Stats().Waiting; w != 1 {
		t.Errorf("waiting = %d, want 1", w)
	}

	p.Release(first)
	select {
	case c := <-got:
		if c != first {
			t.Error("waiter should receive the released connection")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Release")
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	p, _ := newTestPool(t, 1)
	if _, err := p.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestNeverExceedsSizeUnderContention(t *testing.T) {
	const size = 3
	p, _ := newTestPool(t, size)
	var inUse, maxInUse atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				c, err := p.Acquire(context.Background())
				if err != nil {
					t.Error(err)
					return
				}
				n := inUse.Add(1)
				for {
					m := maxInUse.Load()
					if n <= m || maxInUse.CompareAndSwap(m, n) {
						break
					}
				}
				inUse.Add(-1)
				p.Release(c)
			}
		}()
	}
	wg.Wait()
	if m := maxInUse.Load(); m > size {
		t.Fatalf("max concurrent holders = %d, exceeds size %d", m, size)
	}
	if s := p.Stats(); s.Idle != size || s.InUse != 0 {
		t.Fatalf("stats after contention = %+v", s)
	}
}

func TestReleaseIgnoresForeignAndDoubleRelease(t *testing.T) {
	p, _ := newTestPool(t, 1)
	c, _ := p.Acquire(context.Background())
	p.Release(c)
	p.Release(c)
	p.Release(&fakeConn{id: 99})
	if s := p.Stats(); s.Idle != 1 {
		t.Fatalf("idle = %d, want 1", s.Idle)
	}
}

func TestDiscardReplacesConnection(t *testing.T) {
	p, d := newTestPool(t, 1)
	c, _ := p.Acquire(context.Background())
	p.Discard(c)
	if !c.closed.Load() {
		t.Error("discarded connection should be closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	replacement, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after discard: %v", err)
	}
	if replacement == c {
		t.Error("expected a freshly dialed connection")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.dialed) != 2 {
		t.Errorf("dialed = %d, want 2", len(d.dialed))
	}
}

func TestCloseDrainsAndRejects(t *testing.T) {
	p, d := newTestPool(t, 2)
	lent, _ := p.Acquire(context.Background())

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Acquire after Close: %v", err)
	}
	if lent.closed.Load() {
		t.Error("lent connection should stay open until released")
	}
	p.Release(lent)
	for _, c := range d.dialed {
		if !c.closed.Load() {
			t.Errorf("connection %d still open", c.id)
		}
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestCloseWakesWaiters(t *testing.T) {
	p, _ := newTestPool(t, 1)
	p.Acquire(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	p.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Close")
	}
}

func TestCloseStopsReplacementDialing(t *testing.T) {
	var dials atomic.Int64
	p, err := New(context.Background(), Config[*fakeConn]{
		Name: "test",
		Size: 1,
		Dial: func(context.Context) (*fakeConn, error) {
			if dials.Add(1) > 1 {
				return nil, errors.New("connection refused")
			}
			return &fakeConn{id: 1}, nil
		},
		Close:  closeFake,
		Redial: resilience.RetryConfig{MaxAttempts: 1000, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c, _ := p.Acquire(context.Background())
	p.Discard(c)
	time.Sleep(20 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- p.Close() }()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on replacement dialing")
	}
	after := dials.Load()
	time.Sleep(20 * time.Millisecond)
	if got := dials.Load(); got != after {
		t.Errorf("dialing continued after Close: %d -> %d", after, got)
	}
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Acquire after Close: %v", err)
	}
}
