package cronlock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reelflow/internal/config"
	"reelflow/internal/cronlock"
	"reelflow/internal/logging"
	"reelflow/internal/testsupport"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLockers(t *testing.T, backend string, clk *clock) (*cronlock.Locker, *cronlock.Locker) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithLockBackend(backend))
	st := testsupport.MustOpenStore(t, cfg)

	build := func(holder string) *cronlock.Locker {
		cfg := *cfg
		cfg.Lock.HolderID = holder
		l, err := cronlock.New(context.Background(), &cfg, st, logging.NewNop(), cronlock.WithClock(clk.Now))
		if err != nil {
			t.Fatalf("cronlock.New: %v", err)
		}
		t.Cleanup(func() { _ = l.Close() })
		return l
	}
	return build("holder-a"), build("holder-b")
}

func TestWithLockIsExclusive(t *testing.T) {
	for _, backend := range []string{config.LockBackendSQLite, config.LockBackendFile} {
		t.Run(backend, func(t *testing.T) {
			clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
			a, b := newLockers(t, backend, clk)
			ctx := context.Background()

			var inner cronlock.Result
			outer, err := a.WithLock(ctx, "failsafe-scan", func(ctx context.Context) error {
				var err error
				inner, err = b.WithLock(ctx, "failsafe-scan", func(context.Context) error {
					t.Fatal("second holder must not run while the lease is held")
					return nil
				})
				return err
			})
			if err != nil {
				t.Fatalf("WithLock failed: %v", err)
			}
			if !outer.Ran() || inner.Ran() || inner.Outcome != cronlock.OutcomeSkipped {
				t.Fatalf("unexpected results outer=%+v inner=%+v", outer, inner)
			}

			// Released after the first run, so the other holder gets it now.
			res, err := b.WithLock(ctx, "failsafe-scan", func(context.Context) error { return nil })
			if err != nil || !res.Ran() {
				t.Fatalf("expected second holder to run after release, got %+v %v", res, err)
			}

			// Different jobs never contend.
			res, err = a.WithLock(ctx, "purge", func(ctx context.Context) error {
				other, err := b.WithLock(ctx, "failsafe-scan", func(context.Context) error { return nil })
				if !other.Ran() {
					t.Error("unrelated job should run")
				}
				return err
			})
			if err != nil || !res.Ran() {
				t.Fatalf("unexpected purge result %+v %v", res, err)
			}
		})
	}
}

func TestWithLockReleasesOnError(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	a, b := newLockers(t, config.LockBackendSQLite, clk)
	boom := errors.New("scan exploded")

	res, err := a.WithLock(context.Background(), "failsafe-scan", func(context.Context) error { return boom })
	if !errors.Is(err, boom) || !res.Ran() {
		t.Fatalf("expected fn error to surface, got %+v %v", res, err)
	}
	res, err = b.WithLock(context.Background(), "failsafe-scan", func(context.Context) error { return nil })
	if err != nil || !res.Ran() {
		t.Fatalf("expected lease to be released after an error, got %+v %v", res, err)
	}
}

func TestExpiredLeaseCanBeTakenOver(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	backend := cronlock.NewSQLiteBackend(st)

	// A holder that crashed mid-run never releases.
	if ok, err := backend.Acquire(context.Background(), "failsafe-scan", "crashed", clk.Now(), time.Minute); err != nil || !ok {
		t.Fatalf("seed lease: %v %v", ok, err)
	}
	l := cronlock.NewWithBackend(backend, "survivor", time.Minute, logging.NewNop(), cronlock.WithClock(clk.Now))

	res, err := l.WithLock(context.Background(), "failsafe-scan", func(context.Context) error { return nil })
	if err != nil || res.Ran() {
		t.Fatalf("expected skip while lease is live, got %+v %v", res, err)
	}

	clk.Advance(2 * time.Minute)
	res, err = l.WithLock(context.Background(), "failsafe-scan", func(context.Context) error { return nil })
	if err != nil || !res.Ran() {
		t.Fatalf("expected takeover after expiry, got %+v %v", res, err)
	}
}

func TestConcurrentWithLockRunsOnce(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	var (
		running atomic.Int32
		ran     atomic.Int32
		wg      sync.WaitGroup
		release = make(chan struct{})
	)
	const callers = 6
	for i := 0; i < callers; i++ {
		l := cronlock.NewWithBackend(cronlock.NewSQLiteBackend(st), "holder-"+string(rune('a'+i)), time.Minute, logging.NewNop(), cronlock.WithClock(clk.Now))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.WithLock(context.Background(), "failsafe-scan", func(context.Context) error {
				if running.Add(1) > 1 {
					t.Error("two holders ran concurrently")
				}
				ran.Add(1)
				<-release
				running.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("WithLock failed: %v", err)
			}
		}()
	}
	// Give every caller time to attempt the lease before the winner finishes.
	time.Sleep(200 * time.Millisecond)
	close(release)
	wg.Wait()

	if ran.Load() < 1 {
		t.Fatal("expected at least one run")
	}
}
