package cronlock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// memoryKV mimics the revision semantics of a JetStream KV bucket.
type memoryKV struct {
	mu       sync.Mutex
	values   map[string][]byte
	revs     map[string]uint64
	sequence uint64
}

func newMemoryKV() *memoryKV {
	return &memoryKV{values: map[string][]byte{}, revs: map[string]uint64{}}
}

func (m *memoryKV) get(_ context.Context, key string) ([]byte, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	if !ok {
		return nil, 0, jetstream.ErrKeyNotFound
	}
	return append([]byte(nil), value...), m.revs[key], nil
}

func (m *memoryKV) create(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return errRevisionMismatch
	}
	m.put(key, value)
	return nil
}

func (m *memoryKV) update(_ context.Context, key string, value []byte, revision uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revs[key] != revision {
		return errRevisionMismatch
	}
	m.put(key, value)
	return nil
}

func (m *memoryKV) deleteAt(_ context.Context, key string, revision uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revs[key] != revision {
		return errRevisionMismatch
	}
	delete(m.values, key)
	delete(m.revs, key)
	return nil
}

func (m *memoryKV) put(key string, value []byte) {
	m.sequence++
	m.values[key] = append([]byte(nil), value...)
	m.revs[key] = m.sequence
}

func TestNATSBackendLeaseLifecycle(t *testing.T) {
	ctx := context.Background()
	kv := newMemoryKV()
	backend := newNATSBackend(kv)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if ok, err := backend.Acquire(ctx, "failsafe-scan", "a", now, time.Minute); err != nil || !ok {
		t.Fatalf("first acquire: %v %v", ok, err)
	}
	if ok, _ := backend.Acquire(ctx, "failsafe-scan", "b", now.Add(30*time.Second), time.Minute); ok {
		t.Fatal("second holder must not acquire a live lease")
	}

	// Only the owner can release.
	if err := backend.Release(ctx, "failsafe-scan", "b"); err != nil {
		t.Fatalf("foreign release: %v", err)
	}
	if ok, _ := backend.Acquire(ctx, "failsafe-scan", "b", now.Add(30*time.Second), time.Minute); ok {
		t.Fatal("foreign release must not drop the lease")
	}

	// Expired leases are replaced at the read revision.
	if ok, err := backend.Acquire(ctx, "failsafe-scan", "b", now.Add(2*time.Minute), time.Minute); err != nil || !ok {
		t.Fatalf("takeover after expiry: %v %v", ok, err)
	}
	if err := backend.Release(ctx, "failsafe-scan", "a"); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if _, _, err := kv.get(ctx, "failsafe-scan"); err != nil {
		t.Fatal("the previous holder must not delete the new lease")
	}
	if err := backend.Release(ctx, "failsafe-scan", "b"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := backend.Acquire(ctx, "failsafe-scan", "c", now.Add(2*time.Minute), time.Minute); err != nil || !ok {
		t.Fatalf("acquire after release: %v %v", ok, err)
	}
}

type racingKV struct {
	*memoryKV
	once sync.Once
}

// update lets a competitor slip in between the read and the conditional write.
func (r *racingKV) update(ctx context.Context, key string, value []byte, revision uint64) error {
	r.once.Do(func() {
		r.mu.Lock()
		r.put(key, []byte(`{"holder":"competitor"}`))
		r.mu.Unlock()
	})
	return r.memoryKV.update(ctx, key, value, revision)
}

func TestNATSBackendLosesRevisionRace(t *testing.T) {
	ctx := context.Background()
	kv := &racingKV{memoryKV: newMemoryKV()}
	backend := newNATSBackend(kv)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if ok, _ := backend.Acquire(ctx, "purge", "a", now, time.Minute); !ok {
		t.Fatal("seed acquire failed")
	}
	ok, err := backend.Acquire(ctx, "purge", "b", now.Add(time.Hour), time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if ok {
		t.Fatal("acquire must fail when the revision moved underneath it")
	}
}
