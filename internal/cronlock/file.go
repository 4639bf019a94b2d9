package cronlock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// FileBackend holds one advisory lock file per job. The kernel drops the lock
// when the process dies, so ttl is not needed; it only suits single-host
// deployments.
type FileBackend struct {
	dir string

	mu   sync.Mutex
	held map[string]fileLease
}

type fileLease struct {
	lock   *flock.Flock
	holder string
}

// NewFileBackend creates dir if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return &FileBackend{dir: dir, held: map[string]fileLease{}}, nil
}

func (b *FileBackend) Name() string { return "file" }

func (b *FileBackend) path(job string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, job)
	return filepath.Join(b.dir, safe+".lock")
}

func (b *FileBackend) Acquire(_ context.Context, job, holder string, _ time.Time, _ time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.held[job]; ok {
		return false, nil
	}
	lock := flock.New(b.path(job))
	ok, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	if !ok {
		return false, nil
	}
	b.held[job] = fileLease{lock: lock, holder: holder}
	return true, nil
}

func (b *FileBackend) Release(_ context.Context, job, holder string) error {
	b.mu.Lock()
	lease, ok := b.held[job]
	if !ok || lease.holder != holder {
		b.mu.Unlock()
		return nil
	}
	delete(b.held, job)
	b.mu.Unlock()
	return lease.lock.Unlock()
}

// Close unlocks every lock this backend still holds.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for job, lease := range b.held {
		if err := lease.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(b.held, job)
	}
	return firstErr
}
