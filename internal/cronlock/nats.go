package cronlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

var errRevisionMismatch = errors.New("kv revision mismatch")

// leaseKV is the slice of a JetStream key-value bucket the NATS backend uses.
type leaseKV interface {
	get(ctx context.Context, key string) (value []byte, revision uint64, err error)
	create(ctx context.Context, key string, value []byte) error
	update(ctx context.Context, key string, value []byte, revision uint64) error
	deleteAt(ctx context.Context, key string, revision uint64) error
}

type leaseValue struct {
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// NATSBackend keeps leases in a JetStream KV bucket. Every write is
// conditional on the revision that was read, so the bucket arbitrates races.
type NATSBackend struct {
	kv   leaseKV
	conn *nats.Conn
}

// DialNATS connects to url and opens (or creates) bucket. Keys age out of
// the bucket after a few lease lengths even if nobody releases them.
func DialNATS(ctx context.Context, url, bucket string, ttl time.Duration) (*NATSBackend, error) {
	conn, err := nats.Connect(url, nats.Name("reelflow-cronlock"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "reelflow cron leases",
		History:     1,
		TTL:         4 * ttl,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open lease bucket %s: %w", bucket, err)
	}
	return &NATSBackend{kv: jetstreamKV{kv: kv}, conn: conn}, nil
}

func newNATSBackend(kv leaseKV) *NATSBackend {
	return &NATSBackend{kv: kv}
}

func (b *NATSBackend) Name() string { return "nats" }

func (b *NATSBackend) Acquire(ctx context.Context, job, holder string, now time.Time, ttl time.Duration) (bool, error) {
	value, err := json.Marshal(leaseValue{Holder: holder, AcquiredAt: now.UTC(), ExpiresAt: now.Add(ttl).UTC()})
	if err != nil {
		return false, err
	}

	current, revision, err := b.kv.get(ctx, job)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		err = b.kv.create(ctx, job, value)
		if errors.Is(err, jetstream.ErrKeyExists) || errors.Is(err, errRevisionMismatch) {
			return false, nil
		}
		return err == nil, err
	}
	if err != nil {
		return false, err
	}

	var lease leaseValue
	if err := json.Unmarshal(current, &lease); err == nil && lease.ExpiresAt.After(now) {
		return false, nil
	}
	err = b.kv.update(ctx, job, value, revision)
	if errors.Is(err, errRevisionMismatch) {
		return false, nil
	}
	return err == nil, err
}

func (b *NATSBackend) Release(ctx context.Context, job, holder string) error {
	current, revision, err := b.kv.get(ctx, job)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var lease leaseValue
	if err := json.Unmarshal(current, &lease); err != nil || lease.Holder != holder {
		return nil
	}
	err = b.kv.deleteAt(ctx, job, revision)
	if errors.Is(err, errRevisionMismatch) {
		return nil
	}
	return err
}

// Close drains the NATS connection when the backend owns one.
func (b *NATSBackend) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Drain()
}

type jetstreamKV struct {
	kv jetstream.KeyValue
}

func (j jetstreamKV) get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := j.kv.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	return entry.Value(), entry.Revision(), nil
}

func (j jetstreamKV) create(ctx context.Context, key string, value []byte) error {
	_, err := j.kv.Create(ctx, key, value)
	return mapRevisionError(err)
}

func (j jetstreamKV) update(ctx context.Context, key string, value []byte, revision uint64) error {
	_, err := j.kv.Update(ctx, key, value, revision)
	return mapRevisionError(err)
}

func (j jetstreamKV) deleteAt(ctx context.Context, key string, revision uint64) error {
	return mapRevisionError(j.kv.Delete(ctx, key, jetstream.LastRevision(revision)))
}

func mapRevisionError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, jetstream.ErrKeyExists) {
		return errRevisionMismatch
	}
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
		return errRevisionMismatch
	}
	return err
}
