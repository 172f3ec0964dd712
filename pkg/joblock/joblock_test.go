package joblock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// fakeLockRepo mirrors the database semantics: one row per job, expiry
// evaluated lazily, serialized read-modify-write.
type fakeLockRepo struct {
	mu    sync.Mutex
	locks map[string]struct {
		holder  uuid.UUID
		expires time.Time
	}
}

func newFakeLockRepo() *fakeLockRepo {
	return &fakeLockRepo{locks: make(map[string]struct {
		holder  uuid.UUID
		expires time.Time
	})}
}

func (r *fakeLockRepo) TryAcquire(_ context.Context, jobName string, holder uuid.UUID, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	existing, ok := r.locks[jobName]
	if ok && existing.expires.After(now) && existing.holder != holder {
		return false, nil
	}
	r.locks[jobName] = struct {
		holder  uuid.UUID
		expires time.Time
	}{holder, now.Add(ttl)}
	return true, nil
}

func (r *fakeLockRepo) Release(_ context.Context, jobName string, holder uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.locks[jobName]
	if !ok || existing.holder != holder {
		return nil
	}
	existing.expires = time.Now()
	r.locks[jobName] = existing
	return nil
}

func TestAcquireThenConflict(t *testing.T) {
	service := NewService(newFakeLockRepo(), zap.NewNop())
	ctx := context.Background()

	lease, err := service.Acquire(ctx, "enrolment_sync", time.Minute)
	if err != nil {
		t.Fatalf("first Acquire() error: %v", err)
	}

	if _, err := service.Acquire(ctx, "enrolment_sync", time.Minute); !errors.Is(err, ErrLockConflict) {
		t.Fatalf("expected ErrLockConflict, got %v", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if _, err := service.Acquire(ctx, "enrolment_sync", time.Minute); err != nil {
		t.Fatalf("Acquire() after release error: %v", err)
	}
}

func TestExpiredLeaseIsFree(t *testing.T) {
	service := NewService(newFakeLockRepo(), zap.NewNop())
	ctx := context.Background()

	if _, err := service.Acquire(ctx, "enrolment_sync", -time.Second); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if _, err := service.Acquire(ctx, "enrolment_sync", time.Minute); err != nil {
		t.Fatalf("expected expired lease to be free, got %v", err)
	}
}

func TestDifferentJobsDoNotConflict(t *testing.T) {
	service := NewService(newFakeLockRepo(), zap.NewNop())
	ctx := context.Background()

	if _, err := service.Acquire(ctx, "enrolment_sync", time.Minute); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if _, err := service.Acquire(ctx, "outbox_dispatch_projection", time.Minute); err != nil {
		t.Fatalf("independent job must not conflict, got %v", err)
	}
}

func TestConcurrentAcquireGrantsExactlyOne(t *testing.T) {
	service := NewService(newFakeLockRepo(), zap.NewNop())
	ctx := context.Background()

	const attempts = 16
	granted := make(chan struct{}, attempts)
	denied := make(chan struct{}, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Acquire(ctx, "enrolment_sync", time.Minute)
			switch {
			case err == nil:
				granted <- struct{}{}
			case errors.Is(err, ErrLockConflict):
				denied <- struct{}{}
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(granted) != 1 {
		t.Fatalf("expected exactly 1 grant, got %d", len(granted))
	}
	if len(denied) != attempts-1 {
		t.Fatalf("expected %d denials, got %d", attempts-1, len(denied))
	}
}
