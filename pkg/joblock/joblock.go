package joblock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrLockConflict is returned when another holder owns an unexpired lease.
// Callers must surface the denial, not spin on it.
var ErrLockConflict = errors.New("job lock held by another holder")

type Repository interface {
	TryAcquire(ctx context.Context, jobName string, holder uuid.UUID, ttl time.Duration) (bool, error)
	Release(ctx context.Context, jobName string, holder uuid.UUID) error
}

// Lease is a granted lock. Release it when the job finishes; an expired
// lease releases itself.
type Lease struct {
	JobName string
	Holder  uuid.UUID
	repo    Repository
}

type Service struct {
	repo   Repository
	logger *zap.Logger
}

func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) Acquire(ctx context.Context, jobName string, ttl time.Duration) (*Lease, error) {
	holder := uuid.New()
	granted, err := s.repo.TryAcquire(ctx, jobName, holder, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %q: %w", jobName, err)
	}
	if !granted {
		return nil, fmt.Errorf("acquire lock %q: %w", jobName, ErrLockConflict)
	}
	s.logger.Debug("job lock acquired",
		zap.String("job", jobName),
		zap.String("holder", holder.String()),
		zap.Duration("ttl", ttl),
	)
	return &Lease{JobName: jobName, Holder: holder, repo: s.repo}, nil
}

func (l *Lease) Release(ctx context.Context) error {
	return l.repo.Release(ctx, l.JobName, l.Holder)
}
