package domain

import (
	"context"
	"time"
)

// DistributedLock guards work that must not run twice at the same time, such as
// overlapping uptime cycles.
type DistributedLock interface {
	Ping(ctx context.Context) (err error)
	Lock(ctx context.Context, lockKey string, lockTimeDuration time.Duration) (result bool, err error)
	Unlock(ctx context.Context, lockKey string) (err error)
	Close() error
}
