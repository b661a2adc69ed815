package idalloc

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sf7293/pipeline-board/internal/errval"
)

const (
	Sequence  = "sequence"
	Timestamp = "timestamp"
)

// Allocator hands out task ids. A positive proposed id is used when no task holds it.
type Allocator interface {
	Allocate(ctx context.Context, proposed int64) (int64, error)
}

type IDStore interface {
	TaskExists(ctx context.Context, id int64) (bool, error)
	NextTaskID(ctx context.Context) (int64, error)
}

// New picks an allocator by its configured name.
func New(kind string, store IDStore) (Allocator, error) {
	switch kind {
	case "", Sequence:
		return NewSequenceAllocator(store), nil
	case Timestamp:
		return NewTimestampAllocator(store, time.Now), nil
	default:
		return nil, fmt.Errorf("unknown id allocator %q", kind)
	}
}

// SequenceAllocator draws ids from the store's sequence. Explicitly inserted ids can
// sit ahead of the sequence, so taken values are skipped.
type SequenceAllocator struct {
	store       IDStore
	maxAttempts int
}

func NewSequenceAllocator(store IDStore) *SequenceAllocator {
	return &SequenceAllocator{store: store, maxAttempts: 16}
}

func (a *SequenceAllocator) Allocate(ctx context.Context, proposed int64) (int64, error) {
	if proposed > 0 {
		taken, err := a.store.TaskExists(ctx, proposed)
		if err != nil {
			return 0, err
		}
		if !taken {
			return proposed, nil
		}
	}

	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		id, err := a.store.NextTaskID(ctx)
		if err != nil {
			return 0, err
		}

		taken, err := a.store.TaskExists(ctx, id)
		if err != nil {
			return 0, err
		}
		if !taken {
			return id, nil
		}
	}

	return 0, errval.ErrDuplicateID
}

// TimestampAllocator proposes microsecond timestamps, checks the store and
// regenerates once on a hit. The check and the later insert are not atomic, so two
// concurrent callers can still receive the same candidate from different processes;
// the unique key on tasks.id then rejects the second insert with errval.ErrDuplicateID.
// Prefer SequenceAllocator.
type TimestampAllocator struct {
	store IDStore
	now   func() time.Time
	last  atomic.Int64
}

func NewTimestampAllocator(store IDStore, now func() time.Time) *TimestampAllocator {
	return &TimestampAllocator{store: store, now: now}
}

func (a *TimestampAllocator) Allocate(ctx context.Context, proposed int64) (int64, error) {
	candidate := proposed
	if candidate <= 0 {
		candidate = a.next()
	}

	for attempt := 0; attempt < 2; attempt++ {
		taken, err := a.store.TaskExists(ctx, candidate)
		if err != nil {
			return 0, err
		}
		if !taken {
			return candidate, nil
		}
		candidate = a.next()
	}

	return 0, errval.ErrDuplicateID
}

// next returns a candidate strictly greater than every earlier one from this allocator.
func (a *TimestampAllocator) next() int64 {
	for {
		last := a.last.Load()
		candidate := a.now().UnixMicro()
		if candidate <= last {
			candidate = last + 1
		}
		if a.last.CompareAndSwap(last, candidate) {
			return candidate
		}
	}
}
