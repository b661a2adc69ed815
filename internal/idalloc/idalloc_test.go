package idalloc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sf7293/pipeline-board/internal/domain"
	"github.com/sf7293/pipeline-board/internal/errval"
	"github.com/sf7293/pipeline-board/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insert(t *testing.T, store *memory.Storage, id int64) {
	t.Helper()
	_, err := store.InsertTask(context.Background(), &domain.Task{ID: id, Owner: "1", Client: "c"})
	require.NoError(t, err)
}

func Test_sequence_allocator(t *testing.T) {
	ctx := context.Background()

	t.Run("it should honor a free proposed id", func(t *testing.T) {
		alloc := NewSequenceAllocator(memory.NewStorage())
		id, err := alloc.Allocate(ctx, 42)
		assert.NoError(t, err)
		assert.Equal(t, int64(42), id)
	})

	t.Run("it should fall back to the sequence when the proposed id is taken", func(t *testing.T) {
		store := memory.NewStorage()
		insert(t, store, 42)

		id, err := NewSequenceAllocator(store).Allocate(ctx, 42)
		assert.NoError(t, err)
		assert.Equal(t, int64(1), id)
	})

	t.Run("it should skip sequence values taken by explicit inserts", func(t *testing.T) {
		store := memory.NewStorage()
		insert(t, store, 1)
		insert(t, store, 2)

		id, err := NewSequenceAllocator(store).Allocate(ctx, 0)
		assert.NoError(t, err)
		assert.Equal(t, int64(3), id)
	})
}

func Test_timestamp_allocator(t *testing.T) {
	ctx := context.Background()
	frozen := time.UnixMicro(1_700_000_000_000_000)
	clock := func() time.Time { return frozen }

	t.Run("it should stay monotonic under a frozen clock", func(t *testing.T) {
		alloc := NewTimestampAllocator(memory.NewStorage(), clock)
		first, err := alloc.Allocate(ctx, 0)
		require.NoError(t, err)
		second, err := alloc.Allocate(ctx, 0)
		require.NoError(t, err)

		assert.Equal(t, frozen.UnixMicro(), first)
		assert.Equal(t, first+1, second)
	})

	t.Run("it should regenerate once when the candidate is taken", func(t *testing.T) {
		store := memory.NewStorage()
		insert(t, store, frozen.UnixMicro())

		id, err := NewTimestampAllocator(store, clock).Allocate(ctx, 0)
		assert.NoError(t, err)
		assert.Equal(t, frozen.UnixMicro()+1, id)
	})

	t.Run("it should give up after the second collision", func(t *testing.T) {
		store := memory.NewStorage()
		insert(t, store, frozen.UnixMicro())
		insert(t, store, frozen.UnixMicro()+1)

		_, err := NewTimestampAllocator(store, clock).Allocate(ctx, 0)
		assert.ErrorIs(t, err, errval.ErrDuplicateID)
	})
}

// Concurrent allocate-then-insert must never leave two rows on one id: either every
// insert succeeds with a distinct id or the losers see a uniqueness failure.
func Test_concurrent_creates(t *testing.T) {
	const n = 50
	ctx := context.Background()

	for name, newAlloc := range map[string]func(IDStore) Allocator{
		Sequence:  func(s IDStore) Allocator { return NewSequenceAllocator(s) },
		Timestamp: func(s IDStore) Allocator { return NewTimestampAllocator(s, time.Now) },
	} {
		t.Run(name, func(t *testing.T) {
			store := memory.NewStorage()
			alloc := newAlloc(store)

			var wg sync.WaitGroup
			var mu sync.Mutex
			succeeded := map[int64]int{}
			collisions := 0

			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					id, err := alloc.Allocate(ctx, 0)
					if err == nil {
						_, err = store.InsertTask(ctx, &domain.Task{ID: id, Owner: "1", Client: "c"})
					}

					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						succeeded[id]++
					case errors.Is(err, errval.ErrDuplicateID):
						collisions++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			for id, count := range succeeded {
				assert.Equal(t, 1, count, "id %d was handed to two inserts", id)
			}
			assert.Equal(t, n, len(succeeded)+collisions)

			tasks, err := store.ListTasksByOwner(ctx, "1")
			require.NoError(t, err)
			assert.Len(t, tasks, len(succeeded))
		})
	}
}

func Test_new(t *testing.T) {
	store := memory.NewStorage()

	alloc, err := New("", store)
	assert.NoError(t, err)
	assert.IsType(t, &SequenceAllocator{}, alloc)

	alloc, err = New(Timestamp, store)
	assert.NoError(t, err)
	assert.IsType(t, &TimestampAllocator{}, alloc)

	_, err = New("uuid", store)
	assert.Error(t, err)
}
