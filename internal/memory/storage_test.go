package memory

import (
	"context"
	"testing"
	"time"

	"github.com/sf7293/pipeline-board/internal/domain"
	"github.com/sf7293/pipeline-board/internal/errval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_insert_task(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := NewStorage().WithClock(func() time.Time { return fixed })

	t.Run("it should stamp and default a new task", func(t *testing.T) {
		task, err := store.InsertTask(ctx, &domain.Task{ID: 7, Owner: "1", Client: "Acme", Stage: domain.Build, Position: 2})
		require.NoError(t, err)
		assert.Equal(t, fixed, task.CreatedAt)
		assert.Equal(t, fixed, task.UpdatedAt)
		assert.Equal(t, domain.UptimeUnknown, task.UptimeStatus)
	})

	t.Run("it should reject a taken id", func(t *testing.T) {
		_, err := store.InsertTask(ctx, &domain.Task{ID: 7, Owner: "2", Client: "Other"})
		assert.ErrorIs(t, err, errval.ErrDuplicateID)
	})

	t.Run("it should reject an out of range stage", func(t *testing.T) {
		_, err := store.InsertTask(ctx, &domain.Task{ID: 8, Owner: "1", Client: "Acme", Stage: 4})
		assert.ErrorIs(t, err, errval.ErrValidation)
	})

	t.Run("it should not leak internal state through returned pointers", func(t *testing.T) {
		task, err := store.GetTask(ctx, 7, "1")
		require.NoError(t, err)
		task.Client = "mutated"

		again, err := store.GetTask(ctx, 7, "1")
		require.NoError(t, err)
		assert.Equal(t, "Acme", again.Client)
	})
}

func Test_owner_scoping(t *testing.T) {
	ctx := context.Background()
	store := NewStorage()
	_, err := store.InsertTask(ctx, &domain.Task{ID: 1, Owner: "alice", Client: "A"})
	require.NoError(t, err)

	t.Run("it should hide tasks from other owners", func(t *testing.T) {
		_, err := store.GetTask(ctx, 1, "bob")
		assert.ErrorIs(t, err, errval.ErrNotFound)

		_, err = store.UpdateTaskPlacement(ctx, 1, "bob", domain.Placement{Stage: domain.Live})
		assert.ErrorIs(t, err, errval.ErrNotFound)

		_, err = store.DeleteTask(ctx, 1, "bob")
		assert.ErrorIs(t, err, errval.ErrNotFound)

		tasks, err := store.ListTasksByOwner(ctx, "bob")
		assert.NoError(t, err)
		assert.Empty(t, tasks)
	})
}

func Test_list_tasks_order(t *testing.T) {
	ctx := context.Background()
	store := NewStorage()
	for _, task := range []domain.Task{
		{ID: 1, Stage: domain.Live, Position: 0},
		{ID: 2, Stage: domain.Discovery, Position: 1},
		{ID: 3, Stage: domain.Discovery, Position: 1},
		{ID: 4, Stage: domain.Discovery, Position: 0},
	} {
		task.Owner = "1"
		task.Client = "c"
		_, err := store.InsertTask(ctx, &task)
		require.NoError(t, err)
	}

	t.Run("it should order by stage then position then id, keeping duplicate positions", func(t *testing.T) {
		tasks, err := store.ListTasksByOwner(ctx, "1")
		require.NoError(t, err)

		ids := []int64{}
		for _, task := range tasks {
			ids = append(ids, task.ID)
		}
		assert.Equal(t, []int64{4, 2, 3, 1}, ids)
	})
}

func Test_public_token(t *testing.T) {
	ctx := context.Background()
	store := NewStorage()
	_, err := store.InsertTask(ctx, &domain.Task{ID: 1, Owner: "1", Client: "A"})
	require.NoError(t, err)

	t.Run("it should keep the first token once one is set", func(t *testing.T) {
		first, err := store.SetPublicToken(ctx, 1, "1", "token-a")
		require.NoError(t, err)
		second, err := store.SetPublicToken(ctx, 1, "1", "token-b")
		require.NoError(t, err)

		assert.Equal(t, "token-a", first.PublicToken)
		assert.Equal(t, "token-a", second.PublicToken)
	})

	t.Run("it should look a task up by token", func(t *testing.T) {
		task, err := store.GetTaskByPublicToken(ctx, "token-a")
		require.NoError(t, err)
		assert.Equal(t, int64(1), task.ID)

		_, err = store.GetTaskByPublicToken(ctx, "token-b")
		assert.ErrorIs(t, err, errval.ErrNotFound)
	})
}

func Test_uptime_rows(t *testing.T) {
	ctx := context.Background()
	store := NewStorage()
	for id := int64(1); id <= 5; id++ {
		task := &domain.Task{ID: id, Owner: "1", Client: "c"}
		if id%2 == 1 {
			task.Domain = "example.com"
		}
		_, err := store.InsertTask(ctx, task)
		require.NoError(t, err)
	}

	t.Run("it should list only tasks with a domain up to the limit", func(t *testing.T) {
		tasks, err := store.ListTasksWithDomain(ctx, 2)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, int64(1), tasks[0].ID)
		assert.Equal(t, int64(3), tasks[1].ID)
	})

	t.Run("it should report a vanished task", func(t *testing.T) {
		assert.NoError(t, store.SetUptimeStatus(ctx, 1, domain.UptimeUp))
		assert.ErrorIs(t, store.SetUptimeStatus(ctx, 99, domain.UptimeDown), errval.ErrNotFound)

		task, err := store.GetTask(ctx, 1, "1")
		require.NoError(t, err)
		assert.Equal(t, domain.UptimeUp, task.UptimeStatus)
	})
}

func Test_list_activities(t *testing.T) {
	ctx := context.Background()
	store := NewStorage()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.InsertActivity(ctx, &domain.ActivityEntry{UserID: "1", ActionType: domain.ActionUpdate}))
	}
	require.NoError(t, store.InsertActivity(ctx, &domain.ActivityEntry{UserID: "2", ActionType: domain.ActionCreate}))

	t.Run("it should page the owner's entries newest first", func(t *testing.T) {
		entries, err := store.ListActivities(ctx, "1", 2, 1)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, int64(4), entries[0].ID)
		assert.Equal(t, int64(3), entries[1].ID)
	})
}

func Test_activity_task_reference(t *testing.T) {
	ctx := context.Background()
	store := NewStorage()
	_, err := store.InsertTask(ctx, &domain.Task{ID: 7, Owner: "1", Client: "Acme"})
	require.NoError(t, err)

	taskID := int64(7)
	require.NoError(t, store.InsertActivity(ctx, &domain.ActivityEntry{UserID: "1", TaskID: &taskID, ActionType: domain.ActionCreate}))

	t.Run("it should clear the task id once the task is deleted", func(t *testing.T) {
		_, err := store.DeleteTask(ctx, 7, "1")
		require.NoError(t, err)

		require.NoError(t, store.InsertActivity(ctx, &domain.ActivityEntry{UserID: "1", TaskID: &taskID, ActionType: domain.ActionDelete}))

		entries, err := store.ListActivities(ctx, "1", 10, 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Nil(t, entries[0].TaskID)
		assert.Nil(t, entries[1].TaskID)
	})
}
