package server

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/sf7293/pipeline-board/internal/broadcast"
	"github.com/sf7293/pipeline-board/internal/domain"
	"github.com/sf7293/pipeline-board/internal/errval"
	"github.com/sf7293/pipeline-board/internal/idalloc"
	"github.com/sf7293/pipeline-board/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var owner = domain.User{ID: "1", Name: "Ana"}

func intPtr(i int) *int { return &i }

func int64Ptr(i int64) *int64 { return &i }

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

type fixture struct {
	logic  *ServerLogic
	store  *memory.Storage
	hub    *broadcast.Hub
	events <-chan domain.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStorage()
	hub := broadcast.NewHub(nil)
	id, events := hub.Subscribe("observer", 64)
	t.Cleanup(func() { hub.Unsubscribe(id) })

	return &fixture{
		logic:  NewServerLogic(store, idalloc.NewSequenceAllocator(store), hub, "1"),
		store:  store,
		hub:    hub,
		events: events,
	}
}

func (f *fixture) next(t *testing.T) domain.Event {
	t.Helper()
	select {
	case event := <-f.events:
		return event
	case <-time.After(time.Second):
		t.Fatal("expected an event")
		return domain.Event{}
	}
}

func (f *fixture) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case event := <-f.events:
		t.Fatalf("unexpected event %s for task %d", event.Type, event.TaskID)
	default:
	}
}

func (f *fixture) create(t *testing.T, client string, stage, position int) *domain.Task {
	t.Helper()
	task, err := f.logic.CreateTask(context.Background(), owner, domain.RouterRequestCreateTask{
		Client:                 strPtr(client),
		RouterRequestPlacement: domain.RouterRequestPlacement{Stage: intPtr(stage), Position: intPtr(position)},
	})
	require.NoError(t, err)
	f.next(t)
	return task
}

func Test_create_move_delete_scenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.logic.CreateTask(ctx, owner, domain.RouterRequestCreateTask{
		Client:                 strPtr("Acme"),
		RouterRequestPlacement: domain.RouterRequestPlacement{Stage: intPtr(0), Position: intPtr(0)},
	})
	require.NoError(t, err)

	moved, err := f.logic.MoveTask(ctx, owner, created.ID, domain.RouterRequestMoveTask{
		RouterRequestPlacement: domain.RouterRequestPlacement{Stage: intPtr(2), Position: intPtr(5)},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Build, moved.Stage)
	assert.Equal(t, 5, moved.Position)

	require.NoError(t, f.logic.DeleteTask(ctx, owner, created.ID))

	first, second, third := f.next(t), f.next(t), f.next(t)
	assert.Equal(t, domain.EventCreated, first.Type)
	assert.Equal(t, domain.EventMoved, second.Type)
	assert.Equal(t, domain.EventDeleted, third.Type)
	for _, event := range []domain.Event{first, second, third} {
		assert.Equal(t, created.ID, event.TaskID)
		assert.Equal(t, "1", event.Actor.UserID)
		assert.Equal(t, "Ana", event.Actor.UserName)
		assert.NotEmpty(t, event.Actor.ActionDescription)
	}
	assert.Nil(t, third.Task)
	assert.Equal(t, `moved "Acme" from Discovery to Build`, second.Actor.ActionDescription)
	f.assertQuiet(t)
}

func Test_move(t *testing.T) {
	ctx := context.Background()

	t.Run("it should broadcast exactly the stored record", func(t *testing.T) {
		f := newFixture(t)
		task := f.create(t, "Acme", 0, 0)

		returned, err := f.logic.MoveTask(ctx, owner, task.ID, domain.RouterRequestMoveTask{
			RouterRequestPlacement: domain.RouterRequestPlacement{Stage: intPtr(3), Position: intPtr(1)},
		})
		require.NoError(t, err)

		event := f.next(t)
		stored, err := f.store.GetTask(ctx, task.ID, owner.ID)
		require.NoError(t, err)

		assert.Equal(t, stored, event.Task)
		assert.Equal(t, stored, returned)
		assert.Equal(t, domain.Discovery, event.Previous.Stage)
	})

	t.Run("it should accept the legacy col_id and order_position spellings", func(t *testing.T) {
		f := newFixture(t)
		task := f.create(t, "Acme", 0, 0)

		moved, err := f.logic.MoveTask(ctx, owner, task.ID, domain.RouterRequestMoveTask{
			RouterRequestPlacement: domain.RouterRequestPlacement{ColID: intPtr(1), OrderPosition: intPtr(4)},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.Agreement, moved.Stage)
		assert.Equal(t, 4, moved.Position)
	})

	t.Run("it should let two tasks share a position without renumbering", func(t *testing.T) {
		f := newFixture(t)
		a := f.create(t, "A", 1, 0)
		b := f.create(t, "B", 1, 1)

		_, err := f.logic.MoveTask(ctx, owner, b.ID, domain.RouterRequestMoveTask{
			RouterRequestPlacement: domain.RouterRequestPlacement{Stage: intPtr(1), Position: intPtr(0)},
		})
		require.NoError(t, err)

		storedA, _ := f.store.GetTask(ctx, a.ID, owner.ID)
		storedB, _ := f.store.GetTask(ctx, b.ID, owner.ID)
		assert.Equal(t, 0, storedA.Position)
		assert.Equal(t, 0, storedB.Position)
	})

	t.Run("it should reject out of range placements without broadcasting", func(t *testing.T) {
		f := newFixture(t)
		task := f.create(t, "Acme", 0, 0)

		for _, placement := range []domain.RouterRequestPlacement{
			{Stage: intPtr(4), Position: intPtr(0)},
			{Stage: intPtr(-1), Position: intPtr(0)},
			{Stage: intPtr(1), Position: intPtr(-1)},
			{Stage: intPtr(1), Position: intPtr(math.MaxInt32 + 1)},
			{Stage: intPtr(1), Position: intPtr(1 << 32)},
			{Stage: intPtr(1)},
			{Position: intPtr(1)},
		} {
			_, err := f.logic.MoveTask(ctx, owner, task.ID, domain.RouterRequestMoveTask{RouterRequestPlacement: placement})
			assert.ErrorIs(t, err, errval.ErrValidation)
		}
		f.assertQuiet(t)

		stored, _ := f.store.GetTask(ctx, task.ID, owner.ID)
		assert.Equal(t, domain.Discovery, stored.Stage)
	})

	t.Run("it should hide other owners' tasks", func(t *testing.T) {
		f := newFixture(t)
		task := f.create(t, "Acme", 0, 0)

		_, err := f.logic.MoveTask(ctx, domain.User{ID: "2"}, task.ID, domain.RouterRequestMoveTask{
			RouterRequestPlacement: domain.RouterRequestPlacement{Stage: intPtr(1), Position: intPtr(0)},
		})
		assert.ErrorIs(t, err, errval.ErrNotFound)

		_, err = f.logic.MoveTask(ctx, owner, 999, domain.RouterRequestMoveTask{
			RouterRequestPlacement: domain.RouterRequestPlacement{Stage: intPtr(1), Position: intPtr(0)},
		})
		assert.ErrorIs(t, err, errval.ErrNotFound)
		f.assertQuiet(t)
	})
}

func Test_create(t *testing.T) {
	ctx := context.Background()

	t.Run("it should default to the top of Discovery", func(t *testing.T) {
		f := newFixture(t)
		task, err := f.logic.CreateTask(ctx, owner, domain.RouterRequestCreateTask{Client: strPtr("Acme")})
		require.NoError(t, err)
		assert.Equal(t, domain.Discovery, task.Stage)
		assert.Equal(t, 0, task.Position)
		assert.Equal(t, domain.UptimeUnknown, task.UptimeStatus)
	})

	t.Run("it should sanitize free text fields", func(t *testing.T) {
		f := newFixture(t)
		req := domain.RouterRequestCreateTask{Client: strPtr("  Ac\x00me  ")}
		req.Description = strPtr("line\x07 one")
		req.Price = floatPtr(1500)

		task, err := f.logic.CreateTask(ctx, owner, req)
		require.NoError(t, err)
		assert.Equal(t, "Acme", task.Client)
		assert.Equal(t, "line one", task.Description)
		assert.Equal(t, float64(1500), task.Price)
	})

	t.Run("it should use a free client supplied id and replace a taken one", func(t *testing.T) {
		f := newFixture(t)
		task, err := f.logic.CreateTask(ctx, owner, domain.RouterRequestCreateTask{ID: int64Ptr(1700000000000), Client: strPtr("A")})
		require.NoError(t, err)
		assert.Equal(t, int64(1700000000000), task.ID)

		again, err := f.logic.CreateTask(ctx, owner, domain.RouterRequestCreateTask{ID: int64Ptr(1700000000000), Client: strPtr("B")})
		require.NoError(t, err)
		assert.NotEqual(t, task.ID, again.ID)
	})

	t.Run("it should require a client", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.logic.CreateTask(ctx, owner, domain.RouterRequestCreateTask{Client: strPtr("   ")})
		assert.ErrorIs(t, err, errval.ErrValidation)

		var validationErr *errval.ValidationError
		assert.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "client", validationErr.Field)
		f.assertQuiet(t)
	})

	t.Run("it should reject a position beyond the int4 range", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.logic.CreateTask(ctx, owner, domain.RouterRequestCreateTask{
			Client:                 strPtr("Acme"),
			RouterRequestPlacement: domain.RouterRequestPlacement{Stage: intPtr(0), Position: intPtr(1 << 32)},
		})
		assert.ErrorIs(t, err, errval.ErrValidation)

		var validationErr *errval.ValidationError
		assert.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "position", validationErr.Field)
		f.assertQuiet(t)

		task, err := f.logic.CreateTask(ctx, owner, domain.RouterRequestCreateTask{
			Client:                 strPtr("Acme"),
			RouterRequestPlacement: domain.RouterRequestPlacement{Stage: intPtr(0), Position: intPtr(math.MaxInt32)},
		})
		require.NoError(t, err)
		assert.Equal(t, math.MaxInt32, task.Position)
	})

	t.Run("it should issue a public token on request", func(t *testing.T) {
		f := newFixture(t)
		task, err := f.logic.CreateTask(ctx, owner, domain.RouterRequestCreateTask{Client: strPtr("A"), PublicLink: true})
		require.NoError(t, err)
		assert.NotEmpty(t, task.PublicToken)
	})
}

func Test_update(t *testing.T) {
	ctx := context.Background()

	t.Run("it should keep stage and position unless named", func(t *testing.T) {
		f := newFixture(t)
		task := f.create(t, "Acme", 2, 3)

		req := domain.RouterRequestUpdateTask{}
		req.Domain = strPtr("acme.example")
		updated, err := f.logic.UpdateTask(ctx, owner, task.ID, req)
		require.NoError(t, err)

		assert.Equal(t, domain.Build, updated.Stage)
		assert.Equal(t, 3, updated.Position)
		assert.Equal(t, "acme.example", updated.Domain)

		event := f.next(t)
		assert.Equal(t, domain.EventUpdated, event.Type)
		assert.Equal(t, "", event.Previous.Domain)
	})

	t.Run("it should fill the missing half of a placement from the stored task", func(t *testing.T) {
		f := newFixture(t)
		task := f.create(t, "Acme", 2, 3)

		updated, err := f.logic.UpdateTask(ctx, owner, task.ID, domain.RouterRequestUpdateTask{
			RouterRequestPlacement: domain.RouterRequestPlacement{Position: intPtr(7)},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.Build, updated.Stage)
		assert.Equal(t, 7, updated.Position)
	})

	t.Run("it should never touch uptime status", func(t *testing.T) {
		f := newFixture(t)
		task := f.create(t, "Acme", 0, 0)
		require.NoError(t, f.store.SetUptimeStatus(ctx, task.ID, domain.UptimeUp))

		updated, err := f.logic.UpdateTask(ctx, owner, task.ID, domain.RouterRequestUpdateTask{Client: strPtr("Acme Inc")})
		require.NoError(t, err)
		assert.Equal(t, domain.UptimeUp, updated.UptimeStatus)
	})

	t.Run("it should reject an empty update", func(t *testing.T) {
		f := newFixture(t)
		task := f.create(t, "Acme", 0, 0)

		_, err := f.logic.UpdateTask(ctx, owner, task.ID, domain.RouterRequestUpdateTask{})
		assert.ErrorIs(t, err, errval.ErrValidation)
	})

	t.Run("it should hide other owners' tasks", func(t *testing.T) {
		f := newFixture(t)
		task := f.create(t, "Acme", 0, 0)

		_, err := f.logic.UpdateTask(ctx, domain.User{ID: "2"}, task.ID, domain.RouterRequestUpdateTask{Client: strPtr("x")})
		assert.ErrorIs(t, err, errval.ErrNotFound)
	})
}

func Test_delete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	task := f.create(t, "Acme", 0, 0)

	t.Run("it should report not found for a non owner and keep the task", func(t *testing.T) {
		assert.ErrorIs(t, f.logic.DeleteTask(ctx, domain.User{ID: "2"}, task.ID), errval.ErrNotFound)
		_, err := f.store.GetTask(ctx, task.ID, owner.ID)
		assert.NoError(t, err)
		f.assertQuiet(t)
	})

	t.Run("it should report not found the second time", func(t *testing.T) {
		require.NoError(t, f.logic.DeleteTask(ctx, owner, task.ID))
		f.next(t)
		assert.ErrorIs(t, f.logic.DeleteTask(ctx, owner, task.ID), errval.ErrNotFound)
		f.assertQuiet(t)
	})
}

func Test_public_status(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	task := f.create(t, "Acme", 2, 0)

	t.Run("it should keep the token stable across calls", func(t *testing.T) {
		first, err := f.logic.EnablePublicLink(ctx, owner, task.ID)
		require.NoError(t, err)
		second, err := f.logic.EnablePublicLink(ctx, owner, task.ID)
		require.NoError(t, err)
		assert.Equal(t, first.PublicToken, second.PublicToken)
		assert.Equal(t, domain.EventUpdated, f.next(t).Type)
		f.assertQuiet(t)
	})

	t.Run("it should expose only the public projection", func(t *testing.T) {
		shared, err := f.logic.GetTask(ctx, owner, task.ID)
		require.NoError(t, err)

		status, err := f.logic.PublicStatus(ctx, shared.PublicToken)
		require.NoError(t, err)
		assert.Equal(t, domain.PublicStatus{
			ClientName:      "Acme",
			StageName:       "Build",
			ProgressPercent: 75,
			LastUpdated:     shared.UpdatedAt,
		}, status)
	})

	t.Run("it should treat unknown and malformed tokens alike", func(t *testing.T) {
		_, err := f.logic.PublicStatus(ctx, "not-a-token")
		assert.ErrorIs(t, err, errval.ErrNotFound)
		_, err = f.logic.PublicStatus(ctx, "6f1c9a52-6c59-4d6e-9a3e-0f1e2d3c4b5a")
		assert.ErrorIs(t, err, errval.ErrNotFound)
	})
}

func Test_create_lead(t *testing.T) {
	ctx := context.Background()

	t.Run("it should create a Discovery card owned by the leads owner", func(t *testing.T) {
		f := newFixture(t)
		result, err := f.logic.CreateLead(ctx, domain.RouterRequestCreateLead{
			Client:  "Bea",
			Contact: "bea@example.com",
			Source:  "Instagram",
		})
		require.NoError(t, err)
		require.NotNil(t, result.Task)

		assert.Equal(t, "1", result.Task.Owner)
		assert.Equal(t, domain.Discovery, result.Task.Stage)
		assert.Equal(t, "Instagram", result.Task.Type)

		event := f.next(t)
		assert.Equal(t, domain.EventCreated, event.Type)
		assert.Equal(t, LeadsActorName, event.Actor.UserName)
		assert.Equal(t, "new lead from Bea via Instagram", event.Actor.ActionDescription)
	})

	t.Run("it should only acknowledge a bare WhatsApp click", func(t *testing.T) {
		f := newFixture(t)
		result, err := f.logic.CreateLead(ctx, domain.RouterRequestCreateLead{Source: "WhatsApp"})
		require.NoError(t, err)
		assert.True(t, result.Analytics)
		assert.Nil(t, result.Task)
		f.assertQuiet(t)
	})

	t.Run("it should validate the contact", func(t *testing.T) {
		f := newFixture(t)
		for _, contact := range []string{"@bea", "+55 (11) 99999-0000", "bea@example.com"} {
			_, err := f.logic.CreateLead(ctx, domain.RouterRequestCreateLead{Client: "Bea", Contact: contact})
			assert.NoError(t, err, contact)
			f.next(t)
		}

		_, err := f.logic.CreateLead(ctx, domain.RouterRequestCreateLead{Client: "Bea", Contact: "call me maybe"})
		assert.ErrorIs(t, err, errval.ErrValidation)
		_, err = f.logic.CreateLead(ctx, domain.RouterRequestCreateLead{Contact: "bea@example.com"})
		assert.ErrorIs(t, err, errval.ErrValidation)
	})
}

func Test_list(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.create(t, "B", 1, 0)
	f.create(t, "A", 0, 0)

	tasks, err := f.logic.ListTasks(ctx, owner)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "A", tasks[0].Client)

	others, err := f.logic.ListTasks(ctx, domain.User{ID: "2"})
	require.NoError(t, err)
	assert.Empty(t, others)

	entries, err := f.logic.ListActivities(ctx, owner, 0, -5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
