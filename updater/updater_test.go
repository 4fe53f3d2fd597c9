package updater

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/beacon-House/counselling-portal-sub000/domain"
)

type stubStore struct {
	fetchSubtask func(ctx context.Context, studentID string, subtaskID domain.SubtaskID) (domain.Subtask, error)

	upserts []domain.CalendarEntry
	deletes []domain.SubtaskID
}

func (s *stubStore) FetchSubtask(ctx context.Context, studentID string, subtaskID domain.SubtaskID) (domain.Subtask, error) {
	if s.fetchSubtask != nil {
		return s.fetchSubtask(ctx, studentID, subtaskID)
	}
	return domain.Subtask{ID: subtaskID, StudentID: studentID}, nil
}

func (s *stubStore) UpsertCalendarEntry(_ context.Context, e domain.CalendarEntry) error {
	s.upserts = append(s.upserts, e)
	return nil
}

func (s *stubStore) DeleteCalendarEntry(_ context.Context, _ string, subtaskID domain.SubtaskID) error {
	s.deletes = append(s.deletes, subtaskID)
	return nil
}

type stubEvictor struct {
	evicted []string
}

func (s *stubEvictor) Evict(_ context.Context, studentID string) {
	s.evicted = append(s.evicted, studentID)
}

func newTestUpdater(store *stubStore, cache *stubEvictor, rc *redis.Client) *Updater {
	logger, _ := test.NewNullLogger()
	u := &Updater{
		store:   store,
		rc:      rc,
		channel: "updates",
		logger:  logger,
		idle:    time.Millisecond,
	}
	// Assign through the interface only for a non-nil stub so that a nil
	// *stubEvictor leaves u.cache a nil interface, matching the "no evictor
	// configured" case the production nil check guards.
	if cache != nil {
		u.cache = cache
	}
	return u
}

func eventPayload(t *testing.T, ev domain.UpdateEvent) string {
	t.Helper()
	data, err := sonic.MarshalString(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return data
}

func TestProcessSubtaskCreatedWithETA(t *testing.T) {
	store := &stubStore{}
	cache := &stubEvictor{}
	u := newTestUpdater(store, cache, nil)

	sub := domain.Subtask{ID: "sub-1", StudentID: "stu-1", Name: "Draft essay", ETA: "2026-10-01", Owner: "Asha Rao"}
	data, _ := sonic.Marshal(sub)
	payload := eventPayload(t, domain.UpdateEvent{
		ID: "e1", StudentID: "stu-1", EntityID: "sub-1",
		EntityType: "subtask", Type: domain.EventSubtaskCreated, Data: data,
	})

	if err := u.processPayload(context.Background(), payload); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(store.upserts) != 1 {
		t.Fatalf("one calendar upsert expected, got %d", len(store.upserts))
	}
	got := store.upserts[0]
	if got.Date != "2026-10-01" || got.Label != "Draft essay" || got.SubtaskID != "sub-1" || got.Owner != "Asha Rao" {
		t.Fatalf("unexpected calendar entry: %+v", got)
	}
	if len(cache.evicted) != 1 || cache.evicted[0] != "stu-1" {
		t.Fatalf("cache must be evicted for the student, got %v", cache.evicted)
	}
}

func TestProcessSubtaskWithoutETARemovesEntry(t *testing.T) {
	store := &stubStore{}
	u := newTestUpdater(store, nil, nil)

	sub := domain.Subtask{ID: "sub-1", StudentID: "stu-1", Name: "Draft essay"}
	data, _ := sonic.Marshal(sub)
	payload := eventPayload(t, domain.UpdateEvent{
		ID: "e1", StudentID: "stu-1", EntityID: "sub-1",
		EntityType: "subtask", Type: domain.EventSubtaskCreated, Data: data,
	})

	if err := u.processPayload(context.Background(), payload); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(store.upserts) != 0 {
		t.Fatalf("no calendar upsert expected, got %+v", store.upserts)
	}
	if len(store.deletes) != 1 || store.deletes[0] != "sub-1" {
		t.Fatalf("stale calendar entry must be deleted, got %v", store.deletes)
	}
}

func TestProcessSubtaskUpdatedRefetchesRow(t *testing.T) {
	store := &stubStore{
		fetchSubtask: func(_ context.Context, studentID string, subtaskID domain.SubtaskID) (domain.Subtask, error) {
			return domain.Subtask{ID: subtaskID, StudentID: studentID, Name: "Book SAT", ETA: "2026-11-15"}, nil
		},
	}
	u := newTestUpdater(store, nil, nil)

	payload := eventPayload(t, domain.UpdateEvent{
		ID: "e2", StudentID: "stu-1", EntityID: "sub-2",
		EntityType: "subtask", Type: domain.EventSubtaskUpdated,
	})

	if err := u.processPayload(context.Background(), payload); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(store.upserts) != 1 || store.upserts[0].Date != "2026-11-15" {
		t.Fatalf("calendar should reflect the refetched row, got %+v", store.upserts)
	}
}

func TestProcessPublishesNotification(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sub := client.Subscribe(context.Background(), "updates")
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	u := newTestUpdater(&stubStore{}, nil, client)
	payload := eventPayload(t, domain.UpdateEvent{
		ID: "e3", StudentID: "stu-1", EntityID: "n1",
		EntityType: "note", Type: domain.EventNoteUpdated,
	})
	if err := u.processPayload(context.Background(), payload); err != nil {
		t.Fatalf("process: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var ev domain.UpdateEvent
		if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
			t.Fatalf("decode notification: %v", err)
		}
		if ev.ID != "e3" || ev.StudentID != "stu-1" {
			t.Fatalf("unexpected notification: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestProcessDropsMalformedPayload(t *testing.T) {
	store := &stubStore{}
	u := newTestUpdater(store, nil, nil)

	if err := u.processPayload(context.Background(), "{not json"); err != nil {
		t.Fatalf("malformed payloads must be dropped, got %v", err)
	}
	if len(store.upserts) != 0 || len(store.deletes) != 0 {
		t.Fatal("no writes expected for malformed payload")
	}
}
