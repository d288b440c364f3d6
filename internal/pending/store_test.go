package pending

import (
	"context"
	"testing"
	"time"

	"github.com/salesbridge/followup/internal/model"
	"github.com/salesbridge/followup/internal/store"
)

func newTestStore(t *testing.T, ids ...string) (*Store, *store.MemoryRecipientStore, time.Time) {
	t.Helper()

	st := store.NewMemoryRecipientStore()
	for _, id := range ids {
		err := st.Put(context.Background(), &model.Recipient{
			ID: id, Name: "Test", Phone: "+5215512345678", Role: model.RoleStaff,
		})
		if err != nil {
			t.Fatalf("Put() error: %v", err)
		}
	}

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ps := NewStore(st).WithClock(func() time.Time { return now })
	return ps, st, now
}

func TestUpsert_SetsTTLFromTypeTable(t *testing.T) {
	t.Parallel()

	ps, st, now := newTestStore(t, "r1")
	ctx := context.Background()

	cases := []struct {
		typ model.MessageType
		ttl time.Duration
	}{
		{model.TypeAlert, 6 * time.Hour},
		{model.TypeBriefing, 18 * time.Hour},
		{model.TypeDailySummary, 24 * time.Hour},
		{model.TypeWeeklySummary, 72 * time.Hour},
		{model.TypeNotification, 48 * time.Hour},
	}

	for _, tc := range cases {
		msg, err := ps.Upsert(ctx, "r1", tc.typ, "content")
		if err != nil {
			t.Fatalf("Upsert(%s) error: %v", tc.typ, err)
		}
		if got := msg.ExpiresAt.Sub(msg.CreatedAt); got != tc.ttl {
			t.Fatalf("%s: expires_at - created_at = %v, want %v", tc.typ, got, tc.ttl)
		}
		if !msg.CreatedAt.Equal(now) {
			t.Fatalf("%s: created_at = %v, want %v", tc.typ, msg.CreatedAt, now)
		}
	}

	r, _ := st.Get(ctx, "r1")
	if len(r.State.Pending) != len(cases) {
		t.Fatalf("expected %d pending entries, got %d", len(cases), len(r.State.Pending))
	}
}

func TestUpsert_SameTypeOverwrites(t *testing.T) {
	t.Parallel()

	ps, st, _ := newTestStore(t, "r1")
	ctx := context.Background()

	first, err := ps.Upsert(ctx, "r1", model.TypeDailySummary, "old text")
	if err != nil {
		t.Fatalf("first Upsert() error: %v", err)
	}
	second, err := ps.Upsert(ctx, "r1", model.TypeDailySummary, "new text")
	if err != nil {
		t.Fatalf("second Upsert() error: %v", err)
	}

	r, _ := st.Get(ctx, "r1")
	if len(r.State.Pending) != 1 {
		t.Fatalf("expected exactly one queued entry per type, got %d", len(r.State.Pending))
	}

	got := r.State.PendingByType(model.TypeDailySummary)
	if got.ID == first.ID {
		t.Fatalf("expected old entry to be replaced")
	}
	if got.ID != second.ID || got.Payload != "new text" {
		t.Fatalf("unexpected surviving entry: %+v", got)
	}
}

func TestDeliverable_OrdersByPriorityThenAge(t *testing.T) {
	t.Parallel()

	ps, st, _ := newTestStore(t, "r1")
	ctx := context.Background()

	// Insert out of order: low priority first.
	if _, err := ps.Upsert(ctx, "r1", model.TypeWeeklySummary, "weekly"); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if _, err := ps.Upsert(ctx, "r1", model.TypeDailySummary, "daily"); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if _, err := ps.Upsert(ctx, "r1", model.TypeAlert, "alert"); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	r, _ := st.Get(ctx, "r1")
	msgs := ps.Deliverable(r)

	want := []model.MessageType{model.TypeAlert, model.TypeDailySummary, model.TypeWeeklySummary}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d deliverable, got %d", len(want), len(msgs))
	}
	for i, typ := range want {
		if msgs[i].Type != typ {
			t.Fatalf("position %d: got %s, want %s", i, msgs[i].Type, typ)
		}
	}
}

func TestDeliverable_SkipsExpired(t *testing.T) {
	t.Parallel()

	ps, st, now := newTestStore(t, "r1")
	ctx := context.Background()

	if _, err := ps.Upsert(ctx, "r1", model.TypeAlert, "alert"); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	// Jump past the alert TTL.
	ps.WithClock(func() time.Time { return now.Add(7 * time.Hour) })

	r, _ := st.Get(ctx, "r1")
	if msgs := ps.Deliverable(r); len(msgs) != 0 {
		t.Fatalf("expected no deliverable messages, got %d", len(msgs))
	}
}

func TestMarkDelivered_RemovesAndGates(t *testing.T) {
	t.Parallel()

	ps, st, _ := newTestStore(t, "r1")
	ctx := context.Background()

	msg, err := ps.Upsert(ctx, "r1", model.TypeBriefing, "briefing text")
	if err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	if err := ps.MarkDelivered(ctx, "r1", model.TypeBriefing, msg.ID); err != nil {
		t.Fatalf("MarkDelivered() error: %v", err)
	}

	r, _ := st.Get(ctx, "r1")
	if r.State.PendingByType(model.TypeBriefing) != nil {
		t.Fatalf("expected delivered entry removed from sub-document")
	}

	// Second call is a no-op, not an error.
	if err := ps.MarkDelivered(ctx, "r1", model.TypeBriefing, msg.ID); err != nil {
		t.Fatalf("second MarkDelivered() error: %v", err)
	}
}

func TestExpireOld_DiscardsOnlyExpired(t *testing.T) {
	t.Parallel()

	ps, st, now := newTestStore(t, "r1", "r2")
	ctx := context.Background()

	if _, err := ps.Upsert(ctx, "r1", model.TypeAlert, "short lived"); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if _, err := ps.Upsert(ctx, "r2", model.TypeWeeklySummary, "long lived"); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	ps.WithClock(func() time.Time { return now.Add(10 * time.Hour) })

	n, err := ps.ExpireOld(ctx)
	if err != nil {
		t.Fatalf("ExpireOld() error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}

	r1, _ := st.Get(ctx, "r1")
	if r1.State.PendingByType(model.TypeAlert) != nil {
		t.Fatalf("expected expired alert removed")
	}
	r2, _ := st.Get(ctx, "r2")
	if r2.State.PendingByType(model.TypeWeeklySummary) == nil {
		t.Fatalf("expected weekly summary still queued")
	}
}

// flakyStore rejects the first merge so Apply has to re-run the mutation.
type flakyStore struct {
	*store.MemoryRecipientStore
	conflicts int
}

func (s *flakyStore) Merge(ctx context.Context, id string, version int64, state model.RecipientState) error {
	if s.conflicts > 0 {
		s.conflicts--
		return store.ErrConflict
	}
	return s.MemoryRecipientStore.Merge(ctx, id, version, state)
}

func TestExpireOld_CountsOncePerConflictRetry(t *testing.T) {
	t.Parallel()

	mem := store.NewMemoryRecipientStore()
	ctx := context.Background()
	err := mem.Put(ctx, &model.Recipient{
		ID: "r1", Name: "Test", Phone: "+5215512345678", Role: model.RoleStaff,
	})
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ps := NewStore(mem).WithClock(func() time.Time { return now })
	if _, err := ps.Upsert(ctx, "r1", model.TypeAlert, "short lived"); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	flaky := &flakyStore{MemoryRecipientStore: mem, conflicts: 1}
	ps = NewStore(flaky).WithClock(func() time.Time { return now.Add(10 * time.Hour) })

	n, err := ps.ExpireOld(ctx)
	if err != nil {
		t.Fatalf("ExpireOld() error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired despite the merge retry, got %d", n)
	}
}

func TestStats_Counts(t *testing.T) {
	t.Parallel()

	ps, st, _ := newTestStore(t, "r1", "r2")
	ctx := context.Background()

	if _, err := ps.Upsert(ctx, "r1", model.TypeAlert, "a"); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if _, err := ps.Upsert(ctx, "r2", model.TypeAlert, "b"); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	_, err := store.Apply(ctx, st, "r2", func(state *model.RecipientState) error {
		state.Approval = &model.ApprovalRequest{ID: "ap", Status: model.ApprovalAwaiting}
		return nil
	})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	stats, err := Stats(ctx, st)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.Queued != 2 {
		t.Fatalf("expected 2 queued, got %d", stats.Queued)
	}
	if stats.QueuedByType[model.TypeAlert] != 2 {
		t.Fatalf("expected 2 queued alerts, got %d", stats.QueuedByType[model.TypeAlert])
	}
	if stats.Approvals[model.ApprovalAwaiting] != 1 {
		t.Fatalf("expected 1 awaiting approval, got %d", stats.Approvals[model.ApprovalAwaiting])
	}
}
