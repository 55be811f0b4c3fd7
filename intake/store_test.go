// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package intake

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lumenwealth/memoflow/lib/clock"
	"github.com/lumenwealth/memoflow/lib/sqlitepool"
)

func newTestStore(t *testing.T) (*Store, *clock.FakeClock) {
	t.Helper()

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      filepath.Join(t.TempDir(), "intake.db"),
		PoolSize:  2,
		OnConnect: PrepareSchema,
	})
	if err != nil {
		t.Fatalf("opening pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	fake := clock.Fake(time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC))
	return NewStore(pool, fake, nil), fake
}

func mustCreate(t *testing.T, store *Store) *Session {
	t.Helper()
	session, err := store.CreateSession(context.Background(), "user-1", "user@example.com")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return session
}

// driveTo walks a fresh session up to the target status through the
// legal event sequence.
func driveTo(t *testing.T, store *Store, id string, target Status) {
	t.Helper()
	path := []struct {
		event Event
		at    Status
	}{
		{EventFirstAnswer, StatusAnswering},
		{EventAllRequiredAnswered, StatusPreviewReady},
		{EventPaymentInitiated, StatusPaymentPending},
		{EventSignatureValid, StatusPaid},
		{EventGenerationStarted, StatusGenerating},
		{EventArtifactReady, StatusDelivered},
	}
	for _, step := range path {
		if _, err := store.Transition(context.Background(), id, step.event); err != nil {
			t.Fatalf("Transition(%s): %v", step.event, err)
		}
		if step.at == target {
			return
		}
	}
	t.Fatalf("driveTo: unreachable target %s", target)
}

func TestCreateAndGetSession(t *testing.T) {
	store, _ := newTestStore(t)
	created := mustCreate(t, store)

	got, err := store.GetSession(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != StatusCreated || got.UserID != "user-1" || got.Contact != "user@example.com" {
		t.Errorf("GetSession = %+v", got)
	}

	if _, err := store.GetSession(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession(missing) = %v, want ErrNotFound", err)
	}
}

func TestTransitionPersistsAndRejects(t *testing.T) {
	store, fake := newTestStore(t)
	session := mustCreate(t, store)

	fake.Advance(time.Minute)
	updated, err := store.Transition(context.Background(), session.ID, EventFirstAnswer)
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if updated.Status != StatusAnswering {
		t.Errorf("status = %s, want answering", updated.Status)
	}
	if !updated.LastTransitionAt.After(session.LastTransitionAt) {
		t.Error("LastTransitionAt did not advance")
	}

	// Replaying the same event is a conflict and leaves state alone.
	if _, err := store.Transition(context.Background(), session.ID, EventFirstAnswer); !errors.Is(err, ErrConflict) {
		t.Fatalf("replayed Transition = %v, want ErrConflict", err)
	}
	got, err := store.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != StatusAnswering {
		t.Errorf("status after rejected event = %s, want answering", got.Status)
	}
}

func TestTransitionExpiredSession(t *testing.T) {
	store, _ := newTestStore(t)
	session := mustCreate(t, store)

	if _, err := store.Transition(context.Background(), session.ID, EventInactivityTimeout); err != nil {
		t.Fatalf("expiring: %v", err)
	}
	if _, err := store.Transition(context.Background(), session.ID, EventFirstAnswer); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Transition on expired = %v, want ErrSessionExpired", err)
	}
}

// Two goroutines race the same event; exactly one must win.
func TestTransitionConcurrentSingleWinner(t *testing.T) {
	store, _ := newTestStore(t)
	session := mustCreate(t, store)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = store.Transition(context.Background(), session.ID, EventFirstAnswer)
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict):
		default:
			t.Errorf("unexpected race outcome: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("%d racers won, want exactly 1", wins)
	}
}

func TestUpsertAnswer(t *testing.T) {
	store, _ := newTestStore(t)
	session := mustCreate(t, store)

	// Answers are rejected before the session is answering.
	if _, err := store.UpsertAnswer(context.Background(), session.ID, "q1", "first"); !errors.Is(err, ErrConflict) {
		t.Fatalf("UpsertAnswer on created = %v, want ErrConflict", err)
	}

	driveTo(t, store, session.ID, StatusAnswering)

	for i, pair := range [][2]string{{"q1", "first"}, {"q2", "second"}} {
		count, err := store.UpsertAnswer(context.Background(), session.ID, pair[0], pair[1])
		if err != nil {
			t.Fatalf("UpsertAnswer(%s): %v", pair[0], err)
		}
		if count != i+1 {
			t.Errorf("answer count = %d, want %d", count, i+1)
		}
	}

	// Re-answering updates in place, preserving position.
	count, err := store.UpsertAnswer(context.Background(), session.ID, "q1", "revised")
	if err != nil {
		t.Fatalf("UpsertAnswer(revision): %v", err)
	}
	if count != 2 {
		t.Errorf("answer count after revision = %d, want 2", count)
	}

	got, err := store.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(got.Answers) != 2 || got.Answers[0].QuestionID != "q1" || got.Answers[0].Value != "revised" {
		t.Errorf("answers = %+v", got.Answers)
	}
}

func TestAppendDiscoveriesSequencing(t *testing.T) {
	store, _ := newTestStore(t)
	session := mustCreate(t, store)
	driveTo(t, store, session.ID, StatusAnswering)

	first, err := store.AppendDiscoveries(context.Background(), session.ID, []Discovery{
		{Type: DiscoveryOpportunity, Payload: map[string]any{"headline": "unused deduction"}},
		{Type: DiscoveryMistake, Payload: map[string]any{"headline": "overweight position"}},
	})
	if err != nil {
		t.Fatalf("AppendDiscoveries: %v", err)
	}
	second, err := store.AppendDiscoveries(context.Background(), session.ID, []Discovery{
		{Type: DiscoveryIntelligence, Payload: map[string]any{"headline": "peer benchmark"}},
	})
	if err != nil {
		t.Fatalf("AppendDiscoveries: %v", err)
	}
	if first[0].Sequence != 1 || first[1].Sequence != 2 || second[0].Sequence != 3 {
		t.Errorf("sequences = %d, %d, %d, want 1, 2, 3", first[0].Sequence, first[1].Sequence, second[0].Sequence)
	}

	got, err := store.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(got.Discoveries) != 3 {
		t.Fatalf("loaded %d discoveries, want 3", len(got.Discoveries))
	}
	if got.Discoveries[2].Payload["headline"] != "peer benchmark" {
		t.Errorf("payload round-trip = %+v", got.Discoveries[2].Payload)
	}
}

func TestAppendDiscoveriesStatusGate(t *testing.T) {
	store, _ := newTestStore(t)
	session := mustCreate(t, store)
	driveTo(t, store, session.ID, StatusPreviewReady)

	_, err := store.AppendDiscoveries(context.Background(), session.ID, []Discovery{
		{Type: DiscoveryOpportunity, Payload: map[string]any{}},
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("AppendDiscoveries on preview_ready = %v, want ErrConflict", err)
	}
}

func TestCreateOrderSupersedesPending(t *testing.T) {
	store, _ := newTestStore(t)
	session := mustCreate(t, store)

	first, err := store.CreateOrder(context.Background(), session.ID, 4900, "USD")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	second, err := store.CreateOrder(context.Background(), session.ID, 4900, "USD")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	got, err := store.GetOrder(context.Background(), first.OrderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != OrderSuperseded {
		t.Errorf("first order status = %s, want superseded", got.Status)
	}

	loaded, err := store.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if loaded.Payment == nil || loaded.Payment.OrderID != second.OrderID {
		t.Errorf("current payment = %+v, want order %s", loaded.Payment, second.OrderID)
	}
}

func TestClaimOrderVerifiedExactlyOnce(t *testing.T) {
	store, _ := newTestStore(t)
	session := mustCreate(t, store)
	order, err := store.CreateOrder(context.Background(), session.ID, 4900, "USD")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	const racers = 8
	var wg sync.WaitGroup
	claims := make([]bool, racers)
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, _, err := store.ClaimOrderVerified(context.Background(), order.OrderID, "pay-1", "sig")
			if err != nil {
				t.Errorf("ClaimOrderVerified: %v", err)
				return
			}
			claims[i] = claimed
		}()
	}
	wg.Wait()

	wins := 0
	for _, claimed := range claims {
		if claimed {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("%d claims won, want exactly 1", wins)
	}

	got, err := store.GetOrder(context.Background(), order.OrderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != OrderVerified || got.PaymentID != "pay-1" || got.VerifiedAt == nil {
		t.Errorf("order after claim = %+v", got)
	}
}

func TestMarkOrderStatus(t *testing.T) {
	store, _ := newTestStore(t)
	session := mustCreate(t, store)
	order, err := store.CreateOrder(context.Background(), session.ID, 4900, "USD")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if err := store.MarkOrderStatus(context.Background(), order.OrderID, OrderSignatureInvalid); err != nil {
		t.Fatalf("MarkOrderStatus: %v", err)
	}

	// A settled order is immutable.
	if err := store.MarkOrderStatus(context.Background(), order.OrderID, OrderProviderFailed); !errors.Is(err, ErrConflict) {
		t.Fatalf("MarkOrderStatus on settled = %v, want ErrConflict", err)
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	session := mustCreate(t, store)

	body := bytes.Repeat([]byte("decision memo body "), 200)
	stored, err := store.PutArtifact(context.Background(), session.ID, "application/json", body)
	if err != nil {
		t.Fatalf("PutArtifact: %v", err)
	}
	if stored.ContentHash == "" {
		t.Error("no content hash assigned")
	}

	got, err := store.GetArtifact(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if !bytes.Equal(got.Body, body) {
		t.Error("artifact body did not round-trip")
	}
	if got.ContentHash != stored.ContentHash || got.ContentType != "application/json" {
		t.Errorf("artifact metadata = %+v", got)
	}

	if _, err := store.GetArtifact(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetArtifact(missing) = %v, want ErrNotFound", err)
	}
}

func TestListInactiveBefore(t *testing.T) {
	store, fake := newTestStore(t)
	stale := mustCreate(t, store)
	delivered := mustCreate(t, store)
	driveTo(t, store, delivered.ID, StatusDelivered)

	fake.Advance(45 * time.Minute)
	fresh := mustCreate(t, store)

	ids, err := store.ListInactiveBefore(context.Background(), fake.Now().Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("ListInactiveBefore: %v", err)
	}
	if len(ids) != 1 || ids[0] != stale.ID {
		t.Errorf("inactive = %v, want [%s] (fresh %s and delivered %s excluded)", ids, stale.ID, fresh.ID, delivered.ID)
	}
}
