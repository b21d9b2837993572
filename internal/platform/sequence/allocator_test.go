package sequence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hms/hms/internal/platform/errs"
)

type mapStore struct {
	mu       sync.Mutex
	counters map[string]int64
	failures map[string]int // remaining induced failures per key
	failWith error
}

func newMapStore() *mapStore {
	return &mapStore{counters: make(map[string]int64), failures: make(map[string]int)}
}

func (s *mapStore) Next(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[key] > 0 {
		s.failures[key]--
		return 0, s.failWith
	}
	s.counters[key]++
	return s.counters[key], nil
}

var june = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

func TestFormat(t *testing.T) {
	cases := []struct {
		entity Entity
		seq    int64
		want   string
	}{
		{EntityPatient, 7, "P20260007"},
		{EntityAppointment, 12, "A2026060012"},
		{EntityMedicalRecord, 42, "MR202606000042"},
		{EntityInvoice, 3, "INV2026060003"},
	}
	for _, tc := range cases {
		got, err := Format(tc.entity, june, tc.seq)
		if err != nil {
			t.Fatalf("Format(%s): %v", tc.entity, err)
		}
		if got != tc.want {
			t.Errorf("Format(%s, %d) = %s, want %s", tc.entity, tc.seq, got, tc.want)
		}
	}
}

func TestFormat_UnknownEntity(t *testing.T) {
	if _, err := Format(Entity("ward"), june, 1); err == nil {
		t.Error("expected error for unknown entity")
	}
}

func TestAllocate_SequentialWithinPeriod(t *testing.T) {
	alloc := NewAllocator(newMapStore(), 3)

	first, err := alloc.Allocate(context.Background(), EntityPatient, june)
	if err != nil {
		t.Fatal(err)
	}
	second, err := alloc.Allocate(context.Background(), EntityPatient, june)
	if err != nil {
		t.Fatal(err)
	}
	if first != "P20260001" || second != "P20260002" {
		t.Errorf("got %s then %s", first, second)
	}
}

func TestAllocate_PeriodsAreIndependent(t *testing.T) {
	alloc := NewAllocator(newMapStore(), 3)
	july := june.AddDate(0, 1, 0)

	a, _ := alloc.Allocate(context.Background(), EntityAppointment, june)
	b, _ := alloc.Allocate(context.Background(), EntityAppointment, july)
	if a != "A2026060001" || b != "A2026070001" {
		t.Errorf("counters leaked across periods: %s, %s", a, b)
	}
}

func TestAllocate_ConcurrentUniqueness(t *testing.T) {
	alloc := NewAllocator(newMapStore(), 3)

	const n = 50
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := alloc.Allocate(context.Background(), EntityMedicalRecord, june)
			if err != nil {
				t.Error(err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate identifier allocated: %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("expected %d unique ids, got %d", n, len(seen))
	}
}

func TestAllocate_RetriesTransientConflicts(t *testing.T) {
	store := newMapStore()
	store.failWith = &pgconn.PgError{Code: "40001"}
	key, _ := Key(EntityPatient, june)
	store.failures[key] = 2

	alloc := NewAllocator(store, 5)
	id, err := alloc.Allocate(context.Background(), EntityPatient, june)
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if id != "P20260001" {
		t.Errorf("id = %s", id)
	}
}

func TestAllocate_ExhaustedRetriesSurfaceConflict(t *testing.T) {
	store := newMapStore()
	store.failWith = &pgconn.PgError{Code: "23505"}
	key, _ := Key(EntityInvoice, june)
	store.failures[key] = 100

	alloc := NewAllocator(store, 2)
	_, err := alloc.Allocate(context.Background(), EntityInvoice, june)
	if !errs.Is(err, errs.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestAllocate_PermanentErrorNotRetried(t *testing.T) {
	store := newMapStore()
	boom := errors.New("relation does not exist")
	store.failWith = boom
	key, _ := Key(EntityPatient, june)
	store.failures[key] = 1

	alloc := NewAllocator(store, 5)
	_, err := alloc.Allocate(context.Background(), EntityPatient, june)
	if !errors.Is(err, boom) {
		t.Fatalf("expected the storage error unwrapped, got %v", err)
	}
	if store.failures[key] != 0 {
		t.Error("store should have been called exactly once")
	}
	if store.counters[key] != 0 {
		t.Error("counter should not have advanced")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&pgconn.PgError{Code: "40P01"}) {
		t.Error("deadlock should be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain error should not be retryable")
	}
	if IsRetryable(&pgconn.PgError{Code: "23503"}) {
		t.Error("fk violation should not be retryable")
	}
}
