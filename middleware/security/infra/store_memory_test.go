package infra

import (
	"context"
	"testing"
	"time"

	"security-gateway/middleware/security/domain"
)

func TestMemoryStore_SlideCounts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := s.Slide(ctx, "k", time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != want {
			t.Fatalf("expected n=%d, got %d", want, n)
		}
	}
}

func TestMemoryStore_SlideTrimsOldStamps(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	window := 30 * time.Millisecond
	if _, err := s.Slide(ctx, "k", window); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Slide(ctx, "k", window); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	n, err := s.Slide(ctx, "k", window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected old stamps trimmed, got n=%d", n)
	}
}

func TestMemoryStore_WindowsAreIndependentPerKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Slide(ctx, "a", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n, err := s.Slide(ctx, "b", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected fresh window for second key, got %d", n)
	}
}

func TestMemoryStore_AppendCapsHistory(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	since := time.Now().Add(-time.Minute)

	for i := 0; i < 5; i++ {
		rec := domain.RequestRecord{Timestamp: time.Now(), Method: "GET", URL: "/dados", StatusCode: 200 + i}
		if err := s.Append(ctx, "h", rec, 3, time.Hour); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	recs, err := s.Recent(ctx, "h", since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(recs))
	}
	// os mais antigos caem primeiro
	if recs[0].StatusCode != 202 || recs[2].StatusCode != 204 {
		t.Fatalf("expected oldest records dropped, got %v", recs)
	}
}

func TestMemoryStore_RecentFiltersBySince(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	old := domain.RequestRecord{Timestamp: time.Now().Add(-2 * time.Minute), Method: "GET", URL: "/dados"}
	fresh := domain.RequestRecord{Timestamp: time.Now(), Method: "GET", URL: "/dados"}
	if err := s.Append(ctx, "h", old, 10, time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Append(ctx, "h", fresh, 10, time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recs, err := s.Recent(ctx, "h", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected only the fresh record, got %d", len(recs))
	}
}

func TestMemoryStore_HistoryExpires(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := domain.RequestRecord{Timestamp: time.Now(), Method: "GET", URL: "/dados"}
	if err := s.Append(ctx, "h", rec, 10, 10*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	recs, err := s.Recent(ctx, "h", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected expired history to be empty, got %d", len(recs))
	}
}

func TestMemoryStore_IncrementResetsAfterTTL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	n, err := s.Increment(ctx, "c", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected n=1, got %d", n)
	}
	n, _ = s.Increment(ctx, "c", 10*time.Millisecond)
	if n != 2 {
		t.Fatalf("expected n=2, got %d", n)
	}

	time.Sleep(20 * time.Millisecond)

	n, _ = s.Increment(ctx, "c", 10*time.Millisecond)
	if n != 1 {
		t.Fatalf("expected counter reset after TTL, got %d", n)
	}
}

func TestMemoryStore_ReputationRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	entry := domain.ReputationEntry{
		State:     domain.StateBlocked,
		Reason:    "rate_limit_exceeded",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := s.PutReputation(ctx, "blocked_ip:10.0.0.1", entry, time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, found, err := s.GetReputation(ctx, "blocked_ip:10.0.0.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatalf("expected entry to be found")
	}
	if got.State != domain.StateBlocked || got.Reason != "rate_limit_exceeded" {
		t.Fatalf("unexpected entry %+v", got)
	}

	if err := s.DeleteReputation(ctx, "blocked_ip:10.0.0.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, found, _ := s.GetReputation(ctx, "blocked_ip:10.0.0.1"); found {
		t.Fatalf("expected entry deleted")
	}
}

func TestMemoryStore_ReputationExpiresLazily(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	entry := domain.ReputationEntry{State: domain.StateSuspicious, ExpiresAt: time.Now().Add(10 * time.Millisecond)}
	if err := s.PutReputation(ctx, "suspicious_ip:10.0.0.1", entry, 10*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, found, _ := s.GetReputation(ctx, "suspicious_ip:10.0.0.1"); found {
		t.Fatalf("expected expired entry to be gone")
	}
}

func TestMemoryStore_CleanupRemovesIdleKeys(t *testing.T) {
	s := NewMemoryStore(WithIdleTTL(2 * time.Millisecond))
	ctx := context.Background()

	if _, err := s.Slide(ctx, "k", time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	s.Cleanup()

	// a janela ociosa caiu: o próximo slide recomeça do zero
	n, err := s.Slide(ctx, "k", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected idle window removed by cleanup, got n=%d", n)
	}
}
