package coordinator

import (
	"testing"
	"time"
)

func TestFileLockCoordinatorExclusiveClaim(t *testing.T) {
	dir := t.TempDir()
	a := NewFileLockCoordinator(dir, "instance-a")
	b := NewFileLockCoordinator(dir, "instance-b")

	ok, err := a.TryClaim("AAPL")
	if err != nil || !ok {
		t.Fatalf("expected instance-a to claim AAPL, got ok=%v err=%v", ok, err)
	}

	ok, err = b.TryClaim("AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected instance-b to be refused a claim instance-a already holds")
	}

	// instance-a can refresh its own claim without issue.
	ok, err = a.TryClaim("AAPL")
	if err != nil || !ok {
		t.Fatalf("expected instance-a to refresh its own claim, got ok=%v err=%v", ok, err)
	}
}

func TestFileLockCoordinatorReleaseFreesSymbol(t *testing.T) {
	dir := t.TempDir()
	a := NewFileLockCoordinator(dir, "instance-a")
	b := NewFileLockCoordinator(dir, "instance-b")

	if ok, _ := a.TryClaim("MSFT"); !ok {
		t.Fatal("expected instance-a to claim MSFT")
	}
	if err := a.Release("MSFT"); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	ok, err := b.TryClaim("MSFT")
	if err != nil || !ok {
		t.Fatalf("expected instance-b to claim MSFT after release, got ok=%v err=%v", ok, err)
	}
}

func TestFileLockCoordinatorReclaimStale(t *testing.T) {
	dir := t.TempDir()
	a := NewFileLockCoordinator(dir, "instance-a")
	b := NewFileLockCoordinator(dir, "instance-b")

	if ok, _ := a.TryClaim("GOOG"); !ok {
		t.Fatal("expected instance-a to claim GOOG")
	}

	// simulate a's claim going stale by reclaiming with a zero TTL.
	reclaimed, err := b.ReclaimStale(0)
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0] != "GOOG" {
		t.Fatalf("expected GOOG to be reclaimed, got %v", reclaimed)
	}

	ok, err := b.TryClaim("GOOG")
	if err != nil || !ok {
		t.Fatalf("expected instance-b to claim GOOG after reclaim, got ok=%v err=%v", ok, err)
	}
}

func TestFileLockCoordinatorGetAllClaims(t *testing.T) {
	dir := t.TempDir()
	a := NewFileLockCoordinator(dir, "instance-a")

	a.TryClaim("AAPL")
	a.TryClaim("MSFT")

	claims, err := a.GetAllClaims()
	if err != nil {
		t.Fatalf("GetAllClaims failed: %v", err)
	}
	if len(claims) != 2 {
		t.Fatalf("expected 2 claims, got %d", len(claims))
	}
	for _, c := range claims {
		if time.Since(c.HeartbeatAt) > time.Minute {
			t.Errorf("expected a fresh heartbeat for %s, got %v", c.Symbol, c.HeartbeatAt)
		}
	}
}
