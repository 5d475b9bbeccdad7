package coordinator

import "testing"

func TestNoopCoordinatorAlwaysClaims(t *testing.T) {
	c := NewNoopCoordinator("instance-a")
	ok, err := c.TryClaim("AAPL")
	if err != nil || !ok {
		t.Fatalf("expected TryClaim to succeed, got ok=%v err=%v", ok, err)
	}
	owned, _ := c.GetOwned()
	if len(owned) != 1 || owned[0] != "AAPL" {
		t.Fatalf("expected AAPL owned, got %v", owned)
	}

	if err := c.Release("AAPL"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	owned, _ = c.GetOwned()
	if len(owned) != 0 {
		t.Fatalf("expected no owned symbols after release, got %v", owned)
	}
}
