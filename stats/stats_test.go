package stats

import "testing"

func TestComputeEloUpdatesWinLoss(t *testing.T) {
	newR0, newR1 := computeEloUpdates(1000, 1000, 5, 5, 0)
	if newR0 <= 1000 {
		t.Errorf("winner (0) should gain: got R0=%d", newR0)
	}
	if newR1 >= 1000 {
		t.Errorf("loser (1) should lose: got R1=%d", newR1)
	}

	newR0, newR1 = computeEloUpdates(1000, 1000, 5, 5, 1)
	if newR0 >= 1000 {
		t.Errorf("loser (0) should lose: got R0=%d", newR0)
	}
	if newR1 <= 1000 {
		t.Errorf("winner (1) should gain: got R1=%d", newR1)
	}
}

func TestComputeEloUpdatesDraw(t *testing.T) {
	newR0, newR1 := computeEloUpdates(1000, 1000, 5, 5, -1)
	if newR0 < 990 || newR0 > 1010 {
		t.Errorf("draw at same rating: R0 should stay ~1000, got %d", newR0)
	}
	if newR1 < 990 || newR1 > 1010 {
		t.Errorf("draw at same rating: R1 should stay ~1000, got %d", newR1)
	}
}

func TestComputeEloUpdatesWeakerPlayerDrawsWithStronger(t *testing.T) {
	r0Weak, r1Strong := 800, 1200
	newR0, newR1 := computeEloUpdates(r0Weak, r1Strong, 5, 5, -1)
	if newR0 <= r0Weak {
		t.Errorf("weaker player should gain on draw: had %d, got %d", r0Weak, newR0)
	}
	if newR1 >= r1Strong {
		t.Errorf("stronger player should lose on draw: had %d, got %d", r1Strong, newR1)
	}
}

func TestKFactorTwoTier(t *testing.T) {
	if k := kFor(29); k != kLowActivity {
		t.Errorf("kFor(29) = %v, want %v (still provisional)", k, kLowActivity)
	}
	if k := kFor(30); k != kHighActivity {
		t.Errorf("kFor(30) = %v, want %v (established)", k, kHighActivity)
	}
	if k := kFor(500); k != kHighActivity {
		t.Errorf("kFor(500) = %v, want %v", k, kHighActivity)
	}
}

func TestComputeEloUpdatesEstablishedPlayerSmallerSwing(t *testing.T) {
	// A provisional player (few games) should swing more than an established
	// one (many games) for the same result against an equal opponent.
	provisionalNew, _ := computeEloUpdates(1000, 1000, 5, 5, 0)
	establishedNew, _ := computeEloUpdates(1000, 1000, 40, 40, 0)
	provisionalDelta := provisionalNew - 1000
	establishedDelta := establishedNew - 1000
	if establishedDelta >= provisionalDelta {
		t.Errorf("established player's swing (%d) should be smaller than provisional (%d)", establishedDelta, provisionalDelta)
	}
}

func TestComputeEloUpdatesMinimumRatingZero(t *testing.T) {
	newR0, _ := computeEloUpdates(5, 2000, 5, 5, 1)
	if newR0 < 0 {
		t.Errorf("rating must never go negative, got %d", newR0)
	}
}
