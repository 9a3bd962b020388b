package amountgen

import (
	"testing"

	"tronrecon/internal/money"
)

func TestGenerateExceedsBase(t *testing.T) {
	base := money.FromFloat(5.0)
	for i := 0; i < 50; i++ {
		a := Generate(base, nil)
		if a <= base {
			t.Fatalf("expected generated amount to exceed base, got %s vs base %s", a, base)
		}
		if a.Float() >= base.Float()+1.0 {
			t.Fatalf("expected delta < 1.0, got %s vs base %s", a, base)
		}
	}
}

func TestGenerateAvoidsCollisionSet(t *testing.T) {
	base := money.FromFloat(5.0)
	collisions := []money.Amount{
		money.FromFloat(5.1234),
		money.FromFloat(5.5000),
	}
	for i := 0; i < 100; i++ {
		a := Generate(base, collisions)
		for _, c := range collisions {
			if a.CloseEnough(c) {
				t.Fatalf("generated amount %s collides with %s", a, c)
			}
		}
	}
}

func TestGenerateFallsBackWhenCollisionSetCoversEveryDelta(t *testing.T) {
	base := money.FromFloat(1.0)
	// Populate every possible delta value to force the fallback path;
	// the function must still return an amount > base.
	var full []money.Amount
	for d := money.Amount(1); d < money.Scale; d++ {
		full = append(full, base+d)
	}
	a := Generate(base, full)
	if a <= base {
		t.Fatalf("expected fallback amount to still exceed base, got %s", a)
	}
}
