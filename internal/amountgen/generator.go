// Package amountgen produces the perturbed amount that makes each active
// payment form's expected amount unique. Since a TRON transfer carries no
// memo field the host can rely on, the sub-cent of the amount itself is
// used as an implicit identifier: two forms with colliding amounts would
// make the reconciler's form-to-transfer matching ambiguous.
package amountgen

import (
	"crypto/rand"
	"log/slog"
	"math/big"

	"tronrecon/internal/money"
)

const (
	maxAttempts  = 100
	deltaMin     = 1                 // 0.0001 in base units
	deltaMaxExcl = money.Scale       // up to just under 1.0000
)

// Generate returns a perturbed amount derived from base that avoids every
// value in collisionSet by more than one base unit (money.Epsilon). It
// tries up to 100 cryptographically-random deltas before falling back to
// a single uniformly-sampled delta and logging a warning; the fallback is
// still a valid 4-decimal amount strictly greater than base.
func Generate(base money.Amount, collisionSet []money.Amount) money.Amount {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		delta := randomDelta()
		candidate := base + delta
		if !collidesWith(candidate, collisionSet) {
			return candidate
		}
	}

	slog.Warn("amountgen: exhausted collision-avoidance attempts, falling back to uniform sample",
		"attempts", maxAttempts)
	return base + randomDelta()
}

func collidesWith(candidate money.Amount, collisionSet []money.Amount) bool {
	for _, existing := range collisionSet {
		if candidate.CloseEnough(existing) {
			return true
		}
	}
	return false
}

// randomDelta samples a delta in [0.0001, 0.9999] (base units [1, 9999])
// using a cryptographic RNG, so the perturbation can't be guessed by an
// outside observer watching a sequence of issued forms.
func randomDelta() money.Amount {
	n, err := rand.Int(rand.Reader, big.NewInt(deltaMaxExcl-deltaMin))
	if err != nil {
		// crypto/rand failure is exceedingly rare (kernel entropy source
		// gone); fall back to a fixed mid-range perturbation rather than
		// panicking the caller.
		return money.Amount(deltaMaxExcl / 2)
	}
	return money.Amount(n.Int64() + deltaMin)
}
