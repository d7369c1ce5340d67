// Property-based tests for oracle reputation and slashing.
package service

import (
	"context"
	"testing"

	"pgregory.net/rapid"

	"gaming-rewards-protocol/internal/model"
)

// TestSlashNeverUnderflowsProperty checks that for any sequence of slashes
// the stake never wraps and the status downgrade tracks the minimum stake.
func TestSlashNeverUnderflowsProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t)
		f.initTreasury(t, 0)
		ctx := context.Background()
		f.registerOracle(t, "oracle-1")

		remaining := f.cfg.Oracle.MinStake
		slashes := rapid.IntRange(1, 10).Draw(rt, "slashes")
		for i := 0; i < slashes; i++ {
			amount := rapid.Uint64Range(0, f.cfg.Oracle.MinStake).Draw(rt, "amount")
			_, err := f.oracles.Slash(ctx, "oracle-1", amount, "test")
			if amount > remaining {
				if err == nil {
					rt.Fatalf("Slash of %d should fail with %d remaining", amount, remaining)
				}
				continue
			}
			if err != nil {
				rt.Fatalf("Slash of %d failed with %d remaining: %v", amount, remaining, err)
			}
			remaining -= amount
		}

		o, err := f.oracles.Get(ctx, "oracle-1")
		if err != nil {
			rt.Fatalf("Get: %v", err)
		}
		if o.Stake != remaining {
			rt.Fatalf("Stake mismatch: got %d, want %d", o.Stake, remaining)
		}
		if o.Stake < f.cfg.Oracle.MinStake && o.Status != model.OracleSlashed {
			rt.Fatalf("Oracle below min stake must be slashed, got %s", o.Status)
		}
	})
}

// TestReputationStatusInvariantProperty checks that after any mix of
// verification outcomes a never-slashed oracle's status matches its
// reputation relative to the thresholds.
func TestReputationStatusInvariantProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t)
		ctx := context.Background()
		f.registerOracle(t, "oracle-1")

		outcomes := rapid.SliceOfN(rapid.Bool(), 1, 200).Draw(rt, "outcomes")
		for _, success := range outcomes {
			if err := f.oracles.RecordVerification(ctx, "oracle-1", success); err != nil {
				rt.Fatalf("RecordVerification: %v", err)
			}
		}

		o, err := f.oracles.Get(ctx, "oracle-1")
		if err != nil {
			rt.Fatalf("Get: %v", err)
		}
		switch {
		case o.Reputation < f.cfg.Oracle.SuspensionThreshold:
			if o.Status != model.OracleSuspended {
				rt.Fatalf("Reputation %d below threshold but status %s", o.Reputation, o.Status)
			}
		case o.Reputation >= f.cfg.Oracle.ReinstatementThreshold:
			if o.Status != model.OracleActive {
				rt.Fatalf("Reputation %d above threshold but status %s", o.Reputation, o.Status)
			}
		}
	})
}
