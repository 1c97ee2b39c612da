package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/cashxhq/cashx/internal/cache"
	"github.com/cashxhq/cashx/internal/matching"
	"github.com/cashxhq/cashx/internal/routing"
)

func newState(t *testing.T) (*State, *cache.MemoryStore) {
	t.Helper()
	store := cache.NewMemoryStore()
	t.Cleanup(store.Close)
	return NewState(store, "req_1"), store
}

func TestReachedFlags(t *testing.T) {
	state, _ := newState(t)
	ctx := context.Background()

	both, err := state.BothReached(ctx)
	if err != nil || both {
		t.Fatalf("fresh state reports both reached: both=%v err=%v", both, err)
	}

	if err := state.MarkReached(ctx, PartyAgent); err != nil {
		t.Fatalf("MarkReached failed: %v", err)
	}
	if reached, _ := state.Reached(ctx, PartyAgent); !reached {
		t.Error("agent flag not set")
	}
	if reached, _ := state.Reached(ctx, PartyCustomer); reached {
		t.Error("customer flag set without marking")
	}
	if both, _ := state.BothReached(ctx); both {
		t.Error("both reached with one flag")
	}

	if err := state.MarkReached(ctx, PartyCustomer); err != nil {
		t.Fatalf("MarkReached failed: %v", err)
	}
	if both, _ := state.BothReached(ctx); !both {
		t.Error("both flags set but BothReached false")
	}
}

func TestReachedFlagsOrderIndependent(t *testing.T) {
	for _, first := range []Party{PartyAgent, PartyCustomer} {
		state, _ := newState(t)
		ctx := context.Background()

		state.MarkReached(ctx, first)
		state.MarkReached(ctx, first.Opposite())
		if both, _ := state.BothReached(ctx); !both {
			t.Errorf("%s first: BothReached false after both marks", first)
		}
	}
}

func TestIdentityFlags(t *testing.T) {
	state, _ := newState(t)
	ctx := context.Background()

	state.ConfirmIdentity(ctx, PartyCustomer)
	if ok, _ := state.IdentityConfirmed(ctx, PartyCustomer); !ok {
		t.Error("customer identity flag not set")
	}
	if both, _ := state.BothIdentityConfirmed(ctx); both {
		t.Error("both confirmed with one flag")
	}

	state.ConfirmIdentity(ctx, PartyAgent)
	if both, _ := state.BothIdentityConfirmed(ctx); !both {
		t.Error("both flags set but BothIdentityConfirmed false")
	}
}

func TestStages(t *testing.T) {
	state, _ := newState(t)
	ctx := context.Background()

	stage, err := state.Stage(ctx, "cust-1")
	if err != nil || stage != "" {
		t.Fatalf("unset stage: got %q err=%v", stage, err)
	}

	state.SetStage(ctx, "cust-1", StageAwaitingIdentityConfirmation)
	stage, _ = state.Stage(ctx, "cust-1")
	if stage != StageAwaitingIdentityConfirmation {
		t.Errorf("got %q", stage)
	}

	// Stages are per user.
	if stage, _ := state.Stage(ctx, "agent-1"); stage != "" {
		t.Errorf("other user's stage leaked: %q", stage)
	}
}

func TestDestinationRoundtrip(t *testing.T) {
	state, _ := newState(t)
	ctx := context.Background()

	if _, ok, err := state.Destination(ctx); ok || err != nil {
		t.Fatalf("unset destination: ok=%v err=%v", ok, err)
	}

	want := routing.Coordinates{Latitude: 6.5244, Longitude: 3.3792}
	if err := state.SetDestination(ctx, want); err != nil {
		t.Fatalf("SetDestination failed: %v", err)
	}
	got, ok, err := state.Destination(ctx)
	if err != nil || !ok {
		t.Fatalf("Destination failed: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestPurgeRemovesEverything(t *testing.T) {
	state, store := newState(t)
	ctx := context.Background()

	state.MarkReached(ctx, PartyAgent)
	state.MarkReached(ctx, PartyCustomer)
	state.ConfirmIdentity(ctx, PartyAgent)
	state.ConfirmIdentity(ctx, PartyCustomer)
	state.SetStage(ctx, "cust-1", StageAwaitingCashConfirmation)
	state.SetStage(ctx, "agent-1", StageAwaitingCashConfirmation)
	state.SetDestination(ctx, routing.Coordinates{Latitude: 6.5, Longitude: 3.3})
	store.Set(ctx, matching.SearchKey("srch_1"), "{}", time.Hour)

	if err := state.Purge(ctx, "cust-1", "agent-1", "srch_1"); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}

	if both, _ := state.BothReached(ctx); both {
		t.Error("reached flags survived purge")
	}
	if ok, _ := state.IdentityConfirmed(ctx, PartyAgent); ok {
		t.Error("identity flag survived purge")
	}
	if stage, _ := state.Stage(ctx, "cust-1"); stage != "" {
		t.Error("stage survived purge")
	}
	if _, ok, _ := state.Destination(ctx); ok {
		t.Error("destination survived purge")
	}
	if _, err := store.Get(ctx, matching.SearchKey("srch_1")); err == nil {
		t.Error("cached search survived purge")
	}
}
