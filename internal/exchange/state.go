package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/cashxhq/cashx/internal/cache"
	"github.com/cashxhq/cashx/internal/matching"
	"github.com/cashxhq/cashx/internal/routing"
)

// Per-party display stages. Clients render these; the protocol itself
// derives progress from the reached/identity flags, not from stages.
const (
	StageAwaitingIdentityConfirmation = "AWAITING_IDENTITY_CONFIRMATION"
	StageAwaitingPaymentInitiation    = "AWAITING_PAYMENT_INITIATION"
	StageAwaitingCashConfirmation     = "AWAITING_CASH_CONFIRMATION"
)

// State is the ephemeral coordination record both connections of a
// transaction share. Every flag is monotonic: false to true once, reset
// only by Purge. Last-write-wins races on the underlying store are
// therefore safe; "both" checks re-read on every event.
type State struct {
	store     cache.Store
	requestID string
}

// NewState binds the ephemeral state for one transaction, keyed by the
// originating request ID (the same ID that names the realtime room).
func NewState(store cache.Store, requestID string) *State {
	return &State{store: store, requestID: requestID}
}

func (s *State) reachedKey(role Party) string {
	return "transaction_" + s.requestID + ":" + strings.ToLower(string(role)) + "_reached"
}

func (s *State) identityKey(role Party) string {
	return "transaction_" + s.requestID + ":" + strings.ToLower(string(role)) + ":identity"
}

func (s *State) stageKey(userID string) string {
	return s.requestID + ":" + userID + ":stage"
}

func (s *State) destinationKey() string {
	return s.requestID + ":destination_coordinates"
}

// MarkReached sets a party's arrival flag.
func (s *State) MarkReached(ctx context.Context, role Party) error {
	return s.store.Set(ctx, s.reachedKey(role), "true", cache.DefaultTTL)
}

// Reached reports a party's arrival flag.
func (s *State) Reached(ctx context.Context, role Party) (bool, error) {
	return cache.Exists(ctx, s.store, s.reachedKey(role))
}

// BothReached reports whether both parties have arrived.
func (s *State) BothReached(ctx context.Context) (bool, error) {
	agent, err := s.Reached(ctx, PartyAgent)
	if err != nil || !agent {
		return false, err
	}
	return s.Reached(ctx, PartyCustomer)
}

// ConfirmIdentity sets a party's identity flag.
func (s *State) ConfirmIdentity(ctx context.Context, role Party) error {
	return s.store.Set(ctx, s.identityKey(role), "true", cache.DefaultTTL)
}

// IdentityConfirmed reports a party's identity flag.
func (s *State) IdentityConfirmed(ctx context.Context, role Party) (bool, error) {
	return cache.Exists(ctx, s.store, s.identityKey(role))
}

// BothIdentityConfirmed reports whether both identities are confirmed.
func (s *State) BothIdentityConfirmed(ctx context.Context) (bool, error) {
	agent, err := s.IdentityConfirmed(ctx, PartyAgent)
	if err != nil || !agent {
		return false, err
	}
	return s.IdentityConfirmed(ctx, PartyCustomer)
}

// SetStage records a user's display stage.
func (s *State) SetStage(ctx context.Context, userID, stage string) error {
	return s.store.Set(ctx, s.stageKey(userID), stage, cache.DefaultTTL)
}

// Stage returns a user's display stage, empty if unset.
func (s *State) Stage(ctx context.Context, userID string) (string, error) {
	stage, err := s.store.Get(ctx, s.stageKey(userID))
	if errors.Is(err, cache.ErrNotFound) {
		return "", nil
	}
	return stage, err
}

// SetDestination caches the transaction's fixed destination so location
// handlers don't need a database read per update.
func (s *State) SetDestination(ctx context.Context, dest routing.Coordinates) error {
	payload, err := json.Marshal(dest)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, s.destinationKey(), string(payload), cache.DefaultTTL)
}

// Destination returns the cached destination.
func (s *State) Destination(ctx context.Context) (routing.Coordinates, bool, error) {
	payload, err := s.store.Get(ctx, s.destinationKey())
	if errors.Is(err, cache.ErrNotFound) {
		return routing.Coordinates{}, false, nil
	}
	if err != nil {
		return routing.Coordinates{}, false, err
	}
	var dest routing.Coordinates
	if err := json.Unmarshal([]byte(payload), &dest); err != nil {
		return routing.Coordinates{}, false, err
	}
	return dest, true, nil
}

// Purge removes every ephemeral key for the transaction. This is the
// only reset path; it runs when the transaction closes.
func (s *State) Purge(ctx context.Context, customerID, agentID, searchID string) error {
	keys := []string{
		s.reachedKey(PartyAgent),
		s.reachedKey(PartyCustomer),
		s.identityKey(PartyAgent),
		s.identityKey(PartyCustomer),
		s.stageKey(customerID),
		s.stageKey(agentID),
		s.destinationKey(),
	}
	if searchID != "" {
		keys = append(keys, matching.SearchKey(searchID))
	}
	return s.store.Delete(ctx, keys...)
}
