package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cashxhq/cashx/internal/cache"
	"github.com/cashxhq/cashx/internal/idgen"
	"github.com/cashxhq/cashx/internal/matching"
	"github.com/cashxhq/cashx/internal/metrics"
	"github.com/cashxhq/cashx/internal/notify"
	"github.com/cashxhq/cashx/internal/routing"
	"github.com/cashxhq/cashx/internal/users"
)

// Decision is an agent's reaction to a dispatched request.
type Decision string

const (
	DecisionAccept  Decision = "ACCEPTED"
	DecisionDecline Decision = "DECLINED"
)

// EscrowChecker reports whether a transaction has funds held in escrow.
// Wired from the payments coordinator; nil means no payment layer.
type EscrowChecker interface {
	HasEscrow(ctx context.Context, transactionID string) (bool, error)
}

// Service drives the exchange request and transaction lifecycle.
type Service struct {
	store    Store
	users    *users.Service
	searches *matching.Service
	oracle   routing.Oracle
	pub      Publisher
	notifier *notify.Emitter
	cache    cache.Store
	escrow   EscrowChecker
	logger   *slog.Logger
}

// NewService creates an exchange service.
func NewService(store Store, userSvc *users.Service, searches *matching.Service, oracle routing.Oracle, pub Publisher, notifier *notify.Emitter, cacheStore cache.Store, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		users:    userSvc,
		searches: searches,
		oracle:   oracle,
		pub:      pub,
		notifier: notifier,
		cache:    cacheStore,
		logger:   logger,
	}
}

// SetEscrowChecker wires the payments layer in after construction.
// The two services reference each other, so one side attaches late.
func (s *Service) SetEscrowChecker(ec EscrowChecker) {
	s.escrow = ec
}

// Store exposes the underlying store to sibling coordinators.
func (s *Service) Store() Store {
	return s.store
}

// State binds the ephemeral protocol state for a request ID.
func (s *Service) State(requestID string) *State {
	return NewState(s.cache, requestID)
}

// Dispatch turns one candidate of a cached search into a pending
// request and invites the agent. Rejected if the agent was not in the
// search's candidate list, the search expired, or the same (agent,
// search) pair was already dispatched.
func (s *Service) Dispatch(ctx context.Context, customerID, agentID, searchID string) (*Request, error) {
	search, err := s.searches.Lookup(ctx, searchID)
	if err != nil {
		return nil, err
	}
	if search.CustomerID != customerID {
		return nil, matching.ErrSearchNotFound
	}
	if !search.HasCandidate(agentID) {
		return nil, ErrNotYourRequest
	}
	if _, err := s.store.GetRequestByAgentAndSearch(ctx, agentID, searchID); err == nil {
		return nil, ErrDuplicateDispatch
	} else if !errors.Is(err, ErrRequestNotFound) {
		return nil, err
	}

	snapshot, err := json.Marshal(search)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	req := &Request{
		ID:          idgen.WithPrefix("req_"),
		CustomerID:  customerID,
		AgentID:     agentID,
		SearchID:    searchID,
		Status:      RequestPending,
		AmountKobo:  search.AmountKobo,
		FeeKobo:     search.FeeKobo,
		Destination: search.Destination,
		Snapshot:    snapshot,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	metrics.RequestsDispatchedTotal.Inc()

	s.inviteAgent(ctx, req)
	return req, nil
}

func (s *Service) inviteAgent(ctx context.Context, req *Request) {
	if s.notifier == nil {
		return
	}
	agent, err := s.users.Get(ctx, req.AgentID)
	if err != nil {
		s.logger.Warn("dispatch invite: agent lookup failed", "agent_id", req.AgentID, "error", err)
		return
	}
	customer, err := s.users.Get(ctx, req.CustomerID)
	if err != nil {
		return
	}
	s.notifier.RequestInvite(agent.DeviceToken, customer.FullName(), amountText(req.AmountKobo), req.ID)
}

// React records the agent's accept or decline. Accept creates the
// transaction; the request is only marked ACCEPTED once the transaction
// exists, so a failed create never leaves an accepted request behind.
func (s *Service) React(ctx context.Context, agentID, requestID string, decision Decision, coords routing.Coordinates) (*Transaction, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.AgentID != agentID {
		return nil, ErrNotYourRequest
	}
	if req.Status != RequestPending {
		return nil, ErrNotPending
	}

	switch decision {
	case DecisionDecline:
		return nil, s.decline(ctx, req)
	case DecisionAccept:
		return s.accept(ctx, req, coords)
	default:
		return nil, errors.New("unknown decision")
	}
}

func (s *Service) decline(ctx context.Context, req *Request) error {
	req.Status = RequestDeclined
	req.UpdatedAt = time.Now()
	if err := s.store.UpdateRequest(ctx, req); err != nil {
		return err
	}
	metrics.RequestReactionsTotal.WithLabelValues("declined").Inc()

	s.publish(req.ID, NewEnvelope(EventRequestDeclined, PartyAgent, map[string]string{
		"request_id": req.ID,
	}))
	if s.notifier != nil {
		if customer, err := s.users.Get(ctx, req.CustomerID); err == nil {
			s.notifier.RequestDeclined(customer.DeviceToken, req.ID)
		}
	}
	return nil
}

func (s *Service) accept(ctx context.Context, req *Request, coords routing.Coordinates) (*Transaction, error) {
	if active, err := s.store.GetActiveTransactionForUser(ctx, req.CustomerID); err == nil && active != nil {
		return nil, ErrCustomerBusy
	} else if err != nil && !errors.Is(err, ErrTransactionNotFound) {
		return nil, err
	}

	now := time.Now()
	txn := &Transaction{
		ID:          idgen.WithPrefix("txn_"),
		RequestID:   req.ID,
		CustomerID:  req.CustomerID,
		AgentID:     req.AgentID,
		Status:      TransactionInProgress,
		AmountKobo:  req.AmountKobo,
		FeeKobo:     req.FeeKobo,
		Destination: req.Destination,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}

	req.Status = RequestAccepted
	req.UpdatedAt = time.Now()
	if err := s.store.UpdateRequest(ctx, req); err != nil {
		// The transaction must not outlive a request stuck in PENDING.
		txn.Status = TransactionAbandoned
		txn.ClosedBy = PartySystem
		closedAt := time.Now()
		txn.ClosedAt = &closedAt
		txn.UpdatedAt = closedAt
		if uerr := s.store.UpdateTransaction(ctx, txn); uerr != nil {
			s.logger.Error("accept rollback failed", "transaction_id", txn.ID, "error", uerr)
		}
		return nil, err
	}
	metrics.RequestReactionsTotal.WithLabelValues("accepted").Inc()

	if err := s.State(req.ID).SetDestination(ctx, req.Destination); err != nil {
		s.logger.Warn("failed to cache destination", "request_id", req.ID, "error", err)
	}

	body := map[string]any{
		"request_id":     req.ID,
		"transaction_id": txn.ID,
	}
	if eta, err := s.oracle.Route(ctx, coords, req.Destination); err == nil {
		body["eta"] = ETABody{Distance: eta.DistanceText(), Duration: eta.DurationText()}
	} else {
		s.logger.Warn("accept ETA lookup failed", "request_id", req.ID, "error", err)
	}
	s.publish(req.ID, NewEnvelope(EventRequestAccepted, PartyAgent, body))

	if s.notifier != nil {
		customer, cerr := s.users.Get(ctx, req.CustomerID)
		agent, aerr := s.users.Get(ctx, req.AgentID)
		if cerr == nil && aerr == nil {
			s.notifier.RequestAccepted(customer.DeviceToken, agent.FullName(), req.ID)
		}
	}
	return txn, nil
}

// Cancel closes an open transaction at a party's request. Refused while
// a payment sits in escrow: the money has to be finalized or reversed
// before the exchange can be called off.
func (s *Service) Cancel(ctx context.Context, userID, transactionID, reason string) (*Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	role := txn.PartyOf(userID)
	if role == PartySystem {
		return nil, ErrNotAParty
	}
	if txn.Status != TransactionInProgress {
		return nil, ErrNotInProgress
	}
	if s.escrow != nil {
		held, err := s.escrow.HasEscrow(ctx, txn.ID)
		if err != nil {
			return nil, err
		}
		if held {
			return nil, ErrPaymentHeld
		}
	}
	return s.close(ctx, txn, TransactionCancelled, role, reason)
}

// CancelByDenial closes a transaction after an identity denial.
// closed_by records the denier's counterpart.
func (s *Service) CancelByDenial(ctx context.Context, txn *Transaction, denier Party) (*Transaction, error) {
	return s.close(ctx, txn, TransactionCancelled, denier.Opposite(), "identity mismatch")
}

// CloseCompleted transitions a transaction to COMPLETED. Called by the
// payments coordinator on finalize and reverse.
func (s *Service) CloseCompleted(ctx context.Context, transactionID string) (*Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status != TransactionInProgress {
		return nil, ErrNotInProgress
	}
	return s.close(ctx, txn, TransactionCompleted, PartyCustomer, "")
}

func (s *Service) close(ctx context.Context, txn *Transaction, status TransactionStatus, closedBy Party, reason string) (*Transaction, error) {
	now := time.Now()
	txn.Status = status
	txn.ClosedBy = closedBy
	txn.ClosedAt = &now
	txn.CancelReason = reason
	txn.UpdatedAt = now
	if err := s.store.UpdateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	metrics.TransactionsClosedTotal.WithLabelValues(string(status)).Inc()

	if status == TransactionCancelled {
		s.publish(txn.RequestID, NewEnvelope(EventTransactionCancelled, closedBy, map[string]string{
			"transaction_id": txn.ID,
			"reason":         reason,
		}))
		s.notifyBoth(ctx, txn, func(token string) {
			s.notifier.TransactionCancelled(token, txn.RequestID, reason)
		})
	}
	return txn, nil
}

// Rate scores the counterparty of a completed transaction, once per rater.
func (s *Service) Rate(ctx context.Context, raterID, transactionID string, score int) (*Rating, error) {
	if score < 1 || score > 5 {
		return nil, ErrInvalidRating
	}
	txn, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	role := txn.PartyOf(raterID)
	if role == PartySystem {
		return nil, ErrNotAParty
	}
	if txn.Status != TransactionCompleted {
		return nil, ErrNotCompleted
	}

	ratedID := txn.AgentID
	if role == PartyAgent {
		ratedID = txn.CustomerID
	}
	rating := &Rating{
		ID:            idgen.WithPrefix("rat_"),
		RaterID:       raterID,
		RatedID:       ratedID,
		TransactionID: txn.ID,
		Score:         score,
		CreatedAt:     time.Now(),
	}
	if err := s.store.CreateRating(ctx, rating); err != nil {
		return nil, err
	}
	return rating, nil
}

// GetRequest loads a request visible to one of its parties.
func (s *Service) GetRequest(ctx context.Context, userID, requestID string) (*Request, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.CustomerID != userID && req.AgentID != userID {
		return nil, ErrNotYourRequest
	}
	return req, nil
}

// PendingRequests lists an agent's open invitations.
func (s *Service) PendingRequests(ctx context.Context, agentID string) ([]*Request, error) {
	return s.store.ListRequestsByAgent(ctx, agentID, RequestPending)
}

// Transactions lists a user's transactions, newest first, with each
// party's current display stage attached from the ephemeral store.
func (s *Service) Transactions(ctx context.Context, userID string, limit int) ([]*TransactionView, error) {
	txns, err := s.store.ListTransactionsByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	views := make([]*TransactionView, 0, len(txns))
	for _, txn := range txns {
		stage, err := s.State(txn.RequestID).Stage(ctx, userID)
		if err != nil {
			stage = ""
		}
		views = append(views, &TransactionView{Transaction: txn, Stage: stage})
	}
	return views, nil
}

// TransactionView decorates a transaction with the caller's stage.
type TransactionView struct {
	*Transaction
	Stage string `json:"stage,omitempty"`
}

// HasActiveTransaction reports whether a user is mid-exchange.
// Satisfies the matcher's busy filter.
func (s *Service) HasActiveTransaction(ctx context.Context, userID string) (bool, error) {
	_, err := s.store.GetActiveTransactionForUser(ctx, userID)
	if errors.Is(err, ErrTransactionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AgentStats aggregates an agent's rating and completed exchanges.
// Satisfies the matcher's stats source.
func (s *Service) AgentStats(ctx context.Context, agentID string) (float64, int, error) {
	avg, _, err := s.store.RatingStats(ctx, agentID)
	if err != nil {
		return 0, 0, err
	}
	completed, err := s.store.CountCompletedAsAgent(ctx, agentID)
	if err != nil {
		return 0, 0, err
	}
	return avg, completed, nil
}

func (s *Service) publish(requestID string, env Envelope) {
	if s.pub != nil {
		s.pub.Publish(RoomName(requestID), env)
	}
}

func (s *Service) notifyBoth(ctx context.Context, txn *Transaction, send func(deviceToken string)) {
	if s.notifier == nil {
		return
	}
	for _, id := range []string{txn.CustomerID, txn.AgentID} {
		if user, err := s.users.Get(ctx, id); err == nil && user.DeviceToken != "" {
			send(user.DeviceToken)
		}
	}
}

// amountText renders kobo as a naira display string, e.g. "₦5,000.00".
func amountText(kobo int64) string {
	naira := strconv.FormatInt(kobo/100, 10)
	var grouped strings.Builder
	for i, digit := range naira {
		if i > 0 && (len(naira)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(digit)
	}
	return fmt.Sprintf("₦%s.%02d", grouped.String(), kobo%100)
}
