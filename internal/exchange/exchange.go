// Package exchange implements the cash exchange lifecycle: dispatching
// a matched request to an agent, the accept/decline negotiation, the
// realtime escrow transaction protocol between the two parties, and
// post-completion ratings.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cashxhq/cashx/internal/routing"
)

var (
	// ErrRequestNotFound is returned when a request doesn't exist
	ErrRequestNotFound = errors.New("request not found")
	// ErrTransactionNotFound is returned when a transaction doesn't exist
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrDuplicateDispatch is returned when the same agent is dispatched twice for one search
	ErrDuplicateDispatch = errors.New("request already dispatched to this agent")
	// ErrNotPending is returned when reacting to a request that is no longer pending
	ErrNotPending = errors.New("request is not pending")
	// ErrNotYourRequest is returned when a user acts on a request they are not party to
	ErrNotYourRequest = errors.New("request does not belong to this user")
	// ErrCustomerBusy is returned when the customer already has an open transaction
	ErrCustomerBusy = errors.New("customer already has a transaction in progress")
	// ErrNotInProgress is returned for operations requiring an open transaction
	ErrNotInProgress = errors.New("transaction is not in progress")
	// ErrNotAParty is returned when a user acts on a transaction they are not part of
	ErrNotAParty = errors.New("user is not a party to this transaction")
	// ErrPaymentHeld is returned when cancelling a transaction with funds in escrow
	ErrPaymentHeld = errors.New("payment is in escrow; finalize or reverse it first")
	// ErrAlreadyRated is returned for a second rating on the same transaction
	ErrAlreadyRated = errors.New("transaction already rated by this user")
	// ErrNotCompleted is returned when rating a transaction that isn't completed
	ErrNotCompleted = errors.New("transaction is not completed")
	// ErrInvalidRating is returned for ratings outside 1..5
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)

// RequestStatus is the lifecycle state of an exchange request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestAccepted RequestStatus = "ACCEPTED"
	RequestDeclined RequestStatus = "DECLINED"
)

// TransactionStatus is the lifecycle state of an exchange transaction.
// Terminal statuses are final.
type TransactionStatus string

const (
	TransactionInProgress TransactionStatus = "IN_PROGRESS"
	TransactionCancelled  TransactionStatus = "CANCELLED"
	TransactionAbandoned  TransactionStatus = "ABANDONED"
	TransactionCompleted  TransactionStatus = "COMPLETED"
)

// Terminal reports whether no further transition is allowed.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionCancelled || s == TransactionAbandoned || s == TransactionCompleted
}

// Party identifies who closed a transaction or which side sent an event.
type Party string

const (
	PartySystem   Party = "SYSTEM"
	PartyCustomer Party = "CUSTOMER"
	PartyAgent    Party = "AGENT"
)

// Opposite returns the other side of the exchange. SYSTEM has no opposite.
func (p Party) Opposite() Party {
	switch p {
	case PartyCustomer:
		return PartyAgent
	case PartyAgent:
		return PartyCustomer
	}
	return PartySystem
}

// Request is a dispatched cash request awaiting the agent's reaction.
// The search snapshot is denormalized at dispatch time so the request
// survives cache expiry.
type Request struct {
	ID          string              `json:"id"`
	CustomerID  string              `json:"customer_id"`
	AgentID     string              `json:"agent_id"`
	SearchID    string              `json:"search_id"`
	Status      RequestStatus       `json:"status"`
	AmountKobo  int64               `json:"amount"`
	FeeKobo     int64               `json:"fee"`
	Destination routing.Coordinates `json:"destination"`
	Snapshot    json.RawMessage     `json:"snapshot,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Transaction is an accepted exchange in progress or closed.
type Transaction struct {
	ID           string              `json:"id"`
	RequestID    string              `json:"request_id,omitempty"`
	CustomerID   string              `json:"customer_id"`
	AgentID      string              `json:"agent_id"`
	Status       TransactionStatus   `json:"status"`
	AmountKobo   int64               `json:"amount"`
	FeeKobo      int64               `json:"fee"`
	Destination  routing.Coordinates `json:"destination"`
	ClosedBy     Party               `json:"closed_by,omitempty"`
	ClosedAt     *time.Time          `json:"closed_at,omitempty"`
	CancelReason string              `json:"cancellation_reason,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// PartyOf returns which side of the transaction a user is on, or
// SYSTEM if they are a stranger.
func (t *Transaction) PartyOf(userID string) Party {
	switch userID {
	case t.CustomerID:
		return PartyCustomer
	case t.AgentID:
		return PartyAgent
	}
	return PartySystem
}

// Rating is a post-completion score of the counterparty.
type Rating struct {
	ID            string    `json:"id"`
	RaterID       string    `json:"rater_id"`
	RatedID       string    `json:"rated_id"`
	TransactionID string    `json:"transaction_id"`
	Score         int       `json:"score"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store defines the exchange persistence interface.
type Store interface {
	CreateRequest(ctx context.Context, r *Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	GetRequestByAgentAndSearch(ctx context.Context, agentID, searchID string) (*Request, error)
	UpdateRequest(ctx context.Context, r *Request) error
	ListRequestsByAgent(ctx context.Context, agentID string, status RequestStatus) ([]*Request, error)

	CreateTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	GetTransactionByRequest(ctx context.Context, requestID string) (*Transaction, error)
	GetActiveTransactionForUser(ctx context.Context, userID string) (*Transaction, error)
	UpdateTransaction(ctx context.Context, t *Transaction) error
	ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error)

	CreateRating(ctx context.Context, r *Rating) error
	RatingStats(ctx context.Context, ratedID string) (avg float64, count int, err error)
	CountCompletedAsAgent(ctx context.Context, agentID string) (int, error)
}
