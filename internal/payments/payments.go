// Package payments coordinates the escrow leg of a cash exchange: the
// customer's digital money is held against the transaction until the
// cash handover is confirmed, then released to the agent or returned.
package payments

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrAlreadyInitiated = errors.New("payment already initiated for transaction")
	ErrNotInEscrow      = errors.New("payment is not in escrow")
	ErrAlreadyCompleted = errors.New("payment has already been completed")
	ErrAlreadyReversed  = errors.New("payment has already been reversed")
	ErrNotYourPayment   = errors.New("payment belongs to another user")
	ErrNoBankDetails    = errors.New("no linked bank account")
	ErrNoEscrowAccount  = errors.New("no escrow account available")
)

// Status is the lifecycle state of an escrow payment.
type Status string

const (
	StatusInEscrow  Status = "IN_ESCROW"
	StatusCompleted Status = "COMPLETED"
	StatusReversed  Status = "REVERSED"
)

// Gateway names the money-movement rail a payment rode in on.
const (
	GatewayBankEscrow = "bank-escrow"
	GatewayCard       = "card"
)

// Payment is one escrow hold against a transaction. A transaction has
// at most one payment; TransactionReference is the external handle used
// to finalize or reverse it.
type Payment struct {
	ID                   string     `json:"id"`
	TransactionID        string     `json:"transaction_id"`
	CustomerID           string     `json:"customer_id"`
	AgentID              string     `json:"agent_id"`
	TransactionReference string     `json:"transaction_reference"`
	AmountKobo           int64      `json:"amount"`
	Gateway              string     `json:"gateway"`
	Status               Status     `json:"status"`
	GatewayRef           string     `json:"gateway_ref,omitempty"`
	EscrowedAt           time.Time  `json:"escrowed_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	ReversedAt           *time.Time `json:"reversed_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Store is the persistence interface for payments.
type Store interface {
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	GetPaymentByReference(ctx context.Context, reference string) (*Payment, error)
	GetPaymentByTransaction(ctx context.Context, transactionID string) (*Payment, error)
	UpdatePayment(ctx context.Context, p *Payment) error
	ListPaymentsByCustomer(ctx context.Context, customerID string, limit int) ([]*Payment, error)
}
