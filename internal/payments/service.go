package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cashxhq/cashx/internal/cache"
	"github.com/cashxhq/cashx/internal/exchange"
	"github.com/cashxhq/cashx/internal/gateway"
	"github.com/cashxhq/cashx/internal/idgen"
	"github.com/cashxhq/cashx/internal/metrics"
	"github.com/cashxhq/cashx/internal/notify"
	"github.com/cashxhq/cashx/internal/users"
)

// BankGateway is the slice of the bank client the coordinator needs.
type BankGateway interface {
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*gateway.BankAccount, error)
	FetchAccounts(ctx context.Context) ([]gateway.BankAccount, error)
	Transfer(ctx context.Context, tr gateway.TransferRequest) (*gateway.TransferResult, error)
}

// CardGateway is the slice of the card client the coordinator needs.
type CardGateway interface {
	EncryptCard(ctx context.Context, card gateway.Card) (string, error)
	Debit(ctx context.Context, dr gateway.DebitRequest) (*gateway.DebitResult, error)
}

// EscrowAccount is the platform-held account funds sit in between the
// hold and the release.
type EscrowAccount struct {
	AccountNumber string
	BankCode      string
}

// Service coordinates escrow holds, releases, and reversals.
type Service struct {
	store    Store
	users    *users.Service
	exchange *exchange.Service
	bank     BankGateway
	card     CardGateway
	pub      exchange.Publisher
	notifier *notify.Emitter
	cache    cache.Store
	logger   *slog.Logger

	mu     sync.Mutex
	escrow EscrowAccount // discovered lazily when config names no account
}

// NewService creates a payment coordinator.
func NewService(store Store, userSvc *users.Service, exchangeSvc *exchange.Service, bank BankGateway, card CardGateway, pub exchange.Publisher, notifier *notify.Emitter, cacheStore cache.Store, escrow EscrowAccount, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		users:    userSvc,
		exchange: exchangeSvc,
		bank:     bank,
		card:     card,
		pub:      pub,
		notifier: notifier,
		cache:    cacheStore,
		escrow:   escrow,
		logger:   logger,
	}
}

// InitiateEscrow holds amount+fee from the customer's linked bank
// account against the transaction spawned by requestID. The PIN is
// verified first; the hold is a transfer into the platform escrow
// account.
func (s *Service) InitiateEscrow(ctx context.Context, payerID, requestID, pin string) (*Payment, error) {
	txn, err := s.openTransaction(ctx, payerID, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.users.CheckPIN(ctx, payerID, pin); err != nil {
		return nil, err
	}

	customer, err := s.users.Get(ctx, payerID)
	if err != nil {
		return nil, err
	}
	if customer.BankCode == "" || customer.AccountNo == "" {
		return nil, ErrNoBankDetails
	}
	if _, err := s.bank.ResolveAccount(ctx, customer.AccountNo, customer.BankCode); err != nil {
		return nil, err
	}

	escrow, err := s.escrowAccount(ctx)
	if err != nil {
		return nil, err
	}

	total := txn.AmountKobo + txn.FeeKobo
	reference := idgen.Reference()
	result, err := s.bank.Transfer(ctx, gateway.TransferRequest{
		FromAccount:  customer.AccountNo,
		FromBankCode: customer.BankCode,
		ToAccount:    escrow.AccountNumber,
		ToBankCode:   escrow.BankCode,
		AmountKobo:   total,
		Reference:    reference,
		Narration:    "cashx escrow hold " + txn.ID,
	})
	if err != nil {
		metrics.PaymentsTotal.WithLabelValues(GatewayBankEscrow, "failed").Inc()
		return nil, err
	}

	return s.recordHold(ctx, txn, requestID, &Payment{
		TransactionReference: reference,
		AmountKobo:           total,
		Gateway:              GatewayBankEscrow,
		GatewayRef:           result.SessionID,
	})
}

// InitiateCard holds amount+fee by debiting the customer's card. The
// raw card goes to the processor's encryption endpoint first and never
// touches storage.
func (s *Service) InitiateCard(ctx context.Context, payerID, requestID string, card gateway.Card) (*Payment, error) {
	txn, err := s.openTransaction(ctx, payerID, requestID)
	if err != nil {
		return nil, err
	}

	encrypted, err := s.card.EncryptCard(ctx, card)
	if err != nil {
		return nil, err
	}

	total := txn.AmountKobo + txn.FeeKobo
	reference := idgen.Reference()
	result, err := s.card.Debit(ctx, gateway.DebitRequest{
		EncryptedCard: encrypted,
		AmountKobo:    total,
		Reference:     reference,
		CustomerID:    payerID,
		Narration:     "cashx escrow hold " + txn.ID,
	})
	if err != nil {
		metrics.PaymentsTotal.WithLabelValues(GatewayCard, "failed").Inc()
		return nil, err
	}

	return s.recordHold(ctx, txn, requestID, &Payment{
		TransactionReference: reference,
		AmountKobo:           total,
		Gateway:              GatewayCard,
		GatewayRef:           result.Reference,
	})
}

// openTransaction loads the transaction for a request and checks the
// payer is its customer and it is still open.
func (s *Service) openTransaction(ctx context.Context, payerID, requestID string) (*exchange.Transaction, error) {
	txn, err := s.exchange.Store().GetTransactionByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if txn.CustomerID != payerID {
		return nil, ErrNotYourPayment
	}
	if txn.Status != exchange.TransactionInProgress {
		return nil, exchange.ErrNotInProgress
	}
	if _, err := s.store.GetPaymentByTransaction(ctx, txn.ID); err == nil {
		return nil, ErrAlreadyInitiated
	} else if !errors.Is(err, ErrPaymentNotFound) {
		return nil, err
	}
	return txn, nil
}

// recordHold persists the held payment, moves both parties to the cash
// confirmation stage, and announces the hold in the transaction room.
func (s *Service) recordHold(ctx context.Context, txn *exchange.Transaction, requestID string, p *Payment) (*Payment, error) {
	now := time.Now()
	p.ID = idgen.WithPrefix("pay_")
	p.TransactionID = txn.ID
	p.CustomerID = txn.CustomerID
	p.AgentID = txn.AgentID
	p.Status = StatusInEscrow
	p.EscrowedAt = now
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	metrics.PaymentsTotal.WithLabelValues(p.Gateway, "in_escrow").Inc()

	state := s.exchange.State(requestID)
	for _, userID := range []string{txn.CustomerID, txn.AgentID} {
		if err := state.SetStage(ctx, userID, exchange.StageAwaitingCashConfirmation); err != nil {
			s.logger.Warn("failed to set stage after hold", "user_id", userID, "error", err)
		}
	}

	s.publish(requestID, exchange.EventPaymentReceived, map[string]string{
		"transaction_id":        txn.ID,
		"transaction_reference": p.TransactionReference,
		"amount":                fmt.Sprintf("%d", p.AmountKobo),
	})
	return p, nil
}

// Finalize releases a held payment to the agent's linked account and
// completes the transaction. Exactly one call succeeds per payment; a
// repeat fails with ErrAlreadyCompleted.
func (s *Service) Finalize(ctx context.Context, payerID, reference string) (*Payment, error) {
	p, err := s.store.GetPaymentByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if p.CustomerID != payerID {
		return nil, ErrNotYourPayment
	}
	if p.Status == StatusCompleted {
		return nil, ErrAlreadyCompleted
	}
	if p.Status != StatusInEscrow {
		return nil, ErrNotInEscrow
	}

	agent, err := s.users.Get(ctx, p.AgentID)
	if err != nil {
		return nil, err
	}
	if agent.BankCode == "" || agent.AccountNo == "" {
		return nil, ErrNoBankDetails
	}
	escrow, err := s.escrowAccount(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.bank.Transfer(ctx, gateway.TransferRequest{
		FromAccount:  escrow.AccountNumber,
		FromBankCode: escrow.BankCode,
		ToAccount:    agent.AccountNo,
		ToBankCode:   agent.BankCode,
		AmountKobo:   p.AmountKobo,
		Reference:    reference + "-release",
		Narration:    "cashx escrow release " + p.TransactionID,
	}); err != nil {
		return nil, err
	}

	now := time.Now()
	p.Status = StatusCompleted
	p.CompletedAt = &now
	p.UpdatedAt = now
	if err := s.store.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}
	metrics.PaymentsTotal.WithLabelValues(p.Gateway, "completed").Inc()

	txn, err := s.exchange.CloseCompleted(ctx, p.TransactionID)
	if err != nil && !errors.Is(err, exchange.ErrNotInProgress) {
		return nil, err
	}
	if txn == nil {
		txn, err = s.exchange.Store().GetTransaction(ctx, p.TransactionID)
		if err != nil {
			return nil, err
		}
	}

	s.publish(txn.RequestID, exchange.EventTransactionCompleted, map[string]string{
		"transaction_id":        p.TransactionID,
		"transaction_reference": reference,
	})
	s.notifyCompleted(ctx, txn)
	s.cleanup(ctx, txn)
	return p, nil
}

// Reverse returns a held payment to the customer and cancels the
// transaction. A repeat call fails with ErrAlreadyReversed.
func (s *Service) Reverse(ctx context.Context, payerID, reference string) (*Payment, error) {
	p, err := s.store.GetPaymentByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if p.CustomerID != payerID {
		return nil, ErrNotYourPayment
	}
	if p.Status == StatusReversed {
		return nil, ErrAlreadyReversed
	}
	if p.Status != StatusInEscrow {
		return nil, ErrNotInEscrow
	}

	if p.Gateway == GatewayBankEscrow {
		customer, err := s.users.Get(ctx, p.CustomerID)
		if err != nil {
			return nil, err
		}
		escrow, err := s.escrowAccount(ctx)
		if err != nil {
			return nil, err
		}
		if _, err := s.bank.Transfer(ctx, gateway.TransferRequest{
			FromAccount:  escrow.AccountNumber,
			FromBankCode: escrow.BankCode,
			ToAccount:    customer.AccountNo,
			ToBankCode:   customer.BankCode,
			AmountKobo:   p.AmountKobo,
			Reference:    reference + "-refund",
			Narration:    "cashx escrow refund " + p.TransactionID,
		}); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	p.Status = StatusReversed
	p.ReversedAt = &now
	p.UpdatedAt = now
	if err := s.store.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}
	metrics.PaymentsTotal.WithLabelValues(p.Gateway, "reversed").Inc()

	// The payment is no longer held, so the escrow guard lets this
	// cancellation through.
	txn, err := s.exchange.Cancel(ctx, payerID, p.TransactionID, "payment reversed")
	if err != nil && !errors.Is(err, exchange.ErrNotInProgress) {
		return nil, err
	}
	if txn == nil {
		txn, err = s.exchange.Store().GetTransaction(ctx, p.TransactionID)
		if err != nil {
			return nil, err
		}
	}

	s.publish(txn.RequestID, exchange.EventTransactionReversed, map[string]string{
		"transaction_id":        p.TransactionID,
		"transaction_reference": reference,
	})
	s.cleanup(ctx, txn)
	return p, nil
}

// escrowAccount returns the platform account holds settle through. When
// configuration names no account, the provider's account list is
// consulted once and the first transfer-enabled account is kept.
func (s *Service) escrowAccount(ctx context.Context) (EscrowAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.escrow.AccountNumber != "" {
		return s.escrow, nil
	}

	accounts, err := s.bank.FetchAccounts(ctx)
	if err != nil {
		return EscrowAccount{}, err
	}
	for _, a := range accounts {
		if a.TransactionEnabled {
			s.escrow = EscrowAccount{AccountNumber: a.AccountNumber, BankCode: a.BankCode}
			s.logger.Info("escrow account discovered", "account_number", s.escrow.AccountNumber)
			return s.escrow, nil
		}
	}
	return EscrowAccount{}, ErrNoEscrowAccount
}

// HasEscrow reports whether a transaction holds an unreleased payment.
// Satisfies the exchange's escrow guard.
func (s *Service) HasEscrow(ctx context.Context, transactionID string) (bool, error) {
	p, err := s.store.GetPaymentByTransaction(ctx, transactionID)
	if errors.Is(err, ErrPaymentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Status == StatusInEscrow, nil
}

// Payments lists a customer's payments, newest first.
func (s *Service) Payments(ctx context.Context, customerID string, limit int) ([]*Payment, error) {
	return s.store.ListPaymentsByCustomer(ctx, customerID, limit)
}

// LookupBankAccount resolves an account through the gateway, cached for
// a day to spare the provider repeat enquiries.
func (s *Service) LookupBankAccount(ctx context.Context, accountNumber, bankCode string) (*gateway.BankAccount, error) {
	key := "bank_account:" + bankCode + ":" + accountNumber
	if cached, err := s.cache.Get(ctx, key); err == nil {
		var account gateway.BankAccount
		if err := json.Unmarshal([]byte(cached), &account); err == nil {
			return &account, nil
		}
	}

	account, err := s.bank.ResolveAccount(ctx, accountNumber, bankCode)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(account); err == nil {
		if err := s.cache.Set(ctx, key, string(payload), cache.DefaultTTL); err != nil {
			s.logger.Warn("failed to cache account lookup", "error", err)
		}
	}
	return account, nil
}

// cleanup purges the transaction's ephemeral keys. This is the sole
// reset path for the reached/identity flags and stages.
func (s *Service) cleanup(ctx context.Context, txn *exchange.Transaction) {
	searchID := ""
	if req, err := s.exchange.Store().GetRequest(ctx, txn.RequestID); err == nil {
		searchID = req.SearchID
	}
	state := s.exchange.State(txn.RequestID)
	if err := state.Purge(ctx, txn.CustomerID, txn.AgentID, searchID); err != nil {
		s.logger.Warn("failed to purge transaction state", "request_id", txn.RequestID, "error", err)
	}
}

func (s *Service) notifyCompleted(ctx context.Context, txn *exchange.Transaction) {
	if s.notifier == nil {
		return
	}
	for _, id := range []string{txn.CustomerID, txn.AgentID} {
		if user, err := s.users.Get(ctx, id); err == nil && user.DeviceToken != "" {
			s.notifier.TransactionCompleted(user.DeviceToken, txn.RequestID)
		}
	}
}

func (s *Service) publish(requestID, event string, body any) {
	if s.pub != nil {
		s.pub.Publish(exchange.RoomName(requestID), exchange.NewEnvelope(event, exchange.PartySystem, body))
	}
}

var _ exchange.EscrowChecker = (*Service)(nil)
