package payments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cashxhq/cashx/internal/cache"
	"github.com/cashxhq/cashx/internal/exchange"
	"github.com/cashxhq/cashx/internal/gateway"
	"github.com/cashxhq/cashx/internal/matching"
	"github.com/cashxhq/cashx/internal/routing"
	"github.com/cashxhq/cashx/internal/users"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type capturePub struct {
	mu     sync.Mutex
	events []exchange.Envelope
}

func (p *capturePub) Publish(_ string, env exchange.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, env)
}

func (p *capturePub) has(event string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.Event == event {
			return true
		}
	}
	return false
}

type fakeBank struct {
	mu        sync.Mutex
	transfers []gateway.TransferRequest
	accounts  []gateway.BankAccount
	resolves  int
	fetches   int
	failNext  error
}

func (b *fakeBank) ResolveAccount(_ context.Context, accountNumber, bankCode string) (*gateway.BankAccount, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolves++
	return &gateway.BankAccount{AccountNumber: accountNumber, BankCode: bankCode, AccountName: "TEST USER"}, nil
}

func (b *fakeBank) FetchAccounts(context.Context) ([]gateway.BankAccount, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	return b.accounts, nil
}

func (b *fakeBank) Transfer(_ context.Context, tr gateway.TransferRequest) (*gateway.TransferResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		return nil, err
	}
	b.transfers = append(b.transfers, tr)
	return &gateway.TransferResult{Reference: tr.Reference, SessionID: "sess-1", Status: "00"}, nil
}

func (b *fakeBank) transferCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.transfers)
}

type fakeCard struct {
	debits int
}

func (c *fakeCard) EncryptCard(context.Context, gateway.Card) (string, error) {
	return "enc-blob", nil
}

func (c *fakeCard) Debit(_ context.Context, dr gateway.DebitRequest) (*gateway.DebitResult, error) {
	c.debits++
	return &gateway.DebitResult{Reference: dr.Reference, Status: "Successful"}, nil
}

type stubOracle struct{}

func (stubOracle) Route(context.Context, routing.Coordinates, routing.Coordinates) (routing.ETA, error) {
	return routing.ETA{DistanceMeters: 100, DurationSeconds: 60}, nil
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	exchange *exchange.Service
	exStore  *exchange.MemoryStore
	cache    *cache.MemoryStore
	bank     *fakeBank
	card     *fakeCard
	pub      *capturePub
	txn      *exchange.Transaction
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	cacheStore := cache.NewMemoryStore()
	t.Cleanup(cacheStore.Close)

	userStore := users.NewMemoryStore()
	userSvc := users.NewService(userStore)
	for _, u := range []*users.User{
		{ID: "cust-1", PhoneNumber: "+2348000000001", BankCode: "100001", AccountNo: "0123456789"},
		{ID: "agent-1", PhoneNumber: "+2348000000002", IsAgent: true, BankCode: "100002", AccountNo: "9876543210"},
	} {
		if err := userStore.Create(ctx, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	if err := userSvc.SetPIN(ctx, "cust-1", "1234"); err != nil {
		t.Fatalf("set pin: %v", err)
	}

	pub := &capturePub{}
	exStore := exchange.NewMemoryStore()
	searches := matching.NewService(nil, userSvc, nil, nil, cacheStore)
	exSvc := exchange.NewService(exStore, userSvc, searches, stubOracle{}, pub, nil, cacheStore, testLogger())

	now := time.Now()
	req := &exchange.Request{
		ID: "req_1", CustomerID: "cust-1", AgentID: "agent-1", SearchID: "srch_1",
		Status: exchange.RequestAccepted, AmountKobo: 10_000_00, FeeKobo: 250_00,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := exStore.CreateRequest(ctx, req); err != nil {
		t.Fatalf("seed request: %v", err)
	}
	txn := &exchange.Transaction{
		ID: "txn_1", RequestID: "req_1", CustomerID: "cust-1", AgentID: "agent-1",
		Status: exchange.TransactionInProgress, AmountKobo: 10_000_00, FeeKobo: 250_00,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := exStore.CreateTransaction(ctx, txn); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}

	bank := &fakeBank{}
	card := &fakeCard{}
	store := NewMemoryStore()
	svc := NewService(store, userSvc, exSvc, bank, card, pub, nil, cacheStore,
		EscrowAccount{AccountNumber: "1111111111", BankCode: "999999"}, testLogger())
	exSvc.SetEscrowChecker(svc)

	return &fixture{
		svc: svc, store: store, exchange: exSvc, exStore: exStore,
		cache: cacheStore, bank: bank, card: card, pub: pub, txn: txn,
	}
}

func TestInitiateEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.InitiateEscrow(ctx, "cust-1", "req_1", "1234")
	if err != nil {
		t.Fatalf("InitiateEscrow failed: %v", err)
	}
	if p.Status != StatusInEscrow || p.Gateway != GatewayBankEscrow {
		t.Errorf("unexpected payment: %+v", p)
	}
	if p.AmountKobo != 10_250_00 {
		t.Errorf("hold must be amount+fee, got %d", p.AmountKobo)
	}

	if f.bank.transferCount() != 1 {
		t.Fatalf("expected 1 transfer, got %d", f.bank.transferCount())
	}
	tr := f.bank.transfers[0]
	if tr.FromAccount != "0123456789" || tr.ToAccount != "1111111111" {
		t.Errorf("hold moved money the wrong way: %+v", tr)
	}

	if !f.pub.has(exchange.EventPaymentReceived) {
		t.Error("payment.received not published")
	}
	state := f.exchange.State("req_1")
	for _, userID := range []string{"cust-1", "agent-1"} {
		stage, _ := state.Stage(ctx, userID)
		if stage != exchange.StageAwaitingCashConfirmation {
			t.Errorf("%s stage = %q", userID, stage)
		}
	}
}

func TestInitiateEscrowWrongPIN(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.InitiateEscrow(context.Background(), "cust-1", "req_1", "9999")
	if !errors.Is(err, users.ErrWrongPIN) {
		t.Errorf("expected ErrWrongPIN, got %v", err)
	}
	if f.bank.transferCount() != 0 {
		t.Error("transfer attempted with a bad PIN")
	}
}

func TestInitiateEscrowByAgent(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.InitiateEscrow(context.Background(), "agent-1", "req_1", "1234")
	if !errors.Is(err, ErrNotYourPayment) {
		t.Errorf("expected ErrNotYourPayment, got %v", err)
	}
}

func TestInitiateEscrowTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.InitiateEscrow(ctx, "cust-1", "req_1", "1234"); err != nil {
		t.Fatalf("first hold failed: %v", err)
	}
	_, err := f.svc.InitiateEscrow(ctx, "cust-1", "req_1", "1234")
	if !errors.Is(err, ErrAlreadyInitiated) {
		t.Errorf("expected ErrAlreadyInitiated, got %v", err)
	}
	if f.bank.transferCount() != 1 {
		t.Errorf("second hold hit the gateway: %d transfers", f.bank.transferCount())
	}
}

func TestInitiateCard(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.InitiateCard(context.Background(), "cust-1", "req_1", gateway.Card{
		Number: "5060990000000001", ExpiryMonth: "12", ExpiryYear: "28", CVV: "123",
	})
	if err != nil {
		t.Fatalf("InitiateCard failed: %v", err)
	}
	if p.Gateway != GatewayCard || p.Status != StatusInEscrow {
		t.Errorf("unexpected payment: %+v", p)
	}
	if f.card.debits != 1 {
		t.Errorf("expected 1 debit, got %d", f.card.debits)
	}
}

func TestFinalize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Seed the state a live transaction would have accumulated.
	state := f.exchange.State("req_1")
	state.MarkReached(ctx, exchange.PartyAgent)
	state.MarkReached(ctx, exchange.PartyCustomer)
	state.ConfirmIdentity(ctx, exchange.PartyAgent)
	state.ConfirmIdentity(ctx, exchange.PartyCustomer)
	state.SetDestination(ctx, routing.Coordinates{Latitude: 6.5, Longitude: 3.3})
	f.cache.Set(ctx, matching.SearchKey("srch_1"), "{}", time.Hour)

	held, err := f.svc.InitiateEscrow(ctx, "cust-1", "req_1", "1234")
	if err != nil {
		t.Fatalf("hold failed: %v", err)
	}

	p, err := f.svc.Finalize(ctx, "cust-1", held.TransactionReference)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if p.Status != StatusCompleted || p.CompletedAt == nil {
		t.Errorf("unexpected payment: %+v", p)
	}

	// Hold plus release.
	if f.bank.transferCount() != 2 {
		t.Fatalf("expected 2 transfers, got %d", f.bank.transferCount())
	}
	release := f.bank.transfers[1]
	if release.FromAccount != "1111111111" || release.ToAccount != "9876543210" {
		t.Errorf("release moved money the wrong way: %+v", release)
	}

	txn, _ := f.exStore.GetTransaction(ctx, "txn_1")
	if txn.Status != exchange.TransactionCompleted {
		t.Errorf("transaction not completed: %s", txn.Status)
	}
	if !f.pub.has(exchange.EventTransactionCompleted) {
		t.Error("transaction.completed not published")
	}

	// Every ephemeral key is purged, including the cached search.
	if both, _ := state.BothReached(ctx); both {
		t.Error("reached flags survived finalize")
	}
	if ok, _ := state.IdentityConfirmed(ctx, exchange.PartyAgent); ok {
		t.Error("identity flags survived finalize")
	}
	for _, userID := range []string{"cust-1", "agent-1"} {
		if stage, _ := state.Stage(ctx, userID); stage != "" {
			t.Errorf("%s stage survived finalize: %q", userID, stage)
		}
	}
	if _, ok, _ := state.Destination(ctx); ok {
		t.Error("destination survived finalize")
	}
	if _, err := f.cache.Get(ctx, matching.SearchKey("srch_1")); err == nil {
		t.Error("cached search survived finalize")
	}
}

func TestFinalizeTwiceRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	held, _ := f.svc.InitiateEscrow(ctx, "cust-1", "req_1", "1234")
	if _, err := f.svc.Finalize(ctx, "cust-1", held.TransactionReference); err != nil {
		t.Fatalf("first finalize failed: %v", err)
	}
	transfers := f.bank.transferCount()

	if _, err := f.svc.Finalize(ctx, "cust-1", held.TransactionReference); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted, got %v", err)
	}
	if f.bank.transferCount() != transfers {
		t.Error("second finalize hit the gateway again")
	}

	// State settles after exactly one successful call.
	p, _ := f.store.GetPaymentByReference(ctx, held.TransactionReference)
	if p.Status != StatusCompleted {
		t.Errorf("unexpected status: %s", p.Status)
	}
	txn, _ := f.exStore.GetTransaction(ctx, "txn_1")
	if txn.Status != exchange.TransactionCompleted {
		t.Errorf("transaction status changed: %s", txn.Status)
	}
}

func TestFinalizeByStranger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	held, _ := f.svc.InitiateEscrow(ctx, "cust-1", "req_1", "1234")
	if _, err := f.svc.Finalize(ctx, "agent-1", held.TransactionReference); !errors.Is(err, ErrNotYourPayment) {
		t.Errorf("expected ErrNotYourPayment, got %v", err)
	}
}

func TestReverse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	held, _ := f.svc.InitiateEscrow(ctx, "cust-1", "req_1", "1234")
	p, err := f.svc.Reverse(ctx, "cust-1", held.TransactionReference)
	if err != nil {
		t.Fatalf("Reverse failed: %v", err)
	}
	if p.Status != StatusReversed || p.ReversedAt == nil {
		t.Errorf("unexpected payment: %+v", p)
	}

	refund := f.bank.transfers[f.bank.transferCount()-1]
	if refund.FromAccount != "1111111111" || refund.ToAccount != "0123456789" {
		t.Errorf("refund moved money the wrong way: %+v", refund)
	}

	txn, _ := f.exStore.GetTransaction(ctx, "txn_1")
	if txn.Status != exchange.TransactionCancelled {
		t.Errorf("transaction not cancelled: %s", txn.Status)
	}
	if !f.pub.has(exchange.EventTransactionReversed) {
		t.Error("transaction.reversed not published")
	}

	// Reversing again is a distinct validation error.
	transfers := f.bank.transferCount()
	if _, err := f.svc.Reverse(ctx, "cust-1", held.TransactionReference); !errors.Is(err, ErrAlreadyReversed) {
		t.Errorf("expected ErrAlreadyReversed, got %v", err)
	}
	if f.bank.transferCount() != transfers {
		t.Error("second reverse hit the gateway again")
	}
}

func TestFinalizeAfterReverse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	held, _ := f.svc.InitiateEscrow(ctx, "cust-1", "req_1", "1234")
	f.svc.Reverse(ctx, "cust-1", held.TransactionReference)

	if _, err := f.svc.Finalize(ctx, "cust-1", held.TransactionReference); !errors.Is(err, ErrNotInEscrow) {
		t.Errorf("expected ErrNotInEscrow, got %v", err)
	}
}

func TestEscrowBlocksCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	held, _ := f.svc.InitiateEscrow(ctx, "cust-1", "req_1", "1234")
	if _, err := f.exchange.Cancel(ctx, "cust-1", "txn_1", "cold feet"); !errors.Is(err, exchange.ErrPaymentHeld) {
		t.Fatalf("expected ErrPaymentHeld, got %v", err)
	}

	f.svc.Finalize(ctx, "cust-1", held.TransactionReference)
	if held, err := f.svc.HasEscrow(ctx, "txn_1"); err != nil || held {
		t.Errorf("HasEscrow after finalize: held=%v err=%v", held, err)
	}
}

func TestLookupBankAccountCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.LookupBankAccount(ctx, "0123456789", "100001")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	second, err := f.svc.LookupBankAccount(ctx, "0123456789", "100001")
	if err != nil {
		t.Fatalf("cached lookup failed: %v", err)
	}
	if first.AccountName != second.AccountName {
		t.Error("cache returned a different account")
	}
	if f.bank.resolves != 1 {
		t.Errorf("expected 1 gateway resolve, got %d", f.bank.resolves)
	}
}

func TestEscrowAccountDiscovered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No configured account: the coordinator asks the provider and
	// keeps the first transfer-enabled one.
	f.svc.escrow = EscrowAccount{}
	f.bank.accounts = []gateway.BankAccount{
		{AccountNumber: "3333333333", BankCode: "999999"},
		{AccountNumber: "4444444444", BankCode: "999999", TransactionEnabled: true},
	}

	held, err := f.svc.InitiateEscrow(ctx, "cust-1", "req_1", "1234")
	if err != nil {
		t.Fatalf("InitiateEscrow failed: %v", err)
	}
	hold := f.bank.transfers[0]
	if hold.ToAccount != "4444444444" {
		t.Errorf("hold went to %s, want the transfer-enabled account", hold.ToAccount)
	}

	if _, err := f.svc.Finalize(ctx, "cust-1", held.TransactionReference); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	release := f.bank.transfers[1]
	if release.FromAccount != "4444444444" {
		t.Errorf("release left %s, want the discovered account", release.FromAccount)
	}
	if f.bank.fetches != 1 {
		t.Errorf("expected a single account fetch, got %d", f.bank.fetches)
	}
}

func TestEscrowAccountNoneEnabled(t *testing.T) {
	f := newFixture(t)

	f.svc.escrow = EscrowAccount{}
	f.bank.accounts = []gateway.BankAccount{{AccountNumber: "3333333333", BankCode: "999999"}}

	_, err := f.svc.InitiateEscrow(context.Background(), "cust-1", "req_1", "1234")
	if !errors.Is(err, ErrNoEscrowAccount) {
		t.Errorf("expected ErrNoEscrowAccount, got %v", err)
	}
	if f.bank.transferCount() != 0 {
		t.Error("hold attempted without an escrow account")
	}
}
