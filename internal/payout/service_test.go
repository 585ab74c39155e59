package payout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cliprally/backend/internal/commission"
	"github.com/cliprally/backend/internal/gateway"
	"github.com/cliprally/backend/internal/models"
	"github.com/cliprally/backend/internal/payee"
	"github.com/cliprally/backend/internal/transfer"
	"github.com/cliprally/backend/internal/wallet"
)

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type mockStore struct {
	mu      sync.Mutex
	payouts map[uuid.UUID]*models.Payout
}

func newMockStore() *mockStore {
	return &mockStore{payouts: make(map[uuid.UUID]*models.Payout)}
}

func (m *mockStore) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

func (m *mockStore) CreateTx(_ context.Context, _ pgx.Tx, p *models.Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.payouts {
		if existing.SubmissionID == p.SubmissionID && !existing.Terminal() {
			return ErrDuplicatePayout
		}
	}
	p.CreatedAt = time.Now()
	cp := *p
	m.payouts[p.ID] = &cp
	return nil
}

func (m *mockStore) GetByID(_ context.Context, id uuid.UUID) (*models.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrUnknownPayout
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) GetForUpdateTx(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Payout, error) {
	return m.GetByID(ctx, id)
}

func (m *mockStore) MarkReservedTx(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok || p.Status != models.PayoutStatusPending {
		return ErrUnknownPayout
	}
	p.Status = models.PayoutStatusReserved
	return nil
}

func (m *mockStore) MarkTransferring(_ context.Context, id uuid.UUID, transferID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok || p.Status != models.PayoutStatusReserved {
		return false, nil
	}
	p.Status = models.PayoutStatusTransferring
	p.GatewayTransferID = &transferID
	return true, nil
}

func (m *mockStore) MarkSucceededTx(_ context.Context, _ pgx.Tx, id uuid.UUID, transferID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return ErrUnknownPayout
	}
	p.Status = models.PayoutStatusSucceeded
	if transferID != "" {
		p.GatewayTransferID = &transferID
	}
	now := time.Now()
	p.CompletedAt = &now
	return nil
}

func (m *mockStore) MarkFailedTx(_ context.Context, _ pgx.Tx, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return ErrUnknownPayout
	}
	p.Status = models.PayoutStatusFailed
	p.FailureReason = &reason
	now := time.Now()
	p.CompletedAt = &now
	return nil
}

func (m *mockStore) MarkReversedTx(_ context.Context, _ pgx.Tx, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return ErrUnknownPayout
	}
	p.Status = models.PayoutStatusReversed
	p.FailureReason = &reason
	now := time.Now()
	p.CompletedAt = &now
	return nil
}

func (m *mockStore) StuckReserved(_ context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var ids []uuid.UUID
	for _, p := range m.payouts {
		if p.Status == models.PayoutStatusReserved && p.CreatedAt.Before(cutoff) {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

func (m *mockStore) ListByCreator(_ context.Context, creatorID uuid.UUID) ([]*models.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*models.Payout
	for _, p := range m.payouts {
		if p.CreatorID == creatorID {
			cp := *p
			list = append(list, &cp)
		}
	}
	return list, nil
}

func (m *mockStore) status(t *testing.T, id uuid.UUID) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		t.Fatalf("payout %s not in store", id)
	}
	return p.Status
}

type mockWallets struct {
	mu        sync.Mutex
	available map[uuid.UUID]int64
	reserved  map[uuid.UUID]int64
}

func newMockWallets() *mockWallets {
	return &mockWallets{available: make(map[uuid.UUID]int64), reserved: make(map[uuid.UUID]int64)}
}

func (m *mockWallets) ReserveTx(_ context.Context, _ pgx.Tx, creatorID uuid.UUID, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.available[creatorID] < amount {
		return wallet.ErrInsufficientFunds
	}
	m.available[creatorID] -= amount
	m.reserved[creatorID] += amount
	return nil
}

func (m *mockWallets) ReleaseTx(_ context.Context, _ pgx.Tx, creatorID uuid.UUID, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reserved[creatorID] < amount {
		return wallet.ErrInsufficientFunds
	}
	m.reserved[creatorID] -= amount
	m.available[creatorID] += amount
	return nil
}

func (m *mockWallets) CommitReservationTx(_ context.Context, _ pgx.Tx, creatorID uuid.UUID, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reserved[creatorID] < amount {
		return wallet.ErrInsufficientFunds
	}
	m.reserved[creatorID] -= amount
	return nil
}

func (m *mockWallets) balances(creatorID uuid.UUID) (int64, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available[creatorID], m.reserved[creatorID]
}

type mockPayees struct {
	mu  sync.Mutex
	err error
}

func (m *mockPayees) Readiness(_ context.Context, clipperID uuid.UUID) (*models.PayeeAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return &models.PayeeAccount{
		ClipperID:        clipperID,
		GatewayAccountID: "acct_ready",
		ChargesEnabled:   true,
		PayoutsEnabled:   true,
		Requirements:     []string{},
	}, nil
}

func (m *mockPayees) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

type mockTransferGateway struct {
	mu    sync.Mutex
	err   error
	calls []gateway.TransferRequest

	// gate, when non-nil, holds every call open until closed. Lets tests put
	// two workers inside the gateway at the same time.
	gate chan struct{}
}

func (m *mockTransferGateway) CreateTransfer(_ context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	err := m.err
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &gateway.TransferResult{TransferID: "tr_1"}, nil
}

func (m *mockTransferGateway) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type harness struct {
	store    *mockStore
	wallets  *mockWallets
	payees   *mockPayees
	gw       *mockTransferGateway
	enqueued []transfer.InitiateTransferArgs
	svc      *Service
}

func newHarness() *harness {
	h := &harness{
		store:   newMockStore(),
		wallets: newMockWallets(),
		payees:  &mockPayees{},
		gw:      &mockTransferGateway{},
	}
	calc := commission.Calculator{RateBps: 1000, MinDepositCents: 500, MaxDepositCents: 5_000_000, MaxPayoutCents: 1_000_000}
	insert := func(_ context.Context, _ pgx.Tx, args transfer.InitiateTransferArgs) error {
		h.enqueued = append(h.enqueued, args)
		return nil
	}
	h.svc = NewService(h.store, h.wallets, h.payees, h.gw, calc, "usd", insert, nil)
	return h
}

func TestInitiatePayout(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	creator := uuid.New()
	h.wallets.available[creator] = 10_000

	p, err := h.svc.InitiatePayout(ctx, uuid.New(), uuid.New(), creator, 2000)
	if err != nil {
		t.Fatalf("InitiatePayout: %v", err)
	}
	if p.Status != models.PayoutStatusReserved {
		t.Errorf("status: got %s, want reserved", p.Status)
	}
	if p.CommissionCents != 200 || p.NetCents != 1800 {
		t.Errorf("split: got commission %d net %d, want 200/1800", p.CommissionCents, p.NetCents)
	}
	if avail, res := h.wallets.balances(creator); avail != 8000 || res != 2000 {
		t.Errorf("wallet: got available %d reserved %d, want 8000/2000", avail, res)
	}
	if len(h.enqueued) != 1 || h.enqueued[0].PayoutID != p.ID {
		t.Errorf("expected one transfer job for %s, got %v", p.ID, h.enqueued)
	}
}

func TestInitiatePayout_Duplicate(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	creator := uuid.New()
	h.wallets.available[creator] = 10_000
	submission := uuid.New()

	if _, err := h.svc.InitiatePayout(ctx, submission, uuid.New(), creator, 2000); err != nil {
		t.Fatalf("first InitiatePayout: %v", err)
	}
	_, err := h.svc.InitiatePayout(ctx, submission, uuid.New(), creator, 2000)
	if !errors.Is(err, ErrDuplicatePayout) {
		t.Errorf("got %v, want ErrDuplicatePayout", err)
	}
	if avail, res := h.wallets.balances(creator); avail != 8000 || res != 2000 {
		t.Errorf("duplicate must not touch the wallet again: available %d reserved %d", avail, res)
	}
}

func TestInitiatePayout_PayeeNotReady(t *testing.T) {
	h := newHarness()
	h.payees.setErr(payee.ErrOnboardingIncomplete)
	creator := uuid.New()
	h.wallets.available[creator] = 10_000

	_, err := h.svc.InitiatePayout(context.Background(), uuid.New(), uuid.New(), creator, 2000)
	if !errors.Is(err, payee.ErrOnboardingIncomplete) {
		t.Fatalf("got %v, want ErrOnboardingIncomplete", err)
	}
	if avail, res := h.wallets.balances(creator); avail != 10_000 || res != 0 {
		t.Errorf("ineligible payee must leave wallet untouched: available %d reserved %d", avail, res)
	}
	if len(h.store.payouts) != 0 {
		t.Error("ineligible payee must not create a payout row")
	}
}

func TestInitiatePayout_BudgetExhausted(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	creator := uuid.New()
	h.wallets.available[creator] = 1500

	p, err := h.svc.InitiatePayout(ctx, uuid.New(), uuid.New(), creator, 2000)
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("got %v, want ErrBudgetExhausted", err)
	}
	if p == nil || p.Status != models.PayoutStatusPending {
		t.Fatalf("payout must persist pending, got %+v", p)
	}
	if h.store.status(t, p.ID) != models.PayoutStatusPending {
		t.Error("stored payout must stay pending")
	}
	if avail, res := h.wallets.balances(creator); avail != 1500 || res != 0 {
		t.Errorf("wallet must be unchanged: available %d reserved %d", avail, res)
	}
	if len(h.enqueued) != 0 {
		t.Error("no transfer job for an unfunded payout")
	}
}

func TestRetryPending(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	creator := uuid.New()
	h.wallets.available[creator] = 1000

	p, err := h.svc.InitiatePayout(ctx, uuid.New(), uuid.New(), creator, 2000)
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("setup: %v", err)
	}

	// Still underfunded.
	if _, err := h.svc.RetryPending(ctx, p.ID); !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("underfunded retry: got %v, want ErrBudgetExhausted", err)
	}

	// Top up, retry succeeds.
	h.wallets.mu.Lock()
	h.wallets.available[creator] = 5000
	h.wallets.mu.Unlock()
	retried, err := h.svc.RetryPending(ctx, p.ID)
	if err != nil {
		t.Fatalf("RetryPending: %v", err)
	}
	if retried.Status != models.PayoutStatusReserved {
		t.Errorf("status: got %s, want reserved", retried.Status)
	}
	if avail, res := h.wallets.balances(creator); avail != 3000 || res != 2000 {
		t.Errorf("wallet: got available %d reserved %d, want 3000/2000", avail, res)
	}
	if len(h.enqueued) != 1 {
		t.Errorf("transfer jobs: got %d, want 1", len(h.enqueued))
	}

	// Retrying a reserved payout is rejected.
	if _, err := h.svc.RetryPending(ctx, p.ID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("got %v, want ErrNotRetryable", err)
	}
}

func TestStartTransfer(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	creator := uuid.New()
	h.wallets.available[creator] = 10_000

	p, err := h.svc.InitiatePayout(ctx, uuid.New(), uuid.New(), creator, 2000)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := h.svc.StartTransfer(ctx, p.ID); err != nil {
		t.Fatalf("StartTransfer: %v", err)
	}
	if got := h.store.status(t, p.ID); got != models.PayoutStatusTransferring {
		t.Errorf("status: got %s, want transferring", got)
	}
	if len(h.gw.calls) != 1 {
		t.Fatalf("gateway calls: got %d, want 1", len(h.gw.calls))
	}
	// The transfer carries the net, never the gross.
	if h.gw.calls[0].AmountCents != 1800 {
		t.Errorf("transfer amount: got %d, want 1800", h.gw.calls[0].AmountCents)
	}

	// Second delivery of the same job is a no-op.
	if err := h.svc.StartTransfer(ctx, p.ID); err != nil {
		t.Fatalf("repeat StartTransfer: %v", err)
	}
	if len(h.gw.calls) != 1 {
		t.Errorf("repeat must not hit the gateway again: %d calls", len(h.gw.calls))
	}
}

func TestStartTransfer_ConcurrentSubmissionsShareIdempotencyKey(t *testing.T) {
	// A re-drive job can overlap a still-retrying original, so two workers may
	// both see the payout reserved and both reach the gateway. The submissions
	// must carry the same payout-derived idempotency key so the gateway
	// executes the transfer once.
	h := newHarness()
	ctx := context.Background()
	creator := uuid.New()
	h.wallets.available[creator] = 10_000

	p, err := h.svc.InitiatePayout(ctx, uuid.New(), uuid.New(), creator, 2000)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	gate := make(chan struct{})
	h.gw.mu.Lock()
	h.gw.gate = gate
	h.gw.mu.Unlock()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.svc.StartTransfer(ctx, p.ID)
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.gw.callCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("gateway submissions: got %d, want 2", h.gw.callCount())
		}
		time.Sleep(time.Millisecond)
	}
	close(gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("StartTransfer: %v", err)
		}
	}

	h.gw.mu.Lock()
	first, second := h.gw.calls[0].IdempotencyKey, h.gw.calls[1].IdempotencyKey
	h.gw.mu.Unlock()
	if first == "" {
		t.Fatal("transfer submitted without an idempotency key")
	}
	if first != second {
		t.Errorf("idempotency keys differ: %q vs %q", first, second)
	}
	if !strings.Contains(first, p.ID.String()) {
		t.Errorf("idempotency key %q not derived from payout %s", first, p.ID)
	}
	if got := h.store.status(t, p.ID); got != models.PayoutStatusTransferring {
		t.Errorf("status: got %s, want transferring", got)
	}
}

func TestStartTransfer_TransientGatewayError(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	creator := uuid.New()
	h.wallets.available[creator] = 10_000
	h.gw.err = &gateway.TransientError{Err: errors.New("connection reset")}

	p, err := h.svc.InitiatePayout(ctx, uuid.New(), uuid.New(), creator, 2000)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := h.svc.StartTransfer(ctx, p.ID); !gateway.IsTransient(err) {
		t.Fatalf("transient gateway error must surface for retry, got %v", err)
	}
	// Funds stay reserved while the job retries.
	if got := h.store.status(t, p.ID); got != models.PayoutStatusReserved {
		t.Errorf("status: got %s, want reserved", got)
	}
	if avail, res := h.wallets.balances(creator); avail != 8000 || res != 2000 {
		t.Errorf("wallet: got available %d reserved %d, want 8000/2000", avail, res)
	}
}

func TestStartTransfer_RejectedReleasesFunds(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	creator := uuid.New()
	h.wallets.available[creator] = 10_000
	h.gw.err = &gateway.RejectedError{Status: 400, Code: "account_invalid", Message: "account closed"}

	p, err := h.svc.InitiatePayout(ctx, uuid.New(), uuid.New(), creator, 2000)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := h.svc.StartTransfer(ctx, p.ID); err != nil {
		t.Fatalf("StartTransfer: %v", err)
	}
	if got := h.store.status(t, p.ID); got != models.PayoutStatusFailed {
		t.Errorf("status: got %s, want failed", got)
	}
	if avail, res := h.wallets.balances(creator); avail != 10_000 || res != 0 {
		t.Errorf("rejection must release the reservation: available %d reserved %d", avail, res)
	}
}

func TestStartTransfer_PayeeBecameIneligible(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	creator := uuid.New()
	h.wallets.available[creator] = 10_000

	p, err := h.svc.InitiatePayout(ctx, uuid.New(), uuid.New(), creator, 2000)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	h.payees.setErr(payee.ErrPayoutsDisabled)

	if err := h.svc.StartTransfer(ctx, p.ID); err != nil {
		t.Fatalf("StartTransfer: %v", err)
	}
	if got := h.store.status(t, p.ID); got != models.PayoutStatusReversed {
		t.Errorf("status: got %s, want reversed", got)
	}
	if avail, res := h.wallets.balances(creator); avail != 10_000 || res != 0 {
		t.Errorf("reversal must release the reservation: available %d reserved %d", avail, res)
	}
	if len(h.gw.calls) != 0 {
		t.Error("ineligible payee must not reach the gateway")
	}
}

func TestHandleTransferOutcome_Success(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	creator := uuid.New()
	h.wallets.available[creator] = 10_000

	p, err := h.svc.InitiatePayout(ctx, uuid.New(), uuid.New(), creator, 2000)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := h.svc.StartTransfer(ctx, p.ID); err != nil {
		t.Fatalf("StartTransfer: %v", err)
	}
	if err := h.svc.HandleTransferOutcome(ctx, p.ID, true, "tr_1", ""); err != nil {
		t.Fatalf("HandleTransferOutcome: %v", err)
	}
	if got := h.store.status(t, p.ID); got != models.PayoutStatusSucceeded {
		t.Errorf("status: got %s, want succeeded", got)
	}
	// Reservation committed: the gross leaves the wallet for good.
	if avail, res := h.wallets.balances(creator); avail != 8000 || res != 0 {
		t.Errorf("wallet: got available %d reserved %d, want 8000/0", avail, res)
	}

	// Replayed webhook must not commit twice.
	if err := h.svc.HandleTransferOutcome(ctx, p.ID, true, "tr_1", ""); err != nil {
		t.Fatalf("replayed outcome: %v", err)
	}
	if avail, res := h.wallets.balances(creator); avail != 8000 || res != 0 {
		t.Errorf("replay changed the wallet: available %d reserved %d", avail, res)
	}
}

func TestHandleTransferOutcome_Failure(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	creator := uuid.New()
	h.wallets.available[creator] = 10_000

	p, err := h.svc.InitiatePayout(ctx, uuid.New(), uuid.New(), creator, 2000)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := h.svc.StartTransfer(ctx, p.ID); err != nil {
		t.Fatalf("StartTransfer: %v", err)
	}
	if err := h.svc.HandleTransferOutcome(ctx, p.ID, false, "tr_1", "insufficient_capabilities"); err != nil {
		t.Fatalf("HandleTransferOutcome: %v", err)
	}
	if got := h.store.status(t, p.ID); got != models.PayoutStatusFailed {
		t.Errorf("status: got %s, want failed", got)
	}
	if avail, res := h.wallets.balances(creator); avail != 10_000 || res != 0 {
		t.Errorf("failure must release the reservation: available %d reserved %d", avail, res)
	}
}

func TestHandleTransferOutcome_BeforeAcknowledgment(t *testing.T) {
	// The success webhook can land while the payout is still reserved, before
	// StartTransfer records the transfer id.
	h := newHarness()
	ctx := context.Background()
	creator := uuid.New()
	h.wallets.available[creator] = 10_000

	p, err := h.svc.InitiatePayout(ctx, uuid.New(), uuid.New(), creator, 2000)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := h.svc.HandleTransferOutcome(ctx, p.ID, true, "tr_1", ""); err != nil {
		t.Fatalf("early outcome: %v", err)
	}
	if got := h.store.status(t, p.ID); got != models.PayoutStatusSucceeded {
		t.Errorf("status: got %s, want succeeded", got)
	}

	// The late StartTransfer must not submit a second transfer.
	if err := h.svc.StartTransfer(ctx, p.ID); err != nil {
		t.Fatalf("late StartTransfer: %v", err)
	}
	if len(h.gw.calls) != 0 {
		t.Errorf("settled payout reached the gateway: %d calls", len(h.gw.calls))
	}
}

func TestCancel(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	creator := uuid.New()
	h.wallets.available[creator] = 10_000

	p, err := h.svc.InitiatePayout(ctx, uuid.New(), uuid.New(), creator, 2000)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := h.svc.Cancel(ctx, p.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := h.store.status(t, p.ID); got != models.PayoutStatusReversed {
		t.Errorf("status: got %s, want reversed", got)
	}
	if avail, res := h.wallets.balances(creator); avail != 10_000 || res != 0 {
		t.Errorf("cancel must release the reservation: available %d reserved %d", avail, res)
	}
}

func TestCancel_Transferring(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	creator := uuid.New()
	h.wallets.available[creator] = 10_000

	p, err := h.svc.InitiatePayout(ctx, uuid.New(), uuid.New(), creator, 2000)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := h.svc.StartTransfer(ctx, p.ID); err != nil {
		t.Fatalf("StartTransfer: %v", err)
	}
	if err := h.svc.Cancel(ctx, p.ID); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("got %v, want ErrNotCancellable", err)
	}
}

func TestStuckReserved(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	creator := uuid.New()
	h.wallets.available[creator] = 10_000

	p, err := h.svc.InitiatePayout(ctx, uuid.New(), uuid.New(), creator, 2000)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	h.store.mu.Lock()
	h.store.payouts[p.ID].CreatedAt = time.Now().Add(-time.Hour)
	h.store.mu.Unlock()

	ids, err := h.svc.StuckReserved(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("StuckReserved: %v", err)
	}
	if len(ids) != 1 || ids[0] != p.ID {
		t.Errorf("stuck payouts: got %v, want [%s]", ids, p.ID)
	}
}
