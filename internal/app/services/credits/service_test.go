package credits

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/R3E-Network/credit_layer/internal/app/domain/user"
	"github.com/R3E-Network/credit_layer/internal/app/storage/memory"
	"github.com/R3E-Network/credit_layer/internal/errors"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	store.AddUser(user.User{Email: "u1@example.com"})
	return New(store, store, nil), store
}

func TestDebitScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Grant(ctx, "u1@example.com", 100, "initial grant", "t1"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	uc, tx, err := svc.Debit(ctx, "u1@example.com", 30, "estimate", "t1")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if uc.Available != 70 {
		t.Fatalf("balance after debit: %d", uc.Available)
	}
	if tx.Amount != -30 || tx.BalanceAfter != 70 || tx.Type != "usage" {
		t.Fatalf("unexpected ledger entry: %+v", tx)
	}

	// second debit exceeding balance: 402-class error, nothing changes
	_, _, err = svc.Debit(ctx, "u1@example.com", 80, "", "t1")
	if !stderrors.Is(err, errors.InsufficientCredits(0, 0)) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}
	uc, err = svc.GetBalance(ctx, "u1@example.com")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if uc.Available != 70 {
		t.Fatalf("balance changed after refused debit: %d", uc.Available)
	}
	txs, err := svc.History(ctx, "u1@example.com", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(txs) != 2 { // grant + one debit, no entry for the refusal
		t.Fatalf("unexpected ledger length: %d", len(txs))
	}
}

func TestDebitRejectsNonPositiveAmount(t *testing.T) {
	svc, _ := newTestService(t)
	for _, amount := range []int{0, -5} {
		if _, _, err := svc.Debit(context.Background(), "u1@example.com", amount, "", ""); !stderrors.Is(err, errors.InvalidRequest("")) {
			t.Fatalf("amount %d: expected invalid request, got %v", amount, err)
		}
	}
}

func TestDebitUnknownUser(t *testing.T) {
	svc, _ := newTestService(t)
	if _, _, err := svc.Debit(context.Background(), "ghost@example.com", 10, "", ""); !stderrors.Is(err, errors.NotFound("")) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetBalanceLazyInit(t *testing.T) {
	svc, _ := newTestService(t)
	uc, err := svc.GetBalance(context.Background(), "U1@Example.COM")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if uc.Available != 0 || uc.Used != 0 || uc.Total != 0 {
		t.Fatalf("new user should start zeroed: %+v", uc)
	}
}

func TestNoDoubleSpendUnderConcurrency(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const balance = 100
	const slice = 10
	const workers = 25 // more requests than the balance admits

	if _, _, err := svc.Grant(ctx, "u1@example.com", balance, "", ""); err != nil {
		t.Fatalf("grant: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Debit(ctx, "u1@example.com", slice, "", "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, refused := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case stderrors.Is(err, errors.InsufficientCredits(0, 0)):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if succeeded != balance/slice {
		t.Fatalf("exactly %d debits should fit, got %d", balance/slice, succeeded)
	}
	if refused != workers-balance/slice {
		t.Fatalf("remaining %d should be refused, got %d", workers-balance/slice, refused)
	}

	uc, err := svc.GetBalance(ctx, "u1@example.com")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if uc.Available != 0 {
		t.Fatalf("final balance should be zero, got %d", uc.Available)
	}

	// ledger replays to the final balance
	txs, err := svc.History(ctx, "u1@example.com", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	sum := 0
	for _, tx := range txs {
		sum += tx.Amount
	}
	if sum != uc.Available {
		t.Fatalf("ledger sum %d != available %d", sum, uc.Available)
	}
}
