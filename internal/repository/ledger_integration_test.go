package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/mmeshcher/loyalty-platform/internal/model"
)

// Интеграционные тесты леджера выполняются против реальной базы
// и пропускаются, если DATABASE_URI не задан.
func newTestRepository(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("DATABASE_URI")
	if dsn == "" {
		t.Skip("DATABASE_URI is not set")
	}

	repo, err := NewPostgresRepository(dsn)
	if err != nil {
		t.Fatalf("NewPostgresRepository error: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func createTestWallet(t *testing.T, repo *PostgresRepository) *model.Wallet {
	t.Helper()
	ctx := context.Background()
	suffix := uuid.New().String()[:8]

	customerID, err := repo.CreateUser(ctx, fmt.Sprintf("customer-%s@example.com", suffix), []byte("hash"), model.RoleCustomer, nil)
	if err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}

	b := &model.Business{
		ID:                uuid.New(),
		Name:              "Ledger Test",
		Slug:              "ledger-test-" + suffix,
		Email:             fmt.Sprintf("owner-%s@example.com", suffix),
		PointValueCents:   1,
		PointsPerCurrency: 1,
		IsActive:          true,
	}
	if err := repo.CreateBusiness(ctx, b, "Bronze"); err != nil {
		t.Fatalf("CreateBusiness error: %v", err)
	}

	wallet, err := repo.GetOrCreateWallet(ctx, customerID, b.ID)
	if err != nil {
		t.Fatalf("GetOrCreateWallet error: %v", err)
	}
	return wallet
}

func TestLedger_BalanceMatchesTransactionSum(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	wallet := createTestWallet(t, repo)

	if _, err := repo.CreditWallet(ctx, wallet.ID, 100, model.TransactionEarn, "purchase", ""); err != nil {
		t.Fatalf("CreditWallet(100) error: %v", err)
	}
	if _, err := repo.CreditWallet(ctx, wallet.ID, 50, model.TransactionBonus, "signup bonus", ""); err != nil {
		t.Fatalf("CreditWallet(50) error: %v", err)
	}
	updated, err := repo.DebitWallet(ctx, wallet.ID, 120, model.TransactionRedeem, "reward", "")
	if err != nil {
		t.Fatalf("DebitWallet(120) error: %v", err)
	}
	if updated.PointsBalance != 30 {
		t.Fatalf("PointsBalance = %d, want 30", updated.PointsBalance)
	}
	if updated.LifetimePoints != 150 {
		t.Fatalf("LifetimePoints = %d, want 150", updated.LifetimePoints)
	}

	if _, err := repo.DebitWallet(ctx, wallet.ID, 50, model.TransactionRedeem, "reward", ""); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("DebitWallet(50) error = %v, want ErrInsufficientBalance", err)
	}

	final, err := repo.GetWalletByID(ctx, wallet.ID)
	if err != nil {
		t.Fatalf("GetWalletByID error: %v", err)
	}
	if final.PointsBalance != 30 {
		t.Fatalf("PointsBalance after failed debit = %d, want 30", final.PointsBalance)
	}

	transactions, err := repo.GetTransactionsByWallet(ctx, wallet.ID)
	if err != nil {
		t.Fatalf("GetTransactionsByWallet error: %v", err)
	}
	if len(transactions) != 3 {
		t.Fatalf("len(transactions) = %d, want 3", len(transactions))
	}
	var sum int64
	for _, tr := range transactions {
		sum += tr.Points
	}
	if sum != final.PointsBalance {
		t.Fatalf("sum(transactions) = %d, balance = %d", sum, final.PointsBalance)
	}
}

func TestLedger_ConcurrentDebitsSingleWinner(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	wallet := createTestWallet(t, repo)

	if _, err := repo.CreditWallet(ctx, wallet.ID, 100, model.TransactionEarn, "purchase", ""); err != nil {
		t.Fatalf("CreditWallet error: %v", err)
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.DebitWallet(ctx, wallet.ID, 80, model.TransactionRedeem, "reward", "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, insufficient int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("DebitWallet error: %v", err)
		}
	}
	if succeeded != 1 || insufficient != 1 {
		t.Fatalf("succeeded = %d, insufficient = %d, want 1 and 1", succeeded, insufficient)
	}

	final, err := repo.GetWalletByID(ctx, wallet.ID)
	if err != nil {
		t.Fatalf("GetWalletByID error: %v", err)
	}
	if final.PointsBalance != 20 {
		t.Fatalf("PointsBalance = %d, want 20", final.PointsBalance)
	}
}

func TestGetOrCreateWallet_UnknownCustomer(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	wallet := createTestWallet(t, repo)

	if _, err := repo.GetOrCreateWallet(ctx, uuid.New(), wallet.BusinessID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("GetOrCreateWallet error = %v, want ErrUserNotFound", err)
	}
}
