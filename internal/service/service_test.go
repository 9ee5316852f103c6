package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/loyalty-platform/internal/model"
	"github.com/mmeshcher/loyalty-platform/internal/repository"
	"github.com/mmeshcher/loyalty-platform/internal/validation"
)

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user@example.com", "pass")
	b := hashPassword("user@example.com", "pass")
	c := hashPassword("user@example.com", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

type stubRepo struct {
	createUserID  uuid.UUID
	createUserErr error

	user    *model.User
	userErr error

	takenSlugs map[string]bool

	business    *model.Business
	businessErr error

	tiers    []model.Tier
	tiersErr error

	wallet    *model.Wallet
	walletErr error

	creditWallet *model.Wallet
	creditErr    error
	debitWallet  *model.Wallet
	debitErr     error

	offer    *model.Offer
	offerErr error
	offers   []model.Offer

	redemption       *model.Redemption
	redeemErr        error
	codeCollisions   int
	redeemCalls      int
	lastCode         string
	aiIncremented    bool
	aiIncrementErr   error
	churnPredictions []model.ChurnPrediction
	segments         []model.Segment
	inactiveWallets  []model.Wallet
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, email string, passwordHash []byte, role model.Role, tenantID *uuid.UUID) (uuid.UUID, error) {
	return s.createUserID, s.createUserErr
}

func (s *stubRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubRepo) CreateBusiness(ctx context.Context, b *model.Business, baselineTierName string) error {
	s.business = b
	return s.businessErr
}

func (s *stubRepo) SlugExists(ctx context.Context, slug string) (bool, error) {
	return s.takenSlugs[slug], nil
}

func (s *stubRepo) GetBusinessBySlug(ctx context.Context, slug string) (*model.Business, error) {
	return s.business, s.businessErr
}

func (s *stubRepo) GetBusinessConfig(ctx context.Context, businessID uuid.UUID) (*model.BusinessConfig, error) {
	return nil, nil
}

func (s *stubRepo) UpdateBusinessConfig(ctx context.Context, c *model.BusinessConfig) error {
	return nil
}

func (s *stubRepo) CreateTier(ctx context.Context, t *model.Tier) error {
	s.tiers = append(s.tiers, *t)
	return nil
}

func (s *stubRepo) GetTiers(ctx context.Context, businessID uuid.UUID) ([]model.Tier, error) {
	return s.tiers, s.tiersErr
}

func (s *stubRepo) GetOrCreateWallet(ctx context.Context, customerID, businessID uuid.UUID) (*model.Wallet, error) {
	return s.wallet, s.walletErr
}

func (s *stubRepo) GetWallet(ctx context.Context, customerID, businessID uuid.UUID) (*model.Wallet, error) {
	return s.wallet, s.walletErr
}

func (s *stubRepo) GetWalletByID(ctx context.Context, walletID uuid.UUID) (*model.Wallet, error) {
	return s.wallet, s.walletErr
}

func (s *stubRepo) CreditWallet(ctx context.Context, walletID uuid.UUID, points int64, kind model.TransactionKind, description, reference string) (*model.Wallet, error) {
	return s.creditWallet, s.creditErr
}

func (s *stubRepo) DebitWallet(ctx context.Context, walletID uuid.UUID, points int64, kind model.TransactionKind, description, reference string) (*model.Wallet, error) {
	return s.debitWallet, s.debitErr
}

func (s *stubRepo) GetTransactionsByWallet(ctx context.Context, walletID uuid.UUID) ([]model.Transaction, error) {
	return nil, nil
}

func (s *stubRepo) CreateOffer(ctx context.Context, o *model.Offer) error {
	s.offer = o
	return s.offerErr
}

func (s *stubRepo) GetOffer(ctx context.Context, businessID, offerID uuid.UUID) (*model.Offer, error) {
	return s.offer, s.offerErr
}

func (s *stubRepo) GetActiveOffers(ctx context.Context, businessID uuid.UUID, limit int) ([]model.Offer, error) {
	return s.offers, nil
}

func (s *stubRepo) RedeemOffer(ctx context.Context, walletID uuid.UUID, offer *model.Offer, code string) (*model.Redemption, error) {
	s.redeemCalls++
	if s.codeCollisions > 0 {
		s.codeCollisions--
		return nil, repository.ErrRedemptionCodeTaken
	}
	if s.redeemErr != nil {
		return nil, s.redeemErr
	}
	s.lastCode = code
	return s.redemption, nil
}

func (s *stubRepo) GetRedemption(ctx context.Context, id uuid.UUID) (*model.Redemption, error) {
	return s.redemption, nil
}

func (s *stubRepo) MarkRedemptionUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) (*model.Redemption, error) {
	return s.redemption, nil
}

func (s *stubRepo) GetRedemptionsByWallet(ctx context.Context, walletID uuid.UUID) ([]model.Redemption, error) {
	return nil, nil
}

func (s *stubRepo) UpsertSegment(ctx context.Context, seg *model.Segment) error {
	s.segments = append(s.segments, *seg)
	return nil
}

func (s *stubRepo) GetSegmentsByBusiness(ctx context.Context, businessID uuid.UUID) ([]model.Segment, error) {
	return s.segments, nil
}

func (s *stubRepo) CreateChurnPrediction(ctx context.Context, p *model.ChurnPrediction) error {
	s.churnPredictions = append(s.churnPredictions, *p)
	return nil
}

func (s *stubRepo) EnsureAIOfferMetrics(ctx context.Context, offerID uuid.UUID) error {
	return nil
}

func (s *stubRepo) IncrementAIRedemptions(ctx context.Context, offerID uuid.UUID) error {
	s.aiIncremented = true
	return s.aiIncrementErr
}

func (s *stubRepo) GetAIOfferMetrics(ctx context.Context, offerID uuid.UUID) (*model.AIOfferMetrics, error) {
	return &model.AIOfferMetrics{OfferID: offerID}, nil
}

func (s *stubRepo) GetInactiveWallets(ctx context.Context, inactiveSince time.Time, limit int) ([]model.Wallet, error) {
	return s.inactiveWallets, nil
}

func TestRegisterUser_PropagatesDuplicateError(t *testing.T) {
	repo := &stubRepo{
		createUserErr: repository.ErrUserExists,
	}
	svc := NewService(repo, nil, nil)

	_, err := svc.RegisterUser(context.Background(), "user@example.com", "pass", model.RoleCustomer, nil)
	if !errors.Is(err, repository.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthenticateUser_InvalidCredentials(t *testing.T) {
	hashed := hashPassword("user@example.com", "correct")
	repo := &stubRepo{
		user: &model.User{
			ID:           uuid.New(),
			Email:        "user@example.com",
			PasswordHash: hashed,
			Role:         model.RoleCustomer,
		},
	}

	svc := NewService(repo, nil, nil)

	_, err := svc.AuthenticateUser(context.Background(), "user@example.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRegisterBusiness_SlugSuffixOnCollision(t *testing.T) {
	repo := &stubRepo{
		createUserID: uuid.New(),
		takenSlugs:   map[string]bool{"coffee-corner": true, "coffee-corner-1": true},
	}
	svc := NewService(repo, nil, nil)

	b, _, err := svc.RegisterBusiness(context.Background(), BusinessRegistration{
		Name:          "Coffee Corner",
		Email:         "owner@coffee.example",
		AdminPassword: "pass",
	})
	if err != nil {
		t.Fatalf("RegisterBusiness error: %v", err)
	}
	if b.Slug != "coffee-corner-2" {
		t.Fatalf("Slug = %q, want coffee-corner-2", b.Slug)
	}
	if b.PointValueCents != 1 || b.PointsPerCurrency != 1 {
		t.Fatalf("defaults not applied: %+v", b)
	}
}

func TestResolveBusiness_RejectsMalformedSlug(t *testing.T) {
	repo := &stubRepo{business: &model.Business{ID: uuid.New(), Slug: "coffee-corner"}}
	svc := NewService(repo, nil, nil)

	for _, slug := range []string{"", "Coffee Corner", "-coffee", "coffee_corner"} {
		if _, err := svc.ResolveBusiness(context.Background(), slug); !errors.Is(err, repository.ErrBusinessNotFound) {
			t.Fatalf("ResolveBusiness(%q) error = %v, want ErrBusinessNotFound", slug, err)
		}
	}
}

func TestTierForPoints(t *testing.T) {
	businessID := uuid.New()
	repo := &stubRepo{
		tiers: []model.Tier{
			{Name: "Bronze", MinimumPoints: 0},
			{Name: "Silver", MinimumPoints: 2000},
			{Name: "Gold", MinimumPoints: 8000},
		},
	}
	svc := NewService(repo, nil, nil)

	tests := []struct {
		lifetime int64
		want     string
	}{
		{0, "Bronze"},
		{1999, "Bronze"},
		{2000, "Silver"},
		{7999, "Silver"},
		{8000, "Gold"},
		{100000, "Gold"},
	}

	for _, tc := range tests {
		tier, err := svc.TierForPoints(context.Background(), businessID, tc.lifetime)
		if err != nil {
			t.Fatalf("TierForPoints(%d) error: %v", tc.lifetime, err)
		}
		if tier.Name != tc.want {
			t.Errorf("TierForPoints(%d) = %q, want %q", tc.lifetime, tier.Name, tc.want)
		}
	}
}

func TestTierForPoints_MissingBaseline(t *testing.T) {
	repo := &stubRepo{
		tiers: []model.Tier{
			{Name: "Silver", MinimumPoints: 2000},
		},
	}
	svc := NewService(repo, nil, nil)

	_, err := svc.TierForPoints(context.Background(), uuid.New(), 100)
	if !errors.Is(err, ErrTierConfigurationMissing) {
		t.Fatalf("expected ErrTierConfigurationMissing, got %v", err)
	}
}

func TestCreditPoints_RejectsNonPositiveAmount(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil)

	for _, points := range []int64{0, -10} {
		_, err := svc.CreditPoints(context.Background(), uuid.New(), uuid.New(), points, "", "")
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("CreditPoints(%d): expected ErrInvalidAmount, got %v", points, err)
		}
	}
}

func TestDebitPoints_RejectsNonPositiveAmount(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil)

	_, err := svc.DebitPoints(context.Background(), uuid.New(), uuid.New(), -5, "", "")
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestDebitPoints_PropagatesInsufficientBalance(t *testing.T) {
	repo := &stubRepo{
		wallet:   &model.Wallet{ID: uuid.New()},
		debitErr: repository.ErrInsufficientBalance,
	}
	svc := NewService(repo, nil, nil)

	_, err := svc.DebitPoints(context.Background(), uuid.New(), uuid.New(), 100, "", "")
	if !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestGenerateRedemptionCodeFormat(t *testing.T) {
	for i := 0; i < 10; i++ {
		code, err := generateRedemptionCode()
		if err != nil {
			t.Fatalf("generateRedemptionCode error: %v", err)
		}
		if !validation.IsValidRedemptionCode(code) {
			t.Fatalf("invalid redemption code %q", code)
		}
	}
}

func validOffer(businessID uuid.UUID) *model.Offer {
	return &model.Offer{
		ID:             uuid.New(),
		BusinessID:     businessID,
		Title:          "Free Coffee",
		Type:           model.OfferTypeFreeItem,
		PointsRequired: 200,
		IsActive:       true,
		ValidFrom:      time.Now().Add(-time.Hour),
	}
}

func TestRedeemOffer_InactiveOffer(t *testing.T) {
	businessID := uuid.New()
	offer := validOffer(businessID)
	offer.IsActive = false

	repo := &stubRepo{
		offer:  offer,
		wallet: &model.Wallet{ID: uuid.New(), PointsBalance: 1000},
	}
	svc := NewService(repo, nil, nil)

	_, err := svc.RedeemOffer(context.Background(), uuid.New(), businessID, offer.ID)
	if !errors.Is(err, ErrOfferNotValid) {
		t.Fatalf("expected ErrOfferNotValid, got %v", err)
	}
}

func TestRedeemOffer_ExpiredOffer(t *testing.T) {
	businessID := uuid.New()
	offer := validOffer(businessID)
	expired := time.Now().Add(-time.Minute)
	offer.ValidUntil = &expired

	repo := &stubRepo{
		offer:  offer,
		wallet: &model.Wallet{ID: uuid.New(), PointsBalance: 1000},
	}
	svc := NewService(repo, nil, nil)

	_, err := svc.RedeemOffer(context.Background(), uuid.New(), businessID, offer.ID)
	if !errors.Is(err, ErrOfferNotValid) {
		t.Fatalf("expected ErrOfferNotValid, got %v", err)
	}
}

func TestRedeemOffer_RetriesOnCodeCollision(t *testing.T) {
	businessID := uuid.New()
	offer := validOffer(businessID)

	repo := &stubRepo{
		offer:          offer,
		wallet:         &model.Wallet{ID: uuid.New(), PointsBalance: 1000},
		redemption:     &model.Redemption{ID: uuid.New(), OfferID: offer.ID},
		codeCollisions: 2,
	}
	svc := NewService(repo, nil, nil)

	red, err := svc.RedeemOffer(context.Background(), uuid.New(), businessID, offer.ID)
	if err != nil {
		t.Fatalf("RedeemOffer error: %v", err)
	}
	if red == nil {
		t.Fatalf("expected redemption")
	}
	if repo.redeemCalls != 3 {
		t.Fatalf("redeemCalls = %d, want 3", repo.redeemCalls)
	}
	if !validation.IsValidRedemptionCode(repo.lastCode) {
		t.Fatalf("invalid code passed to repository: %q", repo.lastCode)
	}
}

func TestRedeemOffer_GivesUpAfterCollisions(t *testing.T) {
	businessID := uuid.New()
	offer := validOffer(businessID)

	repo := &stubRepo{
		offer:          offer,
		wallet:         &model.Wallet{ID: uuid.New(), PointsBalance: 1000},
		codeCollisions: redemptionCodeAttempts,
	}
	svc := NewService(repo, nil, nil)

	_, err := svc.RedeemOffer(context.Background(), uuid.New(), businessID, offer.ID)
	if !errors.Is(err, repository.ErrRedemptionCodeTaken) {
		t.Fatalf("expected ErrRedemptionCodeTaken, got %v", err)
	}
}

func TestRedeemOffer_PropagatesInsufficientBalance(t *testing.T) {
	businessID := uuid.New()
	offer := validOffer(businessID)

	repo := &stubRepo{
		offer:     offer,
		wallet:    &model.Wallet{ID: uuid.New(), PointsBalance: 10},
		redeemErr: repository.ErrInsufficientBalance,
	}
	svc := NewService(repo, nil, nil)

	_, err := svc.RedeemOffer(context.Background(), uuid.New(), businessID, offer.ID)
	if !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestRedeemOffer_IncrementsAIMetrics(t *testing.T) {
	businessID := uuid.New()
	offer := validOffer(businessID)
	offer.IsAIGenerated = true

	repo := &stubRepo{
		offer:      offer,
		wallet:     &model.Wallet{ID: uuid.New(), PointsBalance: 1000},
		redemption: &model.Redemption{ID: uuid.New(), OfferID: offer.ID},
	}
	svc := NewService(repo, nil, nil)

	if _, err := svc.RedeemOffer(context.Background(), uuid.New(), businessID, offer.ID); err != nil {
		t.Fatalf("RedeemOffer error: %v", err)
	}
	if !repo.aiIncremented {
		t.Fatalf("expected AI redemptions counter to be incremented")
	}
}

func TestRedeemOffer_MetricsFailureDoesNotFailRedemption(t *testing.T) {
	businessID := uuid.New()
	offer := validOffer(businessID)
	offer.IsAIGenerated = true

	repo := &stubRepo{
		offer:          offer,
		wallet:         &model.Wallet{ID: uuid.New(), PointsBalance: 1000},
		redemption:     &model.Redemption{ID: uuid.New(), OfferID: offer.ID},
		aiIncrementErr: errors.New("metrics unavailable"),
	}
	svc := NewService(repo, nil, nil)

	red, err := svc.RedeemOffer(context.Background(), uuid.New(), businessID, offer.ID)
	if err != nil {
		t.Fatalf("RedeemOffer error: %v", err)
	}
	if red == nil {
		t.Fatalf("expected redemption despite metrics failure")
	}
}
