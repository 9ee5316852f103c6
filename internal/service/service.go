// Package service реализует бизнес-логику платформы лояльности.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-platform/internal/ai"
	"github.com/mmeshcher/loyalty-platform/internal/model"
	"github.com/mmeshcher/loyalty-platform/internal/repository"
	"github.com/mmeshcher/loyalty-platform/internal/validation"
)

// ErrInvalidAmount возвращается при неположительном количестве баллов.
var (
	ErrInvalidAmount = errors.New("points amount must be positive")
	// ErrInvalidCredentials возвращается при неверной паре email/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrOfferNotValid возвращается для неактивного или истёкшего предложения.
	ErrOfferNotValid = errors.New("offer is expired or inactive")
	// ErrTierConfigurationMissing возвращается, если у бизнеса нет базового уровня с порогом 0.
	ErrTierConfigurationMissing = errors.New("tier configuration missing")
	// ErrAIServiceDisabled возвращается, когда AI-функции выключены конфигурацией.
	ErrAIServiceDisabled = errors.New("ai service is disabled")
)

const (
	baselineTierName     = "Bronze"
	redemptionCodeLength = 8
	redemptionCodeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// Количество попыток при коллизии кода погашения.
	redemptionCodeAttempts = 3
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, email string, passwordHash []byte, role model.Role, tenantID *uuid.UUID) (uuid.UUID, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)

	CreateBusiness(ctx context.Context, b *model.Business, baselineTierName string) error
	SlugExists(ctx context.Context, slug string) (bool, error)
	GetBusinessBySlug(ctx context.Context, slug string) (*model.Business, error)
	GetBusinessConfig(ctx context.Context, businessID uuid.UUID) (*model.BusinessConfig, error)
	UpdateBusinessConfig(ctx context.Context, c *model.BusinessConfig) error

	CreateTier(ctx context.Context, t *model.Tier) error
	GetTiers(ctx context.Context, businessID uuid.UUID) ([]model.Tier, error)

	GetOrCreateWallet(ctx context.Context, customerID, businessID uuid.UUID) (*model.Wallet, error)
	GetWallet(ctx context.Context, customerID, businessID uuid.UUID) (*model.Wallet, error)
	GetWalletByID(ctx context.Context, walletID uuid.UUID) (*model.Wallet, error)
	CreditWallet(ctx context.Context, walletID uuid.UUID, points int64, kind model.TransactionKind, description, reference string) (*model.Wallet, error)
	DebitWallet(ctx context.Context, walletID uuid.UUID, points int64, kind model.TransactionKind, description, reference string) (*model.Wallet, error)
	GetTransactionsByWallet(ctx context.Context, walletID uuid.UUID) ([]model.Transaction, error)

	CreateOffer(ctx context.Context, o *model.Offer) error
	GetOffer(ctx context.Context, businessID, offerID uuid.UUID) (*model.Offer, error)
	GetActiveOffers(ctx context.Context, businessID uuid.UUID, limit int) ([]model.Offer, error)

	RedeemOffer(ctx context.Context, walletID uuid.UUID, offer *model.Offer, code string) (*model.Redemption, error)
	GetRedemption(ctx context.Context, id uuid.UUID) (*model.Redemption, error)
	MarkRedemptionUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) (*model.Redemption, error)
	GetRedemptionsByWallet(ctx context.Context, walletID uuid.UUID) ([]model.Redemption, error)

	UpsertSegment(ctx context.Context, s *model.Segment) error
	GetSegmentsByBusiness(ctx context.Context, businessID uuid.UUID) ([]model.Segment, error)
	CreateChurnPrediction(ctx context.Context, p *model.ChurnPrediction) error
	EnsureAIOfferMetrics(ctx context.Context, offerID uuid.UUID) error
	IncrementAIRedemptions(ctx context.Context, offerID uuid.UUID) error
	GetAIOfferMetrics(ctx context.Context, offerID uuid.UUID) (*model.AIOfferMetrics, error)
	GetInactiveWallets(ctx context.Context, inactiveSince time.Time, limit int) ([]model.Wallet, error)
}

// AIProvider объединяет стратегии персонализации, подставляемые в сервис.
type AIProvider interface {
	ai.OfferGenerator
	ai.ChurnScorer
	ai.ChatResponder
}

// Service содержит бизнес-логику платформы лояльности.
type Service struct {
	repo   Repository
	aiProv AIProvider
	logger *zap.Logger
}

// NewService создаёт новый сервис. aiProvider может быть nil — тогда
// AI-функции отключены, леджер работает без них.
func NewService(repo Repository, aiProvider AIProvider, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		aiProv: aiProvider,
		logger: logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя с указанной ролью.
func (s *Service) RegisterUser(ctx context.Context, email, password string, role model.Role, tenantID *uuid.UUID) (uuid.UUID, error) {
	hashed := hashPassword(email, password)
	return s.repo.CreateUser(ctx, email, hashed, role, tenantID)
}

// AuthenticateUser проверяет email и пароль и возвращает пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	hashed := hashPassword(email, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func hashPassword(email, password string) []byte {
	sum := sha256.Sum256([]byte(email + ":" + password))
	return sum[:]
}

// BusinessRegistration содержит данные для регистрации бизнеса.
type BusinessRegistration struct {
	Name              string
	Email             string
	Phone             string
	Category          model.BusinessCategory
	Description       string
	AdminPassword     string
	PointValueCents   int64
	PointsPerCurrency int64
}

// RegisterBusiness создаёт бизнес с конфигурацией, базовым уровнем лояльности
// и администратором. Слаг выводится из названия, уникальность обеспечивается
// числовым суффиксом.
func (s *Service) RegisterBusiness(ctx context.Context, reg BusinessRegistration) (*model.Business, uuid.UUID, error) {
	slug, err := s.freeSlug(ctx, reg.Name)
	if err != nil {
		return nil, uuid.Nil, err
	}

	if reg.PointValueCents <= 0 {
		reg.PointValueCents = 1
	}
	if reg.PointsPerCurrency <= 0 {
		reg.PointsPerCurrency = 1
	}
	if reg.Category == "" {
		reg.Category = model.CategoryOther
	}

	b := &model.Business{
		ID:                uuid.New(),
		Name:              reg.Name,
		Slug:              slug,
		Email:             reg.Email,
		Phone:             reg.Phone,
		Category:          reg.Category,
		Description:       reg.Description,
		PointValueCents:   reg.PointValueCents,
		PointsPerCurrency: reg.PointsPerCurrency,
		IsActive:          true,
	}

	if err := s.repo.CreateBusiness(ctx, b, baselineTierName); err != nil {
		return nil, uuid.Nil, err
	}

	adminID, err := s.RegisterUser(ctx, reg.Email, reg.AdminPassword, model.RoleBusinessAdmin, &b.ID)
	if err != nil {
		return nil, uuid.Nil, err
	}

	return b, adminID, nil
}

func (s *Service) freeSlug(ctx context.Context, name string) (string, error) {
	base := validation.Slugify(name)
	if base == "" {
		base = "business"
	}

	candidate := base
	for counter := 1; ; counter++ {
		taken, err := s.repo.SlugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, counter)
	}
}

// ResolveBusiness возвращает активный бизнес по слагу. Некорректный слаг
// отсекается до обращения к базе.
func (s *Service) ResolveBusiness(ctx context.Context, slug string) (*model.Business, error) {
	if !validation.IsValidSlug(slug) {
		return nil, repository.ErrBusinessNotFound
	}
	return s.repo.GetBusinessBySlug(ctx, slug)
}

// GetBusinessConfig возвращает конфигурацию бизнеса.
func (s *Service) GetBusinessConfig(ctx context.Context, businessID uuid.UUID) (*model.BusinessConfig, error) {
	return s.repo.GetBusinessConfig(ctx, businessID)
}

// UpdateBusinessConfig обновляет конфигурацию бизнеса.
func (s *Service) UpdateBusinessConfig(ctx context.Context, c *model.BusinessConfig) error {
	return s.repo.UpdateBusinessConfig(ctx, c)
}

// CreateTier создаёт уровень лояльности бизнеса.
func (s *Service) CreateTier(ctx context.Context, t *model.Tier) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.PointMultiplierPercent <= 0 {
		t.PointMultiplierPercent = 100
	}
	return s.repo.CreateTier(ctx, t)
}

// GetTiers возвращает уровни лояльности бизнеса по возрастанию порога.
func (s *Service) GetTiers(ctx context.Context, businessID uuid.UUID) ([]model.Tier, error) {
	return s.repo.GetTiers(ctx, businessID)
}

// TierForPoints возвращает уровень с максимальным порогом, не превышающим
// накопленные баллы. Если не подходит ни один уровень, значит у бизнеса нет
// базового уровня с порогом 0 — это ошибка конфигурации.
func (s *Service) TierForPoints(ctx context.Context, businessID uuid.UUID, lifetimePoints int64) (*model.Tier, error) {
	tiers, err := s.repo.GetTiers(ctx, businessID)
	if err != nil {
		return nil, err
	}

	for i := len(tiers) - 1; i >= 0; i-- {
		if tiers[i].MinimumPoints <= lifetimePoints {
			return &tiers[i], nil
		}
	}

	return nil, ErrTierConfigurationMissing
}

// GetOrCreateWallet возвращает счёт клиента у бизнеса, создавая его при первом обращении.
func (s *Service) GetOrCreateWallet(ctx context.Context, customerID, businessID uuid.UUID) (*model.Wallet, error) {
	return s.repo.GetOrCreateWallet(ctx, customerID, businessID)
}

// GetWalletByID возвращает счёт по идентификатору.
func (s *Service) GetWalletByID(ctx context.Context, walletID uuid.UUID) (*model.Wallet, error) {
	return s.repo.GetWalletByID(ctx, walletID)
}

// CreditPoints начисляет баллы клиенту у бизнеса. Счёт создаётся при первом
// начислении. Количество баллов должно быть положительным.
func (s *Service) CreditPoints(ctx context.Context, customerID, businessID uuid.UUID, points int64, kind model.TransactionKind, description string) (*model.Wallet, error) {
	if points <= 0 {
		return nil, ErrInvalidAmount
	}
	if kind == "" {
		kind = model.TransactionEarn
	}

	wallet, err := s.repo.GetOrCreateWallet(ctx, customerID, businessID)
	if err != nil {
		return nil, err
	}

	return s.repo.CreditWallet(ctx, wallet.ID, points, kind, description, "")
}

// DebitPoints списывает баллы со счёта клиента у бизнеса.
func (s *Service) DebitPoints(ctx context.Context, customerID, businessID uuid.UUID, points int64, kind model.TransactionKind, description string) (*model.Wallet, error) {
	if points <= 0 {
		return nil, ErrInvalidAmount
	}
	if kind == "" {
		kind = model.TransactionRedeem
	}

	wallet, err := s.repo.GetWallet(ctx, customerID, businessID)
	if err != nil {
		return nil, err
	}

	return s.repo.DebitWallet(ctx, wallet.ID, points, kind, description, "")
}

// GetTransactions возвращает историю операций по счёту.
func (s *Service) GetTransactions(ctx context.Context, walletID uuid.UUID) ([]model.Transaction, error) {
	return s.repo.GetTransactionsByWallet(ctx, walletID)
}

// CreateOffer создаёт акционное предложение бизнеса.
func (s *Service) CreateOffer(ctx context.Context, o *model.Offer) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Type == "" {
		o.Type = model.OfferTypeDiscount
	}
	if o.ValidFrom.IsZero() {
		o.ValidFrom = time.Now()
	}
	return s.repo.CreateOffer(ctx, o)
}

// GetActiveOffers возвращает активные предложения бизнеса.
func (s *Service) GetActiveOffers(ctx context.Context, businessID uuid.UUID, limit int) ([]model.Offer, error) {
	return s.repo.GetActiveOffers(ctx, businessID, limit)
}

// RedeemOffer обменивает баллы клиента на предложение бизнеса: проверяет
// предложение и счёт, списывает баллы и создаёт погашение с кодом одной
// транзакцией. Счётчик погашений AI-предложения обновляется после фиксации
// и не влияет на результат операции.
func (s *Service) RedeemOffer(ctx context.Context, customerID, businessID, offerID uuid.UUID) (*model.Redemption, error) {
	offer, err := s.repo.GetOffer(ctx, businessID, offerID)
	if err != nil {
		return nil, err
	}

	wallet, err := s.repo.GetWallet(ctx, customerID, businessID)
	if err != nil {
		return nil, err
	}

	if !offer.IsValid(time.Now()) {
		return nil, ErrOfferNotValid
	}

	var redemption *model.Redemption
	for attempt := 0; attempt < redemptionCodeAttempts; attempt++ {
		code, err := generateRedemptionCode()
		if err != nil {
			return nil, err
		}

		redemption, err = s.repo.RedeemOffer(ctx, wallet.ID, offer, code)
		if err != nil {
			if errors.Is(err, repository.ErrRedemptionCodeTaken) {
				continue
			}
			return nil, err
		}
		break
	}
	if redemption == nil {
		return nil, fmt.Errorf("generate unique redemption code: %w", repository.ErrRedemptionCodeTaken)
	}

	if offer.IsAIGenerated {
		if err := s.repo.IncrementAIRedemptions(ctx, offer.ID); err != nil {
			s.logger.Warn("increment ai redemptions failed",
				zap.String("offerID", offer.ID.String()), zap.Error(err))
		}
	}

	return redemption, nil
}

func generateRedemptionCode() (string, error) {
	code := make([]byte, redemptionCodeLength)
	max := big.NewInt(int64(len(redemptionCodeChars)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate redemption code: %w", err)
		}
		code[i] = redemptionCodeChars[n.Int64()]
	}
	return string(code), nil
}

// MarkRedemptionUsed отмечает погашение использованным. Операция идемпотентна.
func (s *Service) MarkRedemptionUsed(ctx context.Context, id uuid.UUID) (*model.Redemption, error) {
	return s.repo.MarkRedemptionUsed(ctx, id, time.Now())
}

// GetRedemption возвращает погашение по идентификатору.
func (s *Service) GetRedemption(ctx context.Context, id uuid.UUID) (*model.Redemption, error) {
	return s.repo.GetRedemption(ctx, id)
}

// GetRedemptionsByWallet возвращает погашения по счёту.
func (s *Service) GetRedemptionsByWallet(ctx context.Context, walletID uuid.UUID) ([]model.Redemption, error) {
	return s.repo.GetRedemptionsByWallet(ctx, walletID)
}
