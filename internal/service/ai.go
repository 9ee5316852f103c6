package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-platform/internal/ai"
	"github.com/mmeshcher/loyalty-platform/internal/model"
	"github.com/mmeshcher/loyalty-platform/internal/repository"
)

const (
	churnRefreshBatchSize = 100
	// Счета без активности дольше этого срока попадают в фоновый пересчёт риска оттока.
	churnInactivityWindow = 30 * 24 * time.Hour
)

func (s *Service) walletSnapshot(ctx context.Context, customerID, businessID uuid.UUID) (ai.WalletSnapshot, error) {
	wallet, err := s.repo.GetWallet(ctx, customerID, businessID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return ai.WalletSnapshot{}, nil
		}
		return ai.WalletSnapshot{}, err
	}

	return ai.WalletSnapshot{
		HasWallet:      true,
		PointsBalance:  wallet.PointsBalance,
		LifetimePoints: wallet.LifetimePoints,
		LastActivity:   wallet.LastActivity,
	}, nil
}

// GeneratePersonalizedOffer создаёт персонализированное предложение для клиента
// и сохраняет его вместе со строкой метрик. Предложение помечается как
// AI-сгенерированное.
func (s *Service) GeneratePersonalizedOffer(ctx context.Context, customerID, businessID uuid.UUID, aiCtx ai.Context) (*model.Offer, error) {
	if s.aiProv == nil {
		return nil, ErrAIServiceDisabled
	}

	snapshot, err := s.walletSnapshot(ctx, customerID, businessID)
	if err != nil {
		return nil, err
	}

	draft := s.aiProv.GenerateOffer(aiCtx, snapshot)

	now := time.Now()
	validUntil := now.Add(draft.ValidFor)
	offer := &model.Offer{
		ID:                     uuid.New(),
		BusinessID:             businessID,
		Title:                  draft.Title,
		Description:            draft.Description,
		Type:                   draft.Type,
		PointsRequired:         draft.PointsRequired,
		DiscountPercentage:     draft.DiscountPercentage,
		PointsMultiplierTenths: draft.PointsMultiplierTenths,
		FreeItemDescription:    draft.FreeItemDescription,
		IsActive:               true,
		ValidFrom:              now,
		ValidUntil:             &validUntil,
		IsAIGenerated:          true,
	}

	if err := s.repo.CreateOffer(ctx, offer); err != nil {
		return nil, err
	}

	if err := s.repo.EnsureAIOfferMetrics(ctx, offer.ID); err != nil {
		s.logger.Warn("ensure ai offer metrics failed",
			zap.String("offerID", offer.ID.String()), zap.Error(err))
	}

	return offer, nil
}

// PredictChurn оценивает риск оттока клиента и сохраняет предсказание.
func (s *Service) PredictChurn(ctx context.Context, customerID, businessID uuid.UUID) (*model.ChurnPrediction, error) {
	if s.aiProv == nil {
		return nil, ErrAIServiceDisabled
	}

	wallet, err := s.repo.GetWallet(ctx, customerID, businessID)
	if err != nil {
		return nil, err
	}

	return s.predictWalletChurn(ctx, wallet)
}

func (s *Service) predictWalletChurn(ctx context.Context, wallet *model.Wallet) (*model.ChurnPrediction, error) {
	score := s.aiProv.ScoreChurn(ai.WalletSnapshot{
		HasWallet:      true,
		PointsBalance:  wallet.PointsBalance,
		LifetimePoints: wallet.LifetimePoints,
		LastActivity:   wallet.LastActivity,
	}, time.Now())

	prediction := &model.ChurnPrediction{
		ID:                    uuid.New(),
		WalletID:              wallet.ID,
		ChurnRiskScore:        score.Risk,
		DaysSinceLastActivity: score.DaysSinceLastActivity,
		EngagementScore:       score.Engagement,
		PredictedAt:           time.Now(),
	}

	if err := s.repo.CreateChurnPrediction(ctx, prediction); err != nil {
		return nil, err
	}

	return prediction, nil
}

// ChatbotReply формирует ответ чат-бота на запрос клиента.
func (s *Service) ChatbotReply(ctx context.Context, customerID, businessID uuid.UUID, query string) (string, error) {
	if s.aiProv == nil {
		return "", ErrAIServiceDisabled
	}

	snapshot, err := s.walletSnapshot(ctx, customerID, businessID)
	if err != nil {
		return "", err
	}

	offers, err := s.repo.GetActiveOffers(ctx, businessID, 3)
	if err != nil {
		return "", err
	}

	summaries := make([]ai.OfferSummary, 0, len(offers))
	for _, o := range offers {
		summaries = append(summaries, ai.OfferSummary{
			Title:          o.Title,
			PointsRequired: o.PointsRequired,
		})
	}

	return s.aiProv.Respond(query, snapshot, summaries), nil
}

// CreateSegments создаёт стандартный набор клиентских сегментов бизнеса.
// Повторный вызов обновляет существующие сегменты.
func (s *Service) CreateSegments(ctx context.Context, businessID uuid.UUID) ([]model.Segment, error) {
	if s.aiProv == nil {
		return nil, ErrAIServiceDisabled
	}

	for _, draft := range ai.DefaultSegments() {
		segment := &model.Segment{
			ID:            uuid.New(),
			BusinessID:    businessID,
			Name:          draft.Name,
			Description:   draft.Description,
			Type:          draft.Type,
			Criteria:      draft.Criteria,
			IsAIGenerated: true,
		}
		if err := s.repo.UpsertSegment(ctx, segment); err != nil {
			return nil, err
		}
	}

	return s.repo.GetSegmentsByBusiness(ctx, businessID)
}

// GetOfferMetrics возвращает счётчики эффективности предложения бизнеса.
func (s *Service) GetOfferMetrics(ctx context.Context, businessID, offerID uuid.UUID) (*model.AIOfferMetrics, error) {
	if _, err := s.repo.GetOffer(ctx, businessID, offerID); err != nil {
		return nil, err
	}
	return s.repo.GetAIOfferMetrics(ctx, offerID)
}

// StartChurnRefresh выполняет фоновый пересчёт риска оттока для счетов без
// недавней активности до отмены контекста. Пересчёт выполняется вне
// транзакций леджера и не влияет на операции с баллами.
func (s *Service) StartChurnRefresh(ctx context.Context, interval time.Duration) {
	if s.aiProv == nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshChurnBatch(ctx)
		}
	}
}

func (s *Service) refreshChurnBatch(ctx context.Context) {
	inactiveSince := time.Now().Add(-churnInactivityWindow)

	wallets, err := s.repo.GetInactiveWallets(ctx, inactiveSince, churnRefreshBatchSize)
	if err != nil {
		s.logger.Warn("select inactive wallets failed", zap.Error(err))
		return
	}

	for i := range wallets {
		if _, err := s.predictWalletChurn(ctx, &wallets[i]); err != nil {
			s.logger.Warn("refresh churn prediction failed",
				zap.String("walletID", wallets[i].ID.String()), zap.Error(err))
		}
	}
}
