package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/loyalty-platform/internal/model"
)

// UpsertSegment создаёт клиентский сегмент или обновляет его описание и критерии.
func (r *PostgresRepository) UpsertSegment(ctx context.Context, s *model.Segment) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO customer_segments (id, business_id, name, description, segment_type, criteria, is_ai_generated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (business_id, name) DO UPDATE
		 SET description = EXCLUDED.description,
		     segment_type = EXCLUDED.segment_type,
		     criteria = EXCLUDED.criteria`,
		s.ID, s.BusinessID, s.Name, s.Description, string(s.Type), s.Criteria, s.IsAIGenerated,
	)
	if err != nil {
		return fmt.Errorf("upsert segment: %w", err)
	}
	return nil
}

// GetSegmentsByBusiness возвращает сегменты бизнеса.
func (r *PostgresRepository) GetSegmentsByBusiness(ctx context.Context, businessID uuid.UUID) ([]model.Segment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, business_id, name, description, segment_type, criteria, is_ai_generated, created_at
		 FROM customer_segments
		 WHERE business_id = $1
		 ORDER BY name`,
		businessID,
	)
	if err != nil {
		return nil, fmt.Errorf("select segments: %w", err)
	}
	defer rows.Close()

	var res []model.Segment
	for rows.Next() {
		var s model.Segment
		var segmentType string
		if err := rows.Scan(&s.ID, &s.BusinessID, &s.Name, &s.Description, &segmentType, &s.Criteria, &s.IsAIGenerated, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		s.Type = model.SegmentType(segmentType)
		res = append(res, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateChurnPrediction сохраняет оценку риска оттока по счёту.
func (r *PostgresRepository) CreateChurnPrediction(ctx context.Context, p *model.ChurnPrediction) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO churn_predictions (id, wallet_id, churn_risk_score, days_since_last_activity, engagement_score)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.WalletID, p.ChurnRiskScore, p.DaysSinceLastActivity, p.EngagementScore,
	)
	if err != nil {
		return fmt.Errorf("insert churn prediction: %w", err)
	}
	return nil
}

// EnsureAIOfferMetrics создаёт строку счётчиков для AI-предложения.
func (r *PostgresRepository) EnsureAIOfferMetrics(ctx context.Context, offerID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO ai_offer_metrics (offer_id) VALUES ($1) ON CONFLICT (offer_id) DO NOTHING`,
		offerID,
	)
	if err != nil {
		return fmt.Errorf("insert ai offer metrics: %w", err)
	}
	return nil
}

// IncrementAIRedemptions увеличивает счётчик погашений AI-предложения.
// Отсутствие строки счётчиков не является ошибкой: предложение не AI-сгенерировано.
func (r *PostgresRepository) IncrementAIRedemptions(ctx context.Context, offerID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE ai_offer_metrics SET redemptions = redemptions + 1 WHERE offer_id = $1`,
		offerID,
	)
	if err != nil {
		return fmt.Errorf("increment ai redemptions: %w", err)
	}
	return nil
}

// GetAIOfferMetrics возвращает счётчики AI-предложения. Для предложения без
// строки счётчиков возвращаются нулевые значения.
func (r *PostgresRepository) GetAIOfferMetrics(ctx context.Context, offerID uuid.UUID) (*model.AIOfferMetrics, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT offer_id, impressions, clicks, redemptions FROM ai_offer_metrics WHERE offer_id = $1`,
		offerID,
	)

	var m model.AIOfferMetrics
	if err := row.Scan(&m.OfferID, &m.Impressions, &m.Clicks, &m.Redemptions); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.AIOfferMetrics{OfferID: offerID}, nil
		}
		return nil, fmt.Errorf("get ai offer metrics: %w", err)
	}

	return &m, nil
}

// GetInactiveWallets возвращает счета без активности после указанного момента.
// Используется фоновым пересчётом риска оттока.
func (r *PostgresRepository) GetInactiveWallets(ctx context.Context, inactiveSince time.Time, limit int) ([]model.Wallet, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+walletColumns+`
		 FROM wallets
		 WHERE last_activity < $1
		 ORDER BY last_activity
		 LIMIT $2`,
		inactiveSince, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select inactive wallets: %w", err)
	}
	defer rows.Close()

	var res []model.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
