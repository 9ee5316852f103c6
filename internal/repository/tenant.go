package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/loyalty-platform/internal/model"
)

// CreateBusiness создаёт бизнес вместе с конфигурацией и базовым уровнем
// лояльности (порог 0) в одной транзакции. Слаг должен быть уникален;
// подбор свободного слага выполняет вызывающая сторона через SlugExists.
func (r *PostgresRepository) CreateBusiness(ctx context.Context, b *model.Business, baselineTierName string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO businesses (id, name, slug, email, phone, category, description, point_value_cents, points_per_currency, is_verified, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.Name, b.Slug, b.Email, b.Phone, string(b.Category), b.Description,
		b.PointValueCents, b.PointsPerCurrency, b.IsVerified, b.IsActive,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrBusinessExists, b.Slug)
		}
		return fmt.Errorf("insert business: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO business_configs (business_id) VALUES ($1)`,
		b.ID,
	)
	if err != nil {
		return fmt.Errorf("insert business config: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO loyalty_tiers (id, business_id, name, minimum_points) VALUES ($1, $2, $3, 0)`,
		uuid.New(), b.ID, baselineTierName,
	)
	if err != nil {
		return fmt.Errorf("insert baseline tier: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// SlugExists сообщает, занят ли слаг бизнеса.
func (r *PostgresRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM businesses WHERE slug = $1)`,
		slug,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return exists, nil
}

func scanBusiness(row pgx.Row) (*model.Business, error) {
	var b model.Business
	var category string
	err := row.Scan(
		&b.ID, &b.Name, &b.Slug, &b.Email, &b.Phone, &category, &b.Description,
		&b.PointValueCents, &b.PointsPerCurrency, &b.IsVerified, &b.IsActive, &b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBusinessNotFound
		}
		return nil, fmt.Errorf("scan business: %w", err)
	}
	b.Category = model.BusinessCategory(category)
	return &b, nil
}

const businessColumns = `id, name, slug, email, phone, category, description,
	 point_value_cents, points_per_currency, is_verified, is_active, created_at`

// GetBusinessBySlug возвращает активный бизнес по слагу.
func (r *PostgresRepository) GetBusinessBySlug(ctx context.Context, slug string) (*model.Business, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE slug = $1 AND is_active`,
		slug,
	)
	return scanBusiness(row)
}

// GetBusinessConfig возвращает конфигурацию бизнеса.
func (r *PostgresRepository) GetBusinessConfig(ctx context.Context, businessID uuid.UUID) (*model.BusinessConfig, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT business_id, primary_color, secondary_color, accent_color,
		        enable_point_expiry, point_expiry_days,
		        enable_cross_business_redemption, cross_business_conversion_rate_percent
		 FROM business_configs WHERE business_id = $1`,
		businessID,
	)

	var c model.BusinessConfig
	err := row.Scan(
		&c.BusinessID, &c.PrimaryColor, &c.SecondaryColor, &c.AccentColor,
		&c.EnablePointExpiry, &c.PointExpiryDays,
		&c.EnableCrossBusinessRedemption, &c.CrossBusinessConversionRatePercent,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBusinessNotFound
		}
		return nil, fmt.Errorf("get business config: %w", err)
	}

	return &c, nil
}

// UpdateBusinessConfig обновляет конфигурацию бизнеса.
func (r *PostgresRepository) UpdateBusinessConfig(ctx context.Context, c *model.BusinessConfig) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE business_configs
		 SET primary_color = $2, secondary_color = $3, accent_color = $4,
		     enable_point_expiry = $5, point_expiry_days = $6,
		     enable_cross_business_redemption = $7, cross_business_conversion_rate_percent = $8
		 WHERE business_id = $1`,
		c.BusinessID, c.PrimaryColor, c.SecondaryColor, c.AccentColor,
		c.EnablePointExpiry, c.PointExpiryDays,
		c.EnableCrossBusinessRedemption, c.CrossBusinessConversionRatePercent,
	)
	if err != nil {
		return fmt.Errorf("update business config: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrBusinessNotFound
	}
	return nil
}

// CreateTier создаёт уровень лояльности бизнеса.
func (r *PostgresRepository) CreateTier(ctx context.Context, t *model.Tier) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO loyalty_tiers (id, business_id, name, description, minimum_points, point_multiplier_percent,
		                            special_offers, priority_support, exclusive_events, color_code)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.BusinessID, t.Name, t.Description, t.MinimumPoints, t.PointMultiplierPercent,
		t.SpecialOffers, t.PrioritySupport, t.ExclusiveEvents, t.ColorCode,
	)
	if err != nil {
		return fmt.Errorf("insert tier: %w", err)
	}
	return nil
}

// GetTiers возвращает уровни лояльности бизнеса по возрастанию порога.
func (r *PostgresRepository) GetTiers(ctx context.Context, businessID uuid.UUID) ([]model.Tier, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, business_id, name, description, minimum_points, point_multiplier_percent,
		        special_offers, priority_support, exclusive_events, color_code, created_at
		 FROM loyalty_tiers
		 WHERE business_id = $1
		 ORDER BY minimum_points`,
		businessID,
	)
	if err != nil {
		return nil, fmt.Errorf("select tiers: %w", err)
	}
	defer rows.Close()

	var tiers []model.Tier
	for rows.Next() {
		var t model.Tier
		if err := rows.Scan(
			&t.ID, &t.BusinessID, &t.Name, &t.Description, &t.MinimumPoints, &t.PointMultiplierPercent,
			&t.SpecialOffers, &t.PrioritySupport, &t.ExclusiveEvents, &t.ColorCode, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		tiers = append(tiers, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return tiers, nil
}
