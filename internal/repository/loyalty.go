package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/loyalty-platform/internal/model"
)

const walletColumns = `id, customer_id, business_id, points_balance, lifetime_points,
	 current_tier_id, oldest_active_points, last_activity, created_at`

func scanWallet(row pgx.Row) (*model.Wallet, error) {
	var w model.Wallet
	err := row.Scan(
		&w.ID, &w.CustomerID, &w.BusinessID, &w.PointsBalance, &w.LifetimePoints,
		&w.CurrentTierID, &w.OldestActivePoints, &w.LastActivity, &w.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	return &w, nil
}

// GetOrCreateWallet возвращает счёт клиента у бизнеса, создавая его при первом обращении.
func (r *PostgresRepository) GetOrCreateWallet(ctx context.Context, customerID, businessID uuid.UUID) (*model.Wallet, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO wallets (id, customer_id, business_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (customer_id, business_id) DO NOTHING`,
		uuid.New(), customerID, businessID,
	)
	if err != nil {
		// Нарушение внешнего ключа означает несуществующего клиента:
		// бизнес к этому моменту уже проверен по слагу.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("insert wallet: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE customer_id = $1 AND business_id = $2`,
		customerID, businessID,
	)
	return scanWallet(row)
}

// GetWallet возвращает счёт клиента у бизнеса без создания.
func (r *PostgresRepository) GetWallet(ctx context.Context, customerID, businessID uuid.UUID) (*model.Wallet, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE customer_id = $1 AND business_id = $2`,
		customerID, businessID,
	)
	return scanWallet(row)
}

// GetWalletByID возвращает счёт по идентификатору.
func (r *PostgresRepository) GetWalletByID(ctx context.Context, walletID uuid.UUID) (*model.Wallet, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1`,
		walletID,
	)
	return scanWallet(row)
}

// lockWallet блокирует строку счёта до конца транзакции.
// Блокировка сериализует конкурентные начисления и списания по одному счёту:
// проверка баланса и его изменение видят только зафиксированное состояние.
func lockWallet(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (*model.Wallet, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`,
		walletID,
	)
	return scanWallet(row)
}

func insertTransaction(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, points int64, kind model.TransactionKind, description, reference string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO wallet_transactions (id, wallet_id, points, kind, description, reference)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), walletID, points, string(kind), description, reference,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// CreditWallet начисляет баллы на счёт: увеличивает баланс и накопленные баллы,
// пересчитывает уровень лояльности по накопленным баллам и добавляет запись
// в историю операций. Выполняется как одна транзакция.
func (r *PostgresRepository) CreditWallet(ctx context.Context, walletID uuid.UUID, points int64, kind model.TransactionKind, description, reference string) (*model.Wallet, error) {
	var wallet *model.Wallet

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		w, err := lockWallet(ctx, tx, walletID)
		if err != nil {
			return err
		}

		newLifetime := w.LifetimePoints + points

		// Уровень — максимальный порог, не превышающий накопленные баллы.
		var tierID *uuid.UUID
		var tid uuid.UUID
		err = tx.QueryRow(ctx,
			`SELECT id FROM loyalty_tiers
			 WHERE business_id = $1 AND minimum_points <= $2
			 ORDER BY minimum_points DESC
			 LIMIT 1`,
			w.BusinessID, newLifetime,
		).Scan(&tid)
		switch {
		case err == nil:
			tierID = &tid
		case errors.Is(err, pgx.ErrNoRows):
			// У бизнеса нет подходящего уровня, счёт остаётся без уровня.
		default:
			return fmt.Errorf("select tier: %w", err)
		}

		row := tx.QueryRow(ctx,
			`UPDATE wallets
			 SET points_balance = points_balance + $2,
			     lifetime_points = lifetime_points + $2,
			     current_tier_id = $3,
			     oldest_active_points = COALESCE(oldest_active_points, now()),
			     last_activity = now()
			 WHERE id = $1
			 RETURNING `+walletColumns,
			walletID, points, tierID,
		)
		if wallet, err = scanWallet(row); err != nil {
			return err
		}

		if err := insertTransaction(ctx, tx, walletID, points, kind, description, reference); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return wallet, nil
}

// DebitWallet списывает баллы со счёта. Накопленные баллы и уровень не меняются.
// При недостаточном балансе возвращает ErrInsufficientBalance без побочных эффектов.
func (r *PostgresRepository) DebitWallet(ctx context.Context, walletID uuid.UUID, points int64, kind model.TransactionKind, description, reference string) (*model.Wallet, error) {
	var wallet *model.Wallet

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		w, err := lockWallet(ctx, tx, walletID)
		if err != nil {
			return err
		}

		if w.PointsBalance < points {
			return ErrInsufficientBalance
		}

		row := tx.QueryRow(ctx,
			`UPDATE wallets
			 SET points_balance = points_balance - $2,
			     last_activity = now()
			 WHERE id = $1
			 RETURNING `+walletColumns,
			walletID, points,
		)
		if wallet, err = scanWallet(row); err != nil {
			return err
		}

		if err := insertTransaction(ctx, tx, walletID, -points, kind, description, reference); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return wallet, nil
}

// GetTransactionsByWallet возвращает историю операций по счёту, новые первыми.
func (r *PostgresRepository) GetTransactionsByWallet(ctx context.Context, walletID uuid.UUID) ([]model.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, wallet_id, points, kind, description, reference, created_at
		 FROM wallet_transactions
		 WHERE wallet_id = $1
		 ORDER BY created_at DESC`,
		walletID,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var kind string
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Points, &kind, &t.Description, &t.Reference, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Kind = model.TransactionKind(kind)
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

const offerColumns = `id, business_id, title, description, type, points_required,
	 discount_percentage, discount_amount_cents, points_multiplier_tenths, free_item_description,
	 is_active, valid_from, valid_until, specific_tier_id, is_ai_generated, created_at`

func scanOffer(row pgx.Row) (*model.Offer, error) {
	var o model.Offer
	var offerType string
	err := row.Scan(
		&o.ID, &o.BusinessID, &o.Title, &o.Description, &offerType, &o.PointsRequired,
		&o.DiscountPercentage, &o.DiscountAmountCents, &o.PointsMultiplierTenths, &o.FreeItemDescription,
		&o.IsActive, &o.ValidFrom, &o.ValidUntil, &o.SpecificTierID, &o.IsAIGenerated, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOfferNotFound
		}
		return nil, fmt.Errorf("scan offer: %w", err)
	}
	o.Type = model.OfferType(offerType)
	return &o, nil
}

// CreateOffer создаёт акционное предложение бизнеса.
func (r *PostgresRepository) CreateOffer(ctx context.Context, o *model.Offer) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO offers (id, business_id, title, description, type, points_required,
		                     discount_percentage, discount_amount_cents, points_multiplier_tenths, free_item_description,
		                     is_active, valid_from, valid_until, specific_tier_id, is_ai_generated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		o.ID, o.BusinessID, o.Title, o.Description, string(o.Type), o.PointsRequired,
		o.DiscountPercentage, o.DiscountAmountCents, o.PointsMultiplierTenths, o.FreeItemDescription,
		o.IsActive, o.ValidFrom, o.ValidUntil, o.SpecificTierID, o.IsAIGenerated,
	)
	if err != nil {
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

// GetOffer возвращает предложение бизнеса по идентификатору.
func (r *PostgresRepository) GetOffer(ctx context.Context, businessID, offerID uuid.UUID) (*model.Offer, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE id = $1 AND business_id = $2`,
		offerID, businessID,
	)
	return scanOffer(row)
}

// GetActiveOffers возвращает активные предложения бизнеса по возрастанию стоимости в баллах.
func (r *PostgresRepository) GetActiveOffers(ctx context.Context, businessID uuid.UUID, limit int) ([]model.Offer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+offerColumns+`
		 FROM offers
		 WHERE business_id = $1 AND is_active
		 ORDER BY points_required
		 LIMIT $2`,
		businessID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select offers: %w", err)
	}
	defer rows.Close()

	var res []model.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// RedeemOffer выполняет обмен баллов на предложение как одну транзакцию:
// проверка баланса, списание, запись в историю и создание погашения
// фиксируются или откатываются вместе. При коллизии кода погашения
// возвращает ErrRedemptionCodeTaken, вызывающая сторона генерирует новый код.
func (r *PostgresRepository) RedeemOffer(ctx context.Context, walletID uuid.UUID, offer *model.Offer, code string) (*model.Redemption, error) {
	var redemption *model.Redemption

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		w, err := lockWallet(ctx, tx, walletID)
		if err != nil {
			return err
		}

		if w.PointsBalance < offer.PointsRequired {
			return ErrInsufficientBalance
		}

		// Бесплатные предложения (0 баллов) не порождают операций по счёту.
		if offer.PointsRequired > 0 {
			_, err = tx.Exec(ctx,
				`UPDATE wallets
				 SET points_balance = points_balance - $2, last_activity = now()
				 WHERE id = $1`,
				walletID, offer.PointsRequired,
			)
			if err != nil {
				return fmt.Errorf("update wallet: %w", err)
			}

			description := fmt.Sprintf("Redemption of %s", offer.Title)
			if err := insertTransaction(ctx, tx, walletID, -offer.PointsRequired, model.TransactionRedeem, description, offer.ID.String()); err != nil {
				return err
			}
		}

		row := tx.QueryRow(ctx,
			`INSERT INTO offer_redemptions (id, wallet_id, offer_id, points_used, redemption_code)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, wallet_id, offer_id, points_used, redemption_code, is_used, used_at, redeemed_at`,
			uuid.New(), walletID, offer.ID, offer.PointsRequired, code,
		)

		var red model.Redemption
		err = row.Scan(&red.ID, &red.WalletID, &red.OfferID, &red.PointsUsed, &red.RedemptionCode, &red.IsUsed, &red.UsedAt, &red.RedeemedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return ErrRedemptionCodeTaken
			}
			return fmt.Errorf("insert redemption: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		redemption = &red
		return nil
	})
	if err != nil {
		return nil, err
	}

	return redemption, nil
}

// GetRedemption возвращает погашение по идентификатору.
func (r *PostgresRepository) GetRedemption(ctx context.Context, id uuid.UUID) (*model.Redemption, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, wallet_id, offer_id, points_used, redemption_code, is_used, used_at, redeemed_at
		 FROM offer_redemptions WHERE id = $1`,
		id,
	)

	var red model.Redemption
	err := row.Scan(&red.ID, &red.WalletID, &red.OfferID, &red.PointsUsed, &red.RedemptionCode, &red.IsUsed, &red.UsedAt, &red.RedeemedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRedemptionNotFound
		}
		return nil, fmt.Errorf("get redemption: %w", err)
	}

	return &red, nil
}

// MarkRedemptionUsed отмечает погашение использованным. Повторный вызов
// не меняет used_at: обновляется только неиспользованная запись.
func (r *PostgresRepository) MarkRedemptionUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) (*model.Redemption, error) {
	_, err := r.pool.Exec(ctx,
		`UPDATE offer_redemptions
		 SET is_used = TRUE, used_at = $2
		 WHERE id = $1 AND NOT is_used`,
		id, usedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("mark redemption used: %w", err)
	}

	return r.GetRedemption(ctx, id)
}

// GetRedemptionsByWallet возвращает погашения по счёту, новые первыми.
func (r *PostgresRepository) GetRedemptionsByWallet(ctx context.Context, walletID uuid.UUID) ([]model.Redemption, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, wallet_id, offer_id, points_used, redemption_code, is_used, used_at, redeemed_at
		 FROM offer_redemptions
		 WHERE wallet_id = $1
		 ORDER BY redeemed_at DESC`,
		walletID,
	)
	if err != nil {
		return nil, fmt.Errorf("select redemptions: %w", err)
	}
	defer rows.Close()

	var res []model.Redemption
	for rows.Next() {
		var red model.Redemption
		if err := rows.Scan(&red.ID, &red.WalletID, &red.OfferID, &red.PointsUsed, &red.RedemptionCode, &red.IsUsed, &red.UsedAt, &red.RedeemedAt); err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		res = append(res, red)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
