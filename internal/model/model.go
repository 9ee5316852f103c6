// Package model содержит доменные сущности платформы лояльности.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Role описывает роль пользователя на платформе.
type Role string

const (
	RoleCustomer      Role = "customer"
	RoleBusinessAdmin Role = "business_admin"
	RolePlatformAdmin Role = "platform_admin"
)

// User представляет зарегистрированного пользователя платформы.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash []byte
	Role         Role
	TenantID     *uuid.UUID
	CreatedAt    time.Time
}

// BusinessCategory описывает категорию бизнеса.
type BusinessCategory string

const (
	CategoryRetail        BusinessCategory = "retail"
	CategoryRestaurant    BusinessCategory = "restaurant"
	CategoryHospitality   BusinessCategory = "hospitality"
	CategoryBeauty        BusinessCategory = "beauty"
	CategoryEntertainment BusinessCategory = "entertainment"
	CategoryTravel        BusinessCategory = "travel"
	CategoryOther         BusinessCategory = "other"
)

// Business представляет тенанта платформы.
type Business struct {
	ID          uuid.UUID
	Name        string
	Slug        string
	Email       string
	Phone       string
	Category    BusinessCategory
	Description string

	// Стоимость одного балла в копейках и количество баллов за единицу валюты.
	PointValueCents   int64
	PointsPerCurrency int64

	IsVerified bool
	IsActive   bool
	CreatedAt  time.Time
}

// BusinessConfig содержит настройки тенанта.
type BusinessConfig struct {
	BusinessID     uuid.UUID
	PrimaryColor   string
	SecondaryColor string
	AccentColor    string

	EnablePointExpiry             bool
	PointExpiryDays               int
	EnableCrossBusinessRedemption bool
	// Курс конверсии баллов других бизнесов в процентах (100 = 1:1).
	CrossBusinessConversionRatePercent int64
}

// Tier описывает уровень лояльности бизнеса.
type Tier struct {
	ID            uuid.UUID
	BusinessID    uuid.UUID
	Name          string
	Description   string
	MinimumPoints int64
	// Множитель начисления баллов в процентах (100 = x1.00).
	PointMultiplierPercent int64

	SpecialOffers   bool
	PrioritySupport bool
	ExclusiveEvents bool

	ColorCode string
	CreatedAt time.Time
}

// OfferType описывает тип акционного предложения.
type OfferType string

const (
	OfferTypeDiscount         OfferType = "discount"
	OfferTypePointsMultiplier OfferType = "points_multiplier"
	OfferTypeFreeItem         OfferType = "free_item"
	OfferTypeSpecialEvent     OfferType = "special_event"
	OfferTypeOther            OfferType = "other"
)

// Offer описывает акционное предложение бизнеса.
type Offer struct {
	ID             uuid.UUID
	BusinessID     uuid.UUID
	Title          string
	Description    string
	Type           OfferType
	PointsRequired int64

	DiscountPercentage  *int64
	DiscountAmountCents *int64
	// Множитель баллов в десятых долях (20 = x2.0).
	PointsMultiplierTenths *int64
	FreeItemDescription    string

	IsActive   bool
	ValidFrom  time.Time
	ValidUntil *time.Time

	SpecificTierID *uuid.UUID
	IsAIGenerated  bool

	CreatedAt time.Time
}

// IsValid сообщает, действует ли предложение в указанный момент времени.
func (o *Offer) IsValid(now time.Time) bool {
	if !o.IsActive {
		return false
	}
	if o.ValidFrom.After(now) {
		return false
	}
	if o.ValidUntil != nil && o.ValidUntil.Before(now) {
		return false
	}
	return true
}

// Wallet представляет бонусный счёт клиента у конкретного бизнеса.
// Пара (CustomerID, BusinessID) уникальна; счёт создаётся при первом обращении.
type Wallet struct {
	ID             uuid.UUID
	CustomerID     uuid.UUID
	BusinessID     uuid.UUID
	PointsBalance  int64
	LifetimePoints int64
	CurrentTierID  *uuid.UUID

	OldestActivePoints *time.Time
	LastActivity       time.Time
	CreatedAt          time.Time
}

// TransactionKind описывает тип операции по счёту.
type TransactionKind string

const (
	TransactionEarn       TransactionKind = "earn"
	TransactionRedeem     TransactionKind = "redeem"
	TransactionExpire     TransactionKind = "expire"
	TransactionTransfer   TransactionKind = "transfer"
	TransactionBonus      TransactionKind = "bonus"
	TransactionAdjustment TransactionKind = "adjustment"
)

// Transaction описывает одну неизменяемую запись истории счёта.
// Положительные значения Points — начисления, отрицательные — списания.
type Transaction struct {
	ID          uuid.UUID
	WalletID    uuid.UUID
	Points      int64
	Kind        TransactionKind
	Description string
	Reference   string
	CreatedAt   time.Time
}

// Redemption описывает факт обмена баллов на предложение.
type Redemption struct {
	ID             uuid.UUID
	WalletID       uuid.UUID
	OfferID        uuid.UUID
	PointsUsed     int64
	RedemptionCode string
	IsUsed         bool
	UsedAt         *time.Time
	RedeemedAt     time.Time
}

// SegmentType описывает тип клиентского сегмента.
type SegmentType string

const (
	SegmentDemographic SegmentType = "demographic"
	SegmentBehavioral  SegmentType = "behavioral"
	SegmentValue       SegmentType = "value"
	SegmentChurnRisk   SegmentType = "churn_risk"
	SegmentCustom      SegmentType = "custom"
)

// Segment описывает клиентский сегмент бизнеса.
type Segment struct {
	ID          uuid.UUID
	BusinessID  uuid.UUID
	Name        string
	Description string
	Type        SegmentType
	Criteria    string

	IsAIGenerated bool
	CreatedAt     time.Time
}

// ChurnPrediction описывает оценку риска оттока клиента по счёту.
type ChurnPrediction struct {
	ID                    uuid.UUID
	WalletID              uuid.UUID
	ChurnRiskScore        float64
	DaysSinceLastActivity int
	EngagementScore       float64
	PredictedAt           time.Time
}

// AIOfferMetrics содержит счётчики эффективности AI-предложения.
type AIOfferMetrics struct {
	OfferID     uuid.UUID
	Impressions int64
	Clicks      int64
	Redemptions int64
}

// OwnerKind описывает вид владельца ресурса.
type OwnerKind string

const OwnerCustomer OwnerKind = "customer"

// Owned реализуется ресурсами, доступ к которым проверяется по владельцу.
// Ресурсы, принадлежащие бизнесу, проверяются по правам администратора
// и этот интерфейс не реализуют.
type Owned interface {
	Owner() (OwnerKind, uuid.UUID)
}

// Owner возвращает владельца счёта.
func (w *Wallet) Owner() (OwnerKind, uuid.UUID) {
	return OwnerCustomer, w.CustomerID
}
