// Package handler содержит HTTP-обработчики API платформы лояльности.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-platform/internal/ai"
	"github.com/mmeshcher/loyalty-platform/internal/middleware"
	"github.com/mmeshcher/loyalty-platform/internal/model"
	"github.com/mmeshcher/loyalty-platform/internal/repository"
	"github.com/mmeshcher/loyalty-platform/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, email, password string, role model.Role, tenantID *uuid.UUID) (uuid.UUID, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.User, error)

	RegisterBusiness(ctx context.Context, reg service.BusinessRegistration) (*model.Business, uuid.UUID, error)
	ResolveBusiness(ctx context.Context, slug string) (*model.Business, error)
	GetBusinessConfig(ctx context.Context, businessID uuid.UUID) (*model.BusinessConfig, error)
	UpdateBusinessConfig(ctx context.Context, c *model.BusinessConfig) error

	CreateTier(ctx context.Context, t *model.Tier) error
	GetTiers(ctx context.Context, businessID uuid.UUID) ([]model.Tier, error)
	TierForPoints(ctx context.Context, businessID uuid.UUID, lifetimePoints int64) (*model.Tier, error)

	CreateOffer(ctx context.Context, o *model.Offer) error
	GetActiveOffers(ctx context.Context, businessID uuid.UUID, limit int) ([]model.Offer, error)

	GetOrCreateWallet(ctx context.Context, customerID, businessID uuid.UUID) (*model.Wallet, error)
	GetWalletByID(ctx context.Context, walletID uuid.UUID) (*model.Wallet, error)
	CreditPoints(ctx context.Context, customerID, businessID uuid.UUID, points int64, kind model.TransactionKind, description string) (*model.Wallet, error)
	DebitPoints(ctx context.Context, customerID, businessID uuid.UUID, points int64, kind model.TransactionKind, description string) (*model.Wallet, error)
	GetTransactions(ctx context.Context, walletID uuid.UUID) ([]model.Transaction, error)

	RedeemOffer(ctx context.Context, customerID, businessID, offerID uuid.UUID) (*model.Redemption, error)
	MarkRedemptionUsed(ctx context.Context, id uuid.UUID) (*model.Redemption, error)
	GetRedemption(ctx context.Context, id uuid.UUID) (*model.Redemption, error)
	GetRedemptionsByWallet(ctx context.Context, walletID uuid.UUID) ([]model.Redemption, error)

	GeneratePersonalizedOffer(ctx context.Context, customerID, businessID uuid.UUID, aiCtx ai.Context) (*model.Offer, error)
	PredictChurn(ctx context.Context, customerID, businessID uuid.UUID) (*model.ChurnPrediction, error)
	ChatbotReply(ctx context.Context, customerID, businessID uuid.UUID, query string) (string, error)
	CreateSegments(ctx context.Context, businessID uuid.UUID) ([]model.Segment, error)
	GetOfferMetrics(ctx context.Context, businessID, offerID uuid.UUID) (*model.AIOfferMetrics, error)
}

// Handler реализует HTTP-обработчики API платформы лояльности.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// writeError отображает ошибки бизнес-логики на HTTP-статусы.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var status int

	switch {
	case errors.Is(err, repository.ErrUserExists),
		errors.Is(err, repository.ErrBusinessExists):
		status = http.StatusConflict
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrBusinessNotFound),
		errors.Is(err, repository.ErrWalletNotFound),
		errors.Is(err, repository.ErrOfferNotFound),
		errors.Is(err, repository.ErrRedemptionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrOfferNotValid),
		errors.Is(err, service.ErrTierConfigurationMissing):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrAIServiceDisabled):
		status = http.StatusServiceUnavailable
	default:
		h.logger.Error("internal error", zap.Error(err))
		status = http.StatusInternalServerError
	}

	http.Error(w, http.StatusText(status), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

// identity извлекает аутентифицированного пользователя; при отсутствии отвечает 401.
func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (middleware.Identity, bool) {
	identity, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return identity, ok
}

// business разрешает тенанта из слага в URL; при отсутствии отвечает 404.
func (h *Handler) business(w http.ResponseWriter, r *http.Request) (*model.Business, bool) {
	slug := chi.URLParam(r, "slug")

	b, err := h.service.ResolveBusiness(r.Context(), slug)
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return b, true
}

func canManageBusiness(identity middleware.Identity, businessID uuid.UUID) bool {
	return identity.IsPlatformAdmin() || identity.IsAdminOf(businessID)
}

// canAccessOwned проверяет доступ к ресурсу по владельцу: администраторы
// бизнеса и платформы имеют доступ, клиент — только к собственным ресурсам.
func canAccessOwned(identity middleware.Identity, resource model.Owned, businessID uuid.UUID) bool {
	if canManageBusiness(identity, businessID) {
		return true
	}

	kind, ownerID := resource.Owner()
	return kind == model.OwnerCustomer && ownerID == identity.UserID
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterUser обрабатывает регистрацию нового клиента.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Email, req.Password, model.RoleCustomer, nil)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, middleware.Identity{UserID: userID, Role: model.RoleCustomer})
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.writeError(w, err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, middleware.Identity{
		UserID:   user.ID,
		Role:     user.Role,
		TenantID: user.TenantID,
	})
	w.WriteHeader(http.StatusOK)
}

type businessRegistrationRequest struct {
	Name              string `json:"name"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	Category          string `json:"category"`
	Description       string `json:"description"`
	Password          string `json:"password"`
	PointValueCents   int64  `json:"point_value_cents"`
	PointsPerCurrency int64  `json:"points_per_currency"`
}

// RegisterBusiness регистрирует нового тенанта и выдаёт cookie администратора.
func (h *Handler) RegisterBusiness(w http.ResponseWriter, r *http.Request) {
	var req businessRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	business, adminID, err := h.service.RegisterBusiness(r.Context(), service.BusinessRegistration{
		Name:              req.Name,
		Email:             req.Email,
		Phone:             req.Phone,
		Category:          model.BusinessCategory(req.Category),
		Description:       req.Description,
		AdminPassword:     req.Password,
		PointValueCents:   req.PointValueCents,
		PointsPerCurrency: req.PointsPerCurrency,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, middleware.Identity{
		UserID:   adminID,
		Role:     model.RoleBusinessAdmin,
		TenantID: &business.ID,
	})

	h.writeJSON(w, http.StatusCreated, map[string]string{"slug": business.Slug})
}

type businessResponse struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Slug              string `json:"slug"`
	Category          string `json:"category"`
	Description       string `json:"description"`
	PointValueCents   int64  `json:"point_value_cents"`
	PointsPerCurrency int64  `json:"points_per_currency"`
	IsVerified        bool   `json:"is_verified"`
}

// GetBusiness возвращает публичную информацию о бизнесе по слагу.
func (h *Handler) GetBusiness(w http.ResponseWriter, r *http.Request) {
	b, ok := h.business(w, r)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, businessResponse{
		ID:                b.ID.String(),
		Name:              b.Name,
		Slug:              b.Slug,
		Category:          string(b.Category),
		Description:       b.Description,
		PointValueCents:   b.PointValueCents,
		PointsPerCurrency: b.PointsPerCurrency,
		IsVerified:        b.IsVerified,
	})
}

type businessConfigPayload struct {
	PrimaryColor                       string `json:"primary_color"`
	SecondaryColor                     string `json:"secondary_color"`
	AccentColor                        string `json:"accent_color"`
	EnablePointExpiry                  bool   `json:"enable_point_expiry"`
	PointExpiryDays                    int    `json:"point_expiry_days"`
	EnableCrossBusinessRedemption      bool   `json:"enable_cross_business_redemption"`
	CrossBusinessConversionRatePercent int64  `json:"cross_business_conversion_rate_percent"`
}

// GetBusinessConfig возвращает конфигурацию бизнеса.
func (h *Handler) GetBusinessConfig(w http.ResponseWriter, r *http.Request) {
	b, ok := h.business(w, r)
	if !ok {
		return
	}

	cfg, err := h.service.GetBusinessConfig(r.Context(), b.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, businessConfigPayload{
		PrimaryColor:                       cfg.PrimaryColor,
		SecondaryColor:                     cfg.SecondaryColor,
		AccentColor:                        cfg.AccentColor,
		EnablePointExpiry:                  cfg.EnablePointExpiry,
		PointExpiryDays:                    cfg.PointExpiryDays,
		EnableCrossBusinessRedemption:      cfg.EnableCrossBusinessRedemption,
		CrossBusinessConversionRatePercent: cfg.CrossBusinessConversionRatePercent,
	})
}

// UpdateBusinessConfig обновляет конфигурацию бизнеса. Доступно администратору тенанта.
func (h *Handler) UpdateBusinessConfig(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	b, ok := h.business(w, r)
	if !ok {
		return
	}

	if !canManageBusiness(identity, b.ID) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	var req businessConfigPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.UpdateBusinessConfig(r.Context(), &model.BusinessConfig{
		BusinessID:                         b.ID,
		PrimaryColor:                       req.PrimaryColor,
		SecondaryColor:                     req.SecondaryColor,
		AccentColor:                        req.AccentColor,
		EnablePointExpiry:                  req.EnablePointExpiry,
		PointExpiryDays:                    req.PointExpiryDays,
		EnableCrossBusinessRedemption:      req.EnableCrossBusinessRedemption,
		CrossBusinessConversionRatePercent: req.CrossBusinessConversionRatePercent,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type tierPayload struct {
	ID                     string `json:"id,omitempty"`
	Name                   string `json:"name"`
	Description            string `json:"description,omitempty"`
	MinimumPoints          int64  `json:"minimum_points"`
	PointMultiplierPercent int64  `json:"point_multiplier_percent,omitempty"`
	SpecialOffers          bool   `json:"special_offers,omitempty"`
	PrioritySupport        bool   `json:"priority_support,omitempty"`
	ExclusiveEvents        bool   `json:"exclusive_events,omitempty"`
	ColorCode              string `json:"color_code,omitempty"`
}

// GetTiers возвращает уровни лояльности бизнеса.
func (h *Handler) GetTiers(w http.ResponseWriter, r *http.Request) {
	b, ok := h.business(w, r)
	if !ok {
		return
	}

	tiers, err := h.service.GetTiers(r.Context(), b.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]tierPayload, 0, len(tiers))
	for _, t := range tiers {
		resp = append(resp, tierPayload{
			ID:                     t.ID.String(),
			Name:                   t.Name,
			Description:            t.Description,
			MinimumPoints:          t.MinimumPoints,
			PointMultiplierPercent: t.PointMultiplierPercent,
			SpecialOffers:          t.SpecialOffers,
			PrioritySupport:        t.PrioritySupport,
			ExclusiveEvents:        t.ExclusiveEvents,
			ColorCode:              t.ColorCode,
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// CreateTier создаёт уровень лояльности. Доступно администратору тенанта.
func (h *Handler) CreateTier(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	b, ok := h.business(w, r)
	if !ok {
		return
	}

	if !canManageBusiness(identity, b.ID) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	var req tierPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.MinimumPoints < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	tier := &model.Tier{
		BusinessID:             b.ID,
		Name:                   req.Name,
		Description:            req.Description,
		MinimumPoints:          req.MinimumPoints,
		PointMultiplierPercent: req.PointMultiplierPercent,
		SpecialOffers:          req.SpecialOffers,
		PrioritySupport:        req.PrioritySupport,
		ExclusiveEvents:        req.ExclusiveEvents,
		ColorCode:              req.ColorCode,
	}

	if err := h.service.CreateTier(r.Context(), tier); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"id": tier.ID.String()})
}

type offerPayload struct {
	ID                     string     `json:"id,omitempty"`
	Title                  string     `json:"title"`
	Description            string     `json:"description,omitempty"`
	Type                   string     `json:"type"`
	PointsRequired         int64      `json:"points_required"`
	DiscountPercentage     *int64     `json:"discount_percentage,omitempty"`
	DiscountAmountCents    *int64     `json:"discount_amount_cents,omitempty"`
	PointsMultiplierTenths *int64     `json:"points_multiplier_tenths,omitempty"`
	FreeItemDescription    string     `json:"free_item_description,omitempty"`
	IsActive               bool       `json:"is_active"`
	ValidFrom              *time.Time `json:"valid_from,omitempty"`
	ValidUntil             *time.Time `json:"valid_until,omitempty"`
	IsAIGenerated          bool       `json:"is_ai_generated,omitempty"`
}

func offerToPayload(o *model.Offer) offerPayload {
	validFrom := o.ValidFrom
	return offerPayload{
		ID:                     o.ID.String(),
		Title:                  o.Title,
		Description:            o.Description,
		Type:                   string(o.Type),
		PointsRequired:         o.PointsRequired,
		DiscountPercentage:     o.DiscountPercentage,
		DiscountAmountCents:    o.DiscountAmountCents,
		PointsMultiplierTenths: o.PointsMultiplierTenths,
		FreeItemDescription:    o.FreeItemDescription,
		IsActive:               o.IsActive,
		ValidFrom:              &validFrom,
		ValidUntil:             o.ValidUntil,
		IsAIGenerated:          o.IsAIGenerated,
	}
}

// GetOffers возвращает активные предложения бизнеса.
func (h *Handler) GetOffers(w http.ResponseWriter, r *http.Request) {
	b, ok := h.business(w, r)
	if !ok {
		return
	}

	offers, err := h.service.GetActiveOffers(r.Context(), b.ID, 100)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]offerPayload, 0, len(offers))
	for i := range offers {
		resp = append(resp, offerToPayload(&offers[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// CreateOffer создаёт предложение бизнеса. Доступно администратору тенанта.
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	b, ok := h.business(w, r)
	if !ok {
		return
	}

	if !canManageBusiness(identity, b.ID) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	var req offerPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Title == "" || req.PointsRequired < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	offer := &model.Offer{
		BusinessID:             b.ID,
		Title:                  req.Title,
		Description:            req.Description,
		Type:                   model.OfferType(req.Type),
		PointsRequired:         req.PointsRequired,
		DiscountPercentage:     req.DiscountPercentage,
		DiscountAmountCents:    req.DiscountAmountCents,
		PointsMultiplierTenths: req.PointsMultiplierTenths,
		FreeItemDescription:    req.FreeItemDescription,
		IsActive:               req.IsActive,
	}
	if req.ValidFrom != nil {
		offer.ValidFrom = *req.ValidFrom
	}
	offer.ValidUntil = req.ValidUntil

	if err := h.service.CreateOffer(r.Context(), offer); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"id": offer.ID.String()})
}
