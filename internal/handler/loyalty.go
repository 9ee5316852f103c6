package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mmeshcher/loyalty-platform/internal/ai"
	"github.com/mmeshcher/loyalty-platform/internal/model"
)

type walletResponse struct {
	ID             string  `json:"id"`
	PointsBalance  int64   `json:"points_balance"`
	LifetimePoints int64   `json:"lifetime_points"`
	CurrentTierID  *string `json:"current_tier_id,omitempty"`
	CurrentTier    string  `json:"current_tier,omitempty"`
	LastActivity   string  `json:"last_activity"`
}

func walletToResponse(w *model.Wallet) walletResponse {
	resp := walletResponse{
		ID:             w.ID.String(),
		PointsBalance:  w.PointsBalance,
		LifetimePoints: w.LifetimePoints,
		LastActivity:   w.LastActivity.Format(time.RFC3339),
	}
	if w.CurrentTierID != nil {
		tierID := w.CurrentTierID.String()
		resp.CurrentTierID = &tierID
	}
	return resp
}

// GetWallet возвращает счёт текущего пользователя у бизнеса,
// создавая его при первом обращении.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	b, ok := h.business(w, r)
	if !ok {
		return
	}

	wallet, err := h.service.GetOrCreateWallet(r.Context(), identity.UserID, b.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	tier, err := h.service.TierForPoints(r.Context(), b.ID, wallet.LifetimePoints)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := walletToResponse(wallet)
	resp.CurrentTier = tier.Name

	h.writeJSON(w, http.StatusOK, resp)
}

type pointsRequest struct {
	CustomerID  string `json:"customer_id,omitempty"`
	Points      int64  `json:"points"`
	Kind        string `json:"kind,omitempty"`
	Description string `json:"description,omitempty"`
}

// resolveCustomer возвращает клиента, к счёту которого относится операция:
// указанного в запросе или текущего пользователя.
func resolveCustomer(req pointsRequest, identity uuid.UUID) (uuid.UUID, error) {
	if req.CustomerID == "" {
		return identity, nil
	}
	return uuid.Parse(req.CustomerID)
}

// CreditPoints начисляет баллы клиенту. Доступно администраторам
// платформы и тенанта.
func (h *Handler) CreditPoints(w http.ResponseWriter, r *http.Request) {
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

	var req pointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	customerID, err := resolveCustomer(req, identity.UserID)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	wallet, err := h.service.CreditPoints(r.Context(), customerID, b.ID, req.Points, model.TransactionKind(req.Kind), req.Description)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, walletToResponse(wallet))
}

// DebitPoints списывает баллы со счёта клиента. Клиент может списывать
// только со своего счёта, администраторы — с любого счёта тенанта.
func (h *Handler) DebitPoints(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	b, ok := h.business(w, r)
	if !ok {
		return
	}

	var req pointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	customerID, err := resolveCustomer(req, identity.UserID)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if customerID != identity.UserID && !canManageBusiness(identity, b.ID) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	wallet, err := h.service.DebitPoints(r.Context(), customerID, b.ID, req.Points, model.TransactionKind(req.Kind), req.Description)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, walletToResponse(wallet))
}

type transactionResponse struct {
	ID          string `json:"id"`
	Points      int64  `json:"points"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	Reference   string `json:"reference,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// GetTransactions возвращает историю операций по счёту текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	b, ok := h.business(w, r)
	if !ok {
		return
	}

	wallet, err := h.service.GetOrCreateWallet(r.Context(), identity.UserID, b.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	transactions, err := h.service.GetTransactions(r.Context(), wallet.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(transactions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(transactions))
	for _, t := range transactions {
		resp = append(resp, transactionResponse{
			ID:          t.ID.String(),
			Points:      t.Points,
			Kind:        string(t.Kind),
			Description: t.Description,
			Reference:   t.Reference,
			CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type redeemRequest struct {
	OfferID string `json:"offer_id"`
}

type redemptionResponse struct {
	ID             string  `json:"id"`
	OfferID        string  `json:"offer_id"`
	PointsUsed     int64   `json:"points_used"`
	RedemptionCode string  `json:"code"`
	IsUsed         bool    `json:"is_used"`
	UsedAt         *string `json:"used_at,omitempty"`
	RedeemedAt     string  `json:"redeemed_at"`
}

func redemptionToResponse(red *model.Redemption) redemptionResponse {
	resp := redemptionResponse{
		ID:             red.ID.String(),
		OfferID:        red.OfferID.String(),
		PointsUsed:     red.PointsUsed,
		RedemptionCode: red.RedemptionCode,
		IsUsed:         red.IsUsed,
		RedeemedAt:     red.RedeemedAt.Format(time.RFC3339),
	}
	if red.UsedAt != nil {
		usedAt := red.UsedAt.Format(time.RFC3339)
		resp.UsedAt = &usedAt
	}
	return resp
}

// RedeemOffer обменивает баллы текущего пользователя на предложение бизнеса.
func (h *Handler) RedeemOffer(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	b, ok := h.business(w, r)
	if !ok {
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	offerID, err := uuid.Parse(req.OfferID)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	redemption, err := h.service.RedeemOffer(r.Context(), identity.UserID, b.ID, offerID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, redemptionToResponse(redemption))
}

// GetRedemptions возвращает погашения текущего пользователя у бизнеса.
func (h *Handler) GetRedemptions(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	b, ok := h.business(w, r)
	if !ok {
		return
	}

	wallet, err := h.service.GetOrCreateWallet(r.Context(), identity.UserID, b.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	redemptions, err := h.service.GetRedemptionsByWallet(r.Context(), wallet.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(redemptions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]redemptionResponse, 0, len(redemptions))
	for i := range redemptions {
		resp = append(resp, redemptionToResponse(&redemptions[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// MarkRedemptionUsed отмечает погашение использованным. Доступно владельцу
// счёта и администраторам бизнеса; повторный вызов не меняет used_at.
func (h *Handler) MarkRedemptionUsed(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	redemption, err := h.service.GetRedemption(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	wallet, err := h.service.GetWalletByID(r.Context(), redemption.WalletID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if !canAccessOwned(identity, wallet, wallet.BusinessID) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	redemption, err = h.service.MarkRedemptionUsed(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, redemptionToResponse(redemption))
}

type aiOfferRequest struct {
	TimeOfDay string `json:"time_of_day,omitempty"`
	DayOfWeek string `json:"day_of_week,omitempty"`
}

// GenerateOffer создаёт персонализированное предложение для текущего пользователя.
func (h *Handler) GenerateOffer(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	b, ok := h.business(w, r)
	if !ok {
		return
	}

	var req aiOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	offer, err := h.service.GeneratePersonalizedOffer(r.Context(), identity.UserID, b.ID, ai.Context{
		TimeOfDay: req.TimeOfDay,
		DayOfWeek: req.DayOfWeek,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, offerToPayload(offer))
}

type churnRequest struct {
	CustomerID string `json:"customer_id"`
}

type churnResponse struct {
	WalletID              string  `json:"wallet_id"`
	ChurnRiskScore        float64 `json:"churn_risk_score"`
	DaysSinceLastActivity int     `json:"days_since_last_activity"`
	EngagementScore       float64 `json:"engagement_score"`
	PredictedAt           string  `json:"predicted_at"`
}

// PredictChurn оценивает риск оттока клиента. Доступно администраторам тенанта.
func (h *Handler) PredictChurn(w http.ResponseWriter, r *http.Request) {
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

	var req churnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	prediction, err := h.service.PredictChurn(r.Context(), customerID, b.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, churnResponse{
		WalletID:              prediction.WalletID.String(),
		ChurnRiskScore:        prediction.ChurnRiskScore,
		DaysSinceLastActivity: prediction.DaysSinceLastActivity,
		EngagementScore:       prediction.EngagementScore,
		PredictedAt:           prediction.PredictedAt.Format(time.RFC3339),
	})
}

type chatRequest struct {
	Query string `json:"query"`
}

// Chatbot отвечает на запрос текущего пользователя к чат-боту бизнеса.
func (h *Handler) Chatbot(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	b, ok := h.business(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Query == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	reply, err := h.service.ChatbotReply(r.Context(), identity.UserID, b.ID, req.Query)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

type offerMetricsResponse struct {
	OfferID     string `json:"offer_id"`
	Impressions int64  `json:"impressions"`
	Clicks      int64  `json:"clicks"`
	Redemptions int64  `json:"redemptions"`
}

// GetOfferMetrics возвращает счётчики эффективности предложения.
// Доступно администраторам тенанта.
func (h *Handler) GetOfferMetrics(w http.ResponseWriter, r *http.Request) {
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

	offerID, err := uuid.Parse(chi.URLParam(r, "offerID"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	metrics, err := h.service.GetOfferMetrics(r.Context(), b.ID, offerID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, offerMetricsResponse{
		OfferID:     metrics.OfferID.String(),
		Impressions: metrics.Impressions,
		Clicks:      metrics.Clicks,
		Redemptions: metrics.Redemptions,
	})
}

type segmentResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	Criteria    string `json:"criteria,omitempty"`
}

// CreateSegments создаёт стандартные клиентские сегменты бизнеса.
// Доступно администраторам тенанта.
func (h *Handler) CreateSegments(w http.ResponseWriter, r *http.Request) {
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

	segments, err := h.service.CreateSegments(r.Context(), b.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]segmentResponse, 0, len(segments))
	for _, s := range segments {
		resp = append(resp, segmentResponse{
			ID:          s.ID.String(),
			Name:        s.Name,
			Description: s.Description,
			Type:        string(s.Type),
			Criteria:    s.Criteria,
		})
	}

	h.writeJSON(w, http.StatusCreated, resp)
}
