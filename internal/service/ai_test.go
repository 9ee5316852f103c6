package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/loyalty-platform/internal/ai"
	"github.com/mmeshcher/loyalty-platform/internal/model"
)

func TestAIOperations_DisabledWithoutProvider(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil)
	ctx := context.Background()

	if _, err := svc.GeneratePersonalizedOffer(ctx, uuid.New(), uuid.New(), ai.Context{}); !errors.Is(err, ErrAIServiceDisabled) {
		t.Fatalf("GeneratePersonalizedOffer: expected ErrAIServiceDisabled, got %v", err)
	}
	if _, err := svc.PredictChurn(ctx, uuid.New(), uuid.New()); !errors.Is(err, ErrAIServiceDisabled) {
		t.Fatalf("PredictChurn: expected ErrAIServiceDisabled, got %v", err)
	}
	if _, err := svc.ChatbotReply(ctx, uuid.New(), uuid.New(), "hello"); !errors.Is(err, ErrAIServiceDisabled) {
		t.Fatalf("ChatbotReply: expected ErrAIServiceDisabled, got %v", err)
	}
	if _, err := svc.CreateSegments(ctx, uuid.New()); !errors.Is(err, ErrAIServiceDisabled) {
		t.Fatalf("CreateSegments: expected ErrAIServiceDisabled, got %v", err)
	}
}

func TestGeneratePersonalizedOffer_SavesAIOffer(t *testing.T) {
	repo := &stubRepo{
		wallet: &model.Wallet{
			ID:            uuid.New(),
			PointsBalance: 500,
			LastActivity:  time.Now(),
		},
	}
	svc := NewService(repo, ai.NewMock(1), nil)

	offer, err := svc.GeneratePersonalizedOffer(context.Background(), uuid.New(), uuid.New(), ai.Context{DayOfWeek: "weekend"})
	if err != nil {
		t.Fatalf("GeneratePersonalizedOffer error: %v", err)
	}
	if !offer.IsAIGenerated {
		t.Fatalf("offer must be marked as AI generated")
	}
	if !offer.IsActive {
		t.Fatalf("generated offer must be active")
	}
	if offer.ValidUntil == nil || !offer.ValidUntil.After(offer.ValidFrom) {
		t.Fatalf("generated offer must have a validity window: %+v", offer)
	}
	if repo.offer == nil || repo.offer.ID != offer.ID {
		t.Fatalf("offer was not persisted")
	}
}

func TestPredictChurn_SavesPrediction(t *testing.T) {
	repo := &stubRepo{
		wallet: &model.Wallet{
			ID:           uuid.New(),
			LastActivity: time.Now().Add(-45 * 24 * time.Hour),
		},
	}
	svc := NewService(repo, ai.NewMock(1), nil)

	prediction, err := svc.PredictChurn(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("PredictChurn error: %v", err)
	}
	if prediction.WalletID != repo.wallet.ID {
		t.Fatalf("WalletID = %v, want %v", prediction.WalletID, repo.wallet.ID)
	}
	if prediction.ChurnRiskScore <= 0 {
		t.Fatalf("expected positive churn risk for inactive wallet, got %v", prediction.ChurnRiskScore)
	}
	if len(repo.churnPredictions) != 1 {
		t.Fatalf("prediction was not persisted")
	}
}

func TestChatbotReply_UsesWalletBalance(t *testing.T) {
	repo := &stubRepo{
		wallet: &model.Wallet{ID: uuid.New(), PointsBalance: 420, LastActivity: time.Now()},
	}
	svc := NewService(repo, ai.NewMock(1), nil)

	reply, err := svc.ChatbotReply(context.Background(), uuid.New(), uuid.New(), "what is my balance?")
	if err != nil {
		t.Fatalf("ChatbotReply error: %v", err)
	}
	if !strings.Contains(reply, "420") {
		t.Fatalf("reply must mention balance, got %q", reply)
	}
}

func TestCreateSegments_UpsertsDefaults(t *testing.T) {
	businessID := uuid.New()
	repo := &stubRepo{}
	svc := NewService(repo, ai.NewMock(1), nil)

	segments, err := svc.CreateSegments(context.Background(), businessID)
	if err != nil {
		t.Fatalf("CreateSegments error: %v", err)
	}
	if len(segments) != len(ai.DefaultSegments()) {
		t.Fatalf("segments = %d, want %d", len(segments), len(ai.DefaultSegments()))
	}
	for _, s := range segments {
		if s.BusinessID != businessID {
			t.Fatalf("segment %q has BusinessID %v, want %v", s.Name, s.BusinessID, businessID)
		}
		if !s.IsAIGenerated {
			t.Fatalf("segment %q must be marked as AI generated", s.Name)
		}
	}
}

func TestStartChurnRefresh_NoProvider(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})

	go func() {
		svc.StartChurnRefresh(ctx, time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("StartChurnRefresh did not return without provider")
	}
}
