package ai

import (
	"strings"
	"testing"
	"time"

	"github.com/mmeshcher/loyalty-platform/internal/model"
)

func TestGenerateOffer_DraftIsComplete(t *testing.T) {
	m := NewMock(1)
	wallet := WalletSnapshot{HasWallet: true, PointsBalance: 800, LastActivity: time.Now()}

	for i := 0; i < 20; i++ {
		draft := m.GenerateOffer(Context{TimeOfDay: "evening", DayOfWeek: "weekend"}, wallet)

		if draft.Title == "" || draft.Description == "" {
			t.Fatalf("draft must have title and description: %+v", draft)
		}
		if draft.PointsRequired < 0 {
			t.Fatalf("negative points required: %+v", draft)
		}
		if draft.ValidFor <= 0 {
			t.Fatalf("draft must have a validity window: %+v", draft)
		}

		switch draft.Type {
		case model.OfferTypeDiscount:
			if draft.DiscountPercentage == nil {
				t.Fatalf("discount draft without percentage: %+v", draft)
			}
			// 10% базовых + бонус за баланс и выходные
			if *draft.DiscountPercentage < 10 || *draft.DiscountPercentage > 30 {
				t.Fatalf("discount out of range: %d", *draft.DiscountPercentage)
			}
		case model.OfferTypePointsMultiplier:
			if draft.PointsMultiplierTenths == nil || *draft.PointsMultiplierTenths < 20 {
				t.Fatalf("multiplier draft malformed: %+v", draft)
			}
		case model.OfferTypeFreeItem:
			if draft.FreeItemDescription == "" {
				t.Fatalf("free item draft without item description: %+v", draft)
			}
		default:
			t.Fatalf("unexpected offer type %q", draft.Type)
		}
	}
}

func TestGenerateOffer_DeterministicWithSeed(t *testing.T) {
	wallet := WalletSnapshot{HasWallet: true, PointsBalance: 300}

	a := NewMock(42).GenerateOffer(Context{TimeOfDay: "morning"}, wallet)
	b := NewMock(42).GenerateOffer(Context{TimeOfDay: "morning"}, wallet)

	if a.Title != b.Title || a.Type != b.Type {
		t.Fatalf("same seed must produce the same draft: %+v vs %+v", a, b)
	}
}

func TestScoreChurn_Buckets(t *testing.T) {
	m := NewMock(1)
	now := time.Now()

	tests := []struct {
		name           string
		daysInactive   int
		balance        int64
		wantEngagement float64
	}{
		{"active this week", 3, 500, 0.9},
		{"active this month", 20, 500, 0.7},
		{"active this quarter", 60, 500, 0.4},
		{"dormant", 200, 500, 0.1},
		{"dormant with big balance", 200, 5000, 0.3},
		{"dormant and empty", 200, 50, 0.0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			score := m.ScoreChurn(WalletSnapshot{
				HasWallet:     true,
				PointsBalance: tc.balance,
				LastActivity:  now.Add(-time.Duration(tc.daysInactive) * 24 * time.Hour),
			}, now)

			if diff := score.Engagement - tc.wantEngagement; diff > 0.001 || diff < -0.001 {
				t.Fatalf("Engagement = %v, want %v", score.Engagement, tc.wantEngagement)
			}
			if score.Risk < 0 || score.Risk > 0.95 {
				t.Fatalf("Risk = %v, out of [0, 0.95]", score.Risk)
			}
			if score.DaysSinceLastActivity != tc.daysInactive {
				t.Fatalf("DaysSinceLastActivity = %d, want %d", score.DaysSinceLastActivity, tc.daysInactive)
			}
		})
	}
}

func TestScoreChurn_RiskComplementsEngagement(t *testing.T) {
	m := NewMock(1)
	now := time.Now()

	score := m.ScoreChurn(WalletSnapshot{HasWallet: true, PointsBalance: 500, LastActivity: now.Add(-20 * 24 * time.Hour)}, now)
	if diff := score.Risk - (1.0 - score.Engagement); diff > 0.001 || diff < -0.001 {
		t.Fatalf("Risk = %v, want %v", score.Risk, 1.0-score.Engagement)
	}
}

func TestRespond_Keywords(t *testing.T) {
	m := NewMock(1)
	wallet := WalletSnapshot{HasWallet: true, PointsBalance: 150}
	offers := []OfferSummary{{Title: "Free Coffee", PointsRequired: 200}}

	tests := []struct {
		query string
		want  string
	}{
		{"What is my points balance?", "150"},
		{"How do I redeem rewards?", "Free Coffee"},
		{"I need help", "here to help"},
		{"thank you", "welcome"},
		{"tell me a joke", "still learning"},
	}

	for _, tc := range tests {
		reply := m.Respond(tc.query, wallet, offers)
		if !strings.Contains(reply, tc.want) {
			t.Errorf("Respond(%q) = %q, want substring %q", tc.query, reply, tc.want)
		}
	}
}

func TestRespond_NoWallet(t *testing.T) {
	m := NewMock(1)

	reply := m.Respond("points?", WalletSnapshot{}, nil)
	if !strings.Contains(reply, "don't have a wallet") {
		t.Fatalf("unexpected reply for missing wallet: %q", reply)
	}
}

func TestDefaultSegments(t *testing.T) {
	segments := DefaultSegments()
	if len(segments) != 4 {
		t.Fatalf("DefaultSegments returned %d segments, want 4", len(segments))
	}

	names := make(map[string]bool, len(segments))
	for _, s := range segments {
		if s.Name == "" || s.Criteria == "" {
			t.Fatalf("segment must have name and criteria: %+v", s)
		}
		if names[s.Name] {
			t.Fatalf("duplicate segment name %q", s.Name)
		}
		names[s.Name] = true
	}
}
