// Package ai содержит эвристики персонализации: генерацию предложений,
// оценку риска оттока и ответы чат-бота. Эвристики оформлены как чистые
// функции над снимком счёта, чтобы реальный inference-бэкенд можно было
// подставить, не затрагивая леджер.
package ai

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/mmeshcher/loyalty-platform/internal/model"
)

// WalletSnapshot — снимок счёта клиента, достаточный для эвристик.
type WalletSnapshot struct {
	HasWallet      bool
	PointsBalance  int64
	LifetimePoints int64
	LastActivity   time.Time
}

// Context описывает контекст генерации предложения.
type Context struct {
	TimeOfDay string // morning, day, evening
	DayOfWeek string // weekday, weekend
}

// OfferDraft — черновик предложения, созданный генератором.
type OfferDraft struct {
	Title                  string
	Description            string
	Type                   model.OfferType
	PointsRequired         int64
	DiscountPercentage     *int64
	PointsMultiplierTenths *int64
	FreeItemDescription    string
	ValidFor               time.Duration
}

// ChurnScore — результат оценки риска оттока.
type ChurnScore struct {
	Risk                  float64
	Engagement            float64
	DaysSinceLastActivity int
}

// OfferSummary — краткое описание предложения для ответов чат-бота.
type OfferSummary struct {
	Title          string
	PointsRequired int64
}

// OfferGenerator порождает черновик персонализированного предложения.
type OfferGenerator interface {
	GenerateOffer(c Context, wallet WalletSnapshot) OfferDraft
}

// ChurnScorer оценивает риск оттока клиента по снимку счёта.
type ChurnScorer interface {
	ScoreChurn(wallet WalletSnapshot, now time.Time) ChurnScore
}

// ChatResponder формирует ответ чат-бота на запрос клиента.
type ChatResponder interface {
	Respond(query string, wallet WalletSnapshot, offers []OfferSummary) string
}

// Mock реализует все стратегии каноничными эвристиками без обращения к модели.
type Mock struct {
	rnd *rand.Rand
}

// NewMock создаёт мок-стратегию с указанным seed для воспроизводимости в тестах.
func NewMock(seed int64) *Mock {
	return &Mock{rnd: rand.New(rand.NewSource(seed))}
}

// GenerateOffer выбирает один из трёх шаблонов предложения и параметризует
// его балансом клиента и контекстом времени.
func (m *Mock) GenerateOffer(c Context, wallet WalletSnapshot) OfferDraft {
	switch m.rnd.Intn(3) {
	case 0:
		return discountDraft(c, wallet)
	case 1:
		return multiplierDraft(c)
	default:
		return freeItemDraft(c)
	}
}

func discountDraft(c Context, wallet WalletSnapshot) OfferDraft {
	// Чем больше баланс, тем больше скидка; бонус ограничен 15%.
	discount := int64(10)
	bonus := wallet.PointsBalance / 1000
	if bonus > 15 {
		bonus = 15
	}
	discount += bonus

	if c.DayOfWeek == "weekend" {
		discount += 5
	}

	required := wallet.PointsBalance / 2
	if required > 500 {
		required = 500
	}
	if required < 100 {
		required = 100
	}

	return OfferDraft{
		Title:              fmt.Sprintf("%d%% Off Your Next Purchase", discount),
		Description:        fmt.Sprintf("As a valued customer, enjoy %d%% off your next purchase!", discount),
		Type:               model.OfferTypeDiscount,
		PointsRequired:     required,
		DiscountPercentage: &discount,
		ValidFor:           7 * 24 * time.Hour,
	}
}

func multiplierDraft(c Context) OfferDraft {
	multiplier := int64(20)
	title := "Midday Bonus: 2x Points"
	description := "Take a break and earn double points on all purchases between 11 AM and 6 PM."

	switch c.TimeOfDay {
	case "morning":
		title = "Morning Boost: 2x Points"
		description = "Start your day right! Earn double points on all purchases before 11 AM."
	case "evening":
		multiplier = 30
		title = "Evening Special: 3x Points"
		description = "Reward yourself after a long day! Earn triple points on all purchases after 6 PM."
	}

	return OfferDraft{
		Title:                  title,
		Description:            description,
		Type:                   model.OfferTypePointsMultiplier,
		PointsRequired:         0,
		PointsMultiplierTenths: &multiplier,
		ValidFor:               3 * 24 * time.Hour,
	}
}

func freeItemDraft(c Context) OfferDraft {
	title := "Weekday Perk: Free Item"
	description := "Brighten your weekday with a free item of your choice with any purchase over $20."
	if c.DayOfWeek == "weekend" {
		title = "Weekend Treat on Us"
		description = "Enjoy a complimentary dessert or side item with your purchase this weekend."
	}

	return OfferDraft{
		Title:               title,
		Description:         description,
		Type:                model.OfferTypeFreeItem,
		PointsRequired:      300,
		FreeItemDescription: "Any item up to $10 value",
		ValidFor:            5 * 24 * time.Hour,
	}
}

// ScoreChurn вычисляет риск оттока как обратную величину вовлечённости.
func (m *Mock) ScoreChurn(wallet WalletSnapshot, now time.Time) ChurnScore {
	days := int(now.Sub(wallet.LastActivity).Hours() / 24)
	if days < 0 {
		days = 0
	}

	var engagement float64
	switch {
	case days <= 7:
		engagement = 0.9
	case days <= 30:
		engagement = 0.7
	case days <= 90:
		engagement = 0.4
	default:
		engagement = 0.1
	}

	if wallet.PointsBalance > 1000 {
		engagement += 0.2
	} else if wallet.PointsBalance < 100 {
		engagement -= 0.1
	}

	risk := 1.0 - engagement
	if risk < 0 {
		risk = 0
	}
	if risk > 0.95 {
		risk = 0.95
	}

	return ChurnScore{
		Risk:                  risk,
		Engagement:            engagement,
		DaysSinceLastActivity: days,
	}
}

// Respond подбирает ответ по ключевым словам запроса.
func (m *Mock) Respond(query string, wallet WalletSnapshot, offers []OfferSummary) string {
	q := strings.ToLower(query)

	switch {
	case strings.Contains(q, "point") || strings.Contains(q, "balance"):
		if wallet.HasWallet {
			return fmt.Sprintf("Your current points balance is %d. Is there anything specific you'd like to know about redeeming these points?", wallet.PointsBalance)
		}
		return "You don't have a wallet with this business yet. Would you like to sign up for our loyalty program?"

	case strings.Contains(q, "redeem") || strings.Contains(q, "reward") || strings.Contains(q, "offer"):
		if len(offers) == 0 {
			return "There are currently no active offers available. Please check back soon!"
		}
		var sb strings.Builder
		sb.WriteString("Here are some offers you might be interested in:\n\n")
		for _, o := range offers {
			fmt.Fprintf(&sb, "- %s: %d points required\n", o.Title, o.PointsRequired)
		}
		return sb.String()

	case strings.Contains(q, "help") || strings.Contains(q, "support") || strings.Contains(q, "assistance"):
		return "I'm here to help! You can ask me about your points balance, available rewards, how to earn more points, or any other questions about our loyalty program."

	case strings.Contains(q, "thank"):
		return "You're welcome! Is there anything else I can help you with today?"

	default:
		return "I'm still learning how to answer that. In the meantime, you can ask me about your points balance, available rewards, or how to earn more points."
	}
}

// SegmentDraft описывает каноничный клиентский сегмент.
type SegmentDraft struct {
	Name        string
	Description string
	Type        model.SegmentType
	Criteria    string
}

// DefaultSegments возвращает стандартный набор сегментов для бизнеса.
func DefaultSegments() []SegmentDraft {
	return []SegmentDraft{
		{
			Name:        "High Value Customers",
			Description: "Customers with high lifetime points",
			Type:        model.SegmentValue,
			Criteria:    `{"min_lifetime_points": 5000}`,
		},
		{
			Name:        "At Risk Customers",
			Description: "Customers with high churn risk",
			Type:        model.SegmentChurnRisk,
			Criteria:    `{"min_churn_risk": 0.7}`,
		},
		{
			Name:        "New Customers",
			Description: "Customers who joined in the last 30 days",
			Type:        model.SegmentBehavioral,
			Criteria:    `{"max_days_since_joined": 30}`,
		},
		{
			Name:        "Inactive Customers",
			Description: "Customers with no activity in the last 60 days",
			Type:        model.SegmentBehavioral,
			Criteria:    `{"min_days_since_activity": 60}`,
		},
	}
}
