package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/voyagehq/crm-ai-go/internal/models"
	"github.com/voyagehq/crm-ai-go/internal/telemetry"
)

// digestRecipients abstracts the user lookup for digest delivery.
type digestRecipients interface {
	UsersWithTelegramChat(ctx context.Context, tenantID string) ([]models.User, error)
}

// NotificationService delivers churn and forecast digests to the tenant's
// linked Telegram chats. Sends run through a circuit breaker so an
// unreachable Telegram API fails fast instead of stalling digest runs.
type NotificationService struct {
	users   digestRecipients
	bot     *bot.Bot
	breaker *CircuitBreaker
	tracer  *telemetry.BusinessTracer
	logger  *logrus.Logger
}

// NewNotificationService creates a notification service. With an empty bot
// token the service is constructed but every send reports an error.
func NewNotificationService(users digestRecipients, botToken string, logger *logrus.Logger) *NotificationService {
	var telegramBot *bot.Bot
	if botToken != "" {
		telegramBot, _ = bot.New(botToken)
	}

	return &NotificationService{
		users:   users,
		bot:     telegramBot,
		breaker: NewCircuitBreaker("telegram", CircuitBreakerConfig{}, logger),
		tracer:  telemetry.NewBusinessTracer(),
		logger:  logger,
	}
}

// NotifyChurnDigest sends a churn risk summary to every linked chat of the
// tenant. Per-chat delivery failures are logged and skipped so one stale
// chat id cannot block the rest of the digest run.
func (ns *NotificationService) NotifyChurnDigest(ctx context.Context, tenantID string, insights *models.ChurnInsights, topRisks []models.ChurnScore) error {
	if insights == nil {
		insights = &models.ChurnInsights{}
	}

	ctx, span := ns.tracer.TraceNotification(ctx, "churn_digest", "telegram")
	defer span.End()

	message := ns.formatChurnDigest(insights, topRisks)
	sent, err := ns.broadcast(ctx, tenantID, message)
	ns.tracer.RecordNotificationResult(span, err == nil, sent, err)
	if err != nil {
		return fmt.Errorf("failed to send churn digest: %w", err)
	}

	ns.logger.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"recipients": sent,
		"high_risk":  insights.HighRiskCount,
	}).Info("Sent churn digest")
	return nil
}

// NotifyForecastDigest sends a revenue forecast summary to every linked
// chat of the tenant.
func (ns *NotificationService) NotifyForecastDigest(ctx context.Context, tenantID string, forecast *models.ForecastResult) error {
	ctx, span := ns.tracer.TraceNotification(ctx, "forecast_digest", "telegram")
	defer span.End()

	message := ns.formatForecastDigest(forecast)
	sent, err := ns.broadcast(ctx, tenantID, message)
	ns.tracer.RecordNotificationResult(span, err == nil, sent, err)
	if err != nil {
		return fmt.Errorf("failed to send forecast digest: %w", err)
	}

	ns.logger.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"recipients": sent,
	}).Info("Sent forecast digest")
	return nil
}

// broadcast delivers one message to all linked chats of the tenant and
// returns how many sends succeeded.
func (ns *NotificationService) broadcast(ctx context.Context, tenantID, message string) (int, error) {
	if ns.bot == nil {
		return 0, fmt.Errorf("telegram bot not initialized")
	}

	users, err := ns.users.UsersWithTelegramChat(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to load digest recipients: %w", err)
	}
	if len(users) == 0 {
		ns.logger.WithField("tenant_id", tenantID).Debug("No linked telegram chats for digest")
		return 0, nil
	}

	sent := 0
	for _, user := range users {
		if user.TelegramChatID == nil {
			continue
		}
		chatID, err := strconv.ParseInt(*user.TelegramChatID, 10, 64)
		if err != nil {
			ns.logger.WithError(err).WithField("user_id", user.ID).Warn("Invalid telegram chat id")
			continue
		}

		err = ns.breaker.Execute(ctx, func(ctx context.Context) error {
			_, sendErr := ns.bot.SendMessage(ctx, &bot.SendMessageParams{
				ChatID:    chatID,
				Text:      message,
				ParseMode: tgmodels.ParseModeMarkdown,
			})
			return sendErr
		})
		if errors.Is(err, ErrCircuitOpen) {
			// Telegram is down for everyone; no point in iterating further.
			return sent, fmt.Errorf("telegram delivery unavailable: %w", err)
		}
		if err != nil {
			ns.logger.WithError(err).WithField("user_id", user.ID).Warn("Failed to deliver digest message")
			continue
		}
		sent++
	}

	return sent, nil
}

// formatChurnDigest renders the churn digest message.
func (ns *NotificationService) formatChurnDigest(insights *models.ChurnInsights, topRisks []models.ChurnScore) string {
	if insights == nil || insights.CustomersScored == 0 {
		return "No customers scored in this churn run."
	}

	var b strings.Builder
	b.WriteString("⚠️ *Churn Risk Digest*\n\n")
	fmt.Fprintf(&b, "Scored %d customers, %d at high risk\n", insights.CustomersScored, insights.HighRiskCount)
	fmt.Fprintf(&b, "Average churn probability: %.1f%% (trend: %s)\n", insights.AvgProbability*100, insights.Trend)

	if len(insights.TopRiskFactors) > 0 {
		b.WriteString("\n*Top risk factors:*\n")
		factors := insights.TopRiskFactors
		if len(factors) > 3 {
			factors = factors[:3]
		}
		for i, factor := range factors {
			fmt.Fprintf(&b, "%d. %s (%d customers)\n", i+1, factor.Factor, factor.Count)
		}
	}

	if len(topRisks) > 0 {
		caser := cases.Title(language.English)
		top := topRisks
		if len(top) > 3 {
			top = top[:3]
		}
		b.WriteString("\n*Most urgent customers:*\n")
		for i, score := range top {
			fmt.Fprintf(&b, "%d. %s: *%s* (%.0f%% risk, LTV %.0f €)\n",
				i+1, score.CustomerID, caser.String(score.RiskTier), score.Probability*100, score.LifetimeValue)
		}
	}

	b.WriteString("\nUse /query to explore your customer data")
	return b.String()
}

// formatForecastDigest renders the revenue forecast digest message.
func (ns *NotificationService) formatForecastDigest(forecast *models.ForecastResult) string {
	if forecast == nil || len(forecast.Points) == 0 {
		return "No revenue forecast available."
	}

	total := 0.0
	for _, point := range forecast.Points {
		total += point.Predicted
	}

	first := forecast.Points[0]
	last := forecast.Points[len(forecast.Points)-1]

	var b strings.Builder
	b.WriteString("📈 *Revenue Forecast*\n\n")
	fmt.Fprintf(&b, "%s to %s (%d days)\n",
		first.Date.Format("Jan 2"), last.Date.Format("Jan 2, 2006"), len(forecast.Points))
	fmt.Fprintf(&b, "Expected revenue: *%.2f €*\n", total)
	fmt.Fprintf(&b, "Model confidence: %.0f%% (accuracy: %s)\n", forecast.Confidence*100, forecast.Accuracy)

	if forecast.Seasonality != nil && forecast.Seasonality.HasSeasonal {
		fmt.Fprintf(&b, "Seasonality: %s cycle detected\n", forecast.Seasonality.DominantCycle)
	}

	b.WriteString("\nUse /query to drill into bookings and revenue")
	return b.String()
}

// Bot exposes the underlying Telegram client so the webhook handler can
// reply over the same connection. Nil when no bot token is configured.
func (ns *NotificationService) Bot() *bot.Bot {
	return ns.bot
}

// BreakerState reports the current state of the Telegram delivery circuit.
func (ns *NotificationService) BreakerState() CircuitState {
	return ns.breaker.State()
}

// BreakerStats returns delivery circuit counters for the admin surface.
func (ns *NotificationService) BreakerStats() CircuitBreakerStats {
	return ns.breaker.GetStats()
}

// ResetBreaker forces the delivery circuit closed. Used by operators after
// a Telegram outage clears faster than the open timeout.
func (ns *NotificationService) ResetBreaker() {
	ns.breaker.Reset()
}
