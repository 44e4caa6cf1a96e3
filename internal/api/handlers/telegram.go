package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/voyagehq/crm-ai-go/internal/models"
	"github.com/voyagehq/crm-ai-go/internal/nlquery"
	"github.com/voyagehq/crm-ai-go/internal/utils"
)

// telegramSecretHeader carries the webhook secret Telegram echoes back on
// every delivery when one was registered with setWebhook.
const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// maxChatResultRows caps how many rows a chat reply renders.
const maxChatResultRows = 10

// ChatUserSource resolves which user, and therefore which tenant, owns a
// Telegram chat.
type ChatUserSource interface {
	UserByTelegramChat(ctx context.Context, chatID string) (*models.User, error)
}

// TelegramSender sends messages through the bot API. Satisfied by *bot.Bot.
type TelegramSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// TelegramHandler answers natural-language CRM questions arriving over the
// Telegram webhook. Every question runs under the tenant of the user the
// chat is linked to; unlinked chats get nothing.
type TelegramHandler struct {
	users   ChatUserSource
	sender  TelegramSender
	parser  *nlquery.Parser
	builder *nlquery.Builder
	runner  QueryRunner
	secret  string
	logger  *logrus.Logger
}

// NewTelegramHandler creates a new Telegram webhook handler.
func NewTelegramHandler(users ChatUserSource, sender TelegramSender, parser *nlquery.Parser, builder *nlquery.Builder, runner QueryRunner, webhookSecret string, logger *logrus.Logger) *TelegramHandler {
	return &TelegramHandler{
		users:   users,
		sender:  sender,
		parser:  parser,
		builder: builder,
		runner:  runner,
		secret:  webhookSecret,
		logger:  logger,
	}
}

// HandleWebhook accepts one Telegram update. Replies go out through the bot
// API; the webhook response itself only acknowledges receipt, because a
// non-200 makes Telegram redeliver the update.
func (h *TelegramHandler) HandleWebhook(c *gin.Context) {
	if h.secret != "" && c.GetHeader(telegramSecretHeader) != h.secret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook secret"})
		return
	}

	if h.sender == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Telegram bot not available"})
		return
	}

	var update tgmodels.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid update payload"})
		return
	}

	if update.Message != nil {
		if err := h.processMessage(c.Request.Context(), update.Message); err != nil {
			h.logger.WithError(err).WithField("chat_id", update.Message.Chat.ID).Warn("Failed to process telegram message")
		}
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *TelegramHandler) processMessage(ctx context.Context, message *tgmodels.Message) error {
	text := strings.TrimSpace(message.Text)
	if text == "" {
		return nil
	}
	chatID := message.Chat.ID

	switch {
	case strings.HasPrefix(text, "/start"):
		return h.replyStart(ctx, chatID)
	case strings.HasPrefix(text, "/help"):
		return h.reply(ctx, chatID, helpMessage)
	case strings.HasPrefix(text, "/query"):
		question := strings.TrimSpace(strings.TrimPrefix(text, "/query"))
		if question == "" {
			return h.reply(ctx, chatID, "Send a question after /query, for example:\n/query wie viele leads aus deutschland")
		}
		return h.answerQuestion(ctx, chatID, question)
	case strings.HasPrefix(text, "/"):
		return h.reply(ctx, chatID, "Unknown command. Use /help to see what I understand.")
	default:
		// Bare text is treated as a question; that is what the bot is for.
		return h.answerQuestion(ctx, chatID, text)
	}
}

// replyStart greets the chat. Linked chats get a tailored greeting, fresh
// chats get linking instructions.
func (h *TelegramHandler) replyStart(ctx context.Context, chatID int64) error {
	user, err := h.users.UserByTelegramChat(ctx, strconv.FormatInt(chatID, 10))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return h.reply(ctx, chatID, startUnlinkedMessage)
		}
		h.reply(ctx, chatID, "Something went wrong, please try again later.")
		return fmt.Errorf("failed to resolve chat user: %w", err)
	}

	greeting := fmt.Sprintf("Welcome back, %s!\n\nAsk me about your CRM data in plain language, for example:\n%s\n\nUse /help for more.", user.Email, exampleQuestions)
	return h.reply(ctx, chatID, greeting)
}

// answerQuestion runs the full query pipeline for a linked chat and replies
// with the formatted result.
func (h *TelegramHandler) answerQuestion(ctx context.Context, chatID int64, question string) error {
	user, err := h.users.UserByTelegramChat(ctx, strconv.FormatInt(chatID, 10))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return h.reply(ctx, chatID, startUnlinkedMessage)
		}
		h.reply(ctx, chatID, "Something went wrong, please try again later.")
		return fmt.Errorf("failed to resolve chat user: %w", err)
	}

	parsed := h.parser.Parse(question)
	generated, err := h.builder.BuildSQL(parsed, user.TenantID)
	if err != nil {
		var typeErr *utils.UnsupportedQueryTypeError
		if errors.As(err, &typeErr) {
			return h.reply(ctx, chatID, "I could not map that question to your CRM data. Try asking about leads, bookings, revenue or contacts, for example:\n"+exampleQuestions)
		}
		h.reply(ctx, chatID, "I could not build a safe query for that question.")
		return fmt.Errorf("failed to build chat query: %w", err)
	}

	rows, err := h.runner.Execute(ctx, user.TenantID, question, generated)
	if err != nil {
		h.reply(ctx, chatID, "Running that query failed, please try again later.")
		return fmt.Errorf("failed to execute chat query: %w", err)
	}

	h.logger.WithFields(logrus.Fields{
		"tenant_id":  user.TenantID,
		"chat_id":    chatID,
		"query_type": parsed.Type,
		"row_count":  len(rows),
	}).Info("Answered telegram query")

	return h.reply(ctx, chatID, formatChatResult(parsed, generated, rows))
}

// reply sends plain text. Query results embed arbitrary customer data, so
// no parse mode: Telegram would choke on underscores and brackets in it.
func (h *TelegramHandler) reply(ctx context.Context, chatID int64, text string) error {
	_, err := h.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram reply: %w", err)
	}
	return nil
}

// formatChatResult renders query output for a chat window: a headline, the
// generated explanation, and at most maxChatResultRows rows.
func formatChatResult(parsed *models.ParsedQuery, generated *models.GeneratedSQL, rows []map[string]any) string {
	caser := cases.Title(language.English)
	title := caser.String(string(parsed.Type))

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d result(s)\n", title, len(rows))
	if generated.Explanation != "" {
		b.WriteString(generated.Explanation + "\n")
	}

	if len(rows) == 0 {
		b.WriteString("\nNo matching records.")
		return b.String()
	}

	// Single-row single-column results are aggregates; print just the value.
	if len(rows) == 1 && len(rows[0]) == 1 {
		for name, value := range rows[0] {
			fmt.Fprintf(&b, "\n%s = %v", name, value)
		}
		return b.String()
	}

	shown := rows
	if len(shown) > maxChatResultRows {
		shown = shown[:maxChatResultRows]
	}
	for i, row := range shown {
		columns := make([]string, 0, len(row))
		for name := range row {
			columns = append(columns, name)
		}
		sort.Strings(columns)

		parts := make([]string, 0, len(columns))
		for _, name := range columns {
			parts = append(parts, fmt.Sprintf("%s=%v", name, row[name]))
		}
		fmt.Fprintf(&b, "\n%d. %s", i+1, strings.Join(parts, ", "))
	}
	if len(rows) > maxChatResultRows {
		fmt.Fprintf(&b, "\n… and %d more", len(rows)-maxChatResultRows)
	}
	return b.String()
}

const startUnlinkedMessage = `This chat is not linked to a CRM account yet.

Sign in to the web app and add this chat in your profile settings, then come back and ask away.`

const exampleQuestions = `- wie viele leads aus deutschland
- revenue last month
- show confirmed bookings this month`

const helpMessage = `I answer questions about your CRM data.

/start - check your account link
/query <question> - run a question explicitly
/help - this message

You can also just type a question, in English or German:
- wie viele leads aus deutschland
- how many bookings this month
- revenue last 30 days`
