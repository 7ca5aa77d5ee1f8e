package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/TobiSchelling/scoopfeed/internal/database"
)

const maxListed = 10

// TelegramNotifier posts a summary of each run's new articles to a chat.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier connects to the bot API. An empty endpoint uses the
// public Telegram API.
func NewTelegramNotifier(token string, chatID int64, endpoint string) (*TelegramNotifier, error) {
	if token == "" {
		return nil, errors.New("telegram bot token not configured")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat_id not configured")
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	return &TelegramNotifier{api: api, chatID: chatID}, nil
}

func (t *TelegramNotifier) Publish(_ context.Context, articles []database.Article) error {
	msg := tgbotapi.NewMessage(t.chatID, FormatSummary(articles))
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}

func (t *TelegramNotifier) Close() error { return nil }

// FormatSummary renders the chat message for a batch of new articles.
func FormatSummary(articles []database.Article) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d new exclusive articles\n", len(articles))
	for i, a := range articles {
		if i == maxListed {
			fmt.Fprintf(&b, "\n... and %d more", len(articles)-maxListed)
			break
		}
		cat := "Other"
		if a.Category != nil {
			cat = *a.Category
		}
		fmt.Fprintf(&b, "\n[%s] %s\n%s\n", cat, a.Title, a.Link)
	}
	return b.String()
}
