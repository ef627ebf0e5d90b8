package notify

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/solbot/internal/engine"
	"github.com/web3guy0/solbot/internal/storage"
)

// Telegram sends Markdown notifications to one chat.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram creates the Telegram notifier.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram: token not set")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram: chat id not set")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram notifier initialized")
	return &Telegram{api: api, chatID: chatID}, nil
}

func (t *Telegram) NotifyStartup(mode string) error {
	return t.sendMarkdown(fmt.Sprintf(`🚀 *BOT STARTED*

⚙️ Mode: *%s*
🕐 %s`, mode, time.Now().UTC().Format("2006-01-02 15:04 UTC")))
}

func (t *Telegram) NotifyCycle(kind string, res *engine.CycleResult) error {
	return t.sendMarkdown(RenderCycle(kind, res))
}

func (t *Telegram) NotifyDailySummary(day time.Time, pnl decimal.Decimal, closed []storage.Position) error {
	return t.sendMarkdown(RenderDailySummary(day, pnl, closed))
}

func (t *Telegram) sendMarkdown(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}
