package channels

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/grabbot/grabbot/pkg/bus"
	"github.com/grabbot/grabbot/pkg/config"
	"github.com/grabbot/grabbot/pkg/logger"
	"github.com/grabbot/grabbot/pkg/notify"
	"github.com/grabbot/grabbot/pkg/utils"
)

const telegramHelpText = "Send me a YouTube link and I'll fetch it as audio or video.\n\n" +
	"/history shows your recent downloads."

// TelegramChannel pumps Telegram updates into the event queue and implements
// notify.Sink for outbound traffic.
type TelegramChannel struct {
	bot    *telego.Bot
	queue  *bus.Queue
	config config.TelegramConfig
}

func NewTelegramChannel(cfg config.TelegramConfig, queue *bus.Queue) (*TelegramChannel, error) {
	var opts []telego.BotOption

	if cfg.Proxy != "" {
		proxyURL, parseErr := url.Parse(cfg.Proxy)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, parseErr)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			},
		}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &TelegramChannel{bot: bot, queue: queue, config: cfg}, nil
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Start(ctx context.Context) error {
	logger.InfoC("telegram", "Starting Telegram bot (polling mode)...")

	updates, err := c.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: 30,
	})
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	logger.InfoCF("telegram", "Telegram bot connected", map[string]interface{}{
		"username": c.bot.Username(),
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					logger.InfoC("telegram", "Updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(ctx, update.Message)
				}
				if update.CallbackQuery != nil {
					c.handleCallback(ctx, update.CallbackQuery)
				}
			}
		}
	}()

	return nil
}

func (c *TelegramChannel) handleMessage(ctx context.Context, message *telego.Message) {
	if message.From == nil || message.Text == "" {
		return
	}

	chatID := strconv.FormatInt(message.Chat.ID, 10)
	senderID := strconv.FormatInt(message.From.ID, 10)
	text := strings.TrimSpace(message.Text)

	logger.DebugCF("telegram", "Received message", map[string]interface{}{
		"sender_id": senderID,
		"chat_id":   chatID,
		"preview":   utils.Truncate(text, 50),
	})

	switch {
	case text == "/start" || text == "/help":
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(message.Chat.ID), telegramHelpText)); err != nil {
			logger.WarnCF("telegram", "Help reply failed", map[string]interface{}{
				"chat_id": chatID,
				"error":   err.Error(),
			})
		}
	case text == "/history":
		c.queue.Publish(bus.Event{
			Kind:     bus.EventHistory,
			Channel:  c.Name(),
			ChatID:   chatID,
			SenderID: senderID,
		})
	default:
		c.queue.Publish(bus.Event{
			Kind:     bus.EventLocator,
			Channel:  c.Name(),
			ChatID:   chatID,
			SenderID: senderID,
			Locator:  text,
		})
	}
}

func (c *TelegramChannel) handleCallback(ctx context.Context, query *telego.CallbackQuery) {
	// Acknowledge first so the button stops spinning even if the event
	// queue drops the press.
	if err := c.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: query.ID,
	}); err != nil {
		logger.DebugCF("telegram", "Callback ack failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if query.Message == nil {
		return
	}
	chatID := strconv.FormatInt(query.Message.GetChat().ID, 10)
	senderID := strconv.FormatInt(query.From.ID, 10)

	switch query.Data {
	case bus.ChoiceFormatAudio:
		c.queue.Publish(bus.Event{
			Kind:     bus.EventFormat,
			Channel:  c.Name(),
			ChatID:   chatID,
			SenderID: senderID,
			Format:   "audio",
		})
	case bus.ChoiceFormatVideo:
		c.queue.Publish(bus.Event{
			Kind:     bus.EventFormat,
			Channel:  c.Name(),
			ChatID:   chatID,
			SenderID: senderID,
			Format:   "video",
		})
	case bus.ChoiceAnother:
		c.queue.Publish(bus.Event{
			Kind:     bus.EventAnother,
			Channel:  c.Name(),
			ChatID:   chatID,
			SenderID: senderID,
		})
	}
}

// SendMessage implements notify.Sink.
func (c *TelegramChannel) SendMessage(ctx context.Context, chatID, text string) (notify.MessageRef, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return notify.MessageRef{}, err
	}
	sent, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(id), text))
	if err != nil {
		return notify.MessageRef{}, fmt.Errorf("telegram send: %w", err)
	}
	return notify.MessageRef{ChatID: chatID, MessageID: strconv.Itoa(sent.MessageID)}, nil
}

// EditMessage implements notify.Sink.
func (c *TelegramChannel) EditMessage(ctx context.Context, ref notify.MessageRef, text string) error {
	id, err := parseChatID(ref.ChatID)
	if err != nil {
		return err
	}
	messageID, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return fmt.Errorf("invalid message ID %q: %w", ref.MessageID, err)
	}
	if _, err := c.bot.EditMessageText(ctx, tu.EditMessageText(tu.ID(id), messageID, text)); err != nil {
		return fmt.Errorf("telegram edit: %w", err)
	}
	return nil
}

// DeleteMessage implements notify.Sink.
func (c *TelegramChannel) DeleteMessage(ctx context.Context, ref notify.MessageRef) error {
	id, err := parseChatID(ref.ChatID)
	if err != nil {
		return err
	}
	messageID, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return fmt.Errorf("invalid message ID %q: %w", ref.MessageID, err)
	}
	if err := c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    tu.ID(id),
		MessageID: messageID,
	}); err != nil {
		return fmt.Errorf("telegram delete: %w", err)
	}
	return nil
}

// PresentChoice implements notify.Sink.
func (c *TelegramChannel) PresentChoice(ctx context.Context, chatID, text string, choices []notify.Choice) (notify.MessageRef, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return notify.MessageRef{}, err
	}

	buttons := make([]telego.InlineKeyboardButton, 0, len(choices))
	for _, choice := range choices {
		buttons = append(buttons, tu.InlineKeyboardButton(choice.Label).WithCallbackData(choice.Data))
	}

	msg := tu.Message(tu.ID(id), text).WithReplyMarkup(tu.InlineKeyboard(tu.InlineKeyboardRow(buttons...)))
	sent, err := c.bot.SendMessage(ctx, msg)
	if err != nil {
		return notify.MessageRef{}, fmt.Errorf("telegram choice: %w", err)
	}
	return notify.MessageRef{ChatID: chatID, MessageID: strconv.Itoa(sent.MessageID)}, nil
}

// SendAudio implements notify.Sink.
func (c *TelegramChannel) SendAudio(ctx context.Context, chatID, path, caption string, meta notify.AudioMeta) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	started := time.Now()
	params := tu.Audio(tu.ID(id), tu.File(f))
	params.Caption = caption
	params.Title = meta.Title
	params.Performer = meta.Performer

	if _, err := c.bot.SendAudio(ctx, params); err != nil {
		return fmt.Errorf("telegram audio upload: %w", err)
	}
	logger.InfoCF("telegram", "Audio sent", map[string]interface{}{
		"chat_id": chatID,
		"took":    utils.FormatDuration(time.Since(started)),
	})
	return nil
}

// SendVideo implements notify.Sink.
func (c *TelegramChannel) SendVideo(ctx context.Context, chatID, path, caption string, meta notify.VideoMeta) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	started := time.Now()
	params := tu.Video(tu.ID(id), tu.File(f))
	params.Caption = caption
	params.Width = meta.Width
	params.Height = meta.Height
	params.Duration = meta.DurationSeconds
	params.SupportsStreaming = true

	if _, err := c.bot.SendVideo(ctx, params); err != nil {
		return fmt.Errorf("telegram video upload: %w", err)
	}
	logger.InfoCF("telegram", "Video sent", map[string]interface{}{
		"chat_id": chatID,
		"took":    utils.FormatDuration(time.Since(started)),
	})
	return nil
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat ID %q: %w", chatID, err)
	}
	return id, nil
}
