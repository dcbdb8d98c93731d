package channels

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/grabbot/grabbot/pkg/bus"
	"github.com/grabbot/grabbot/pkg/config"
	"github.com/grabbot/grabbot/pkg/logger"
	"github.com/grabbot/grabbot/pkg/notify"
	"github.com/grabbot/grabbot/pkg/utils"
)

const discordHelpText = "Send me a YouTube link and I'll fetch it as audio or video.\n" +
	"`!history` shows your recent downloads."

// DiscordChannel pumps Discord gateway events into the queue and implements
// notify.Sink. Discord message IDs are snowflake strings, so MessageRef maps
// onto them directly.
type DiscordChannel struct {
	session *discordgo.Session
	queue   *bus.Queue
}

func NewDiscordChannel(cfg config.DiscordConfig, queue *bus.Queue) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	c := &DiscordChannel{session: session, queue: queue}
	session.AddHandler(c.onMessageCreate)
	session.AddHandler(c.onInteractionCreate)
	return c, nil
}

func (c *DiscordChannel) Name() string { return "discord" }

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord gateway connection...")
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord gateway: %w", err)
	}
	logger.InfoCF("discord", "Discord bot connected", map[string]interface{}{
		"username": c.session.State.User.Username,
	})

	go func() {
		<-ctx.Done()
		if err := c.session.Close(); err != nil {
			logger.WarnCF("discord", "Gateway close failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
	return nil
}

func (c *DiscordChannel) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return
	}

	logger.DebugCF("discord", "Received message", map[string]interface{}{
		"sender_id": m.Author.ID,
		"chat_id":   m.ChannelID,
		"preview":   utils.Truncate(text, 50),
	})

	switch text {
	case "!help", "!start":
		if _, err := s.ChannelMessageSend(m.ChannelID, discordHelpText); err != nil {
			logger.WarnCF("discord", "Help reply failed", map[string]interface{}{
				"chat_id": m.ChannelID,
				"error":   err.Error(),
			})
		}
	case "!history":
		c.queue.Publish(bus.Event{
			Kind:     bus.EventHistory,
			Channel:  c.Name(),
			ChatID:   m.ChannelID,
			SenderID: m.Author.ID,
		})
	default:
		c.queue.Publish(bus.Event{
			Kind:     bus.EventLocator,
			Channel:  c.Name(),
			ChatID:   m.ChannelID,
			SenderID: m.Author.ID,
			Locator:  text,
		})
	}
}

func (c *DiscordChannel) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}

	// Ack so the button press does not show as failed.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		logger.DebugCF("discord", "Interaction ack failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	senderID := ""
	if i.Member != nil && i.Member.User != nil {
		senderID = i.Member.User.ID
	} else if i.User != nil {
		senderID = i.User.ID
	}

	switch i.MessageComponentData().CustomID {
	case bus.ChoiceFormatAudio:
		c.queue.Publish(bus.Event{
			Kind:     bus.EventFormat,
			Channel:  c.Name(),
			ChatID:   i.ChannelID,
			SenderID: senderID,
			Format:   "audio",
		})
	case bus.ChoiceFormatVideo:
		c.queue.Publish(bus.Event{
			Kind:     bus.EventFormat,
			Channel:  c.Name(),
			ChatID:   i.ChannelID,
			SenderID: senderID,
			Format:   "video",
		})
	case bus.ChoiceAnother:
		c.queue.Publish(bus.Event{
			Kind:     bus.EventAnother,
			Channel:  c.Name(),
			ChatID:   i.ChannelID,
			SenderID: senderID,
		})
	}
}

// SendMessage implements notify.Sink.
func (c *DiscordChannel) SendMessage(ctx context.Context, chatID, text string) (notify.MessageRef, error) {
	sent, err := c.session.ChannelMessageSend(chatID, text)
	if err != nil {
		return notify.MessageRef{}, fmt.Errorf("discord send: %w", err)
	}
	return notify.MessageRef{ChatID: chatID, MessageID: sent.ID}, nil
}

// EditMessage implements notify.Sink.
func (c *DiscordChannel) EditMessage(ctx context.Context, ref notify.MessageRef, text string) error {
	if _, err := c.session.ChannelMessageEdit(ref.ChatID, ref.MessageID, text); err != nil {
		return fmt.Errorf("discord edit: %w", err)
	}
	return nil
}

// DeleteMessage implements notify.Sink.
func (c *DiscordChannel) DeleteMessage(ctx context.Context, ref notify.MessageRef) error {
	if err := c.session.ChannelMessageDelete(ref.ChatID, ref.MessageID); err != nil {
		return fmt.Errorf("discord delete: %w", err)
	}
	return nil
}

// PresentChoice implements notify.Sink.
func (c *DiscordChannel) PresentChoice(ctx context.Context, chatID, text string, choices []notify.Choice) (notify.MessageRef, error) {
	buttons := make([]discordgo.MessageComponent, 0, len(choices))
	for _, choice := range choices {
		buttons = append(buttons, discordgo.Button{
			Label:    choice.Label,
			Style:    discordgo.PrimaryButton,
			CustomID: choice.Data,
		})
	}

	sent, err := c.session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Content: text,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: buttons},
		},
	})
	if err != nil {
		return notify.MessageRef{}, fmt.Errorf("discord choice: %w", err)
	}
	return notify.MessageRef{ChatID: chatID, MessageID: sent.ID}, nil
}

// SendAudio implements notify.Sink.
func (c *DiscordChannel) SendAudio(ctx context.Context, chatID, path, caption string, meta notify.AudioMeta) error {
	return c.sendFile(chatID, path, caption)
}

// SendVideo implements notify.Sink.
func (c *DiscordChannel) SendVideo(ctx context.Context, chatID, path, caption string, meta notify.VideoMeta) error {
	return c.sendFile(chatID, path, caption)
}

func (c *DiscordChannel) sendFile(chatID, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open media: %w", err)
	}
	defer f.Close()

	started := time.Now()
	_, err = c.session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Content: caption,
		Files: []*discordgo.File{
			{Name: utils.SanitizeFilename(filepath.Base(path)), Reader: f},
		},
	})
	if err != nil {
		return fmt.Errorf("discord upload: %w", err)
	}
	logger.InfoCF("discord", "Media sent", map[string]interface{}{
		"chat_id": chatID,
		"took":    utils.FormatDuration(time.Since(started)),
	})
	return nil
}
