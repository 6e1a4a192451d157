package channels

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/markybot/marky/pkg/bus"
	"github.com/markybot/marky/pkg/config"
	"github.com/markybot/marky/pkg/logger"
)

const (
	sendTimeout = 10 * time.Second
	// Discord rejects messages over 2000 characters.
	discordMessageLimit = 2000
)

type DiscordChannel struct {
	*BaseChannel
	session      *discordgo.Session
	config       config.DiscordConfig
	triggerWords []string
	adminUsers   []string
	botID        string
}

func NewDiscordChannel(cfg *config.Config, messageBus *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Channels.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	base := NewBaseChannel("discord", messageBus, cfg.Channels.Discord.AllowFrom)

	triggers := make([]string, 0, len(cfg.Bot.TriggerWords))
	for _, w := range cfg.Bot.TriggerWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			triggers = append(triggers, w)
		}
	}

	return &DiscordChannel{
		BaseChannel:  base,
		session:      session,
		config:       cfg.Channels.Discord,
		triggerWords: triggers,
		adminUsers:   cfg.Bot.AdminUsers,
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")

	c.session.AddHandler(c.handleMessage)
	c.session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	c.setRunning(true)

	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}
	c.botID = botUser.ID
	logger.InfoCF("discord", "Discord bot connected", map[string]any{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})

	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.setRunning(false)

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}

	return nil
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("channel ID is empty")
	}

	content := msg.Content
	if runes := []rune(content); len(runes) > discordMessageLimit {
		content = string(runes[:discordMessageLimit])
	}
	if content == "" {
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.session.ChannelMessageSend(msg.ChatID, content)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send discord message: %w", err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("send message timeout: %w", sendCtx.Err())
	}
}

// mentionsBot reports whether the message addresses the bot: a user mention
// of the bot's account or any configured trigger word in the text.
func (c *DiscordChannel) mentionsBot(m *discordgo.MessageCreate) bool {
	for _, u := range m.Mentions {
		if u != nil && u.ID == c.botID {
			return true
		}
	}
	lowered := strings.ToLower(m.Content)
	for _, w := range c.triggerWords {
		if strings.Contains(lowered, w) {
			return true
		}
	}
	return false
}

// repliesToBot reports whether the message is a direct reply to one of the
// bot's own messages.
func (c *DiscordChannel) repliesToBot(m *discordgo.MessageCreate) bool {
	ref := m.ReferencedMessage
	return ref != nil && ref.Author != nil && ref.Author.ID == c.botID
}

func (c *DiscordChannel) isAdmin(senderID, username string) bool {
	for _, admin := range c.adminUsers {
		candidate := strings.TrimSpace(strings.TrimPrefix(admin, "@"))
		if candidate == "" {
			continue
		}
		if candidate == senderID || candidate == username {
			return true
		}
	}
	return false
}

func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil {
		return
	}
	if m.Author.ID == s.State.User.ID {
		return
	}
	if !c.IsAllowed(m.Author.ID) {
		logger.DebugCF("discord", "Message rejected by allowlist", map[string]any{
			"user_id": m.Author.ID,
		})
		return
	}

	attachments := make([]bus.Attachment, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		attachments = append(attachments, bus.Attachment{
			URL:         a.URL,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}

	if m.Content == "" && len(attachments) == 0 {
		return
	}

	ts := time.Now()
	if t := m.Timestamp; !t.IsZero() {
		ts = t
	}

	logger.DebugCF("discord", "Received message", map[string]any{
		"sender_id":   m.Author.ID,
		"channel_id":  m.ChannelID,
		"attachments": len(attachments),
	})

	c.Publish(bus.InboundMessage{
		SenderID:    m.Author.ID,
		SenderName:  m.Author.Username,
		ChatID:      m.ChannelID,
		Content:     m.Content,
		Timestamp:   ts,
		IsAdmin:     c.isAdmin(m.Author.ID, m.Author.Username),
		IsDM:        m.GuildID == "",
		MentionsBot: c.mentionsBot(m),
		ReplyToBot:  c.repliesToBot(m),
		Attachments: attachments,
		Metadata: map[string]string{
			"message_id": m.ID,
			"guild_id":   m.GuildID,
		},
	})
}
