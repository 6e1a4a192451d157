package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/markybot/marky/pkg/bus"
	"github.com/markybot/marky/pkg/logger"
	"github.com/markybot/marky/pkg/markov"
)

func (b *Bot) isCommand(content string) bool {
	lowered := strings.ToLower(content)
	return lowered == b.cmdPrefix || strings.HasPrefix(lowered, b.cmdPrefix+" ")
}

// handleCommand dispatches the settings and introspection commands. The
// response goes straight back to the originating chat; command traffic is
// never ingested into the chain.
func (b *Bot) handleCommand(msg bus.InboundMessage, content string) {
	id := msg.ConversationID()
	args := strings.Fields(content)[1:]

	// A bare command is an explicit "say something" request.
	if len(args) == 0 {
		b.reply(msg, nil, true, uuid.NewString())
		return
	}

	var response string
	switch {
	case strings.EqualFold(args[0], "help"):
		response = b.helpText()
	case strings.EqualFold(args[0], "settings"):
		response = b.settingsText(id)
	case strings.EqualFold(args[0], "stats"):
		response = b.statsText(id)
	case strings.EqualFold(args[0], "set"):
		response = b.applySet(msg, id, args[1:])
	default:
		response = fmt.Sprintf("unknown command %q. try `%s help`.", args[0], b.cmdPrefix)
	}

	logger.DebugCF("bot", "Handled command", map[string]any{
		"conversation": id,
		"command":      strings.Join(args, " "),
	})
	b.bus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: response,
	})
}

func (b *Bot) helpText() string {
	var sb strings.Builder
	sb.WriteString("commands:\n")
	fmt.Fprintf(&sb, "`%s` say something\n", b.cmdPrefix)
	fmt.Fprintf(&sb, "`%s settings` show this conversation's settings\n", b.cmdPrefix)
	fmt.Fprintf(&sb, "`%s stats` show model size\n", b.cmdPrefix)
	fmt.Fprintf(&sb, "`%s set <key> <value>` change a setting (admins only)\n", b.cmdPrefix)
	sb.WriteString("keys: " + strings.Join(markov.SettingKeys(), ", "))
	return sb.String()
}

func (b *Bot) settingsText(id string) string {
	s := b.store.SettingsOf(id)
	var sb strings.Builder
	sb.WriteString("settings for this conversation:\n")
	fmt.Fprintf(&sb, "%s: %d\n", markov.SettingOrder, s.Order)
	fmt.Fprintf(&sb, "%s: %g\n", markov.SettingRandomReplyChance, s.RandomReplyChance)
	fmt.Fprintf(&sb, "%s: %d\n", markov.SettingInactivityThreshold, int(s.InactivityThreshold/time.Second))
	fmt.Fprintf(&sb, "%s: %g", markov.SettingWordFromUserChance, s.WordFromUserChance)
	return sb.String()
}

func (b *Bot) statsText(id string) string {
	keys, pairs := b.store.Stats(id)
	state := b.tracker.StateOf(id, time.Now(), time.Hour)
	return fmt.Sprintf("model: %d contexts, %d transitions, state: %s", keys, pairs, state)
}

func (b *Bot) applySet(msg bus.InboundMessage, id string, args []string) string {
	if !msg.IsAdmin {
		return "only admins can change settings."
	}
	if len(args) != 2 {
		return fmt.Sprintf("usage: `%s set <key> <value>`", b.cmdPrefix)
	}

	key, value := strings.ToLower(args[0]), args[1]
	wasOrder := b.store.SettingsOf(id).Order

	if err := b.store.ApplySetting(id, key, value); err != nil {
		if errors.Is(err, markov.ErrInvalidSetting) {
			return err.Error()
		}
		return "could not apply setting."
	}

	reply := fmt.Sprintf("%s set to %s.", key, value)
	if key == markov.SettingOrder && b.store.SettingsOf(id).Order != wasOrder {
		// Order changes rebuild the chain; raw history is never kept, so
		// the model starts over from scratch.
		reply += " the model for this conversation was reset and will relearn from new messages."
	}
	logger.InfoCF("bot", "Setting changed", map[string]any{
		"conversation": id,
		"key":          key,
		"value":        value,
		"admin":        msg.SenderID,
	})
	return reply
}
