package bus

import "time"

// InboundMessage is a chat event normalized across transports. The bot loop
// consumes these regardless of which channel produced them.
type InboundMessage struct {
	Channel     string
	SenderID    string
	SenderName  string
	ChatID      string
	Content     string
	Timestamp   time.Time
	IsAdmin     bool
	IsDM        bool
	MentionsBot bool
	ReplyToBot  bool
	Attachments []Attachment
	Metadata    map[string]string
}

// Attachment points at an uploaded file; the feed pipeline downloads it
// lazily so oversized uploads can be rejected before any bytes move.
type Attachment struct {
	URL         string
	Filename    string
	ContentType string
	Size        int
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
}

// ConversationID is the canonical per-conversation key used by the chain
// store and persistence: "<channel>:<chatID>".
func (m InboundMessage) ConversationID() string {
	return m.Channel + ":" + m.ChatID
}
