// Package chat defines the platform-neutral chat transport used by toxbot.
// Platform implementations live in the discord and slack subpackages.
package chat

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRecipientUnreachable means the platform refused a direct message
	// because the recipient has DMs closed or has blocked the bot.
	ErrRecipientUnreachable = errors.New("chat: recipient unreachable")
	// ErrNotConnected is returned by adapters used before Connect or after Close.
	ErrNotConnected = errors.New("chat: not connected")
)

// Adapter is the interface that platform-specific implementations must satisfy.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the adapter is closed. Listen must only be
	// called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send posts a message to a channel and returns the new message's ID.
	Send(ctx context.Context, msg OutboundMessage) (string, error)

	// SendDirect opens (or reuses) the direct conversation with userID,
	// posts msg there and returns the new message's ID.
	SendDirect(ctx context.Context, userID string, msg OutboundMessage) (string, error)

	// ResolveUserHandle returns a human-readable name for userID.
	ResolveUserHandle(ctx context.Context, userID string) (string, error)

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform  string // "discord" or "slack"
	GuildID   string // guild / workspace; empty for direct messages on discord
	GuildName string
	ChannelID string
	Channel   string // human-readable channel name, when known
	MessageID string
	UserID    string
	UserName  string
	Text      string // raw platform text, mention markup intact
	ReplyToID string // message this one replies to, empty if none
	IsDirect  bool   // sent in a one-to-one conversation with the bot
	Timestamp time.Time

	// DisplayText is Text with user mentions rendered as names. Empty when
	// the platform left nothing to render.
	DisplayText string
}

// Readable returns the text as a person would see it in the client.
func (m InboundMessage) Readable() string {
	if m.DisplayText != "" {
		return m.DisplayText
	}
	return m.Text
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID string           // target channel (ignored by SendDirect)
	ReplyToID string           // message to reply to, empty for none
	Text      string           // message text (platform-native formatting)
	Events    []FormattedEvent // embeds / attachments
}

// FormattedEvent is a rich card rendered as a Discord embed or a Slack
// attachment.
type FormattedEvent struct {
	Title  string
	Body   string
	Color  string // hex, e.g. "#83b670"
	Fields []Field
	Footer string
}

// Field is a key-value pair displayed in an event card.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}

// GuildCounter is an optional interface for adapters that can report how
// many guilds (Discord) or workspaces (Slack) the bot is connected to.
type GuildCounter interface {
	GuildCount() int
}
