// Package discord implements the chat Adapter for Discord using the Gateway WebSocket.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/toxbot/internal/chat"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff for rate-limited calls.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
	// handleTTL is how long resolved display names and DM channels are cached.
	handleTTL = 30 * time.Minute
	// inboundBuffer is the capacity of the inbound message channel.
	inboundBuffer = 100
	// errCodeCannotMessageUser is Discord's "Cannot send messages to this user".
	errCodeCannotMessageUser = 50007
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	Channel(channelID string) (*discordgo.Channel, error)
	Guild(guildID string) (*discordgo.Guild, error)
	User(userID string) (*discordgo.User, error)
	UserChannelCreate(recipientID string) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler interface{}) func()
	GuildCount() int
}

// realSession wraps *discordgo.Session to implement the session interface.
// Channel and Guild read from the gateway state cache.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) Channel(channelID string) (*discordgo.Channel, error) {
	return r.s.State.Channel(channelID)
}
func (r *realSession) Guild(guildID string) (*discordgo.Guild, error) {
	return r.s.State.Guild(guildID)
}
func (r *realSession) User(userID string) (*discordgo.User, error) {
	return r.s.User(userID)
}
func (r *realSession) UserChannelCreate(recipientID string) (*discordgo.Channel, error) {
	return r.s.UserChannelCreate(recipientID)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}
func (r *realSession) GuildCount() int {
	r.s.State.RLock()
	defer r.s.State.RUnlock()
	return len(r.s.State.Guilds)
}

// Adapter implements chat.Adapter for Discord via the Gateway WebSocket.
type Adapter struct {
	sess          session
	botToken      string
	channelID     string // default channel for Send
	botUserID     string
	mu            sync.Mutex
	connected     bool
	closed        bool
	inbound       chan chat.InboundMessage
	removeHandler func()
	handles       *gocache.Cache // user ID -> display name
	dmChannels    *gocache.Cache // user ID -> DM channel ID
	baseBackoff   time.Duration
	maxBackoff    time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken  string // Discord bot token
	ChannelID string // default channel to post to
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}

	return &Adapter{
		sess:        opts.Session,
		botToken:    opts.BotToken,
		channelID:   opts.ChannelID,
		inbound:     make(chan chat.InboundMessage, inboundBuffer),
		handles:     gocache.New(handleTTL, 2*handleTTL),
		dmChannels:  gocache.New(handleTTL, 2*handleTTL),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuilds |
			discordgo.IntentsGuildMessages |
			discordgo.IntentsDirectMessages |
			discordgo.IntentsMessageContent
		a.sess = &realSession{s: dg}
	}

	// Ready fires on connect and reconnect; capture the bot user ID each time.
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		log.Info().Str("user", r.User.Username).Str("id", r.User.ID).Msg("discord: connected")
	})
	a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		log.Warn().Msg("discord: gateway disconnected, discordgo will auto-reconnect")
	})
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Resumed) {
		log.Info().Msg("discord: gateway session resumed")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

// Listen returns a channel of inbound messages from Discord. Must be called
// after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan chat.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("discord: %w", chat.ErrNotConnected)
	}
	if a.removeHandler == nil {
		a.removeHandler = a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			a.handleMessage(m)
		})
	}
	return a.inbound, nil
}

// Send posts msg to msg.ChannelID (or the default channel) and returns the
// new message ID.
func (a *Adapter) Send(ctx context.Context, msg chat.OutboundMessage) (string, error) {
	if err := a.checkConnected(); err != nil {
		return "", err
	}

	channelID := msg.ChannelID
	if channelID == "" {
		channelID = a.channelID
	}
	if channelID == "" {
		return "", fmt.Errorf("discord: no channel specified")
	}

	id, err := a.post(ctx, channelID, msg)
	if err != nil {
		return "", fmt.Errorf("discord: send message: %w", err)
	}
	return id, nil
}

// SendDirect opens the DM channel with userID and posts msg there. A user
// who does not accept DMs from the bot yields chat.ErrRecipientUnreachable.
func (a *Adapter) SendDirect(ctx context.Context, userID string, msg chat.OutboundMessage) (string, error) {
	if err := a.checkConnected(); err != nil {
		return "", err
	}

	channelID, err := a.dmChannel(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("discord: open dm with %s: %w", userID, classify(err))
	}

	id, err := a.post(ctx, channelID, msg)
	if err != nil {
		return "", fmt.Errorf("discord: send dm to %s: %w", userID, classify(err))
	}
	return id, nil
}

// ResolveUserHandle returns the user's global display name, falling back to
// the username. Results are cached.
func (a *Adapter) ResolveUserHandle(ctx context.Context, userID string) (string, error) {
	if v, ok := a.handles.Get(userID); ok {
		return v.(string), nil
	}
	if err := a.checkConnected(); err != nil {
		return "", err
	}

	var user *discordgo.User
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		user, apiErr = a.sess.User(userID)
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: resolve user %s: %w", userID, err)
	}

	name := user.GlobalName
	if name == "" {
		name = user.Username
	}
	a.handles.SetDefault(userID, name)
	return name, nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.removeHandler != nil {
		a.removeHandler()
	}
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// GuildCount returns the number of guilds in the gateway state, or 0 when
// not connected.
func (a *Adapter) GuildCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return 0
	}
	return a.sess.GuildCount()
}

// BotUserID returns the bot's Discord user ID (available after Ready).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

func (a *Adapter) checkConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("discord: %w", chat.ErrNotConnected)
	}
	return nil
}

func (a *Adapter) post(ctx context.Context, channelID string, msg chat.OutboundMessage) (string, error) {
	data := buildMessageSend(msg)
	var sent *discordgo.Message
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		sent, apiErr = a.sess.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
		return apiErr
	})
	if err != nil {
		return "", err
	}
	return sent.ID, nil
}

func (a *Adapter) dmChannel(ctx context.Context, userID string) (string, error) {
	if v, ok := a.dmChannels.Get(userID); ok {
		return v.(string), nil
	}
	var ch *discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = a.sess.UserChannelCreate(userID)
		return apiErr
	})
	if err != nil {
		return "", err
	}
	a.dmChannels.SetDefault(userID, ch.ID)
	return ch.ID, nil
}

// classify maps Discord's "cannot message this user" error onto
// chat.ErrRecipientUnreachable.
func classify(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil && restErr.Message.Code == errCodeCannotMessageUser {
		return fmt.Errorf("%w: %s", chat.ErrRecipientUnreachable, restErr.Message.Message)
	}
	return err
}

// handleMessage converts a Discord message event to an InboundMessage.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}

	a.mu.Lock()
	botID := a.botUserID
	a.mu.Unlock()
	if m.Author.ID == botID || m.Author.Bot {
		return
	}

	msg := chat.InboundMessage{
		Platform:  "discord",
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Text:      m.Content,
		IsDirect:  m.GuildID == "",
	}
	if m.Author.GlobalName != "" {
		msg.UserName = m.Author.GlobalName
	}
	if clean := m.ContentWithMentionsReplaced(); clean != m.Content {
		msg.DisplayText = clean
	}
	if m.MessageReference != nil {
		msg.ReplyToID = m.MessageReference.MessageID
	}
	if ts, err := discordgo.SnowflakeTimestamp(m.ID); err == nil {
		msg.Timestamp = ts
	}
	if !msg.IsDirect {
		if ch, err := a.sess.Channel(m.ChannelID); err == nil {
			msg.Channel = ch.Name
		}
		if g, err := a.sess.Guild(m.GuildID); err == nil {
			msg.GuildName = g.Name
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.inbound <- msg:
	default:
		log.Warn().Str("message_id", m.ID).Msg("discord: inbound buffer full, dropping message")
	}
}

// buildMessageSend translates an OutboundMessage into a Discord MessageSend.
func buildMessageSend(msg chat.OutboundMessage) *discordgo.MessageSend {
	data := &discordgo.MessageSend{
		Content: msg.Text,
	}
	if msg.ReplyToID != "" {
		data.Reference = &discordgo.MessageReference{MessageID: msg.ReplyToID, ChannelID: msg.ChannelID}
	}
	for _, evt := range msg.Events {
		data.Embeds = append(data.Embeds, eventToEmbed(evt))
	}
	return data
}

// eventToEmbed converts a FormattedEvent to a Discord Embed.
func eventToEmbed(evt chat.FormattedEvent) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       evt.Title,
		Description: evt.Body,
	}
	if evt.Color != "" {
		embed.Color = parseHexColor(evt.Color)
	}
	for _, f := range evt.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}
	if evt.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: evt.Footer}
	}
	return embed
}

// parseHexColor converts a hex color string (e.g. "#36a64f") to an int.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	var color int
	for _, c := range hex {
		color <<= 4
		switch {
		case c >= '0' && c <= '9':
			color |= int(c - '0')
		case c >= 'a' && c <= 'f':
			color |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			color |= int(c-'A') + 10
		}
	}
	return color
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		log.Warn().Int("attempt", attempt+1).Int("max", maxRetries).Dur("wait", wait).
			Msg("discord: rate limited, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
