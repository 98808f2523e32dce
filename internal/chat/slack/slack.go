// Package slack implements the chat Adapter for Slack using Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/toxbot/internal/chat"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
	// cacheTTL bounds how long user names, channel names and DM channels are cached.
	cacheTTL = 30 * time.Minute
	// lookupTimeout bounds name lookups made while handling an event.
	lookupTimeout = 5 * time.Second
)

// unreachableErrors are Slack API error codes meaning the DM cannot be delivered.
var unreachableErrors = []string{
	"cannot_dm_bot", "user_not_found", "user_disabled", "channel_not_found", "is_archived",
	"not_in_channel", "messages_tab_disabled",
}

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	OpenConversationContext(ctx context.Context, params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error)
	GetUserInfoContext(ctx context.Context, userID string) (*slackapi.User, error)
	GetConversationInfoContext(ctx context.Context, input *slackapi.GetConversationInfoInput) (*slackapi.Channel, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements chat.Adapter for Slack Socket Mode.
type Adapter struct {
	client       slackClient
	socket       socketClient
	botUserID    string
	teamID       string
	teamName     string
	appToken     string
	botToken     string
	channelID    string // default channel for Send
	mu           sync.Mutex
	connected    bool
	closed       bool
	listening    bool
	inbound      chan chat.InboundMessage
	cancelFunc   context.CancelFunc
	names        *gocache.Cache // user ID -> display name
	channels     *gocache.Cache // channel ID -> channel name
	dmChannels   *gocache.Cache // user ID -> IM channel ID
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken  string // xapp-... Slack app-level token for Socket Mode
	BotToken  string // xoxb-... Slack bot token
	ChannelID string // default channel to post to
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}

	return &Adapter{
		client:       opts.Client,
		socket:       opts.Socket,
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		channelID:    opts.ChannelID,
		inbound:      make(chan chat.InboundMessage, 100),
		names:        gocache.New(cacheTTL, 2*cacheTTL),
		channels:     gocache.New(cacheTTL, 2*cacheTTL),
		dmChannels:   gocache.New(cacheTTL, 2*cacheTTL),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}, nil
}

// Connect authenticates and prepares the Socket Mode client.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID
	a.teamID = auth.TeamID
	a.teamName = auth.Team
	log.Info().Str("user_id", auth.UserID).Str("team", auth.Team).Msg("slack: authenticated")

	a.connected = true
	return nil
}

// Listen starts the Socket Mode event pump and returns the inbound channel.
// Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan chat.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("slack: %w", chat.ErrNotConnected)
	}
	if a.listening {
		return a.inbound, nil
	}
	a.listening = true

	listenCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel

	go a.runWithReconnect(listenCtx)
	go a.pumpEvents(listenCtx)

	return a.inbound, nil
}

// Send posts msg to msg.ChannelID (or the default channel). ReplyToID posts
// into that message's thread. The returned ID is the message timestamp.
func (a *Adapter) Send(ctx context.Context, msg chat.OutboundMessage) (string, error) {
	if err := a.checkConnected(); err != nil {
		return "", err
	}

	channelID := msg.ChannelID
	if channelID == "" {
		channelID = a.channelID
	}
	if channelID == "" {
		return "", fmt.Errorf("slack: no channel specified")
	}

	ts, err := a.post(ctx, channelID, msg)
	if err != nil {
		return "", fmt.Errorf("slack: post message: %w", err)
	}
	return ts, nil
}

// SendDirect opens the IM conversation with userID and posts msg there.
func (a *Adapter) SendDirect(ctx context.Context, userID string, msg chat.OutboundMessage) (string, error) {
	if err := a.checkConnected(); err != nil {
		return "", err
	}

	channelID, err := a.imChannel(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("slack: open conversation with %s: %w", userID, classify(err))
	}
	ts, err := a.post(ctx, channelID, msg)
	if err != nil {
		return "", fmt.Errorf("slack: send dm to %s: %w", userID, classify(err))
	}
	return ts, nil
}

// ResolveUserHandle returns the user's display name, falling back to the
// real name and then the username. Results are cached.
func (a *Adapter) ResolveUserHandle(ctx context.Context, userID string) (string, error) {
	if v, ok := a.names.Get(userID); ok {
		return v.(string), nil
	}
	if err := a.checkConnected(); err != nil {
		return "", err
	}

	var user *slackapi.User
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		user, apiErr = a.client.GetUserInfoContext(ctx, userID)
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: resolve user %s: %w", userID, err)
	}

	name := user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	if name == "" {
		name = user.Name
	}
	a.names.SetDefault(userID, name)
	return name, nil
}

// Close shuts down the adapter and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	close(a.inbound)
	return nil
}

// GuildCount reports 1 while connected: a Socket Mode app serves a single
// workspace.
func (a *Adapter) GuildCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return 1
	}
	return 0
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) checkConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("slack: %w", chat.ErrNotConnected)
	}
	return nil
}

func (a *Adapter) post(ctx context.Context, channelID string, msg chat.OutboundMessage) (string, error) {
	options := buildMessageOptions(msg)
	var ts string
	err := retryOnRateLimit(ctx, func() error {
		var postErr error
		_, ts, postErr = a.client.PostMessageContext(ctx, channelID, options...)
		return postErr
	})
	return ts, err
}

func (a *Adapter) imChannel(ctx context.Context, userID string) (string, error) {
	if v, ok := a.dmChannels.Get(userID); ok {
		return v.(string), nil
	}
	var ch *slackapi.Channel
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, _, _, apiErr = a.client.OpenConversationContext(ctx, &slackapi.OpenConversationParameters{
			Users:    []string{userID},
			ReturnIM: true,
		})
		return apiErr
	})
	if err != nil {
		return "", err
	}
	a.dmChannels.SetDefault(userID, ch.ID)
	return ch.ID, nil
}

// classify maps Slack errors that mean "this user cannot receive the DM"
// onto chat.ErrRecipientUnreachable.
func classify(err error) error {
	var resp slackapi.SlackErrorResponse
	if errors.As(err, &resp) && slices.Contains(unreachableErrors, resp.Err) {
		return fmt.Errorf("%w: %s", chat.ErrRecipientUnreachable, resp.Err)
	}
	return err
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when Run() returns an error.
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.maxReconnect; attempt++ {
		err := a.socket.Run()
		if err == nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Int("max", a.maxReconnect).Dur("wait", wait).
			Msg("slack: socket mode disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	log.Error().Int("attempts", a.maxReconnect).Msg("slack: socket mode reconnection attempts exhausted")
}

// pumpEvents reads Socket Mode events and converts them to InboundMessages.
func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (a *Adapter) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		a.handleEventsAPI(eventsAPIEvent)

	case socketmode.EventTypeConnecting:
		log.Debug().Msg("slack: connecting to Socket Mode")

	case socketmode.EventTypeConnected:
		log.Info().Msg("slack: connected to Socket Mode")

	case socketmode.EventTypeConnectionError:
		log.Warn().Interface("data", evt.Data).Msg("slack: connection error")

	case socketmode.EventTypeDisconnect:
		log.Info().Msg("slack: server requested disconnect, will reconnect")
	}
}

// handleEventsAPI processes Events API callbacks.
func (a *Adapter) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	if ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		a.handleMessage(ev)
	}
}

// handleMessage converts a Slack message event to an InboundMessage.
func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	a.mu.Lock()
	botID, teamID, teamName := a.botUserID, a.teamID, a.teamName
	a.mu.Unlock()

	if ev.User == "" || ev.User == botID {
		return
	}
	// Bot messages and subtypes (edits, deletes, joins).
	if ev.BotID != "" || ev.SubType != "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	msg := chat.InboundMessage{
		Platform:  "slack",
		ChannelID: ev.Channel,
		MessageID: ev.TimeStamp,
		UserID:    ev.User,
		UserName:  ev.User,
		Text:      ev.Text,
		IsDirect:  ev.ChannelType == "im",
		Timestamp: parseSlackTimestamp(ev.TimeStamp),
	}
	if ev.ThreadTimeStamp != "" && ev.ThreadTimeStamp != ev.TimeStamp {
		msg.ReplyToID = ev.ThreadTimeStamp
	}
	if name, err := a.ResolveUserHandle(ctx, ev.User); err == nil && name != "" {
		msg.UserName = name
	}
	if !msg.IsDirect {
		msg.GuildID = teamID
		msg.GuildName = teamName
		msg.Channel = a.channelName(ctx, ev.Channel)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.inbound <- msg:
	default:
		log.Warn().Str("ts", ev.TimeStamp).Msg("slack: inbound buffer full, dropping message")
	}
}

// channelName resolves a channel's name, returning the ID on failure.
func (a *Adapter) channelName(ctx context.Context, channelID string) string {
	if v, ok := a.channels.Get(channelID); ok {
		return v.(string)
	}
	ch, err := a.client.GetConversationInfoContext(ctx, &slackapi.GetConversationInfoInput{ChannelID: channelID})
	if err != nil || ch.Name == "" {
		return channelID
	}
	a.channels.SetDefault(channelID, ch.Name)
	return ch.Name
}

// buildMessageOptions translates an OutboundMessage into Slack MsgOptions.
func buildMessageOptions(msg chat.OutboundMessage) []slackapi.MsgOption {
	var options []slackapi.MsgOption

	if msg.ReplyToID != "" {
		options = append(options, slackapi.MsgOptionTS(msg.ReplyToID))
	}

	if len(msg.Events) > 0 {
		var attachments []slackapi.Attachment
		for _, evt := range msg.Events {
			attachments = append(attachments, eventToAttachment(evt))
		}
		options = append(options, slackapi.MsgOptionAttachments(attachments...))
		if msg.Text != "" {
			options = append(options, slackapi.MsgOptionText(msg.Text, false))
		}
	} else {
		options = append(options, slackapi.MsgOptionText(msg.Text, false))
	}

	return options
}

// eventToAttachment converts a FormattedEvent to a Slack Attachment.
func eventToAttachment(evt chat.FormattedEvent) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    evt.Title,
		Text:     evt.Body,
		Color:    evt.Color,
		Fallback: evt.Title,
		Footer:   evt.Footer,
	}
	for _, f := range evt.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return att
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// parseSlackTimestamp converts a Slack timestamp (e.g., "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	sec, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0)
}
