package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/toxbot/internal/chat"
	"github.com/zulandar/toxbot/internal/models"
)

// DefaultSendTimeout bounds each outbound delivery.
const DefaultSendTimeout = 10 * time.Second

// DirectSender is the slice of chat.Adapter the bridge needs.
type DirectSender interface {
	SendDirect(ctx context.Context, userID string, msg chat.OutboundMessage) (string, error)
}

// Dispatcher delivers relays and computes the renewed bridge state. It
// never writes to the store; callers persist what it returns.
type Dispatcher struct {
	sender      DirectSender
	retention   time.Duration
	sendTimeout time.Duration
}

// DispatcherOpts holds parameters for creating a Dispatcher.
type DispatcherOpts struct {
	Sender      DirectSender
	Retention   time.Duration
	SendTimeout time.Duration // defaults to DefaultSendTimeout
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.Sender == nil {
		return nil, fmt.Errorf("bridge: sender is required")
	}
	if opts.Retention <= 0 {
		return nil, fmt.Errorf("bridge: retention must be positive")
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Dispatcher{sender: opts.Sender, retention: opts.Retention, sendTimeout: timeout}, nil
}

// RelayToUser sends an admin's reply to the bridge's user. On success it
// returns the renewed bridge and true; AdminEmbedMessageID is unchanged.
// On failure it returns b untouched and false.
func (d *Dispatcher) RelayToUser(ctx context.Context, b models.FeedbackBridge, ev Event, now time.Time) (models.FeedbackBridge, bool) {
	if _, err := d.send(ctx, b.UserID, adminReplyMessage(ev.Content)); err != nil {
		logDeliveryFailure(err).Str("event_id", ev.ID).Uint("bridge_id", b.ID).
			Str("user_id", b.UserID).Str("admin_id", b.AdminID).
			Msg("bridge: relay to user failed")
		return b, false
	}
	renewed := d.renew(b, now)
	log.Info().Str("event_id", ev.ID).Uint("bridge_id", b.ID).
		Str("admin_id", b.AdminID).Str("user_id", b.UserID).
		Msg("bridge: relayed admin reply to user")
	return renewed, true
}

// RelayToAdmins sends a user's message to the admin of every bridge. Each
// admin is independent; only the bridges whose delivery succeeded are
// returned, re-addressed to the new admin-side message.
func (d *Dispatcher) RelayToAdmins(ctx context.Context, bridges []models.FeedbackBridge, ev Event, userName string, now time.Time) []models.FeedbackBridge {
	var delivered []models.FeedbackBridge
	for _, b := range bridges {
		msg := userRelayMessage(b.UserID, userName, ev.Content, b.LatestFeedbackContent)
		msgID, err := d.send(ctx, b.AdminID, msg)
		if err != nil {
			logDeliveryFailure(err).Str("event_id", ev.ID).Uint("bridge_id", b.ID).
				Str("user_id", b.UserID).Str("admin_id", b.AdminID).
				Msg("bridge: relay to admin failed")
			continue
		}
		renewed := d.renew(b, now)
		renewed.AdminEmbedMessageID = msgID
		renewed.LatestFeedbackContent = ev.Content
		delivered = append(delivered, renewed)
		log.Info().Str("event_id", ev.ID).Uint("bridge_id", b.ID).
			Str("user_id", b.UserID).Str("admin_id", b.AdminID).
			Msg("bridge: relayed user message to admin")
	}
	return delivered
}

// Deliver sends msg to userID under the send timeout and returns the new
// message ID.
func (d *Dispatcher) Deliver(ctx context.Context, userID string, msg chat.OutboundMessage) (string, error) {
	return d.send(ctx, userID, msg)
}

// Retention returns the renewal window.
func (d *Dispatcher) Retention() time.Duration { return d.retention }

func (d *Dispatcher) send(ctx context.Context, userID string, msg chat.OutboundMessage) (string, error) {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return d.sender.SendDirect(sendCtx, userID, msg)
}

func (d *Dispatcher) renew(b models.FeedbackBridge, now time.Time) models.FeedbackBridge {
	at := now
	b.LastMessageAt = &at
	b.ExpiresAt = now.Add(d.retention)
	return b
}

// logDeliveryFailure picks the level for a failed send. Closed DMs are
// routine and stay at debug.
func logDeliveryFailure(err error) *zerolog.Event {
	if errors.Is(err, chat.ErrRecipientUnreachable) {
		return log.Debug().Err(err)
	}
	return log.Warn().Err(err)
}
