package bridge

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/toxbot/internal/models"
)

const (
	// MinFeedbackLen and MaxFeedbackLen bound a feedback submission, in runes.
	MinFeedbackLen = 10
	MaxFeedbackLen = 1000

	unknownUser = "Unknown User"

	// persistTimeout bounds the store writes that follow a delivery.
	persistTimeout = 10 * time.Second
)

var (
	ErrFeedbackTooShort = fmt.Errorf("bridge: feedback must be at least %d characters", MinFeedbackLen)
	ErrFeedbackTooLong  = fmt.Errorf("bridge: feedback must be at most %d characters", MaxFeedbackLen)
)

// HandleResolver looks up display names. It is best effort.
type HandleResolver interface {
	ResolveUserHandle(ctx context.Context, userID string) (string, error)
}

// Manager owns the bridge lifecycle: creation on feedback, relaying inbound
// direct messages, and the expiry sweep.
type Manager struct {
	store      Store
	matcher    *Matcher
	dispatcher *Dispatcher
	roles      Roles
	resolver   HandleResolver
	now        func() time.Time
}

// ManagerOpts holds parameters for creating a Manager.
type ManagerOpts struct {
	Store       Store
	Sender      DirectSender
	Resolver    HandleResolver // optional
	Admins      []string
	Retention   time.Duration
	SendTimeout time.Duration    // defaults to DefaultSendTimeout
	Now         func() time.Time // defaults to time.Now
}

// NewManager wires a Matcher and a Dispatcher around the store.
func NewManager(opts ManagerOpts) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("bridge: store is required")
	}
	roles := NewRoles(opts.Admins)
	if len(roles.admins) == 0 {
		return nil, fmt.Errorf("bridge: at least one admin is required")
	}
	dispatcher, err := NewDispatcher(DispatcherOpts{
		Sender:      opts.Sender,
		Retention:   opts.Retention,
		SendTimeout: opts.SendTimeout,
	})
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:      opts.Store,
		matcher:    NewMatcher(opts.Store, roles),
		dispatcher: dispatcher,
		roles:      roles,
		resolver:   opts.Resolver,
		now:        now,
	}, nil
}

// Now returns the manager's current time.
func (m *Manager) Now() time.Time { return m.now().UTC() }

// Store returns the underlying store.
func (m *Manager) Store() Store { return m.store }

// ValidateFeedback checks the length limits of a feedback submission.
func ValidateFeedback(content string) error {
	n := utf8.RuneCountInString(content)
	switch {
	case n < MinFeedbackLen:
		return ErrFeedbackTooShort
	case n > MaxFeedbackLen:
		return ErrFeedbackTooLong
	}
	return nil
}

// EnsureBridge sends a "New Feedback" card to adminID and then refreshes the
// active bridge for the pair, or creates one. A send failure returns a
// *DeliveryError and leaves the store untouched.
func (m *Manager) EnsureBridge(ctx context.Context, userID, adminID, content string) (uint, error) {
	now := m.Now()
	name := m.displayName(ctx, userID, "")

	msgID, err := m.dispatcher.Deliver(ctx, adminID, newFeedbackMessage(userID, name, content))
	if err != nil {
		logDeliveryFailure(err).Str("user_id", userID).Str("admin_id", adminID).
			Msg("bridge: feedback delivery to admin failed")
		return 0, &DeliveryError{Recipient: adminID, Err: err}
	}

	// The admin now holds a card; record it even if ctx is cancelled.
	pctx, cancel := persistContext(ctx)
	defer cancel()

	id, err := m.upsertPair(pctx, userID, adminID, msgID, content, now)
	if err != nil {
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			return 0, fmt.Errorf("bridge: ensure bridge: %w", err)
		}
		// A concurrent submission created the pair between our lookup and
		// insert; refresh that one instead.
		if id, err = m.upsertPair(pctx, userID, adminID, msgID, content, now); err != nil {
			return 0, fmt.Errorf("bridge: ensure bridge: %w", err)
		}
	}
	return id, nil
}

func (m *Manager) upsertPair(ctx context.Context, userID, adminID, msgID, content string, now time.Time) (uint, error) {
	existing, err := m.store.FindActivePair(ctx, userID, adminID, now)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		refreshed := m.dispatcher.renew(*existing, now)
		refreshed.AdminEmbedMessageID = msgID
		refreshed.LatestFeedbackContent = content
		if err := m.store.Update(ctx, refreshed); err != nil {
			return 0, err
		}
		log.Info().Uint("bridge_id", existing.ID).Str("user_id", userID).Str("admin_id", adminID).
			Msg("bridge: refreshed existing bridge")
		return existing.ID, nil
	}

	b := &models.FeedbackBridge{
		UserID:                userID,
		AdminID:               adminID,
		AdminEmbedMessageID:   msgID,
		LatestFeedbackContent: content,
		CreatedAt:             now,
		ExpiresAt:             now.Add(m.dispatcher.Retention()),
	}
	id, err := m.store.Create(ctx, b, now)
	if err != nil {
		return 0, err
	}
	log.Info().Uint("bridge_id", id).Str("user_id", userID).Str("admin_id", adminID).
		Msg("bridge: created bridge")
	return id, nil
}

// FeedbackResult summarises a SubmitFeedback call.
type FeedbackResult struct {
	BridgeIDs    []uint
	FailedAdmins []string
	ReceiptSent  bool
}

// Delivered returns how many admins received the feedback.
func (r FeedbackResult) Delivered() int { return len(r.BridgeIDs) }

// SubmitFeedback validates content, confirms receipt to the user and opens
// or refreshes a bridge with every configured admin. Per-admin delivery
// failures are collected in the result; a store failure aborts.
func (m *Manager) SubmitFeedback(ctx context.Context, userID, content string) (FeedbackResult, error) {
	var res FeedbackResult
	if err := ValidateFeedback(content); err != nil {
		return res, err
	}

	if _, err := m.dispatcher.Deliver(ctx, userID, feedbackReceipt(content)); err != nil {
		logDeliveryFailure(err).Str("user_id", userID).Msg("bridge: feedback receipt not delivered")
	} else {
		res.ReceiptSent = true
	}

	admins := m.roles.Admins()
	slices.Sort(admins)
	for _, adminID := range admins {
		id, err := m.EnsureBridge(ctx, userID, adminID, content)
		if err != nil {
			var de *DeliveryError
			if errors.As(err, &de) {
				res.FailedAdmins = append(res.FailedAdmins, adminID)
				continue
			}
			return res, err
		}
		res.BridgeIDs = append(res.BridgeIDs, id)
	}

	log.Info().Str("user_id", userID).Int("delivered", res.Delivered()).
		Int("failed", len(res.FailedAdmins)).Msg("bridge: feedback submitted")
	return res, nil
}

// HandleInboundDirectMessage matches ev to its bridges, relays it, and
// persists every renewed bridge in one write. Unmatched events return nil;
// only store failures are returned.
func (m *Manager) HandleInboundDirectMessage(ctx context.Context, ev Event) error {
	now := m.Now()
	match, err := m.matcher.Match(ctx, ev, now)
	if err != nil {
		return fmt.Errorf("bridge: handle event %s: %w", ev.ID, err)
	}
	if !match.Relayable() {
		return nil
	}

	switch match.Route {
	case RouteAdminReply:
		b, ok := m.dispatcher.RelayToUser(ctx, match.Bridges[0], ev, now)
		if !ok {
			return nil
		}
		pctx, cancel := persistContext(ctx)
		defer cancel()
		// Only the expiry moves; a concurrent fan-out may own the
		// admin-side message.
		if err := m.store.Renew(pctx, b); err != nil {
			return fmt.Errorf("bridge: handle event %s: %w", ev.ID, err)
		}

	case RouteUserFanOut:
		name := m.displayName(ctx, ev.SenderID, ev.SenderName)
		renewed := m.dispatcher.RelayToAdmins(ctx, match.Bridges, ev, name, now)
		if len(renewed) == 0 {
			return nil
		}
		pctx, cancel := persistContext(ctx)
		defer cancel()
		if err := m.store.UpdateAll(pctx, renewed); err != nil {
			return fmt.Errorf("bridge: handle event %s: %w", ev.ID, err)
		}
	}
	return nil
}

// persistContext returns a context for writes that record a delivery that
// already happened. It ignores cancellation of ctx but keeps its values.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

// Sweep deletes every bridge expired at now.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (int64, error) {
	n, err := m.store.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("bridge: sweep: %w", err)
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Msg("bridge: swept expired bridges")
	} else {
		log.Debug().Msg("bridge: sweep found nothing to delete")
	}
	return n, nil
}

// Active lists the bridges active right now.
func (m *Manager) Active(ctx context.Context) ([]models.FeedbackBridge, error) {
	return m.store.ListActive(ctx, m.Now())
}

func (m *Manager) displayName(ctx context.Context, userID, fallback string) string {
	if m.resolver != nil {
		if name, err := m.resolver.ResolveUserHandle(ctx, userID); err == nil && name != "" {
			return name
		} else if err != nil {
			log.Debug().Err(err).Str("user_id", userID).Msg("bridge: resolve user handle")
		}
	}
	if fallback != "" {
		return fallback
	}
	return unknownUser
}
