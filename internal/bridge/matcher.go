package bridge

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/toxbot/internal/chat"
	"github.com/zulandar/toxbot/internal/models"
)

// SenderRole is resolved once per inbound event.
type SenderRole int

const (
	RoleUser SenderRole = iota
	RoleAdmin
)

func (r SenderRole) String() string {
	if r == RoleAdmin {
		return "admin"
	}
	return "user"
}

// Roles resolves sender roles from the configured admin set.
type Roles struct {
	admins map[string]struct{}
}

// NewRoles builds a Roles from a list of admin user IDs. Blank entries are
// ignored.
func NewRoles(adminIDs []string) Roles {
	r := Roles{admins: make(map[string]struct{}, len(adminIDs))}
	for _, id := range adminIDs {
		if id = strings.TrimSpace(id); id != "" {
			r.admins[id] = struct{}{}
		}
	}
	return r
}

// Resolve returns RoleAdmin for configured admins and RoleUser otherwise.
func (r Roles) Resolve(senderID string) SenderRole {
	if _, ok := r.admins[senderID]; ok {
		return RoleAdmin
	}
	return RoleUser
}

// Admins returns the configured admin IDs in no particular order.
func (r Roles) Admins() []string {
	out := make([]string, 0, len(r.admins))
	for id := range r.admins {
		out = append(out, id)
	}
	return out
}

// Route is the relay path chosen for an event.
type Route int

const (
	RouteIgnore Route = iota
	RouteAdminReply
	RouteUserFanOut
)

func (r Route) String() string {
	switch r {
	case RouteAdminReply:
		return "admin-reply"
	case RouteUserFanOut:
		return "user-fan-out"
	default:
		return "ignore"
	}
}

// Classify picks the route for a sender role and reply context. Admins
// must reply to a tracked message; an admin message without a reply is
// ignored, never treated as user feedback.
func Classify(role SenderRole, hasReply bool) Route {
	switch {
	case role == RoleAdmin && hasReply:
		return RouteAdminReply
	case role == RoleAdmin:
		return RouteIgnore
	default:
		return RouteUserFanOut
	}
}

// Reason explains a match that produced no relay targets.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonNotDirect
	ReasonAdminWithoutReply
	ReasonNoMatchingBridge
	ReasonNoActiveBridge
)

func (r Reason) String() string {
	switch r {
	case ReasonNotDirect:
		return "not a direct message"
	case ReasonAdminWithoutReply:
		return "admin message without reply reference"
	case ReasonNoMatchingBridge:
		return "no matching bridge"
	case ReasonNoActiveBridge:
		return "no active bridge for user"
	default:
		return "matched"
	}
}

// Event is an inbound direct message as seen by the bridge.
type Event struct {
	ID         string // correlation ID for logs
	SenderID   string
	SenderName string
	IsDirect   bool
	Content    string
	ReplyToID  string
	ReceivedAt time.Time
}

// EventFromInbound converts a transport message into an Event with a fresh
// correlation ID.
func EventFromInbound(msg chat.InboundMessage) Event {
	return Event{
		ID:         uuid.NewString(),
		SenderID:   msg.UserID,
		SenderName: msg.UserName,
		IsDirect:   msg.IsDirect,
		Content:    msg.Readable(),
		ReplyToID:  msg.ReplyToID,
		ReceivedAt: msg.Timestamp,
	}
}

// Match is the matcher's verdict for one event.
type Match struct {
	Role    SenderRole
	Route   Route
	Bridges []models.FeedbackBridge
	Reason  Reason
}

// Relayable reports whether the match has at least one target bridge.
func (m Match) Relayable() bool {
	return m.Reason == ReasonNone && len(m.Bridges) > 0
}

// Matcher resolves the bridges an inbound event belongs to.
type Matcher struct {
	store Store
	roles Roles
}

// NewMatcher returns a Matcher reading from store.
func NewMatcher(store Store, roles Roles) *Matcher {
	return &Matcher{store: store, roles: roles}
}

// Match classifies ev and looks up its bridges. The no-match outcomes are
// returned as a Reason, not an error; only store failures are errors.
func (m *Matcher) Match(ctx context.Context, ev Event, now time.Time) (Match, error) {
	role := m.roles.Resolve(ev.SenderID)
	route := Classify(role, ev.ReplyToID != "")
	match := Match{Role: role, Route: route}
	logger := log.With().Str("event_id", ev.ID).Str("sender_id", ev.SenderID).Str("role", role.String()).Logger()

	if !ev.IsDirect {
		match.Route = RouteIgnore
		match.Reason = ReasonNotDirect
		return match, nil
	}

	switch route {
	case RouteAdminReply:
		b, err := m.store.FindByAdminMessage(ctx, ev.SenderID, ev.ReplyToID, now)
		if err != nil {
			return match, err
		}
		if b == nil {
			match.Reason = ReasonNoMatchingBridge
			logger.Debug().Str("reply_to", ev.ReplyToID).Msg("bridge: admin reply matches no active bridge")
			return match, nil
		}
		match.Bridges = []models.FeedbackBridge{*b}

	case RouteUserFanOut:
		bs, err := m.store.FindActiveByUser(ctx, ev.SenderID, now)
		if err != nil {
			return match, err
		}
		if len(bs) == 0 {
			match.Reason = ReasonNoActiveBridge
			logger.Debug().Msg("bridge: direct message without active feedback context")
			return match, nil
		}
		match.Bridges = bs

	default:
		match.Reason = ReasonAdminWithoutReply
		logger.Debug().Msg("bridge: admin message without reply ignored")
	}
	return match, nil
}
