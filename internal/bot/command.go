package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/toxbot/internal/bridge"
	"github.com/zulandar/toxbot/internal/chat"
	"github.com/zulandar/toxbot/internal/sentiment"
	"gorm.io/gorm"
)

// DefaultPrefix is the prefix that triggers command handling.
const DefaultPrefix = "!tox"

// FeedbackSubmitter opens feedback bridges.
type FeedbackSubmitter interface {
	SubmitFeedback(ctx context.Context, userID, content string) (bridge.FeedbackResult, error)
}

// CommandHandler processes "!tox" commands from chat.
type CommandHandler struct {
	db         *gorm.DB
	feedback   FeedbackSubmitter
	classifier sentiment.Classifier
	model      string
	isAdmin    func(userID string) bool
	guilds     chat.GuildCounter
	prefix     string
	now        func() time.Time
}

// CommandHandlerOpts holds parameters for creating a CommandHandler.
type CommandHandlerOpts struct {
	DB         *gorm.DB
	Feedback   FeedbackSubmitter
	Classifier sentiment.Classifier // optional; disables "check" when nil
	Model      string               // shown in check results; defaults to the classifier's model
	IsAdmin    func(userID string) bool
	Guilds     chat.GuildCounter // optional; reported by botstats
	Prefix     string            // defaults to DefaultPrefix
	Now        func() time.Time  // defaults to time.Now
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(opts CommandHandlerOpts) (*CommandHandler, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("bot: command handler: db is required")
	}
	if opts.Feedback == nil {
		return nil, fmt.Errorf("bot: command handler: feedback submitter is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	isAdmin := opts.IsAdmin
	if isAdmin == nil {
		isAdmin = func(string) bool { return false }
	}
	model := opts.Model
	if mn, ok := opts.Classifier.(interface{ Model() string }); ok && model == "" {
		model = mn.Model()
	}
	return &CommandHandler{
		db:         opts.DB,
		feedback:   opts.Feedback,
		classifier: opts.Classifier,
		model:      model,
		isAdmin:    isAdmin,
		guilds:     opts.Guilds,
		prefix:     prefix,
		now:        now,
	}, nil
}

// Prefix returns the command prefix.
func (ch *CommandHandler) Prefix() string { return ch.prefix }

// IsCommand reports whether text is addressed to the command handler.
func (ch *CommandHandler) IsCommand(text string) bool {
	text = strings.TrimSpace(text)
	return text == ch.prefix || strings.HasPrefix(text, ch.prefix+" ")
}

// Execute parses and runs a command and returns the reply to post in the
// originating channel.
func (ch *CommandHandler) Execute(ctx context.Context, msg chat.InboundMessage) chat.OutboundMessage {
	name, rest := parseCommand(ch.prefix, msg.Text)
	reply := chat.OutboundMessage{ChannelID: msg.ChannelID, ReplyToID: msg.MessageID}

	switch name {
	case "", "help":
		reply.Text = ch.helpText()
	case "feedback":
		reply.Text = ch.cmdFeedback(ctx, msg, rest)
	case "stats":
		return ch.cmdStats(ctx, msg, rest, reply)
	case "leaderboard":
		return ch.cmdLeaderboard(ctx, msg, rest, reply)
	case "opt":
		reply.Text = ch.cmdOpt(ctx, msg, rest)
	case "check":
		return ch.cmdCheck(ctx, rest, reply)
	case "botstats":
		return ch.cmdBotStats(ctx, msg, reply)
	default:
		reply.Text = fmt.Sprintf("Unknown command: `%s`\n\n%s", name, ch.helpText())
	}
	return reply
}

// parseCommand strips the prefix and returns the command name and the raw
// remainder.
func parseCommand(prefix, text string) (string, string) {
	text = strings.TrimSpace(text)
	text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
	if text == "" {
		return "", ""
	}
	name, rest, _ := strings.Cut(text, " ")
	return strings.ToLower(name), strings.TrimSpace(rest)
}

// mentionRe matches Discord (<@123>, <@!123>) and Slack (<@U123> or
// <@U123|name>) user mentions.
var mentionRe = regexp.MustCompile(`^<@!?([A-Za-z0-9]+)(?:\|[^>]*)?>$`)

// parseMention returns the user ID in a mention, or "" if s is not one.
func parseMention(s string) string {
	m := mentionRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return ""
	}
	return m[1]
}

func (ch *CommandHandler) cmdFeedback(ctx context.Context, msg chat.InboundMessage, content string) string {
	if content == "" {
		return fmt.Sprintf("Usage: `%s feedback <message>` (%d-%d characters)", ch.prefix, bridge.MinFeedbackLen, bridge.MaxFeedbackLen)
	}
	res, err := ch.feedback.SubmitFeedback(ctx, msg.UserID, content)
	switch {
	case errors.Is(err, bridge.ErrFeedbackTooShort):
		return fmt.Sprintf("❌ Feedback must be at least %d characters long.", bridge.MinFeedbackLen)
	case errors.Is(err, bridge.ErrFeedbackTooLong):
		return fmt.Sprintf("❌ Feedback must be at most %d characters long.", bridge.MaxFeedbackLen)
	case err != nil:
		log.Error().Err(err).Str("user_id", msg.UserID).Msg("bot: submit feedback")
		return "❌ Your feedback could not be recorded. Please try again later."
	case res.Delivered() == 0:
		return "❌ No developer could be reached right now. Please try again later."
	}
	if !res.ReceiptSent {
		return "✅ Thank you for your feedback! Open your direct messages to the bot so a developer can reply."
	}
	return "✅ Thank you for your feedback! Check your direct messages for replies."
}

func (ch *CommandHandler) cmdStats(ctx context.Context, msg chat.InboundMessage, rest string, reply chat.OutboundMessage) chat.OutboundMessage {
	if msg.GuildID == "" {
		reply.Text = "Stats are tracked per server. Run this command in a server channel."
		return reply
	}
	userID, name := msg.UserID, msg.UserName
	if rest != "" {
		target := parseMention(rest)
		if target == "" {
			reply.Text = fmt.Sprintf("Usage: `%s stats [@user]`", ch.prefix)
			return reply
		}
		userID, name = target, target
	}

	sum, err := sentiment.UserStats(ctx, ch.db, userID, msg.GuildID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("bot: load stats")
		reply.Events = []chat.FormattedEvent{errorCard("Stats are unavailable right now.")}
		return reply
	}
	if sum == nil {
		reply.Text = fmt.Sprintf("No stats yet for %s.", name)
		return reply
	}
	if sum.Score.Username != "" {
		name = sum.Score.Username
	}
	reply.Events = []chat.FormattedEvent{formatStats(name, sum)}
	return reply
}

func (ch *CommandHandler) cmdLeaderboard(ctx context.Context, msg chat.InboundMessage, rest string, reply chat.OutboundMessage) chat.OutboundMessage {
	sortBy := strings.ToLower(strings.TrimSpace(rest))
	if sortBy == "" {
		sortBy = sentiment.SortToxicity
	}
	if sortBy != sentiment.SortToxicity && sortBy != sentiment.SortAlignment {
		reply.Text = fmt.Sprintf("Usage: `%s leaderboard [toxicity|alignment]`", ch.prefix)
		return reply
	}

	global := ch.isAdmin(msg.UserID)
	q := sentiment.LeaderboardQuery{Sort: sortBy}
	if !global {
		if msg.GuildID == "" {
			reply.Text = "Leaderboards are per server. Run this command in a server channel."
			return reply
		}
		q.GuildID = msg.GuildID
	}

	entries, err := sentiment.Leaderboard(ctx, ch.db, q)
	if err != nil {
		log.Error().Err(err).Msg("bot: load leaderboard")
		reply.Events = []chat.FormattedEvent{errorCard("The leaderboard is unavailable right now.")}
		return reply
	}
	reply.Events = []chat.FormattedEvent{formatLeaderboard(entries, sortBy, global)}
	return reply
}

func (ch *CommandHandler) cmdOpt(ctx context.Context, msg chat.InboundMessage, rest string) string {
	var out bool
	switch strings.ToLower(rest) {
	case "out":
		out = true
	case "in":
	default:
		return fmt.Sprintf("Usage: `%s opt in|out`", ch.prefix)
	}
	if err := sentiment.SetOptOut(ctx, ch.db, msg.UserID, out, ch.now()); err != nil {
		log.Error().Err(err).Str("user_id", msg.UserID).Msg("bot: set opt-out")
		return "❌ Your preference could not be saved. Please try again later."
	}
	if out {
		return "You have opted out. Your messages are no longer analysed and your stored data has been deleted."
	}
	return "You have opted in. Your messages will be analysed again."
}

func (ch *CommandHandler) cmdCheck(ctx context.Context, text string, reply chat.OutboundMessage) chat.OutboundMessage {
	if ch.classifier == nil {
		reply.Text = "Sentiment checks are disabled."
		return reply
	}
	if text == "" {
		reply.Text = fmt.Sprintf("Usage: `%s check <message>`", ch.prefix)
		return reply
	}
	start := time.Now()
	res, err := ch.classifier.Classify(ctx, text)
	if err != nil {
		log.Error().Err(err).Msg("bot: check message")
		reply.Events = []chat.FormattedEvent{errorCard("The classifier could not be reached.")}
		return reply
	}
	reply.Events = []chat.FormattedEvent{formatCheck(text, res, ch.model, time.Since(start))}
	return reply
}

func (ch *CommandHandler) cmdBotStats(ctx context.Context, msg chat.InboundMessage, reply chat.OutboundMessage) chat.OutboundMessage {
	if !ch.isAdmin(msg.UserID) {
		reply.Text = "❌ Bot statistics are only available to administrators."
		return reply
	}
	st, err := CollectStats(ctx, ch.db, ch.guilds)
	if err != nil {
		log.Error().Err(err).Msg("bot: collect bot stats")
		reply.Events = []chat.FormattedEvent{errorCard("Bot statistics are unavailable right now.")}
		return reply
	}
	log.Info().Str("user_id", msg.UserID).Msg("bot: botstats requested")
	reply.Events = []chat.FormattedEvent{formatBotStats(st)}
	return reply
}

// helpText returns usage information for all commands.
func (ch *CommandHandler) helpText() string {
	p := ch.prefix
	return "**Toxbot Commands**\n" +
		"`" + p + " feedback <message>` Send private feedback to the developers\n" +
		"`" + p + " stats [@user]` Toxicity and alignment stats in this server\n" +
		"`" + p + " leaderboard [toxicity|alignment]` Server leaderboard\n" +
		"`" + p + " opt in|out` Opt in to or out of message analysis\n" +
		"`" + p + " check <message>` Classify a message without storing it\n" +
		"`" + p + " botstats` Bot health and totals (admins only)\n" +
		"`" + p + " help` This message"
}
