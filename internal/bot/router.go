package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/toxbot/internal/bridge"
	"github.com/zulandar/toxbot/internal/chat"
	"github.com/zulandar/toxbot/internal/sentiment"
)

const (
	// defaultRecordConcurrency bounds in-flight classifications.
	defaultRecordConcurrency = 4

	// DefaultCommandTimeout bounds one command, including its reply.
	DefaultCommandTimeout = time.Minute
)

// Path is the route an inbound message took.
type Path int

const (
	PathIgnore Path = iota
	PathCommand
	PathBridge
	PathRecord
)

func (p Path) String() string {
	switch p {
	case PathCommand:
		return "command"
	case PathBridge:
		return "bridge"
	case PathRecord:
		return "record"
	default:
		return "ignore"
	}
}

// EventSubmitter accepts bridge events without blocking.
type EventSubmitter interface {
	Submit(ev bridge.Event) bool
}

// MessageRecorder stores sentiment for guild messages.
type MessageRecorder interface {
	Record(ctx context.Context, msg sentiment.GuildMessage) (bool, error)
}

// Router classifies inbound chat messages and hands them to the command
// handler, the bridge queue or the sentiment recorder. Commands and
// recording run in the background so intake never waits on them.
type Router struct {
	queue      EventSubmitter
	commands   *CommandHandler
	recorder   MessageRecorder
	sender     chat.Adapter
	botUserID  string
	cmdTimeout time.Duration

	wg        sync.WaitGroup
	recordSem chan struct{}
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Queue             EventSubmitter
	Commands          *CommandHandler
	Recorder          MessageRecorder // optional; guild messages are ignored when nil
	Adapter           chat.Adapter    // posts command replies
	BotUserID         string          // bot's user ID for self-message filtering
	RecordConcurrency int             // defaults to 4
	CommandTimeout    time.Duration   // defaults to DefaultCommandTimeout
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Queue == nil {
		return nil, fmt.Errorf("bot: router: queue is required")
	}
	if opts.Commands == nil {
		return nil, fmt.Errorf("bot: router: command handler is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: router: adapter is required")
	}
	n := opts.RecordConcurrency
	if n <= 0 {
		n = defaultRecordConcurrency
	}
	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Router{
		queue:      opts.Queue,
		commands:   opts.Commands,
		recorder:   opts.Recorder,
		sender:     opts.Adapter,
		botUserID:  opts.BotUserID,
		cmdTimeout: timeout,
		recordSem:  make(chan struct{}, n),
	}, nil
}

// Handle routes a single inbound message:
//  1. Bot self-message or empty text: ignore
//  2. Command prefix: command handler (direct or guild)
//  3. Direct message: bridge queue
//  4. Guild message: sentiment recorder, when enabled
func (r *Router) Handle(ctx context.Context, msg chat.InboundMessage) Path {
	if r.botUserID != "" && msg.UserID == r.botUserID {
		return PathIgnore
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return PathIgnore
	}

	if r.commands.IsCommand(text) {
		log.Debug().Str("channel", msg.ChannelID).Str("user_id", msg.UserID).Msg("bot: router: command")
		r.goTracked(func() { r.runCommand(ctx, msg) })
		return PathCommand
	}

	if msg.IsDirect {
		ev := bridge.EventFromInbound(msg)
		if !r.queue.Submit(ev) {
			return PathIgnore
		}
		log.Debug().Str("event_id", ev.ID).Str("user_id", msg.UserID).Msg("bot: router: direct message queued")
		return PathBridge
	}

	if r.recorder == nil || msg.GuildID == "" {
		return PathIgnore
	}
	select {
	case r.recordSem <- struct{}{}:
	default:
		log.Warn().Str("message_id", msg.MessageID).Msg("bot: router: classifier busy, skipping message")
		return PathIgnore
	}
	r.goTracked(func() {
		defer func() { <-r.recordSem }()
		r.record(ctx, msg)
	})
	return PathRecord
}

// Wait blocks until background commands and recordings finish.
func (r *Router) Wait() { r.wg.Wait() }

func (r *Router) goTracked(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// runCommand finishes a command even when ctx is cancelled mid-way, so a
// feedback card that reached an admin always gets its bridge.
func (r *Router) runCommand(ctx context.Context, msg chat.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cmdTimeout)
	defer cancel()
	reply := r.commands.Execute(ctx, msg)
	if _, err := r.sender.Send(ctx, reply); err != nil {
		log.Warn().Err(err).Str("channel", msg.ChannelID).Msg("bot: router: send command response")
	}
}

func (r *Router) record(ctx context.Context, msg chat.InboundMessage) {
	_, err := r.recorder.Record(ctx, sentiment.GuildMessage{
		MessageID:   msg.MessageID,
		UserID:      msg.UserID,
		Username:    msg.UserName,
		GuildID:     msg.GuildID,
		GuildName:   msg.GuildName,
		ChannelName: msg.Channel,
		Content:     msg.Readable(),
		Timestamp:   msg.Timestamp,
	})
	if err != nil {
		log.Warn().Err(err).Str("message_id", msg.MessageID).Msg("bot: router: record sentiment")
	}
}
