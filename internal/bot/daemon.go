// Package bot wires the chat adapter to the feedback bridge, the command
// handler, the sentiment recorder and the periodic jobs.
package bot

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/toxbot/internal/bridge"
	"github.com/zulandar/toxbot/internal/chat"
	"github.com/zulandar/toxbot/internal/config"
	"github.com/zulandar/toxbot/internal/sentiment"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Daemon is the long-running bot process. It connects to a chat platform
// through an Adapter, routes inbound messages and runs the scheduled jobs.
type Daemon struct {
	db         *gorm.DB
	cfg        *config.Config
	adapter    chat.Adapter
	manager    *bridge.Manager
	classifier sentiment.Classifier
	scheduler  *Scheduler
	out        io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	DB         *gorm.DB
	Config     *config.Config
	Adapter    chat.Adapter
	Manager    *bridge.Manager
	Classifier sentiment.Classifier // optional; enables recording and "check"
	Scheduler  *Scheduler           // optional; defaults to StandardJobs
	Out        io.Writer            // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("bot: db is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("bot: config is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: adapter is required")
	}
	if opts.Manager == nil {
		return nil, fmt.Errorf("bot: bridge manager is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	sched := opts.Scheduler
	if sched == nil {
		var err error
		sched, err = NewScheduler(StandardJobs(opts.Config, opts.Manager, opts.DB)...)
		if err != nil {
			return nil, err
		}
	}
	if opts.Config.Sentiment.Enabled && opts.Classifier == nil {
		fmt.Fprintf(out, "bot: no classifier configured; sentiment recording disabled\n")
	}
	return &Daemon{
		db:         opts.DB,
		cfg:        opts.Config,
		adapter:    opts.Adapter,
		manager:    opts.Manager,
		classifier: opts.Classifier,
		scheduler:  sched,
		out:        out,
	}, nil
}

// Run connects the adapter, starts the bridge workers and the scheduler,
// and pumps inbound messages until ctx is cancelled or the adapter closes
// its inbound channel. Events still queued at shutdown are dropped.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Toxbot connecting to %s...\n", d.cfg.Platform)
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("bot: connect: %w", err)
	}

	var botUserID string
	if bui, ok := d.adapter.(chat.BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	queue, err := bridge.NewQueue(bridge.QueueOpts{
		Handler:  d.manager,
		Workers:  d.cfg.Bridge.Workers,
		Capacity: d.cfg.Bridge.QueueSize,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: build queue: %w", err)
	}

	var recorder MessageRecorder
	if d.cfg.Sentiment.Enabled && d.classifier != nil {
		rec, err := sentiment.NewRecorder(d.db, d.classifier)
		if err != nil {
			d.adapter.Close()
			return fmt.Errorf("bot: build recorder: %w", err)
		}
		recorder = rec
	}

	guilds, _ := d.adapter.(chat.GuildCounter)
	cmdHandler, err := NewCommandHandler(CommandHandlerOpts{
		DB:         d.db,
		Feedback:   d.manager,
		Classifier: d.classifier,
		IsAdmin:    d.cfg.IsAdmin,
		Guilds:     guilds,
		Prefix:     d.cfg.CommandPrefix,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: build command handler: %w", err)
	}

	router, err := NewRouter(RouterOpts{
		Queue:     queue,
		Commands:  cmdHandler,
		Recorder:  recorder,
		Adapter:   d.adapter,
		BotUserID: botUserID,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: build router: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: listen: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return queue.Run(gctx) })
	g.Go(func() error { return d.scheduler.Run(gctx) })

	fmt.Fprintf(d.out, "Toxbot online (bot user %q)\n", botUserID)

	for {
		select {
		case <-gctx.Done():
			fmt.Fprintf(d.out, "Toxbot shutting down...\n")
			return d.shutdown(cancel, router, g)

		case msg, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "Toxbot inbound channel closed\n")
				return d.shutdown(cancel, router, g)
			}
			path := router.Handle(runCtx, msg)
			log.Trace().Str("message_id", msg.MessageID).Stringer("path", path).Msg("bot: routed message")
		}
	}
}

// shutdown stops intake, lets in-flight commands and relays finish their
// sends, and only then closes the adapter.
func (d *Daemon) shutdown(cancel context.CancelFunc, router *Router, g *errgroup.Group) error {
	cancel()
	router.Wait()
	err := g.Wait()
	if cerr := d.adapter.Close(); cerr != nil {
		log.Warn().Err(cerr).Msg("bot: close adapter")
	}
	fmt.Fprintf(d.out, "Toxbot stopped\n")
	if err != nil {
		return fmt.Errorf("bot: %w", err)
	}
	return nil
}
