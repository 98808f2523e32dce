package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/toxbot/internal/bridge"
	"github.com/zulandar/toxbot/internal/chat"
	"github.com/zulandar/toxbot/internal/config"
	"github.com/zulandar/toxbot/internal/sentiment"
	"gorm.io/gorm"
)

var (
	ErrServiceRunning     = errors.New("bot: already running")
	ErrServiceStopped     = errors.New("bot: not running")
	ErrServiceUnavailable = errors.New("bot: service is not accepting requests")
)

// liveAdapter forwards bridge sends to the adapter of the current run, so
// the bridge manager outlives any single connection.
type liveAdapter struct {
	mu sync.RWMutex
	a  chat.Adapter
}

func (l *liveAdapter) set(a chat.Adapter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.a = a
}

func (l *liveAdapter) get() chat.Adapter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.a
}

func (l *liveAdapter) SendDirect(ctx context.Context, userID string, msg chat.OutboundMessage) (string, error) {
	a := l.get()
	if a == nil {
		return "", fmt.Errorf("bot: %w", chat.ErrNotConnected)
	}
	return a.SendDirect(ctx, userID, msg)
}

func (l *liveAdapter) ResolveUserHandle(ctx context.Context, userID string) (string, error) {
	a := l.get()
	if a == nil {
		return "", fmt.Errorf("bot: %w", chat.ErrNotConnected)
	}
	return a.ResolveUserHandle(ctx, userID)
}

func (l *liveAdapter) GuildCount() int {
	if gc, ok := l.get().(chat.GuildCounter); ok {
		return gc.GuildCount()
	}
	return 0
}

type serviceRequest struct {
	start bool
	reply chan error
}

// Service keeps the bot connection under remote control: Run starts a
// Daemon and then serves Start and Stop requests. Adapters are single-use,
// so every start builds a fresh adapter and Daemon around one long-lived
// bridge manager and scheduler.
type Service struct {
	db          *gorm.DB
	cfg         *config.Config
	newAdapter  func() (chat.Adapter, error)
	classifier  sentiment.Classifier
	exitWithBot bool
	out         io.Writer

	live      *liveAdapter
	manager   *bridge.Manager
	scheduler *Scheduler
	requests  chan serviceRequest
	serving   atomic.Bool
	running   atomic.Bool
}

// ServiceOpts holds parameters for creating a Service.
type ServiceOpts struct {
	DB          *gorm.DB
	Config      *config.Config
	NewAdapter  func() (chat.Adapter, error)
	Classifier  sentiment.Classifier // optional
	ExitWithBot bool                 // Run returns when the bot stops on its own
	Out         io.Writer            // defaults to os.Stdout
}

// NewService builds the bridge manager and scheduler shared by every run.
func NewService(opts ServiceOpts) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("bot: service: db is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("bot: service: config is required")
	}
	if opts.NewAdapter == nil {
		return nil, fmt.Errorf("bot: service: adapter factory is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	live := &liveAdapter{}
	mgr, err := bridge.NewManager(bridge.ManagerOpts{
		Store:       bridge.NewGormStore(opts.DB),
		Sender:      live,
		Resolver:    live,
		Admins:      opts.Config.Bridge.Admins,
		Retention:   opts.Config.Bridge.Retention.Std(),
		SendTimeout: opts.Config.Bridge.SendTimeout.Std(),
	})
	if err != nil {
		return nil, err
	}
	sched, err := NewScheduler(StandardJobs(opts.Config, mgr, opts.DB)...)
	if err != nil {
		return nil, err
	}

	return &Service{
		db:          opts.DB,
		cfg:         opts.Config,
		newAdapter:  opts.NewAdapter,
		classifier:  opts.Classifier,
		exitWithBot: opts.ExitWithBot,
		out:         out,
		live:        live,
		manager:     mgr,
		scheduler:   sched,
		requests:    make(chan serviceRequest),
	}, nil
}

// Manager returns the bridge manager shared by every run.
func (s *Service) Manager() *bridge.Manager { return s.manager }

// Scheduler returns the job scheduler shared by every run.
func (s *Service) Scheduler() *Scheduler { return s.scheduler }

// Running reports whether the bot is currently running.
func (s *Service) Running() bool { return s.running.Load() }

// GuildCount reports the current adapter's guild count, or 0 while stopped.
func (s *Service) GuildCount() int { return s.live.GuildCount() }

// Run starts the bot and serves Start and Stop until ctx is cancelled. A
// bot that stops on its own stays stopped until the next Start, unless
// ExitWithBot is set.
func (s *Service) Run(ctx context.Context) error {
	s.serving.Store(true)
	defer s.serving.Store(false)

	var (
		cancel context.CancelFunc
		done   chan error
	)
	start := func() error {
		adapter, err := s.newAdapter()
		if err != nil {
			return fmt.Errorf("bot: create adapter: %w", err)
		}
		d, err := NewDaemon(DaemonOpts{
			DB:         s.db,
			Config:     s.cfg,
			Adapter:    adapter,
			Manager:    s.manager,
			Classifier: s.classifier,
			Scheduler:  s.scheduler,
			Out:        s.out,
		})
		if err != nil {
			return err
		}
		s.live.set(adapter)
		runCtx, c := context.WithCancel(ctx)
		cancel, done = c, make(chan error, 1)
		s.running.Store(true)
		go func() { done <- d.Run(runCtx) }()
		return nil
	}
	finish := func(err error) error {
		cancel()
		cancel, done = nil, nil
		s.live.set(nil)
		s.running.Store(false)
		return err
	}

	if err := start(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			if done == nil {
				return nil
			}
			return finish(<-done)

		case err := <-done:
			finish(err)
			if err != nil {
				log.Error().Err(err).Msg("bot: stopped with error")
			} else {
				log.Info().Msg("bot: stopped")
			}
			if s.exitWithBot {
				return err
			}

		case req := <-s.requests:
			switch {
			case req.start && done != nil:
				req.reply <- ErrServiceRunning
			case req.start:
				req.reply <- start()
			case done == nil:
				req.reply <- ErrServiceStopped
			default:
				cancel()
				if err := finish(<-done); err != nil {
					log.Warn().Err(err).Msg("bot: stop")
				}
				req.reply <- nil
			}
		}
	}
}

// Start connects the bot again after a Stop. It returns once the new run
// has been launched; the platform connection completes in the background.
func (s *Service) Start(ctx context.Context) error { return s.request(ctx, true) }

// Stop disconnects the bot and waits for in-flight work to finish. The
// API and scheduled-job triggers keep working while stopped.
func (s *Service) Stop(ctx context.Context) error { return s.request(ctx, false) }

func (s *Service) request(ctx context.Context, start bool) error {
	if !s.serving.Load() {
		return ErrServiceUnavailable
	}
	req := serviceRequest{start: start, reply: make(chan error, 1)}
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
