package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/toxbot/internal/config"
	"github.com/zulandar/toxbot/internal/sentiment"
	"gorm.io/gorm"
)

// defaultJobTimeout bounds a single job run.
const defaultJobTimeout = 5 * time.Minute

// ErrUnknownJob is returned by Trigger for a job name that is not scheduled.
var ErrUnknownJob = errors.New("bot: unknown job")

// Job is a named periodic task.
type Job struct {
	Name    string
	Spec    string // cron expression or descriptor, e.g. "@every 1h"
	Timeout time.Duration
	Run     func(ctx context.Context) (string, error) // returns a short summary
}

// Scheduler runs jobs on their cron schedules. A job never overlaps with
// itself; a panicking job is logged and the schedule continues.
type Scheduler struct {
	jobs  map[string]Job
	locks sync.Map // job name -> *sync.Mutex
}

// NewScheduler validates every job's schedule.
func NewScheduler(jobs ...Job) (*Scheduler, error) {
	s := &Scheduler{jobs: make(map[string]Job, len(jobs))}
	for _, j := range jobs {
		if j.Name == "" || j.Run == nil {
			return nil, fmt.Errorf("bot: scheduler: job needs a name and a func")
		}
		if _, err := cron.ParseStandard(j.Spec); err != nil {
			return nil, fmt.Errorf("bot: scheduler: job %s: %w", j.Name, err)
		}
		if _, dup := s.jobs[j.Name]; dup {
			return nil, fmt.Errorf("bot: scheduler: duplicate job %s", j.Name)
		}
		if j.Timeout <= 0 {
			j.Timeout = defaultJobTimeout
		}
		s.jobs[j.Name] = j
	}
	return s, nil
}

// Jobs returns the scheduled job names.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits
// for running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	for _, j := range s.jobs {
		if _, err := c.AddFunc(j.Spec, func() { s.run(ctx, j, false) }); err != nil {
			return fmt.Errorf("bot: scheduler: add %s: %w", j.Name, err)
		}
		log.Info().Str("job", j.Name).Str("spec", j.Spec).Msg("bot: scheduled job")
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Trigger runs the named job now, waiting for it to finish. It returns
// ErrUnknownJob for unscheduled names.
func (s *Scheduler) Trigger(ctx context.Context, name string) (string, error) {
	j, ok := s.jobs[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, j, true)
}

func (s *Scheduler) run(ctx context.Context, j Job, wait bool) (string, error) {
	m, _ := s.locks.LoadOrStore(j.Name, &sync.Mutex{})
	lock := m.(*sync.Mutex)
	if wait {
		lock.Lock()
	} else if !lock.TryLock() {
		log.Warn().Str("job", j.Name).Msg("bot: job still running, skipping this tick")
		return "", nil
	}
	defer lock.Unlock()

	jctx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()

	start := time.Now()
	summary, err := j.Run(jctx)
	elapsed := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("job", j.Name).Dur("elapsed", elapsed).Msg("bot: job failed")
		return "", err
	}
	log.Debug().Str("job", j.Name).Str("result", summary).Dur("elapsed", elapsed).Msg("bot: job finished")
	return summary, nil
}

// cronLogger routes robfig/cron's logging through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Trace().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

// BridgeSweeper deletes expired bridges.
type BridgeSweeper interface {
	Sweep(ctx context.Context, now time.Time) (int64, error)
	Now() time.Time
}

// StandardJobs builds the bridge sweep and, when sentiment tracking is
// enabled, the summarize and purge jobs.
func StandardJobs(cfg *config.Config, sweeper BridgeSweeper, db *gorm.DB) []Job {
	jobs := []Job{{
		Name: "sweep",
		Spec: "@every " + cfg.Bridge.SweepInterval.Std().String(),
		Run: func(ctx context.Context) (string, error) {
			n, err := sweeper.Sweep(ctx, sweeper.Now())
			return fmt.Sprintf("deleted %d expired bridges", n), err
		},
	}}
	if !cfg.Sentiment.Enabled {
		return jobs
	}
	retention := cfg.Sentiment.Retention.Std()
	return append(jobs,
		Job{
			Name: "summarize",
			Spec: cfg.Sentiment.SummarizeCron,
			Run: func(ctx context.Context) (string, error) {
				res, err := sentiment.Summarize(ctx, db, time.Now())
				return fmt.Sprintf("summarized %d messages for %d users", res.Messages, res.Users), err
			},
		},
		Job{
			Name: "purge",
			Spec: cfg.Sentiment.PurgeCron,
			Run: func(ctx context.Context) (string, error) {
				n, err := sentiment.Purge(ctx, db, time.Now(), retention)
				return fmt.Sprintf("purged %d messages", n), err
			},
		},
	)
}
