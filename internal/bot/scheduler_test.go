package bot

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zulandar/toxbot/internal/config"
	"github.com/zulandar/toxbot/internal/models"
	"github.com/zulandar/toxbot/internal/sentiment"
)

func noopJob(ctx context.Context) (string, error) { return "ok", nil }

func TestNewScheduler_Validation(t *testing.T) {
	tests := []struct {
		name string
		jobs []Job
	}{
		{"no name", []Job{{Spec: "@every 1m", Run: noopJob}}},
		{"no func", []Job{{Name: "a", Spec: "@every 1m"}}},
		{"bad spec", []Job{{Name: "a", Spec: "every minute", Run: noopJob}}},
		{"duplicate", []Job{{Name: "a", Spec: "@hourly", Run: noopJob}, {Name: "a", Spec: "@daily", Run: noopJob}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewScheduler(tt.jobs...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestScheduler_Trigger(t *testing.T) {
	var runs atomic.Int32
	s, err := NewScheduler(
		Job{Name: "count", Spec: "@daily", Run: func(ctx context.Context) (string, error) {
			runs.Add(1)
			return "counted", nil
		}},
		Job{Name: "fail", Spec: "@daily", Run: func(ctx context.Context) (string, error) {
			return "", errors.New("nope")
		}},
	)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	ctx := context.Background()

	got, err := s.Trigger(ctx, "count")
	if err != nil || got != "counted" {
		t.Errorf("Trigger(count) = %q, %v", got, err)
	}
	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
	if _, err := s.Trigger(ctx, "fail"); err == nil || err.Error() != "nope" {
		t.Errorf("Trigger(fail) err = %v", err)
	}
	if _, err := s.Trigger(ctx, "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Trigger(missing) err = %v, want ErrUnknownJob", err)
	}

	names := s.Jobs()
	slices.Sort(names)
	if !slices.Equal(names, []string{"count", "fail"}) {
		t.Errorf("Jobs = %v", names)
	}
}

func TestScheduler_TriggerTimeout(t *testing.T) {
	s, _ := NewScheduler(Job{
		Name: "slow", Spec: "@daily", Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	})
	if _, err := s.Trigger(context.Background(), "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestScheduler_RunFiresJobs(t *testing.T) {
	fired := make(chan struct{}, 10)
	s, err := NewScheduler(Job{Name: "tick", Spec: "@every 1s", Run: func(ctx context.Context) (string, error) {
		fired <- struct{}{}
		return "", nil
	}})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job never fired")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestScheduler_SkipsOverlappingTick(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	s, _ := NewScheduler(Job{Name: "long", Spec: "@daily", Run: func(ctx context.Context) (string, error) {
		runs.Add(1)
		<-release
		return "", nil
	}})
	j := s.jobs["long"]

	started := make(chan struct{})
	go func() {
		close(started)
		s.run(context.Background(), j, true)
	}()
	<-started
	deadline := time.Now().Add(time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	// A scheduled tick while the job is running is skipped.
	s.run(context.Background(), j, false)
	close(release)

	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
}

type fakeSweeper struct {
	swept []time.Time
}

func (f *fakeSweeper) Sweep(_ context.Context, now time.Time) (int64, error) {
	f.swept = append(f.swept, now)
	return 2, nil
}

func (f *fakeSweeper) Now() time.Time { return t0 }

func TestStandardJobs(t *testing.T) {
	cfg := &config.Config{
		Bridge: config.BridgeConfig{SweepInterval: config.Duration(time.Hour)},
		Sentiment: config.SentimentConfig{
			Retention:     config.Duration(30 * 24 * time.Hour),
			SummarizeCron: "*/5 * * * *",
			PurgeCron:     "0 3 * * *",
		},
	}
	sw := &fakeSweeper{}
	db := openTestDB(t)

	jobs := StandardJobs(cfg, sw, db)
	if len(jobs) != 1 || jobs[0].Name != "sweep" || jobs[0].Spec != "@every 1h0m0s" {
		t.Fatalf("disabled sentiment jobs = %+v", jobs)
	}

	cfg.Sentiment.Enabled = true
	jobs = StandardJobs(cfg, sw, db)
	var names []string
	for _, j := range jobs {
		names = append(names, j.Name)
	}
	if !slices.Equal(names, []string{"sweep", "summarize", "purge"}) {
		t.Fatalf("jobs = %v", names)
	}

	s, err := NewScheduler(jobs...)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	ctx := context.Background()

	got, err := s.Trigger(ctx, "sweep")
	if err != nil || got != "deleted 2 expired bridges" {
		t.Errorf("sweep = %q, %v", got, err)
	}
	if len(sw.swept) != 1 || !sw.swept[0].Equal(t0) {
		t.Errorf("swept at %v, want manager time", sw.swept)
	}

	rec, _ := sentiment.NewRecorder(db, &fakeClassifier{res: sentiment.Result{IsToxic: true, Alignment: sentiment.ChaoticEvil}})
	if _, err := rec.Record(ctx, sentiment.GuildMessage{MessageID: "M1", UserID: "U1", GuildID: "G1", Content: "grr", Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	got, err = s.Trigger(ctx, "summarize")
	if err != nil || got != "summarized 1 messages for 1 users" {
		t.Errorf("summarize = %q, %v", got, err)
	}

	old := models.UserSentiment{UserID: "U1", GuildID: "G1", MessageID: "M0", IsSummarized: true,
		CreatedAt: time.Now().UTC().Add(-60 * 24 * time.Hour)}
	if err := db.Create(&old).Error; err != nil {
		t.Fatal(err)
	}
	got, err = s.Trigger(ctx, "purge")
	if err != nil || got != "purged 1 messages" {
		t.Errorf("purge = %q, %v", got, err)
	}
}
