package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/toxbot/internal/bridge"
	"github.com/zulandar/toxbot/internal/chat"
)

// adapterFactory hands out a fresh MockAdapter per call and keeps them all.
type adapterFactory struct {
	mu       sync.Mutex
	adapters []*chat.MockAdapter
}

func (f *adapterFactory) New() (chat.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := chat.NewMockAdapter()
	a.SetGuildCount(2)
	f.adapters = append(f.adapters, a)
	return a, nil
}

func (f *adapterFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.adapters)
}

func (f *adapterFactory) Last() *chat.MockAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adapters[len(f.adapters)-1]
}

func startService(t *testing.T, exitWithBot bool) (*Service, *adapterFactory, *syncBuffer, context.CancelFunc, chan error) {
	t.Helper()
	cfg := testCfg()
	cfg.Sentiment.Enabled = false
	factory := &adapterFactory{}
	out := &syncBuffer{}
	svc, err := NewService(ServiceOpts{
		DB:          openTestDB(t),
		Config:      cfg,
		NewAdapter:  factory.New,
		ExitWithBot: exitWithBot,
		Out:         out,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	waitFor(t, "bot online", func() bool { return strings.Count(out.String(), "Toxbot online") == 1 })
	return svc, factory, out, cancel, done
}

func waitDone(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestNewService_Validation(t *testing.T) {
	db := openTestDB(t)
	cfg := testCfg()
	factory := &adapterFactory{}

	tests := []struct {
		name string
		opts ServiceOpts
	}{
		{"no db", ServiceOpts{Config: cfg, NewAdapter: factory.New}},
		{"no config", ServiceOpts{DB: db, NewAdapter: factory.New}},
		{"no adapter factory", ServiceOpts{DB: db, Config: cfg}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewService(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestService_RequestsBeforeRun(t *testing.T) {
	svc, err := NewService(ServiceOpts{DB: openTestDB(t), Config: testCfg(), NewAdapter: (&adapterFactory{}).New})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Start(context.Background()); !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf("Start = %v, want ErrServiceUnavailable", err)
	}
	if err := svc.Stop(context.Background()); !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf("Stop = %v, want ErrServiceUnavailable", err)
	}
	if svc.Running() {
		t.Error("Running before Run")
	}
}

func TestService_StopStartCycle(t *testing.T) {
	svc, factory, out, cancel, done := startService(t, false)
	defer cancel()
	ctx := context.Background()

	if !svc.Running() {
		t.Fatal("not running after Run")
	}
	if got := svc.GuildCount(); got != 2 {
		t.Errorf("GuildCount = %d, want 2", got)
	}
	if err := svc.Start(ctx); !errors.Is(err, ErrServiceRunning) {
		t.Errorf("Start while running = %v, want ErrServiceRunning", err)
	}

	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if svc.Running() {
		t.Error("Running after Stop")
	}
	if got := svc.GuildCount(); got != 0 {
		t.Errorf("GuildCount while stopped = %d, want 0", got)
	}
	if err := svc.Stop(ctx); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("Stop while stopped = %v, want ErrServiceStopped", err)
	}

	// Feedback while stopped fails delivery and records nothing.
	_, err := svc.Manager().EnsureBridge(ctx, "U1", "A1", "the leaderboard is broken")
	var de *bridge.DeliveryError
	if !errors.As(err, &de) || !errors.Is(err, chat.ErrNotConnected) {
		t.Errorf("EnsureBridge while stopped = %v, want DeliveryError wrapping ErrNotConnected", err)
	}

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "bot online again", func() bool { return strings.Count(out.String(), "Toxbot online") == 2 })
	if factory.Count() != 2 {
		t.Errorf("adapters built = %d, want 2", factory.Count())
	}
	if !svc.Running() {
		t.Error("not running after Start")
	}

	// The restarted bot delivers through the new adapter.
	if _, err := svc.Manager().EnsureBridge(ctx, "U1", "A1", "the leaderboard is broken"); err != nil {
		t.Fatalf("EnsureBridge: %v", err)
	}
	if got := len(factory.Last().SentTo("A1")); got != 1 {
		t.Errorf("cards on new adapter = %d, want 1", got)
	}

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run = %v", err)
	}
	if svc.Running() {
		t.Error("Running after Run returned")
	}
}

func TestService_BotExitsOnItsOwn(t *testing.T) {
	tests := []struct {
		name        string
		exitWithBot bool
	}{
		{"exit with bot", true},
		{"keep serving", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, factory, out, cancel, done := startService(t, tt.exitWithBot)
			defer cancel()

			factory.Last().Close()

			if tt.exitWithBot {
				if err := waitDone(t, done); err != nil {
					t.Errorf("Run = %v", err)
				}
				return
			}

			waitFor(t, "bot stopped", func() bool { return !svc.Running() })
			if err := svc.Start(context.Background()); err != nil {
				t.Fatalf("Start after exit: %v", err)
			}
			waitFor(t, "bot online again", func() bool { return strings.Count(out.String(), "Toxbot online") == 2 })
			cancel()
			if err := waitDone(t, done); err != nil {
				t.Errorf("Run = %v", err)
			}
		})
	}
}
