package admission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAdmit_FiftyFirstRequestRejected(t *testing.T) {
	ctx := context.Background()
	c := New(NewSlidingWindow(), DefaultConfig(), discard())

	for i := 0; i < 50; i++ {
		if _, err := c.Admit(ctx, "agent-a"); err != nil {
			t.Fatalf("request %d unexpectedly rejected: %v", i+1, err)
		}
	}

	retryAfter, err := c.Admit(ctx, "agent-a")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("51st request: got %v, want ErrRateLimited", err)
	}
	if retryAfter <= 0 {
		t.Errorf("retry-after = %v, want positive", retryAfter)
	}
}

func TestAdmit_AgentsLimitedIndependently(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.AgentLimit = 2
	c := New(NewSlidingWindow(), cfg, discard())

	for i := 0; i < 2; i++ {
		if _, err := c.Admit(ctx, "agent-a"); err != nil {
			t.Fatalf("agent-a request %d: %v", i+1, err)
		}
	}
	if _, err := c.Admit(ctx, "agent-a"); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("agent-a over limit: got %v", err)
	}

	// A different agent is unaffected.
	if _, err := c.Admit(ctx, "agent-b"); err != nil {
		t.Errorf("agent-b rejected: %v", err)
	}
}

func TestAdmit_GlobalLimit(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.AgentLimit = 100
	cfg.GlobalLimit = 3
	c := New(NewSlidingWindow(), cfg, discard())

	for i, agent := range []string{"a", "b", "c"} {
		if _, err := c.Admit(ctx, agent); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}

	if _, err := c.Admit(ctx, "d"); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("global limit: got %v, want ErrRateLimited", err)
	}
}

func TestAdmit_BanAfterConsecutiveViolations(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.AgentLimit = 1
	cfg.BanThreshold = 3
	cfg.BanDuration = time.Hour
	c := New(NewSlidingWindow(), cfg, discard())

	if _, err := c.Admit(ctx, "abuser"); err != nil {
		t.Fatalf("first request: %v", err)
	}

	// Three consecutive violations trip the ban.
	for i := 0; i < 3; i++ {
		if _, err := c.Admit(ctx, "abuser"); !errors.Is(err, domain.ErrRateLimited) && !errors.Is(err, domain.ErrAgentBanned) {
			t.Fatalf("violation %d: got %v", i+1, err)
		}
	}

	retryAfter, err := c.Admit(ctx, "abuser")
	if !errors.Is(err, domain.ErrAgentBanned) {
		t.Fatalf("after threshold: got %v, want ErrAgentBanned", err)
	}
	if retryAfter <= 0 {
		t.Errorf("ban retry-after = %v, want positive", retryAfter)
	}
}

func TestAdmit_CompliantRetryClearsStreak(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.AgentLimit = 1
	cfg.Window = 10 * time.Millisecond
	cfg.BanThreshold = 3
	c := New(NewSlidingWindow(), cfg, discard())

	for round := 0; round < 5; round++ {
		if _, err := c.Admit(ctx, "patient"); err != nil {
			t.Fatalf("round %d admit: %v", round, err)
		}
		// One violation, then a compliant wait.
		if _, err := c.Admit(ctx, "patient"); !errors.Is(err, domain.ErrRateLimited) {
			t.Fatalf("round %d: got %v, want ErrRateLimited", round, err)
		}
		time.Sleep(cfg.Window + time.Millisecond)
	}
	// Never banned: violations were not consecutive enough.
	if _, err := c.Admit(ctx, "patient"); errors.Is(err, domain.ErrAgentBanned) {
		t.Error("compliant retrier was banned")
	}
}

func TestSlidingWindow_WindowSlides(t *testing.T) {
	sw := NewSlidingWindow()
	base := time.Now()
	sw.now = func() time.Time { return base }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, _, err := sw.Allow(ctx, "k", 3, time.Second)
		if err != nil || !ok {
			t.Fatalf("hit %d: ok=%v err=%v", i, ok, err)
		}
	}

	ok, retryAfter, _ := sw.Allow(ctx, "k", 3, time.Second)
	if ok {
		t.Fatal("fourth hit inside window allowed")
	}
	if retryAfter <= 0 || retryAfter > time.Second {
		t.Errorf("retryAfter = %v, want within (0, 1s]", retryAfter)
	}

	// Advance past the window; hits expire.
	sw.now = func() time.Time { return base.Add(1100 * time.Millisecond) }
	if ok, _, _ := sw.Allow(ctx, "k", 3, time.Second); !ok {
		t.Error("hit after window slid should be allowed")
	}
}
