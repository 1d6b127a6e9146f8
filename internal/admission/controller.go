// Package admission bounds request throughput per agent and globally before
// requests reach the registry or the settlement bridge. It is a backpressure
// mechanism, not a correctness mechanism: compliant retries are never
// blocked, and escalation to a timed ban requires sustained abuse.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// globalKey is the shared sliding-window key for the system-wide limit.
const globalKey = "global"

// Config holds admission limits.
type Config struct {
	AgentLimit   int           // requests per window per agent
	GlobalLimit  int           // requests per window across all agents
	Window       time.Duration
	BanThreshold int           // consecutive violations before a ban
	BanDuration  time.Duration
}

// DefaultConfig matches the documented limits: 50 req/s per agent,
// 1000 req/s globally, ban after 20 consecutive violations.
func DefaultConfig() Config {
	return Config{
		AgentLimit:   50,
		GlobalLimit:  1000,
		Window:       time.Second,
		BanThreshold: 20,
		BanDuration:  5 * time.Minute,
	}
}

// Controller gates requests through sliding-window counters and tracks
// per-agent violation streaks for ban escalation.
type Controller struct {
	limiter domain.RateLimiter
	cfg     Config
	logger  *slog.Logger

	mu         sync.Mutex
	violations map[string]int
	bans       map[string]time.Time
}

// New creates a Controller over the given rate limiter backend.
func New(limiter domain.RateLimiter, cfg Config, logger *slog.Logger) *Controller {
	return &Controller{
		limiter:    limiter,
		cfg:        cfg,
		logger:     logger,
		violations: make(map[string]int),
		bans:       make(map[string]time.Time),
	}
}

// Admit checks the agent's and the global window. On rejection it returns a
// positive retry-after hint and an error matching domain.ErrRateLimited, or
// domain.ErrAgentBanned while a ban is in force.
func (c *Controller) Admit(ctx context.Context, agentID string) (time.Duration, error) {
	if until, banned := c.banActive(agentID); banned {
		return time.Until(until), fmt.Errorf("admission: agent %q banned until %s: %w",
			agentID, until.UTC().Format(time.RFC3339), domain.ErrAgentBanned)
	}

	allowed, retryAfter, err := c.limiter.Allow(ctx, "agent:"+agentID, c.cfg.AgentLimit, c.cfg.Window)
	if err != nil {
		// Fail open on limiter backend errors so an unhealthy Redis never
		// blocks trading.
		c.logger.WarnContext(ctx, "admission: limiter error, failing open",
			slog.String("agent_id", agentID),
			slog.String("error", err.Error()),
		)
		return 0, nil
	}
	if !allowed {
		c.recordViolation(ctx, agentID)
		return positive(retryAfter), fmt.Errorf("admission: agent %q over %d/%s: %w",
			agentID, c.cfg.AgentLimit, c.cfg.Window, domain.ErrRateLimited)
	}

	allowed, retryAfter, err = c.limiter.Allow(ctx, globalKey, c.cfg.GlobalLimit, c.cfg.Window)
	if err != nil {
		c.logger.WarnContext(ctx, "admission: limiter error, failing open",
			slog.String("error", err.Error()),
		)
		return 0, nil
	}
	if !allowed {
		// Global saturation is not the agent's fault; no violation streak.
		return positive(retryAfter), fmt.Errorf("admission: global limit %d/%s reached: %w",
			c.cfg.GlobalLimit, c.cfg.Window, domain.ErrRateLimited)
	}

	c.clearViolations(agentID)
	return 0, nil
}

func (c *Controller) banActive(agentID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	until, ok := c.bans[agentID]
	if !ok {
		return time.Time{}, false
	}
	if time.Now().After(until) {
		delete(c.bans, agentID)
		delete(c.violations, agentID)
		return time.Time{}, false
	}
	return until, true
}

func (c *Controller) recordViolation(ctx context.Context, agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.violations[agentID]++
	if c.cfg.BanThreshold > 0 && c.violations[agentID] >= c.cfg.BanThreshold {
		until := time.Now().Add(c.cfg.BanDuration)
		c.bans[agentID] = until
		delete(c.violations, agentID)
		c.logger.WarnContext(ctx, "admission: agent banned for persistent abuse",
			slog.String("agent_id", agentID),
			slog.Time("until", until),
		)
	}
}

func (c *Controller) clearViolations(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.violations, agentID)
}

func positive(d time.Duration) time.Duration {
	if d <= 0 {
		return 100 * time.Millisecond
	}
	return d
}
