// Package presence keeps the realtime visitor gauge in step with browser
// sessions. Each session contributes exactly one increment and at most one
// decrement, whether it ends with an explicit close or by missing heartbeats.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultSessionTTL    = 90 * time.Second
	defaultSweepInterval = 15 * time.Second
	adjustTimeout        = 5 * time.Second

	reasonAdjustFailed = "adjust_failed"
	reasonResetFailed  = "reset_failed"
)

var (
	// ErrInvalidSession indicates a malformed session identifier.
	ErrInvalidSession = errors.New("presence: invalid session id")
	// ErrMissingCounter indicates that no realtime gauge was configured.
	ErrMissingCounter = errors.New("presence: realtime counter is required")
)

// Counter is the realtime gauge the tracker drives.
type Counter interface {
	AdjustRealtimeUsers(ctx context.Context, delta int64) error
	ResetRealtimeUsers(ctx context.Context) error
}

// Listener is notified after every change to the number of live sessions.
type Listener interface {
	SessionsChanged(active int, at time.Time)
}

// SessionID identifies one open browser tab.
type SessionID string

// ParseSessionID validates an identifier received from a client.
func ParseSessionID(raw string) (SessionID, error) {
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return SessionID(parsed.String()), nil
}

// String returns the identifier text.
func (id SessionID) String() string {
	return string(id)
}

// Config describes tracker dependencies.
type Config struct {
	Counter       Counter
	Clock         func() time.Time
	Logger        *zap.Logger
	Listeners     []Listener
	TTL           time.Duration
	SweepInterval time.Duration
	NewID         func() (uuid.UUID, error)
}

// Tracker owns the set of live sessions.
type Tracker struct {
	counter       Counter
	clock         func() time.Time
	logger        *zap.Logger
	listeners     []Listener
	ttl           time.Duration
	sweepInterval time.Duration
	newID         func() (uuid.UUID, error)

	mu       sync.Mutex
	sessions map[SessionID]time.Time
}

// NewTracker validates the configuration.
func NewTracker(cfg Config) (*Tracker, error) {
	if cfg.Counter == nil {
		return nil, ErrMissingCounter
	}
	tracker := &Tracker{
		counter:       cfg.Counter,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
		listeners:     cfg.Listeners,
		ttl:           cfg.TTL,
		sweepInterval: cfg.SweepInterval,
		newID:         cfg.NewID,
		sessions:      make(map[SessionID]time.Time),
	}
	if tracker.clock == nil {
		tracker.clock = time.Now
	}
	if tracker.logger == nil {
		tracker.logger = zap.NewNop()
	}
	if tracker.ttl <= 0 {
		tracker.ttl = defaultSessionTTL
	}
	if tracker.sweepInterval <= 0 {
		tracker.sweepInterval = defaultSweepInterval
	}
	if tracker.newID == nil {
		tracker.newID = uuid.NewV7
	}
	return tracker, nil
}

// Begin opens a session and increments the gauge. A gauge failure is logged;
// the session still exists so that its end stays balanced.
func (tracker *Tracker) Begin(ctx context.Context) (SessionID, error) {
	value, err := tracker.newID()
	if err != nil {
		return "", fmt.Errorf("presence: generate session id: %w", err)
	}
	id := SessionID(value.String())
	now := tracker.clock().UTC()

	tracker.mu.Lock()
	tracker.sessions[id] = now
	active := len(tracker.sessions)
	tracker.mu.Unlock()

	tracker.adjust(ctx, 1, id)
	tracker.notify(active, now)
	return id, nil
}

// Heartbeat refreshes a session. It reports false for unknown or expired
// sessions; the client is expected to begin a new one.
func (tracker *Tracker) Heartbeat(_ context.Context, id SessionID) (bool, error) {
	if id == "" {
		return false, ErrInvalidSession
	}
	now := tracker.clock().UTC()
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if _, ok := tracker.sessions[id]; !ok {
		return false, nil
	}
	tracker.sessions[id] = now
	return true, nil
}

// End closes a session and decrements the gauge. Ending a session that is
// unknown or already ended does nothing, so a teardown followed by a close
// beacon from the same tab decrements once.
func (tracker *Tracker) End(ctx context.Context, id SessionID) error {
	if id == "" {
		return ErrInvalidSession
	}
	tracker.mu.Lock()
	if _, ok := tracker.sessions[id]; !ok {
		tracker.mu.Unlock()
		return nil
	}
	delete(tracker.sessions, id)
	active := len(tracker.sessions)
	tracker.mu.Unlock()

	tracker.adjust(ctx, -1, id)
	tracker.notify(active, tracker.clock().UTC())
	return nil
}

// Sweep expires sessions whose last heartbeat is older than the TTL and
// returns how many were expired.
func (tracker *Tracker) Sweep(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-tracker.ttl)

	tracker.mu.Lock()
	var expired []SessionID
	for id, lastSeen := range tracker.sessions {
		if lastSeen.Before(cutoff) {
			expired = append(expired, id)
			delete(tracker.sessions, id)
		}
	}
	active := len(tracker.sessions)
	tracker.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}
	for _, id := range expired {
		tracker.adjust(ctx, -1, id)
	}
	tracker.logger.Debug("presence sessions expired",
		zap.Int("expired", len(expired)),
		zap.Int("active", active))
	tracker.notify(active, now.UTC())
	return len(expired)
}

// Active returns the number of live sessions.
func (tracker *Tracker) Active() int {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	return len(tracker.sessions)
}

// Run zeroes the stored gauge, since no session survives a restart, and then
// sweeps on every interval until ctx ends.
func (tracker *Tracker) Run(ctx context.Context) error {
	if err := tracker.counter.ResetRealtimeUsers(ctx); err != nil {
		tracker.logError(reasonResetFailed, err)
	}

	ticker := time.NewTicker(tracker.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tracker.Sweep(ctx, tracker.clock().UTC())
		}
	}
}

// adjust outlives the caller's context: the session map has already changed,
// so an abandoned gauge write could never be repaired by End or Sweep.
func (tracker *Tracker) adjust(ctx context.Context, delta int64, id SessionID) {
	adjustCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), adjustTimeout)
	defer cancel()
	if err := tracker.counter.AdjustRealtimeUsers(adjustCtx, delta); err != nil {
		tracker.logError(reasonAdjustFailed, err,
			zap.Int64("delta", delta),
			zap.String("session_id", id.String()))
	}
}

func (tracker *Tracker) notify(active int, at time.Time) {
	for _, listener := range tracker.listeners {
		if listener != nil {
			listener.SessionsChanged(active, at)
		}
	}
}

func (tracker *Tracker) logError(reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", "presence.tracker"),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	tracker.logger.Error("presence tracker error", attrs...)
}
