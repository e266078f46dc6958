// Package coordinator provides a NATS-based api.Coordinator: a
// thin, best-effort broadcast layer over which nodes exchange decided
// slot values. Consensus correctness (leader election, replication
// safety) is out of scope for this module; this coordinator gives the
// RSM driver a real, networked implementation of the contract it
// depends on.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/parliament/rsm-core/api"
	"github.com/parliament/rsm-core/internal/cbreaker"
	"github.com/parliament/rsm-core/internal/retry"
	"github.com/parliament/rsm-core/pkg/logger"
)

var _ api.Coordinator = (*NatsCoordinator)(nil)

const noMax = -1

// NatsCoordinator decides slot values by broadcasting them over NATS
// and keeping a local record of everything seen. Every node observes
// the same decisions because Coordinate publishes them, rather than
// routing through a leader; Coordinate is idempotent because
// re-publishing the same (id, value) pair is harmless.
type NatsCoordinator struct {
	logger *slog.Logger
	nc     *nats.Conn
	cb     *cbreaker.CircuitBreaker

	decideSubject string
	learnSubject  string
	decideSub     *nats.Subscription
	learnSub      *nats.Subscription

	mu      sync.RWMutex
	decided map[int64][]byte
	max     int64
	waiters map[int64][]chan struct{}
}

// Config bundles NatsCoordinator's construction parameters.
type Config struct {
	URL              string
	Group            string
	CBFailThreshold  int
	CBSuccThreshold  int
	CBResetTimeout   time.Duration
	ConnectAttempts  int
	ConnectBaseDelay time.Duration
}

// DefaultConfig returns sane defaults for Config, with URL and Group
// left for the caller to fill in.
func DefaultConfig() Config {
	return Config{
		CBFailThreshold:  6,
		CBSuccThreshold:  4,
		CBResetTimeout:   5 * time.Second,
		ConnectAttempts:  3,
		ConnectBaseDelay: 150 * time.Millisecond,
	}
}

// New connects to NATS and subscribes to the group's decision and
// learn subjects.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*NatsCoordinator, error) {
	c := &NatsCoordinator{
		logger:        log,
		cb:            cbreaker.NewCircuitBreaker(cfg.CBFailThreshold, cfg.CBSuccThreshold, cfg.CBResetTimeout),
		decideSubject: fmt.Sprintf("rsm.%s.decide", cfg.Group),
		learnSubject:  fmt.Sprintf("rsm.%s.learn", cfg.Group),
		decided:       make(map[int64][]byte),
		max:           noMax,
		waiters:       make(map[int64][]chan struct{}),
	}

	var nc *nats.Conn
	err := retry.Do(ctx, func(ctx context.Context) error {
		var dialErr error
		nc, dialErr = nats.Connect(cfg.URL, nats.MaxReconnects(-1), nats.RetryOnFailedConnect(true))
		return dialErr
	}, retry.WithMaxAttempts(cfg.ConnectAttempts))
	if err != nil {
		return nil, fmt.Errorf("coordinator: connect to nats at %s: %w", cfg.URL, err)
	}
	c.nc = nc

	decideSub, err := nc.Subscribe(c.decideSubject+".*", c.handleDecision)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("coordinator: subscribe to %s: %w", c.decideSubject, err)
	}
	c.decideSub = decideSub

	learnSub, err := nc.Subscribe(c.learnSubject, c.handleLearn)
	if err != nil {
		decideSub.Unsubscribe()
		nc.Close()
		return nil, fmt.Errorf("coordinator: subscribe to %s: %w", c.learnSubject, err)
	}
	c.learnSub = learnSub

	return c, nil
}

func (c *NatsCoordinator) handleDecision(msg *nats.Msg) {
	idStr := strings.TrimPrefix(msg.Subject, c.decideSubject+".")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		c.logger.Warn("coordinator: malformed decision subject", slog.String("subject", msg.Subject), logger.ErrAttr(err))
		return
	}
	c.record(id, msg.Data)
}

func (c *NatsCoordinator) handleLearn(msg *nats.Msg) {
	id, err := strconv.ParseInt(string(msg.Data), 10, 64)
	if err != nil {
		c.logger.Warn("coordinator: malformed learn request", logger.ErrAttr(err))
		return
	}

	c.mu.RLock()
	value, ok := c.decided[id]
	c.mu.RUnlock()
	if !ok {
		return
	}

	if err := c.publishDecision(id, value); err != nil {
		c.logger.Warn("coordinator: failed to answer learn request", slog.Int64("id", id), logger.ErrAttr(err))
	}
}

func (c *NatsCoordinator) record(id int64, value []byte) {
	c.mu.Lock()
	if _, exists := c.decided[id]; !exists {
		stored := append([]byte(nil), value...)
		c.decided[id] = stored
	}
	if id > c.max {
		c.max = id
	}
	waiters := c.waiters[id]
	delete(c.waiters, id)
	c.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

func (c *NatsCoordinator) publishDecision(id int64, value []byte) error {
	subject := fmt.Sprintf("%s.%d", c.decideSubject, id)
	_, err := cbreaker.Do(context.Background(), c.cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.nc.Publish(subject, value)
	})
	return err
}

// Coordinate broadcasts value as the decision for slot id.
func (c *NatsCoordinator) Coordinate(ctx context.Context, id int64, value []byte) error {
	if err := c.publishDecision(id, value); err != nil {
		return fmt.Errorf("coordinator: coordinate id %d: %w", id, err)
	}
	c.record(id, value)
	return nil
}

// Instance blocks until slot id is decided or ctx is done.
func (c *NatsCoordinator) Instance(ctx context.Context, id int64) ([]byte, error) {
	c.mu.Lock()
	if v, ok := c.decided[id]; ok {
		c.mu.Unlock()
		return v, nil
	}
	wait := make(chan struct{})
	c.waiters[id] = append(c.waiters[id], wait)
	c.mu.Unlock()

	select {
	case <-wait:
		c.mu.RLock()
		v := c.decided[id]
		c.mu.RUnlock()
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Learn asks peers to resend slot id.
func (c *NatsCoordinator) Learn(id int64) {
	if err := c.nc.Publish(c.learnSubject, []byte(strconv.FormatInt(id, 10))); err != nil {
		c.logger.Warn("coordinator: failed to publish learn request", slog.Int64("id", id), logger.ErrAttr(err))
	}
}

// Max returns the highest decided id observed locally.
func (c *NatsCoordinator) Max() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.max
}

// Forget drops locally-held decisions strictly less than before.
func (c *NatsCoordinator) Forget(_ context.Context, before int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.decided {
		if id < before {
			delete(c.decided, id)
		}
	}
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (c *NatsCoordinator) Close() error {
	if c.decideSub != nil {
		_ = c.decideSub.Unsubscribe()
	}
	if c.learnSub != nil {
		_ = c.learnSub.Unsubscribe()
	}
	c.nc.Close()
	return nil
}
