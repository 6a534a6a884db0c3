// Package leader implements the leader-lifecycle state machine: service
// registration with health check, session creation and TTL-bounded
// renewal, lock acquisition against the coordinator's election key,
// lock-watch with modify-index-based liveness detection, and graceful
// release. It exposes a single observable boolean — am I leader right
// now — plus an edge-event channel so callers never have to poll it.
//
// Grounded in internal/poolmanager/manager.go's shape (atomic.Bool
// leader flag, panic-recovery+backoff background loops) generalized
// from Kubernetes Lease callbacks to the Consul session/lock election
// this system requires.
package leader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/belykhk/cdcron-go/internal/coordinator"
	"github.com/belykhk/cdcron-go/internal/metrics"
)

const (
	registrationCheckInterval = 10 * time.Second
	sessionRenewInterval      = 5 * time.Second
	leaderPollInterval        = 5 * time.Second
	followerPollInterval      = 10 * time.Second
)

type state int

const (
	follower state = iota
	leaderState
)

// Manager drives the registration/session/election loops and reports
// whether this replica currently holds leadership.
type Manager struct {
	client      *coordinator.Client
	svc         coordinator.ServiceRegistration
	serviceName string
	electionKey string
	logger      *zap.Logger

	registeredOnce sync.Once
	registered     chan struct{}
	sessionOnce    sync.Once
	sessionReady   chan struct{}
	leaderChanged  chan bool

	isLeader  atomic.Bool
	sessionID atomic.Pointer[string]

	fatal chan error
}

// Config carries the identity and election-key details a Manager needs.
type Config struct {
	Service     coordinator.ServiceRegistration
	ServiceName string
	ElectionKey string
}

// New creates a Manager. Call Run to start it; Run blocks until ctx is
// cancelled or a fatal coordinator error occurs.
func New(client *coordinator.Client, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client:        client,
		svc:           cfg.Service,
		serviceName:   cfg.ServiceName,
		electionKey:   cfg.ElectionKey,
		logger:        logger,
		registered:    make(chan struct{}),
		sessionReady:  make(chan struct{}),
		leaderChanged: make(chan bool, 1),
		fatal:         make(chan error, 3),
	}
}

// IsLeader reports whether this replica currently holds the election key.
func (m *Manager) IsLeader() bool {
	return m.isLeader.Load()
}

// LeaderChanges returns the edge-event channel: true is sent on a
// follower→leader transition, false on leader→follower. A tick that
// reconfirms the existing state sends nothing. The channel is buffered by
// one; callers should drain it promptly (main's select loop does).
func (m *Manager) LeaderChanges() <-chan bool {
	return m.leaderChanged
}

// Run executes the startup sequence from spec §4.3 and then blocks until
// ctx is cancelled or a loop reports a fatal coordinator error.
//
//  1. deregister eagerly, purging any stale record left by a prior
//     incarnation of this service_id.
//  2. start the registration loop, block until it registers once.
//  3. start the session loop, block until a session exists.
//  4. start the election loop.
//
// The two blocking waits use closed-once channels rather than the
// source's busy-spin on a flag (Design Note "Busy-wait startup
// barriers").
func (m *Manager) Run(ctx context.Context) error {
	if err := m.client.Deregister(ctx, m.svc.ID); err != nil {
		return err
	}

	go m.safeGo(ctx, "registration", m.runRegistrationLoop)

	select {
	case <-m.registered:
	case <-ctx.Done():
		return ctx.Err()
	case err := <-m.fatal:
		return err
	}

	go m.safeGo(ctx, "session", m.runSessionLoop)

	select {
	case <-m.sessionReady:
	case <-ctx.Done():
		return ctx.Err()
	case err := <-m.fatal:
		return err
	}

	go m.safeGo(ctx, "election", m.runElectionLoop)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-m.fatal:
		return err
	}
}

// Shutdown releases the lock (if held) and deregisters the service. It
// never returns a fatal error — a failed release/deregister during
// shutdown is logged, matching the source's atexit handler.
func (m *Manager) Shutdown(ctx context.Context) {
	if id := m.sessionID.Load(); id != nil && *id != "" {
		released, err := m.client.LockRelease(ctx, m.electionKey, *id)
		if err != nil {
			m.logger.Warn("failed to release lock on shutdown", zap.Error(err))
		} else if !released {
			m.logger.Info("no lock to release on shutdown")
		} else {
			m.logger.Info("lock released")
		}
	}

	if err := m.client.Deregister(ctx, m.svc.ID); err != nil {
		m.logger.Warn("failed to deregister service on shutdown", zap.Error(err))
		return
	}
	m.logger.Info("service deregistered")
}

func (m *Manager) runRegistrationLoop(ctx context.Context) {
	if err := m.client.Register(ctx, m.svc); err != nil {
		m.reportFatal(err)
		return
	}
	m.logger.Info("service registered", zap.String("service_id", m.svc.ID))
	m.registeredOnce.Do(func() { close(m.registered) })

	ticker := time.NewTicker(registrationCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			present, err := m.client.CatalogLookup(ctx, m.serviceName)
			if err != nil {
				m.reportFatal(err)
				return
			}
			if !present {
				m.logger.Warn("service registration lost, re-registering")
				if err := m.client.Register(ctx, m.svc); err != nil {
					m.reportFatal(err)
					return
				}
			}
		}
	}
}

func (m *Manager) runSessionLoop(ctx context.Context) {
	id, err := m.client.SessionCreate(ctx, m.serviceName)
	if err != nil {
		m.reportFatal(err)
		return
	}
	m.logger.Info("session created", zap.String("session_id", id))
	m.sessionID.Store(&id)
	m.sessionOnce.Do(func() { close(m.sessionReady) })

	ticker := time.NewTicker(sessionRenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.client.SessionRenew(ctx, id); err != nil {
				m.reportFatal(err)
				return
			}
		}
	}
}

// runElectionLoop is the FOLLOWER/LEADER state machine of spec §4.3,
// including the modify-index-based liveness check that accelerates
// failover ahead of the coordinator's own TTL reaping.
func (m *Manager) runElectionLoop(ctx context.Context) {
	st := follower
	var modifyIndex uint64
	first := true

	for {
		if !first {
			interval := followerPollInterval
			if st == leaderState {
				interval = leaderPollInterval
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
		first = false

		sessionID := m.sessionID.Load()
		if sessionID == nil {
			continue
		}

		lock, err := m.client.LockRead(ctx, m.electionKey)
		if err != nil {
			m.logger.Warn("lock read failed, will retry next tick", zap.Error(err))
			continue
		}

		switch {
		case lock == nil:
			// Key absent: attempt to acquire.
			acquired, err := m.client.LockAcquire(ctx, m.electionKey, *sessionID)
			if err != nil {
				m.reportFatal(err)
				return
			}
			st = m.transition(st, acquired)

		case lock.Session == *sessionID:
			// We are leader. Re-read to refresh modify_index.
			refreshed, err := m.client.LockRead(ctx, m.electionKey)
			if err != nil {
				m.logger.Warn("lock refresh read failed", zap.Error(err))
			} else if refreshed != nil {
				modifyIndex = refreshed.ModifyIndex
			}
			st = m.transition(st, true)

		default:
			// Held by someone else.
			if lock.ModifyIndex == modifyIndex {
				// Stale since our last observation: treat as a liveness
				// failure and attempt to take over.
				acquired, err := m.client.LockAcquire(ctx, m.electionKey, *sessionID)
				if err != nil {
					m.reportFatal(err)
					return
				}
				st = m.transition(st, acquired)
			} else {
				modifyIndex = lock.ModifyIndex
				st = m.transition(st, false)
			}
		}
	}
}

// transition applies the observed leader flag, emitting an edge event
// only when the state actually changes, and returns the new state.
func (m *Manager) transition(current state, nowLeader bool) state {
	next := follower
	if nowLeader {
		next = leaderState
	}
	if next == current {
		return current
	}

	m.isLeader.Store(nowLeader)
	if nowLeader {
		metrics.LeaderStatus.Set(1)
	} else {
		metrics.LeaderStatus.Set(0)
	}
	select {
	case m.leaderChanged <- nowLeader:
	default:
		// Drop the stale queued edge and replace it — callers only care
		// about the latest state, never a missed intermediate one.
		select {
		case <-m.leaderChanged:
		default:
		}
		m.leaderChanged <- nowLeader
	}

	if nowLeader {
		m.logger.Info("acquired leadership")
	} else {
		m.logger.Info("lost leadership")
	}
	return next
}

func (m *Manager) reportFatal(err error) {
	select {
	case m.fatal <- err:
	default:
	}
}

// safeGo wraps a loop with panic recovery: a panicking loop is logged and
// reported as fatal rather than silently vanishing, since a dead
// registration/session/election goroutine would otherwise leave the
// process in an unobservable half-alive state.
func (m *Manager) safeGo(ctx context.Context, name string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("background loop panicked",
				zap.String("loop", name),
				zap.Any("panic", r),
			)
			metrics.PanicsRecoveredTotal.WithLabelValues(name).Inc()
			m.reportFatal(&panicError{loop: name, value: r})
		}
	}()
	fn(ctx)
}

type panicError struct {
	loop  string
	value interface{}
}

func (e *panicError) Error() string {
	return "panic in " + e.loop + " loop"
}
