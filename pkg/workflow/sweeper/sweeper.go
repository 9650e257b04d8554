// Package sweeper implements the three background reclaim loops of spec.md
// §4.4: zombie reclaim (stalled ACTIVE UOWs get routed to the Tau role),
// memory decay (stale role-attributes are pruned), and toxic marking (a
// memory is excluded from retrieval without deletion). Grounded on the
// teacher's ticker-based background-loop idiom (graph/scheduler.go's
// goroutine/mutex conventions, graph/policy.go's computeBackoff jitter) and
// original_source/tests/test_background_services.py's exact assertions
// (run_zombie_protocol/run_memory_decay/mark_memory_toxic semantics).
package sweeper

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/shared/logging"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/model"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store"
)

// Broadcaster is the narrow telemetry contract the sweeper emits through,
// matching pkg/workflow/engine.Broadcaster's shape so both can share an
// emit.OutboxBroadcaster without either package importing the other.
type Broadcaster interface {
	Emit(ctx context.Context, eventType string, payload map[string]interface{})
}

// Sweeper owns the three periodic background services of spec.md §4.4.
type Sweeper struct {
	store store.Store
	log   *logrus.Entry
	bcast Broadcaster
	rng   *rand.Rand

	zombieTimeout   time.Duration
	zombieInterval  time.Duration
	memoryRetention time.Duration
	memoryInterval  time.Duration
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the base logrus logger (a component-scoped child is
// derived from it).
func WithLogger(l *logrus.Logger) Option {
	return func(s *Sweeper) { s.log = logging.NewComponentLogger(l, "sweeper") }
}

// WithBroadcaster wires telemetry emission.
func WithBroadcaster(b Broadcaster) Option {
	return func(s *Sweeper) { s.bcast = b }
}

// WithZombieThreshold sets the heartbeat staleness threshold and poll
// interval for the zombie protocol (defaults: 300s threshold, 60s interval
// per spec.md §4.4.1).
func WithZombieThreshold(threshold, interval time.Duration) Option {
	return func(s *Sweeper) {
		s.zombieTimeout = threshold
		s.zombieInterval = interval
	}
}

// WithMemoryRetention sets the decay retention window and poll interval.
func WithMemoryRetention(retention, interval time.Duration) Option {
	return func(s *Sweeper) {
		s.memoryRetention = retention
		s.memoryInterval = interval
	}
}

// New builds a Sweeper with spec.md §4.4's defaults.
func New(st store.Store, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:           st,
		log:             logging.NewComponentLogger(logrus.New(), "sweeper"),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter timing, not security
		zombieTimeout:   300 * time.Second,
		zombieInterval:  60 * time.Second,
		memoryRetention: 90 * 24 * time.Hour,
		memoryInterval:  1 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sweeper) emit(ctx context.Context, eventType string, payload map[string]interface{}) {
	if s.bcast != nil {
		s.bcast.Emit(ctx, eventType, payload)
	}
}

// Start launches the zombie and memory-decay loops as goroutines, each
// jittered on startup so a fleet of replicas doesn't sweep in lockstep. Both
// loops stop when ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go s.runLoop(ctx, "zombie_protocol", s.zombieInterval, func(ctx context.Context) {
		reclaimed, err := s.RunZombieProtocol(ctx)
		if err != nil {
			s.log.WithError(err).Warn("zombie protocol tick failed")
			return
		}
		if reclaimed > 0 {
			s.log.WithField("reclaimed", reclaimed).Info("zombie protocol reclaimed stalled uows")
		}
	})
	go s.runLoop(ctx, "memory_decay", s.memoryInterval, func(ctx context.Context) {
		deleted, err := s.RunMemoryDecay(ctx)
		if err != nil {
			s.log.WithError(err).Warn("memory decay tick failed")
			return
		}
		if deleted > 0 {
			s.log.WithField("deleted", deleted).Info("memory decay pruned stale role-attributes")
		}
	})
}

// runLoop sleeps a random jitter (0..interval) before the first tick, then
// ticks every interval until ctx is cancelled.
func (s *Sweeper) runLoop(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	jitter := time.Duration(s.rng.Int63n(int64(interval)))
	timer := time.NewTimer(jitter)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunZombieProtocol implements spec.md §4.4.1: every ACTIVE uow whose
// LastHeartbeat is non-nil and older than the configured threshold is
// marked FAILED, has its heartbeat cleared, and — if the owning workflow
// defines a Tau inbound interaction — is routed there. Returns the number
// of uows reclaimed.
func (s *Sweeper) RunZombieProtocol(ctx context.Context) (int, error) {
	candidates, err := s.store.FindByStatus(ctx, model.StatusActive, "")
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-s.zombieTimeout)
	reclaimed := 0
	tauInbound := make(map[string]string) // workflowID -> inbound interaction id, memoized across candidates

	for _, uow := range candidates {
		if uow.LastHeartbeat == nil || !uow.LastHeartbeat.Before(cutoff) {
			continue
		}

		interactionID, err := s.tauInboundInteraction(ctx, uow.WorkflowID, tauInbound)
		if err != nil {
			s.log.WithError(err).WithField("uow_id", uow.ID).Warn("zombie protocol: tau lookup failed")
		}

		payload := map[string]interface{}{
			"_zombie": map[string]interface{}{
				"reclaimed_at":       time.Now().UTC().Format(time.RFC3339),
				"heartbeat_deadline": cutoff.Format(time.RFC3339),
			},
		}
		if err := s.store.UpdateState(ctx, nil, uow.ID, model.SystemActorID, model.StatusFailed, interactionID, payload, false, "zombie protocol: heartbeat exceeded timeout"); err != nil {
			s.log.WithError(err).WithField("uow_id", uow.ID).Warn("zombie protocol: reclaim failed")
			continue
		}
		if err := s.store.ClearHeartbeat(ctx, uow.ID); err != nil {
			s.log.WithError(err).WithField("uow_id", uow.ID).Warn("zombie protocol: clear heartbeat failed")
		}

		s.emit(ctx, "UOW_ZOMBIE_RECLAIMED", map[string]interface{}{"uow_id": uow.ID, "instance_id": uow.InstanceID})
		reclaimed++
	}

	return reclaimed, nil
}

// tauInboundInteraction resolves the Tau role's inbound interaction id for
// workflowID, memoizing into cache (empty string means "no Tau role or no
// inbound component defined" — the UOW is still reclaimed, just not routed).
func (s *Sweeper) tauInboundInteraction(ctx context.Context, workflowID string, cache map[string]string) (string, error) {
	if id, ok := cache[workflowID]; ok {
		return id, nil
	}

	role, found, err := s.store.RoleByType(ctx, workflowID, model.RoleTau)
	if err != nil || !found {
		cache[workflowID] = ""
		return "", err
	}
	components, err := s.store.InboundComponents(ctx, role.ID)
	if err != nil || len(components) == 0 {
		cache[workflowID] = ""
		return "", err
	}
	cache[workflowID] = components[0].InteractionID
	return components[0].InteractionID, nil
}

// RunMemoryDecay implements spec.md §4.4.2 through store.DecayOlderThan:
// each role-attribute memory row whose last access (or, for a row never
// accessed, its creation time) predates the retention window loses
// confidence, and a row whose confidence reaches zero is deleted; rows never
// accessed are not exempt. Returns the number of rows decayed or deleted.
func (s *Sweeper) RunMemoryDecay(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.memoryRetention)
	deleted, err := s.store.DecayOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.emit(ctx, "MEMORY_DECAYED", map[string]interface{}{"count": deleted})
	}
	return deleted, nil
}

// MarkMemoryToxic implements spec.md §4.4.3's admin operation: a memory is
// flagged toxic (excluded from retrieval) without being deleted.
func (s *Sweeper) MarkMemoryToxic(ctx context.Context, memoryID, reason string) error {
	if err := s.store.MarkToxic(ctx, memoryID, reason); err != nil {
		return err
	}
	s.emit(ctx, "MEMORY_MARKED_TOXIC", map[string]interface{}{"memory_id": memoryID, "reason": reason})
	return nil
}
