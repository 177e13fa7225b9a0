package numbering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/prazos-api/internal/domain"
	"github.com/prazos-api/internal/pkg/backoff"
	"github.com/puzpuzpuz/xsync/v4"
)

// Operation names used in results, logs and metrics.
const (
	OpAllocate = "allocate"
	OpRelease  = "release"
	OpClear    = "clear"
)

// maxWriteAttempts bounds how often a transition is reapplied after losing a
// write race to another instance.
const maxWriteAttempts = 5

// Outcome is how a transition request ended when it did not fail.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeCancelled Outcome = "cancelled"
)

// Result describes a transition request.
type Result struct {
	Op      string  `json:"op"`
	Outcome Outcome `json:"outcome"`
	// Version is the pool version produced by the write, 0 when nothing was written.
	Version int64 `json:"version,omitempty"`
}

// Options tunes a Controller. Zero values pick defaults.
type Options struct {
	UpperBound int
	// EchoWait bounds how long a transition waits for the echo of this
	// session's previous write before reading the store directly.
	EchoWait time.Duration
	Archiver Archiver
	Recorder Recorder
}

// Controller runs the allocate/release/clear state machine over sessions.
// Transitions on the same tenant and category are serialized in-process.
type Controller struct {
	store      PoolStore
	identity   Identity
	archiver   Archiver
	rec        Recorder
	upperBound int
	echoWait   time.Duration
	retry      backoff.Jitter
	gates      *xsync.Map[string, *gate]
}

type gate struct {
	sem     chan struct{}
	written int64
}

func NewController(store PoolStore, identity Identity, opts Options) *Controller {
	if opts.UpperBound < 1 {
		opts.UpperBound = DefaultUpperBound
	}
	if opts.EchoWait <= 0 {
		opts.EchoWait = 2 * time.Second
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Controller{
		store:      store,
		identity:   identity,
		archiver:   opts.Archiver,
		rec:        opts.Recorder,
		upperBound: opts.UpperBound,
		echoWait:   opts.EchoWait,
		retry:      defaultRetry,
		gates:      xsync.NewMap[string, *gate](),
	}
}

// UpperBound is the highest number that can ever be allocated.
func (c *Controller) UpperBound() int { return c.upperBound }

// Open subscribes a new session for tenantID. The session lives until Close or ctx ends.
func (c *Controller) Open(ctx context.Context, tenantID string) *Session {
	s := newSession(ctx, c, tenantID)
	s.sub = c.store.Subscribe(s.ctx, tenantID, s.onUpdate)
	return s
}

// Toggle allocates n when it is free and releases it (behind the challenge) when used.
func (c *Controller) Toggle(ctx context.Context, s *Session, cat domain.Category, n int, prompt SecretPrompt) (Result, error) {
	if err := c.checkNumber(cat, n); err != nil {
		return Result{}, err
	}
	p, err := s.current(ctx)
	if err != nil {
		return Result{}, err
	}
	if p.Used(cat).Has(n) {
		return c.Release(ctx, s, cat, n, prompt)
	}
	return c.Allocate(ctx, s, cat, n)
}

// Allocate marks n used. Allocating a used number changes nothing.
func (c *Controller) Allocate(ctx context.Context, s *Session, cat domain.Category, n int) (Result, error) {
	if err := c.checkNumber(cat, n); err != nil {
		return Result{Op: OpAllocate}, err
	}
	g, release, err := c.acquire(ctx, s, cat)
	if err != nil {
		return Result{Op: OpAllocate}, err
	}
	defer release()

	p, err := c.base(ctx, s, g)
	if err != nil {
		return Result{Op: OpAllocate}, err
	}
	if p.Used(cat).Has(n) {
		c.rec.Transition(cat, OpAllocate, string(OutcomeUnchanged))
		return Result{Op: OpAllocate, Outcome: OutcomeUnchanged}, nil
	}
	m := s.markNumber(cat, n, true)
	return c.commit(ctx, s, g, cat, OpAllocate, p, func(_ context.Context, cur domain.NumberSet) (domain.NumberSet, bool, error) {
		if cur.Has(n) {
			return nil, false, nil
		}
		return cur.With(n), true, nil
	}, m)
}

// Release marks n free after a passing challenge. A cancelled prompt aborts
// quietly; a rejected secret returns domain.ErrChallengeFailed.
func (c *Controller) Release(ctx context.Context, s *Session, cat domain.Category, n int, prompt SecretPrompt) (Result, error) {
	if err := c.checkNumber(cat, n); err != nil {
		return Result{Op: OpRelease}, err
	}
	g, release, err := c.acquire(ctx, s, cat)
	if err != nil {
		return Result{Op: OpRelease}, err
	}
	defer release()

	p, err := c.base(ctx, s, g)
	if err != nil {
		return Result{Op: OpRelease}, err
	}
	if !p.Used(cat).Has(n) {
		c.rec.Transition(cat, OpRelease, string(OutcomeUnchanged))
		return Result{Op: OpRelease, Outcome: OutcomeUnchanged}, nil
	}
	ok, err := c.challenge(ctx, s, cat, prompt)
	if err != nil {
		c.rec.Transition(cat, OpRelease, "denied")
		return Result{Op: OpRelease}, err
	}
	if !ok {
		c.rec.Transition(cat, OpRelease, string(OutcomeCancelled))
		return Result{Op: OpRelease, Outcome: OutcomeCancelled}, nil
	}

	// The challenge suspended us; build on whatever has been echoed since.
	p, err = s.current(ctx)
	if err != nil {
		return Result{Op: OpRelease}, err
	}
	if !p.Used(cat).Has(n) {
		c.rec.Transition(cat, OpRelease, string(OutcomeUnchanged))
		return Result{Op: OpRelease, Outcome: OutcomeUnchanged}, nil
	}
	m := s.markNumber(cat, n, false)
	return c.commit(ctx, s, g, cat, OpRelease, p, func(_ context.Context, cur domain.NumberSet) (domain.NumberSet, bool, error) {
		if !cur.Has(n) {
			return nil, false, nil
		}
		return cur.Without(n), true, nil
	}, m)
}

// Clear empties a category. It needs confirm to approve first, then one
// passing challenge for the whole operation.
func (c *Controller) Clear(ctx context.Context, s *Session, cat domain.Category, confirm Confirmer, prompt SecretPrompt) (Result, error) {
	if _, ok := domain.ParseCategory(string(cat)); !ok {
		return Result{Op: OpClear}, fmt.Errorf("unknown category %q: %w", cat, domain.ErrBadRequest)
	}
	g, release, err := c.acquire(ctx, s, cat)
	if err != nil {
		return Result{Op: OpClear}, err
	}
	defer release()

	p, err := c.base(ctx, s, g)
	if err != nil {
		return Result{Op: OpClear}, err
	}
	used := p.Used(cat)
	if len(used) == 0 {
		c.rec.Transition(cat, OpClear, string(OutcomeUnchanged))
		return Result{Op: OpClear, Outcome: OutcomeUnchanged}, nil
	}
	if confirm == nil || !confirm(ctx, cat, len(used)) {
		c.rec.Transition(cat, OpClear, string(OutcomeCancelled))
		return Result{Op: OpClear, Outcome: OutcomeCancelled}, nil
	}
	ok, err := c.challenge(ctx, s, cat, prompt)
	if err != nil {
		c.rec.Transition(cat, OpClear, "denied")
		return Result{Op: OpClear}, err
	}
	if !ok {
		c.rec.Transition(cat, OpClear, string(OutcomeCancelled))
		return Result{Op: OpClear, Outcome: OutcomeCancelled}, nil
	}

	if p, err = s.current(ctx); err != nil {
		return Result{Op: OpClear}, err
	}
	// Numbers are only dropped once the exact set being cleared has a snapshot.
	var archived domain.NumberSet
	m := s.markClear(cat)
	return c.commit(ctx, s, g, cat, OpClear, p, func(ctx context.Context, cur domain.NumberSet) (domain.NumberSet, bool, error) {
		if len(cur) == 0 {
			return nil, false, nil
		}
		if c.archiver != nil && (archived == nil || !maps.Equal(archived, cur)) {
			if err := c.archiver.Archive(ctx, s.tenantID, cat, cur.Sorted()); err != nil {
				return nil, false, fmt.Errorf("snapshot %s before clear: %w", cat, err)
			}
			archived = cur
		}
		return domain.NumberSet{}, true, nil
	}, m)
}

func (c *Controller) checkNumber(cat domain.Category, n int) error {
	if _, ok := domain.ParseCategory(string(cat)); !ok {
		return fmt.Errorf("unknown category %q: %w", cat, domain.ErrBadRequest)
	}
	if n < 1 || n > c.upperBound {
		return fmt.Errorf("number %d outside 1..%d: %w", n, c.upperBound, domain.ErrBadRequest)
	}
	return nil
}

// acquire takes the (tenant, category) gate, honoring ctx while waiting.
func (c *Controller) acquire(ctx context.Context, s *Session, cat domain.Category) (*gate, func(), error) {
	key := s.tenantID + "/" + string(cat)
	g, ok := c.gates.Load(key)
	if !ok {
		g, _ = c.gates.LoadOrStore(key, &gate{sem: make(chan struct{}, 1)})
	}
	select {
	case g.sem <- struct{}{}:
		return g, func() { <-g.sem }, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// base returns the state a transition should build on: the session's echoed
// pool once it reflects this gate's last write. If the echo is late, the store
// is read directly and the result adopted like any other snapshot.
func (c *Controller) base(ctx context.Context, s *Session, g *gate) (*domain.NumberPool, error) {
	if _, err := s.current(ctx); err != nil {
		return nil, err
	}
	if g.written == 0 || s.Version() >= g.written {
		return s.current(ctx)
	}
	waitCtx, cancel := context.WithTimeout(ctx, c.echoWait)
	err := s.WaitVersion(waitCtx, g.written)
	cancel()
	if err == nil {
		return s.current(ctx)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	slog.Warn("echo overdue, reading pool directly", "tenant_id", s.tenantID, "want_version", g.written)
	p, err := c.store.Load(ctx, s.tenantID)
	if err != nil {
		return nil, err
	}
	s.adopt(p)
	return s.current(ctx)
}

// challenge runs the step-up check. (false, nil) means the user cancelled.
func (c *Controller) challenge(ctx context.Context, s *Session, cat domain.Category, prompt SecretPrompt) (bool, error) {
	if prompt == nil {
		return false, nil
	}
	secret, ok := prompt(ctx)
	if !ok || secret == "" {
		return false, nil
	}
	who, err := c.identity.CurrentUser(ctx)
	if err == nil && who.TenantID != s.tenantID {
		err = fmt.Errorf("caller does not own tenant: %w", domain.ErrForbidden)
	}
	if err == nil {
		err = c.identity.Reauthenticate(ctx, who.Email, secret)
	}
	if err != nil {
		c.rec.ChallengeFailed(cat)
		slog.Warn("step-up challenge failed", "tenant_id", s.tenantID, "category", cat, "err", err)
		if errors.Is(err, domain.ErrChallengeFailed) {
			return false, err
		}
		return false, fmt.Errorf("%w: %w", domain.ErrChallengeFailed, err)
	}
	return true, nil
}

// change derives a category's next set from its current one. ok=false means
// there is nothing left to write.
type change func(ctx context.Context, cur domain.NumberSet) (next domain.NumberSet, ok bool, err error)

// commit writes apply's result on top of base. If another writer moved the pool
// in between, the pool is reloaded and apply runs again on the fresh set, so
// concurrent changes to different numbers are all kept.
func (c *Controller) commit(ctx context.Context, s *Session, g *gate, cat domain.Category, op string, base *domain.NumberPool, apply change, m *mark) (Result, error) {
	p := base
	for attempt := 1; ; attempt++ {
		next, ok, err := apply(ctx, p.Used(cat))
		if err != nil {
			return c.fail(s, cat, op, m, err)
		}
		if !ok {
			s.settle(cat, m, 0, true)
			c.rec.Transition(cat, op, string(OutcomeUnchanged))
			return Result{Op: op, Outcome: OutcomeUnchanged}, nil
		}

		start := time.Now()
		v, err := c.store.Persist(ctx, s.tenantID, cat, next, p.Version)
		c.rec.ObservePersist(cat, time.Since(start).Seconds())
		if err == nil {
			g.written = v
			s.settle(cat, m, v, false)
			c.rec.Transition(cat, op, string(OutcomeApplied))
			slog.Info("pool updated", "tenant_id", s.tenantID, "category", cat, "op", op, "version", v)
			return Result{Op: op, Outcome: OutcomeApplied, Version: v}, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt == maxWriteAttempts {
			c.rec.PersistFailed(cat)
			return c.fail(s, cat, op, m, fmt.Errorf("%s %s: %w", op, cat, err))
		}

		slog.Info("pool moved during transition, reapplying", "tenant_id", s.tenantID, "category", cat, "op", op, "base_version", p.Version)
		if p, err = c.store.Load(ctx, s.tenantID); err != nil {
			return c.fail(s, cat, op, m, fmt.Errorf("%s %s: %w", op, cat, err))
		}
		s.adopt(p)
	}
}

func (c *Controller) fail(s *Session, cat domain.Category, op string, m *mark, err error) (Result, error) {
	s.settle(cat, m, 0, true)
	c.rec.Transition(cat, op, "failed")
	slog.Error("transition failed", "tenant_id", s.tenantID, "category", cat, "op", op, "err", err)
	return Result{Op: op}, err
}
