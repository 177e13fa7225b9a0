package numbering

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/prazos-api/internal/domain"
	"github.com/puzpuzpuz/xsync/v4"
)

// View is what a session shows for one category.
type View struct {
	Category  domain.Category `json:"category"`
	Used      []int           `json:"used"`
	Next      int             `json:"next"`
	Exhausted bool            `json:"exhausted"`
	// Pending maps numbers with an in-flight transition to their target state (true = used).
	Pending  map[int]bool `json:"pending,omitempty"`
	Clearing bool         `json:"clearing,omitempty"`
	Version  int64        `json:"version"`
}

// mark is an optimistic indicator. version is 0 until the write is acknowledged,
// then the mark lives until an echo at or above version arrives.
type mark struct {
	used    bool
	version int64
}

type pendingState struct {
	numbers map[int]*mark
	clear   *mark
}

// Session is one tenant's live view of its pool. State advances only from
// snapshots echoed by the store, never from local writes.
type Session struct {
	ctrl     *Controller
	tenantID string
	sub      *Subscription
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.RWMutex
	pool     *domain.NumberPool
	loadErr  error
	changed  chan struct{}
	pending  map[domain.Category]*pendingState
	creating bool
}

func newSession(ctx context.Context, ctrl *Controller, tenantID string) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ctrl:     ctrl,
		tenantID: tenantID,
		ctx:      ctx,
		cancel:   cancel,
		changed:  make(chan struct{}),
		pending:  make(map[domain.Category]*pendingState),
	}
	for _, c := range domain.Categories {
		s.pending[c] = &pendingState{numbers: make(map[int]*mark)}
	}
	return s
}

func (s *Session) TenantID() string { return s.tenantID }

// Close cancels the subscription. Transitions already in flight still complete.
func (s *Session) Close() {
	s.cancel()
	if s.sub != nil {
		s.sub.Cancel()
	}
}

// Changed returns a channel that is closed on the next state change.
func (s *Session) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

func (s *Session) onUpdate(u Update) {
	if u.Err != nil {
		if errors.Is(u.Err, domain.ErrNotFound) {
			s.initialize()
			return
		}
		slog.Error("pool load failed", "tenant_id", s.tenantID, "err", u.Err)
		s.mu.Lock()
		s.loadErr = u.Err
		s.broadcastLocked()
		s.mu.Unlock()
		return
	}
	s.adopt(u.Pool)
}

// initialize creates the default pool the first time a tenant is seen.
// The echo of that write (or of a competing creator's) fills the view.
func (s *Session) initialize() {
	s.mu.Lock()
	if s.pool != nil || s.creating {
		s.mu.Unlock()
		return
	}
	s.creating = true
	s.loadErr = nil
	s.mu.Unlock()

	err := s.createDefault()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.creating = false
	if err != nil {
		if s.ctx.Err() == nil {
			slog.Error("create default pool failed", "tenant_id", s.tenantID, "err", err)
		}
		s.loadErr = err
		s.broadcastLocked()
		return
	}
	slog.Info("created default pool", "tenant_id", s.tenantID)
}

// createDefault retries while the store is unavailable, until the session closes.
func (s *Session) createDefault() error {
	var delay time.Duration
	for {
		err := s.ctrl.store.CreateDefault(s.ctx, s.tenantID)
		if err == nil || !errors.Is(err, domain.ErrUnavailable) {
			return err
		}
		delay = s.ctrl.retry.Next(delay)
		slog.Warn("create default pool failed, retrying", "tenant_id", s.tenantID, "delay", delay, "err", err)
		select {
		case <-s.ctx.Done():
			return err
		case <-time.After(delay):
		}
	}
}

// adopt applies a store snapshot unless it is older than the current one.
func (s *Session) adopt(p *domain.NumberPool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil && p.Version < s.pool.Version {
		return
	}
	s.pool = p
	s.loadErr = nil
	for _, ps := range s.pending {
		for n, m := range ps.numbers {
			if m.version > 0 && m.version <= p.Version {
				delete(ps.numbers, n)
			}
		}
		if ps.clear != nil && ps.clear.version > 0 && ps.clear.version <= p.Version {
			ps.clear = nil
		}
	}
	s.broadcastLocked()
}

func (s *Session) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// current waits until the session has a pool and returns it.
func (s *Session) current(ctx context.Context) (*domain.NumberPool, error) {
	for {
		s.mu.RLock()
		p, err, ch := s.pool, s.loadErr, s.changed
		s.mu.RUnlock()
		if p != nil {
			return p, nil
		}
		if err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

// Ready blocks until the first snapshot has been adopted or loading it failed.
func (s *Session) Ready(ctx context.Context) error {
	_, err := s.current(ctx)
	return err
}

// Version is the version of the last adopted snapshot, 0 before the first.
func (s *Session) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pool == nil {
		return 0
	}
	return s.pool.Version
}

// WaitVersion blocks until a snapshot at or above v has been adopted.
func (s *Session) WaitVersion(ctx context.Context, v int64) error {
	for {
		s.mu.RLock()
		p, ch := s.pool, s.changed
		s.mu.RUnlock()
		if p != nil && p.Version >= v {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// View returns the echoed state of c plus any optimistic marks.
func (s *Session) View(c domain.Category) View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	used := s.pool.Used(c)
	bound := s.ctrl.upperBound
	v := View{
		Category:  c,
		Used:      used.Sorted(),
		Next:      NextFree(used, bound),
		Exhausted: Exhausted(used, bound),
	}
	if s.pool != nil {
		v.Version = s.pool.Version
	}
	if ps := s.pending[c]; ps != nil {
		if len(ps.numbers) > 0 {
			v.Pending = make(map[int]bool, len(ps.numbers))
			for n, m := range ps.numbers {
				v.Pending[n] = m.used
			}
		}
		v.Clearing = ps.clear != nil
	}
	return v
}

// Views returns View for every category.
func (s *Session) Views() []View {
	out := make([]View, 0, len(domain.Categories))
	for _, c := range domain.Categories {
		out = append(out, s.View(c))
	}
	return out
}

func (s *Session) markNumber(c domain.Category, n int, used bool) *mark {
	m := &mark{used: used}
	s.mu.Lock()
	s.pending[c].numbers[n] = m
	s.broadcastLocked()
	s.mu.Unlock()
	return m
}

func (s *Session) markClear(c domain.Category) *mark {
	m := &mark{}
	s.mu.Lock()
	s.pending[c].clear = m
	s.broadcastLocked()
	s.mu.Unlock()
	return m
}

// settle records the acknowledged version of m, or drops it when the write failed.
// A mark whose echo already arrived is dropped immediately.
func (s *Session) settle(c domain.Category, m *mark, version int64, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.pending[c]
	drop := failed || (s.pool != nil && s.pool.Version >= version)
	if !drop {
		m.version = version
		return
	}
	if ps.clear == m {
		ps.clear = nil
	}
	maps.DeleteFunc(ps.numbers, func(_ int, v *mark) bool { return v == m })
	s.broadcastLocked()
}

// Sessions keeps one long-lived Session per tenant for request/response transports.
type Sessions struct {
	ctrl *Controller
	m    *xsync.Map[string, *Session]
}

func NewSessions(ctrl *Controller) *Sessions {
	return &Sessions{ctrl: ctrl, m: xsync.NewMap[string, *Session]()}
}

// Get returns the tenant's session, opening it on first use.
func (r *Sessions) Get(tenantID string) *Session {
	if s, ok := r.m.Load(tenantID); ok {
		return s
	}
	s := r.ctrl.Open(context.Background(), tenantID)
	actual, loaded := r.m.LoadOrStore(tenantID, s)
	if loaded {
		s.Close()
		return actual
	}
	return s
}

// Ready returns the tenant's session once it has a pool. A session whose load
// failed is dropped, so the next call opens a fresh one.
func (r *Sessions) Ready(ctx context.Context, tenantID string) (*Session, error) {
	s := r.Get(tenantID)
	err := s.Ready(ctx)
	if err == nil {
		return s, nil
	}
	if ctx.Err() == nil {
		r.m.Compute(tenantID, func(old *Session, loaded bool) (*Session, xsync.ComputeOp) {
			if loaded && old == s {
				return nil, xsync.DeleteOp
			}
			return old, xsync.CancelOp
		})
		s.Close()
	}
	return nil, err
}

// Close closes every open session.
func (r *Sessions) Close() {
	r.m.Range(func(tenantID string, s *Session) bool {
		s.Close()
		r.m.Delete(tenantID)
		return true
	})
}
