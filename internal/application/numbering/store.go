package numbering

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prazos-api/internal/domain"
	"github.com/prazos-api/internal/pkg/backoff"
	"github.com/puzpuzpuz/xsync/v4"
)

// defaultRetry paces retries against an unreachable store.
var defaultRetry = backoff.Jitter{Base: 100 * time.Millisecond, Multiplier: 2, Cap: 10 * time.Second}

// Update is one delivery to a subscriber.
// Err is domain.ErrNotFound while the tenant has no pool document.
type Update struct {
	Pool *domain.NumberPool
	Err  error
}

// PoolStore is what the controller needs from pool persistence.
type PoolStore interface {
	Load(ctx context.Context, tenantID string) (*domain.NumberPool, error)
	CreateDefault(ctx context.Context, tenantID string) error
	Persist(ctx context.Context, tenantID string, c domain.Category, set domain.NumberSet, base int64) (int64, error)
	Subscribe(ctx context.Context, tenantID string, onChange func(Update)) *Subscription
}

// Store owns tenant pools on top of a DocumentStore and replicates changes to
// subscribers through a ChangeFeed. A nil feed echoes writes in-process only.
type Store struct {
	docs    DocumentStore
	feed    ChangeFeed
	subs    *xsync.Map[uint64, *Subscription]
	nextID  atomic.Uint64
	backoff backoff.Jitter
}

func NewStore(docs DocumentStore, feed ChangeFeed) *Store {
	return &Store{
		docs:    docs,
		feed:    feed,
		subs:    xsync.NewMap[uint64, *Subscription](),
		backoff: defaultRetry,
	}
}

func (s *Store) Load(ctx context.Context, tenantID string) (*domain.NumberPool, error) {
	return s.docs.Get(ctx, tenantID)
}

// CreateDefault writes the empty pool unless one already exists.
func (s *Store) CreateDefault(ctx context.Context, tenantID string) error {
	if err := s.docs.PutIfAbsent(ctx, domain.NewNumberPool(tenantID)); err != nil {
		return err
	}
	s.notify(ctx, tenantID)
	return nil
}

// Persist merges one category's numbers into the tenant's pool. base is the
// pool version set was computed from, or domain.AnyVersion; a pool that moved
// since base yields domain.ErrConflict.
func (s *Store) Persist(ctx context.Context, tenantID string, c domain.Category, set domain.NumberSet, base int64) (int64, error) {
	v, err := s.docs.SetField(ctx, tenantID, c, set.Sorted(), base)
	if err != nil {
		return 0, err
	}
	s.notify(ctx, tenantID)
	return v, nil
}

func (s *Store) notify(ctx context.Context, tenantID string) {
	if s.feed == nil {
		s.deliver(tenantID)
		return
	}
	// The write is already durable; the notice must go out even if the caller has gone.
	if err := s.feed.Notify(context.WithoutCancel(ctx), tenantID); err != nil {
		slog.Warn("change notification failed", "tenant_id", tenantID, "err", err)
	}
}

// Run pumps the change feed into subscribers until ctx ends.
func (s *Store) Run(ctx context.Context) error {
	if s.feed == nil {
		<-ctx.Done()
		return nil
	}
	return s.feed.Run(ctx, s.deliver)
}

// deliver schedules a reload for every subscription of tenantID.
func (s *Store) deliver(tenantID string) {
	s.subs.Range(func(_ uint64, sub *Subscription) bool {
		if sub.tenantID == tenantID {
			sub.kick()
		}
		return true
	})
}

// Subscribe registers onChange for tenantID. It fires once with the current
// state and again after every change notice, own writes included. Deliveries
// are serialized per subscription and never go back to an older version.
func (s *Store) Subscribe(ctx context.Context, tenantID string, onChange func(Update)) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		id:       s.nextID.Add(1),
		tenantID: tenantID,
		store:    s,
		onChange: onChange,
		ctx:      subCtx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.subs.Store(sub.id, sub)
	sub.kick()
	go sub.run()
	return sub
}

// Subscription is a live registration created by Store.Subscribe.
type Subscription struct {
	id       uint64
	tenantID string
	store    *Store
	onChange func(Update)
	ctx      context.Context
	cancel   context.CancelFunc
	wake     chan struct{}
	done     chan struct{}

	// owned by run
	seen    bool
	version int64
}

// Cancel stops delivery. Safe to call more than once, including from onChange.
func (sub *Subscription) Cancel() {
	sub.cancel()
	sub.store.subs.Delete(sub.id)
}

// Done is closed once the delivery loop has exited.
func (sub *Subscription) Done() <-chan struct{} { return sub.done }

func (sub *Subscription) kick() {
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *Subscription) run() {
	defer close(sub.done)
	defer sub.store.subs.Delete(sub.id)
	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-sub.wake:
		}
		u, ok := sub.load()
		if !ok {
			return
		}
		sub.offer(u)
	}
}

// load reads the current pool, retrying while the store is unreachable.
func (sub *Subscription) load() (Update, bool) {
	var delay time.Duration
	for {
		p, err := sub.store.docs.Get(sub.ctx, sub.tenantID)
		if sub.ctx.Err() != nil {
			return Update{}, false
		}
		if !errors.Is(err, domain.ErrUnavailable) {
			return Update{Pool: p, Err: err}, true
		}
		delay = sub.store.backoff.Next(delay)
		slog.Warn("pool reload failed, retrying", "tenant_id", sub.tenantID, "delay", delay, "err", err)
		select {
		case <-sub.ctx.Done():
			return Update{}, false
		case <-time.After(delay):
		}
	}
}

func (sub *Subscription) offer(u Update) {
	switch {
	case u.Pool != nil:
		if sub.seen && u.Pool.Version < sub.version {
			return
		}
		sub.seen, sub.version = true, u.Pool.Version
	case errors.Is(u.Err, domain.ErrNotFound) && sub.seen:
		return
	}
	if sub.ctx.Err() != nil {
		return
	}
	sub.onChange(u)
}
