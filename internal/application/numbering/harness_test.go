package numbering

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prazos-api/internal/domain"
	"github.com/prazos-api/internal/infrastructure/memory"
	"github.com/stretchr/testify/require"
)

const testWait = 2 * time.Second

// fakeDocs is the in-memory document store with injectable failures.
type fakeDocs struct {
	*memory.PoolStore
	mu     sync.Mutex
	getErr error
	setErr error
	sets   int
	// putFails is how many PutIfAbsent calls fail with ErrUnavailable before one succeeds.
	putFails int
	puts     int
}

func newFakeDocs() *fakeDocs { return &fakeDocs{PoolStore: memory.NewPoolStore()} }

func (f *fakeDocs) Get(ctx context.Context, tenantID string) (*domain.NumberPool, error) {
	f.mu.Lock()
	err := f.getErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.PoolStore.Get(ctx, tenantID)
}

func (f *fakeDocs) SetField(ctx context.Context, tenantID string, c domain.Category, nums []int, expect int64) (int64, error) {
	f.mu.Lock()
	err := f.setErr
	f.sets++
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return f.PoolStore.SetField(ctx, tenantID, c, nums, expect)
}

func (f *fakeDocs) PutIfAbsent(ctx context.Context, p *domain.NumberPool) error {
	f.mu.Lock()
	f.puts++
	fail := f.puts <= f.putFails
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("create pool: %w", domain.ErrUnavailable)
	}
	return f.PoolStore.PutIfAbsent(ctx, p)
}

func (f *fakeDocs) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

func (f *fakeDocs) failGet(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr = err
}

func (f *fakeDocs) failSet(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setErr = err
}

func (f *fakeDocs) setCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets
}

// heldFeed queues change notices until flush, simulating a slow replication path.
type heldFeed struct {
	mu      sync.Mutex
	deliver func(string)
	held    []string
	ready   chan struct{}
}

func newHeldFeed() *heldFeed { return &heldFeed{ready: make(chan struct{})} }

func (f *heldFeed) Notify(_ context.Context, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = append(f.held, tenantID)
	return nil
}

func (f *heldFeed) Run(ctx context.Context, deliver func(string)) error {
	f.mu.Lock()
	f.deliver = deliver
	f.mu.Unlock()
	close(f.ready)
	<-ctx.Done()
	return nil
}

func (f *heldFeed) flush() {
	<-f.ready
	f.mu.Lock()
	held, deliver := f.held, f.deliver
	f.held = nil
	f.mu.Unlock()
	for _, id := range held {
		deliver(id)
	}
}

type failingFeed struct{}

func (failingFeed) Notify(context.Context, string) error { return fmt.Errorf("broker down") }
func (failingFeed) Run(ctx context.Context, _ func(string)) error {
	<-ctx.Done()
	return nil
}

// fakeIdentity accepts password for who.
type fakeIdentity struct {
	mu       sync.Mutex
	who      domain.Principal
	whoErr   error
	password string
	reauths  int
}

func (f *fakeIdentity) CurrentUser(context.Context) (domain.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.who, f.whoErr
}

func (f *fakeIdentity) Reauthenticate(_ context.Context, email, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reauths++
	if email != f.who.Email || secret != f.password {
		return fmt.Errorf("password rejected: %w", domain.ErrChallengeFailed)
	}
	return nil
}

func (f *fakeIdentity) reauthCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reauths
}

type fakeArchiver struct {
	mu    sync.Mutex
	err   error
	calls [][]int
}

func (a *fakeArchiver) Archive(_ context.Context, _ string, _ domain.Category, nums []int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, nums)
	return a.err
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	docs  *fakeDocs
	store *Store
	ctrl  *Controller
	id    *fakeIdentity
}

const (
	tenant   = "t1"
	password = "correct horse"
)

func newHarness(t *testing.T, feed ChangeFeed, opts Options) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	docs := newFakeDocs()
	store := NewStore(docs, feed)
	go func() { _ = store.Run(ctx) }()

	id := &fakeIdentity{who: domain.Principal{TenantID: tenant, Email: "ana@example.com"}, password: password}
	if opts.UpperBound == 0 {
		opts.UpperBound = 20
	}
	return &harness{t: t, ctx: ctx, docs: docs, store: store, ctrl: NewController(store, id, opts), id: id}
}

// seed writes a pool directly, bypassing change notices.
func (h *harness) seed(c domain.Category, nums ...int) {
	h.t.Helper()
	require.NoError(h.t, h.docs.PutIfAbsent(h.ctx, domain.NewNumberPool(tenant)))
	_, err := h.docs.PoolStore.SetField(h.ctx, tenant, c, nums, domain.AnyVersion)
	require.NoError(h.t, err)
}

func (h *harness) open() *Session {
	h.t.Helper()
	s := h.ctrl.Open(h.ctx, tenant)
	h.t.Cleanup(s.Close)
	ctx, cancel := context.WithTimeout(h.ctx, testWait)
	defer cancel()
	require.NoError(h.t, s.Ready(ctx))
	return s
}

// instance starts another store and controller over the same documents,
// standing in for a second API process. Its change notices are never delivered.
func (h *harness) instance(opts Options) (*Controller, *Session) {
	h.t.Helper()
	store := NewStore(h.docs, newHeldFeed())
	go func() { _ = store.Run(h.ctx) }()
	if opts.UpperBound == 0 {
		opts.UpperBound = 20
	}
	ctrl := NewController(store, h.id, opts)
	s := ctrl.Open(h.ctx, tenant)
	h.t.Cleanup(s.Close)
	ctx, cancel := context.WithTimeout(h.ctx, testWait)
	defer cancel()
	require.NoError(h.t, s.Ready(ctx))
	return ctrl, s
}

// settled waits for the echo of res and returns the view of c.
func (h *harness) settled(s *Session, c domain.Category, res Result) View {
	h.t.Helper()
	if res.Version > 0 {
		ctx, cancel := context.WithTimeout(h.ctx, testWait)
		defer cancel()
		require.NoError(h.t, s.WaitVersion(ctx, res.Version))
	}
	return s.View(c)
}

func (h *harness) stored(c domain.Category) []int {
	h.t.Helper()
	p, err := h.docs.PoolStore.Get(h.ctx, tenant)
	require.NoError(h.t, err)
	return p.Used(c).Sorted()
}
