package numbering

import (
	"context"

	"github.com/prazos-api/internal/domain"
)

// DocumentStore is the tenant-keyed document contract the pool store is built on.
// SetField must be a partial merge: siblings of the written category stay untouched.
type DocumentStore interface {
	Get(ctx context.Context, tenantID string) (*domain.NumberPool, error)
	// PutIfAbsent writes p only when no document exists for p.TenantID.
	// Losing a creation race is not an error.
	PutIfAbsent(ctx context.Context, p *domain.NumberPool) error
	// SetField replaces one category's numbers and returns the document version after the write.
	// Unless expect is domain.AnyVersion it fails with domain.ErrConflict when the
	// document is no longer at version expect.
	SetField(ctx context.Context, tenantID string, c domain.Category, nums []int, expect int64) (int64, error)
}

// ChangeFeed carries "tenant X changed" notices between writers and subscribers.
// Notify is called after every durable write; Run blocks delivering notices until ctx ends.
type ChangeFeed interface {
	Notify(ctx context.Context, tenantID string) error
	Run(ctx context.Context, deliver func(tenantID string)) error
}

// Identity is the identity provider used for the step-up challenge.
type Identity interface {
	CurrentUser(ctx context.Context) (domain.Principal, error)
	Reauthenticate(ctx context.Context, email, secret string) error
}

// SecretPrompt obtains the acting user's password. ok=false means the user cancelled.
type SecretPrompt func(ctx context.Context) (secret string, ok bool)

// Confirmer asks the user to confirm an irreversible bulk operation.
type Confirmer func(ctx context.Context, c domain.Category, count int) bool

// Archiver keeps a copy of a category's numbers before they are cleared.
type Archiver interface {
	Archive(ctx context.Context, tenantID string, c domain.Category, nums []int) error
}

// Recorder receives transition telemetry.
type Recorder interface {
	Transition(c domain.Category, op, outcome string)
	ChallengeFailed(c domain.Category)
	PersistFailed(c domain.Category)
	ObservePersist(c domain.Category, seconds float64)
}

type nopRecorder struct{}

func (nopRecorder) Transition(domain.Category, string, string) {}
func (nopRecorder) ChallengeFailed(domain.Category)            {}
func (nopRecorder) PersistFailed(domain.Category)              {}
func (nopRecorder) ObservePersist(domain.Category, float64)    {}

// Password returns a SecretPrompt that yields a fixed secret, treating "" as cancel.
// Request/response transports use it: the secret arrives with the request.
func Password(secret string) SecretPrompt {
	return func(context.Context) (string, bool) {
		return secret, secret != ""
	}
}

// Confirmed returns a Confirmer with a fixed answer.
func Confirmed(ok bool) Confirmer {
	return func(context.Context, domain.Category, int) bool { return ok }
}
