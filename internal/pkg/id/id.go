package id

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a ULID for the current instant. Used for user and tenant IDs.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a ULID whose timestamp part is t, so IDs minted for older
// events sort before newer ones.
func NewAt(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

// Time extracts the timestamp part of a ULID.
func Time(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
