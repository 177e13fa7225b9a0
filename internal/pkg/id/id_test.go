package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IsUnique(t *testing.T) {
	assert.NotEqual(t, New(), New())
	assert.Len(t, New(), 26)
}

func TestNewAt_SortsByTime(t *testing.T) {
	earlier := NewAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	later := NewAt(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	assert.Less(t, earlier, later)
}

func TestTime_RoundTripsMillis(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 15, 250*int(time.Millisecond), time.UTC)
	got, err := Time(NewAt(at))
	require.NoError(t, err)
	assert.True(t, at.Equal(got.UTC()))
}

func TestTime_RejectsGarbage(t *testing.T) {
	_, err := Time("not-a-ulid")
	assert.Error(t, err)
}
