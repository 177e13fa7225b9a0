package memory

import (
	"context"
	"testing"

	"github.com/prazos-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolStore_GetMissing(t *testing.T) {
	_, err := NewPoolStore().Get(context.Background(), "t1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPoolStore_PutIfAbsentKeepsExisting(t *testing.T) {
	ctx := context.Background()
	s := NewPoolStore()
	require.NoError(t, s.PutIfAbsent(ctx, domain.NewNumberPool("t1")))
	_, err := s.SetField(ctx, "t1", domain.CategoryLetter, []int{4}, domain.AnyVersion)
	require.NoError(t, err)

	require.NoError(t, s.PutIfAbsent(ctx, domain.NewNumberPool("t1")))
	p, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []int{4}, p.Letter)
}

func TestPoolStore_SetFieldMergesAndVersions(t *testing.T) {
	ctx := context.Background()
	s := NewPoolStore()
	require.NoError(t, s.PutIfAbsent(ctx, domain.NewNumberPool("t1")))

	v1, err := s.SetField(ctx, "t1", domain.CategoryLetter, []int{1, 2}, domain.AnyVersion)
	require.NoError(t, err)
	v2, err := s.SetField(ctx, "t1", domain.CategoryMemo, []int{9}, domain.AnyVersion)
	require.NoError(t, err)
	assert.Greater(t, v2, v1)

	p, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, p.Letter)
	assert.Equal(t, []int{9}, p.Memo)
	assert.Equal(t, v2, p.Version)
}

func TestPoolStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewPoolStore()
	_, err := s.SetField(ctx, "t1", domain.CategoryLetter, []int{1}, domain.AnyVersion)
	require.NoError(t, err)

	p, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	p.Letter[0] = 99

	again, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, again.Letter)
}

func TestPoolStore_SetFieldEmptyListIsNotNil(t *testing.T) {
	ctx := context.Background()
	s := NewPoolStore()
	_, err := s.SetField(ctx, "t1", domain.CategoryMemo, nil, domain.AnyVersion)
	require.NoError(t, err)
	p, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.NotNil(t, p.Memo)
	assert.Empty(t, p.Memo)
}

func TestPoolStore_SetFieldChecksExpectedVersion(t *testing.T) {
	ctx := context.Background()
	s := NewPoolStore()
	require.NoError(t, s.PutIfAbsent(ctx, domain.NewNumberPool("t1")))

	v, err := s.SetField(ctx, "t1", domain.CategoryLetter, []int{1}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	_, err = s.SetField(ctx, "t1", domain.CategoryLetter, []int{2}, 0)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = s.SetField(ctx, "t2", domain.CategoryLetter, []int{2}, 0)
	assert.ErrorIs(t, err, domain.ErrConflict)

	p, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, p.Letter)
}

func TestPoolStore_SetFieldRejectsUnknownCategory(t *testing.T) {
	_, err := NewPoolStore().SetField(context.Background(), "t1", domain.Category("fax"), []int{1}, domain.AnyVersion)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}
