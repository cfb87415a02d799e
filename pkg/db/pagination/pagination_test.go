package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageBuildsNextToken(t *testing.T) {
	rows := []int64{1, 2, 3, 4}
	page, info, err := Page(rows, 3, func(v int64) int64 { return v })
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, page)
	assert.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cursor.ID)
}

func TestPageWithoutMore(t *testing.T) {
	page, info, err := Page([]int64{1}, 3, func(v int64) int64 { return v })
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidPageToken)

	cursor, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Zero(t, cursor.ID)
}

func TestLimitClamps(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Limit())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 10000}.Limit())
	assert.Equal(t, 7, Pagination{PageSize: 7}.Limit())
}
