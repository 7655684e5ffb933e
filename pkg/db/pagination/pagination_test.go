package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitClamps(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Limit())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Limit())
	assert.Equal(t, 5, Pagination{PageSize: 5}.Limit())
}

func TestPageBuildsNextToken(t *testing.T) {
	items, info, err := Page([]string{"a", "b", "c"}, 2, func(s string) string { return s })
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, items)
	assert.True(t, info.HasMore)

	after, err := Pagination{PageToken: info.NextPageToken}.After()
	require.NoError(t, err)
	assert.Equal(t, "b", after)
}

func TestPageLastPage(t *testing.T) {
	items, info, err := Page([]string{"a"}, 2, func(s string) string { return s })
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}

func TestAfterRejectsGarbage(t *testing.T) {
	_, err := Pagination{PageToken: "!!!"}.After()
	assert.ErrorIs(t, err, ErrInvalidPageToken)

	after, err := Pagination{}.After()
	require.NoError(t, err)
	assert.Empty(t, after)
}
