package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePage(t *testing.T) {
	assert.Equal(t, 1, parsePage(""))
	assert.Equal(t, 1, parsePage("0"))
	assert.Equal(t, 1, parsePage("-3"))
	assert.Equal(t, 1, parsePage("two"))
	assert.Equal(t, 4, parsePage(" 4 "))
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, 50, parseLimit("", 50, 200))
	assert.Equal(t, 50, parseLimit("0", 50, 200))
	assert.Equal(t, 10, parseLimit("10", 50, 200))
	assert.Equal(t, 200, parseLimit("5000", 50, 200))
}

func TestPageOffset(t *testing.T) {
	assert.Equal(t, 0, pageOffset(0, 50))
	assert.Equal(t, 0, pageOffset(1, 50))
	assert.Equal(t, 100, pageOffset(3, 50))
}

func TestBuildPaginationView(t *testing.T) {
	view := buildPaginationView(120, 2, 50, "/admin/users?role=official")
	assert.Equal(t, paginationView{
		CurrentPage:   2,
		TotalPages:    3,
		TotalCount:    120,
		NextPage:      3,
		PrevPage:      1,
		HasNext:       true,
		HasPrev:       true,
		PageURL:       "/admin/users?role=official",
		PageSeparator: "&",
	}, view)

	empty := buildPaginationView(0, 0, 0, "/admin")
	assert.Equal(t, 1, empty.CurrentPage)
	assert.Equal(t, 0, empty.TotalPages)
	assert.False(t, empty.HasNext)
	assert.False(t, empty.HasPrev)
	assert.Equal(t, "?", empty.PageSeparator)
}
