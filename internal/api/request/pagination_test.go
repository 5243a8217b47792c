package request

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePagination_Defaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/backup/history", nil)

	p := ParsePagination(r)

	assert.Equal(t, DefaultLimit, p.Limit)
	assert.Empty(t, p.Cursor)
}

func TestParsePagination_LimitAndCursor(t *testing.T) {
	r := httptest.NewRequest("GET", "/backup/history?limit=10&cursor=2026-01-02T15:04:05Z", nil)

	p := ParsePagination(r)

	assert.Equal(t, 10, p.Limit)
	assert.Equal(t, "2026-01-02T15:04:05Z", p.Cursor)
}

func TestParsePagination_ClampsAndIgnoresGarbage(t *testing.T) {
	r := httptest.NewRequest("GET", "/?limit=9999", nil)
	assert.Equal(t, MaxLimit, ParsePagination(r).Limit)

	r = httptest.NewRequest("GET", "/?limit=abc", nil)
	assert.Equal(t, DefaultLimit, ParsePagination(r).Limit)

	r = httptest.NewRequest("GET", "/?limit=-5", nil)
	assert.Equal(t, DefaultLimit, ParsePagination(r).Limit)
}
