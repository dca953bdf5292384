package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func queryContext(t *testing.T, rawQuery string) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/?"+rawQuery, nil)
	return c
}

func TestPageQuery(t *testing.T) {
	page, size := pageQuery(queryContext(t, "page=3&limit=50"))
	require.Equal(t, 3, page)
	require.Equal(t, 50, size)

	page, size = pageQuery(queryContext(t, ""))
	require.Equal(t, 1, page)
	require.Equal(t, 20, size)

	page, size = pageQuery(queryContext(t, "page=-1&limit=500"))
	require.Equal(t, 1, page)
	require.Equal(t, 20, size)
}

func TestBoolQuery(t *testing.T) {
	require.Nil(t, boolQuery(queryContext(t, ""), "overdue"))
	require.Nil(t, boolQuery(queryContext(t, "overdue=yes"), "overdue"))

	v := boolQuery(queryContext(t, "overdue=true"), "overdue")
	require.NotNil(t, v)
	require.True(t, *v)

	v = boolQuery(queryContext(t, "overdue=false"), "overdue")
	require.NotNil(t, v)
	require.False(t, *v)
}

func TestDateQuery(t *testing.T) {
	require.Nil(t, dateQuery(queryContext(t, ""), "dateFrom"))
	require.Nil(t, dateQuery(queryContext(t, "dateFrom=31-08-2026"), "dateFrom"))

	v := dateQuery(queryContext(t, "dateFrom=2026-08-31"), "dateFrom")
	require.NotNil(t, v)
	require.Equal(t, "2026-08-31", v.Format(dateLayout))
}
