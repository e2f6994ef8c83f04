package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessions_CreateSweepsExpired(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newSessions(time.Hour, func() time.Time { return now }, false)

	for i := 0; i < 3; i++ {
		_, _, err := s.create()
		require.NoError(t, err)
	}
	require.Len(t, s.tokens, 3)

	now = now.Add(2 * time.Hour)
	token, expires, err := s.create()
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), expires)
	assert.Len(t, s.tokens, 1, "abandoned logins are dropped")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	assert.True(t, s.valid(req))

	now = now.Add(61 * time.Minute)
	assert.False(t, s.valid(req))
	assert.Empty(t, s.tokens)
}
