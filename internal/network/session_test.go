package network

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessions_IssueAndParse(t *testing.T) {
	s := NewSessions("secret", time.Hour)

	token, err := s.Issue("user-1")
	require.NoError(t, err)

	userID, err := s.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestSessions_ParseRejects(t *testing.T) {
	s := NewSessions("secret", time.Minute)
	issued := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }
	token, err := s.Issue("user-1")
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		later := NewSessions("secret", time.Minute)
		later.now = func() time.Time { return issued.Add(2 * time.Minute) }
		_, err := later.Parse(token)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewSessions("other", time.Minute)
		other.now = s.now
		_, err := other.Parse(token)
		assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := s.Parse("not-a-token")
		assert.Error(t, err)
	})

	t.Run("missing user", func(t *testing.T) {
		blank, err := s.Issue("")
		require.NoError(t, err)
		_, err = s.Parse(blank)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestSessions_Resolve(t *testing.T) {
	s := NewSessions("secret", time.Hour)
	token, err := s.Issue("known")
	require.NoError(t, err)

	userID, refreshed, err := s.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "known", userID)
	assert.NotEmpty(t, refreshed)

	fresh, freshToken, err := s.Resolve("")
	require.NoError(t, err)
	assert.NotEmpty(t, fresh)
	assert.NotEqual(t, "known", fresh)
	parsed, err := s.Parse(freshToken)
	require.NoError(t, err)
	assert.Equal(t, fresh, parsed)
}

func TestSessions_Cookie(t *testing.T) {
	s := NewSessions("secret", time.Hour)

	c := s.Cookie("tok", true)

	assert.Equal(t, SessionCookie, c.Name)
	assert.Equal(t, "tok", c.Value)
	assert.Equal(t, 3600, c.MaxAge)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		cookie string
		want   string
	}{
		{"none", "/ws", "", ""},
		{"query", "/ws?token=abc", "", "abc"},
		{"cookie", "/ws", "from-cookie", "from-cookie"},
		{"cookie wins", "/ws?token=abc", "from-cookie", "from-cookie"},
		{"blank cookie falls back", "/ws?token=abc", "  ", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: SessionCookie, Value: tt.cookie})
			}
			assert.Equal(t, tt.want, TokenFromRequest(r))
		})
	}

	assert.Empty(t, TokenFromRequest(nil))
}
