package security_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/bastion/internal/security"
	"github.com/stretchr/testify/require"
)

func TestAntMatcher(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		methods []string
		method  string
		path    string
		want    bool
	}{
		{"/resources/**", nil, http.MethodGet, "/resources/css/app.css", true},
		{"/resources/**", nil, http.MethodGet, "/resources", true},
		{"/resources/**", nil, http.MethodGet, "/resourcesx", false},
		{"/user/*", nil, http.MethodGet, "/user/alice", true},
		{"/user/*", nil, http.MethodGet, "/user/alice/edit", false},
		{"/favicon.ico", nil, http.MethodGet, "/favicon.ico", true},
		{"/favicon.ico", nil, http.MethodGet, "/faviconxico", false},
		{"/page?", nil, http.MethodGet, "/page1", true},
		{"/page?", nil, http.MethodGet, "/page/", false},
		{"/**", nil, http.MethodDelete, "/anything/at/all", true},
		{"/**", nil, http.MethodGet, "/", true},
		{"/oauth/token", []string{"post"}, http.MethodPost, "/oauth/token", true},
		{"/oauth/token", []string{"post"}, http.MethodGet, "/oauth/token", false},
	}

	for _, tc := range tests {
		t.Run(tc.method+" "+tc.pattern+" "+tc.path, func(t *testing.T) {
			t.Parallel()
			m, err := security.AntMatcher(tc.pattern, tc.methods...)
			require.NoError(t, err)
			require.Equal(t, tc.want, m.Matches(httptest.NewRequest(tc.method, tc.path, nil)))
		})
	}
}

func TestAntMatcherRejectsBadPatterns(t *testing.T) {
	t.Parallel()

	_, err := security.AntMatcher("relative/**")
	require.ErrorIs(t, err, security.ErrConfiguration)

	_, err = security.AntMatcher("/broken/[")
	require.ErrorIs(t, err, security.ErrConfiguration)
}

func TestIsAnyRequest(t *testing.T) {
	t.Parallel()

	require.True(t, security.IsAnyRequest(security.AnyRequest()))
	require.True(t, security.IsAnyRequest(security.MustAntMatcher("/**")))
	require.False(t, security.IsAnyRequest(security.MustAntMatcher("/**", http.MethodGet)))
	require.False(t, security.IsAnyRequest(security.MustAntMatcher("/api/**")))
	require.True(t, security.IsAnyRequest(security.OrMatcher(security.MustAntMatcher("/api/**"), security.AnyRequest())))
}

func TestOrAndMethodMatcher(t *testing.T) {
	t.Parallel()

	m := security.OrMatcher(security.MustAntMatcher("/a/**"), security.MethodMatcher("delete"))
	require.True(t, m.Matches(httptest.NewRequest(http.MethodGet, "/a/b", nil)))
	require.True(t, m.Matches(httptest.NewRequest(http.MethodDelete, "/z", nil)))
	require.False(t, m.Matches(httptest.NewRequest(http.MethodGet, "/z", nil)))
}
