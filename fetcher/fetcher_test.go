package fetcher_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subhub/fetcher"
	"subhub/models"
)

func TestParseUserInfo(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected models.UserInfo
	}{
		{
			name:     "empty header",
			header:   "",
			expected: models.UserInfo{},
		},
		{
			name:   "full header",
			header: "upload=123; download=456; total=1000; expire=1700000000",
			expected: models.UserInfo{
				Upload:   123,
				Download: 456,
				Total:    1000,
				Expire:   1700000000,
			},
		},
		{
			name:     "partial header",
			header:   "download=42",
			expected: models.UserInfo{Download: 42},
		},
		{
			name:     "malformed numbers default to zero",
			header:   "upload=abc; download=456",
			expected: models.UserInfo{Download: 456},
		},
		{
			name:     "unknown fields ignored",
			header:   "upload=1; reset=31; foo=bar",
			expected: models.UserInfo{Upload: 1},
		},
		{
			name:     "mixed case and spacing",
			header:   " Upload = 7 ;DOWNLOAD=9",
			expected: models.UserInfo{Upload: 7, Download: 9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, fetcher.ParseUserInfo(tt.header))
		})
	}
}

func TestFetchAllIsolatesFailures(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Subscription-Userinfo", "upload=1; download=2; total=10")
		w.Write([]byte("ss://a#Alpha"))
	}))
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	subs := []models.Subscription{
		{Name: "good", URL: good.URL, Enabled: true},
		{Name: "bad", URL: bad.URL, Enabled: true},
		{Name: "unreachable", URL: "http://127.0.0.1:1", Enabled: true},
	}

	results := fetcher.New().FetchAll(context.Background(), subs, "test-agent")
	require.Len(t, results, 3)

	// Results come back positioned by input index.
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "ss://a#Alpha", results[0].Body)
	assert.Equal(t, int64(2), results[0].UserInfo.Download)

	assert.Error(t, results[1].Err)
	assert.Error(t, results[2].Err)
}

func TestFetchAllSendsUserAgent(t *testing.T) {
	var gotAgent string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	subs := []models.Subscription{{Name: "feed", URL: upstream.URL, Enabled: true}}
	results := fetcher.New().FetchAll(context.Background(), subs, "clash-verge/1.0")

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "clash-verge/1.0", gotAgent)
}

func TestFetchAllEmptyInput(t *testing.T) {
	results := fetcher.New().FetchAll(context.Background(), nil, "agent")
	assert.Empty(t, results)
}
