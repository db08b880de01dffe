package server_test

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subhub/converter"
	"subhub/models"
	"subhub/server"
)

type fakeStorage struct {
	subs     []models.Subscription
	profiles []models.Profile
	settings *models.Settings
	readErr  error
}

func (f *fakeStorage) GetSubscriptions(_ context.Context) ([]models.Subscription, error) {
	return f.subs, f.readErr
}

func (f *fakeStorage) PutSubscriptions(_ context.Context, subs []models.Subscription) error {
	f.subs = subs
	return nil
}

func (f *fakeStorage) GetProfiles(_ context.Context) ([]models.Profile, error) {
	return f.profiles, f.readErr
}

func (f *fakeStorage) PutProfiles(_ context.Context, profiles []models.Profile) error {
	f.profiles = profiles
	return nil
}

func (f *fakeStorage) GetSettings(_ context.Context) (*models.Settings, error) {
	return f.settings, f.readErr
}

func (f *fakeStorage) PutSettings(_ context.Context, settings models.Settings) error {
	f.settings = &settings
	return nil
}

type fakeMaintainer struct {
	runs int
}

func (f *fakeMaintainer) Run(_ context.Context) error {
	f.runs++
	return nil
}

const adminSecret = "test-admin-secret"

func testApp(storage *fakeStorage) (*fakeMaintainer, func(req *http.Request) *http.Response) {
	maintainer := &fakeMaintainer{}
	app := server.Server(&server.ServerConfig{
		Hostname:    "subhub.example",
		Store:       storage,
		Defaults:    models.Settings{FileName: "default", Token: "default-token"},
		AdminSecret: adminSecret,
		Poller:      maintainer,
	})
	return maintainer, func(req *http.Request) *http.Response {
		resp, err := app.Test(req, 5000)
		if err != nil {
			panic(err)
		}
		return resp
	}
}

func storageWithManual() *fakeStorage {
	return &fakeStorage{
		subs: []models.Subscription{
			{ID: "m1", Name: "Manual", URL: "ss://manual@host:1#Manual", Enabled: true},
		},
		settings: &models.Settings{
			FileName:     "my-subs",
			Token:        "main-token",
			ProfileToken: "profile-token",
			Converter:    "https://converter.example",
		},
	}
}

func TestSubRejectsBadToken(t *testing.T) {
	_, do := testApp(storageWithManual())

	resp := do(httptest.NewRequest("GET", "/sub/wrong-token", nil))
	assert.Equal(t, 403, resp.StatusCode)

	// Prefix of the real token must fail too.
	resp = do(httptest.NewRequest("GET", "/sub/main", nil))
	assert.Equal(t, 403, resp.StatusCode)
}

func TestSubUnknownProfile(t *testing.T) {
	_, do := testApp(storageWithManual())

	resp := do(httptest.NewRequest("GET", "/sub/profile-token/nope", nil))
	assert.Equal(t, 404, resp.StatusCode)
}

func TestSubServesBase64ForUnknownAgent(t *testing.T) {
	_, do := testApp(storageWithManual())

	req := httptest.NewRequest("GET", "/sub/main-token", nil)
	req.Header.Set("User-Agent", "curl/8.0.1")
	resp := do(req)

	require.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	decoded, err := base64.StdEncoding.DecodeString(string(body))
	require.NoError(t, err)
	assert.Equal(t, "ss://manual@host:1#Manual", string(decoded))

	assert.Contains(t, resp.Header.Get("Content-Disposition"), "filename*=UTF-8''my-subs")
}

func TestSubTokenViaQuery(t *testing.T) {
	_, do := testApp(storageWithManual())

	req := httptest.NewRequest("GET", "/sub?token=main-token", nil)
	req.Header.Set("User-Agent", "curl/8.0.1")
	resp := do(req)
	assert.Equal(t, 200, resp.StatusCode)
}

// A feed contributing two nodes plus a manual entry duplicating one of
// them aggregates to exactly two unique nodes.
func TestSubAggregatesFeedAndManual(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ss://dup@host:1#One\nss://other@host:2#Two"))
	}))
	defer feed.Close()

	storage := storageWithManual()
	storage.subs = []models.Subscription{
		{ID: "m1", Name: "Manual", URL: "ss://dup@host:1#One", Enabled: true},
		{ID: "s1", Name: "Feed A", URL: feed.URL, Enabled: true},
	}
	_, do := testApp(storage)

	req := httptest.NewRequest("GET", "/sub/main-token", nil)
	req.Header.Set("User-Agent", "curl/8.0.1")
	resp := do(req)

	require.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	decoded, err := base64.StdEncoding.DecodeString(string(body))
	require.NoError(t, err)

	lines := strings.Split(string(decoded), "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t, "ss://dup@host:1#One", lines[0])
	assert.Equal(t, "ss://other@host:2#Two", lines[1])
}

func TestSubCallbackTokenShortCircuits(t *testing.T) {
	_, do := testApp(storageWithManual())
	derived := converter.CallbackToken(adminSecret)

	// target=clash would normally relay to the converter; the callback
	// token forces the raw base64 short circuit.
	req := httptest.NewRequest("GET", "/sub/main-token?target=clash&callback_token="+derived, nil)
	resp := do(req)

	require.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	decoded, err := base64.StdEncoding.DecodeString(string(body))
	require.NoError(t, err)
	assert.Equal(t, "ss://manual@host:1#Manual", string(decoded))
}

func TestSubWrongCallbackTokenStillConverts(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("converted"))
	}))
	defer upstream.Close()

	storage := storageWithManual()
	storage.settings.Converter = upstream.URL
	_, do := testApp(storage)

	req := httptest.NewRequest("GET", "/sub/main-token?target=clash&callback_token=bogus", nil)
	resp := do(req)

	require.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "converted", string(body))
}

func TestSubClashAgentTriggersConversion(t *testing.T) {
	var gotURL string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.Query().Get("url")
		w.Write([]byte("converted yaml"))
	}))
	defer upstream.Close()

	storage := storageWithManual()
	storage.settings.Converter = upstream.URL
	_, do := testApp(storage)

	req := httptest.NewRequest("GET", "/sub/main-token", nil)
	req.Header.Set("User-Agent", "ClashX/1.95.1")
	resp := do(req)

	require.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "converted yaml", string(body))

	// The callback URL hands the converter our own endpoint, forced to
	// base64 and authorized by the derived token.
	assert.Contains(t, gotURL, "subhub.example/sub/main-token")
	assert.Contains(t, gotURL, "target=base64")
	assert.Contains(t, gotURL, "callback_token="+converter.CallbackToken(adminSecret))
}

func TestSubConverterFailureIsGatewayError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	storage := storageWithManual()
	storage.settings.Converter = upstream.URL
	_, do := testApp(storage)

	req := httptest.NewRequest("GET", "/sub/main-token?target=clash", nil)
	resp := do(req)
	assert.Equal(t, 502, resp.StatusCode)
}

func TestSubSettingsReadFailureUsesDefaults(t *testing.T) {
	storage := &fakeStorage{readErr: errors.New("store down")}
	_, do := testApp(storage)

	// Defaults carry token "default-token"; with the store down that is
	// the one that authorizes.
	req := httptest.NewRequest("GET", "/sub/default-token", nil)
	resp := do(req)
	assert.Equal(t, 200, resp.StatusCode)

	resp = do(httptest.NewRequest("GET", "/sub/main-token", nil))
	assert.Equal(t, 403, resp.StatusCode)
}

func TestExpiredProfileServesSentinel(t *testing.T) {
	storage := storageWithManual()
	storage.profiles = []models.Profile{
		{
			ID:      "p1",
			Name:    "Old Profile",
			Enabled: true,
			Expire:  1,
			SubIDs:  []string{"m1"},
		},
	}
	_, do := testApp(storage)

	req := httptest.NewRequest("GET", "/sub/profile-token/p1", nil)
	req.Header.Set("User-Agent", "curl/8.0.1")
	resp := do(req)

	require.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	decoded, err := base64.StdEncoding.DecodeString(string(body))
	require.NoError(t, err)
	assert.Contains(t, string(decoded), "Expired")
	assert.NotContains(t, string(decoded), "manual@host")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "Old%20Profile")
}

func TestMaintenanceTriggersPoll(t *testing.T) {
	maintainer, do := testApp(storageWithManual())

	resp := do(httptest.NewRequest("GET", "/maintenance", nil))
	require.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "OK", string(body))
	assert.Equal(t, 1, maintainer.runs)
}

func TestManagementRequiresAdminSecret(t *testing.T) {
	_, do := testApp(storageWithManual())

	resp := do(httptest.NewRequest("GET", "/api/settings", nil))
	assert.Equal(t, 403, resp.StatusCode)

	req := httptest.NewRequest("GET", "/api/settings", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp = do(req)
	assert.Equal(t, 403, resp.StatusCode)

	req = httptest.NewRequest("GET", "/api/settings", nil)
	req.Header.Set("Authorization", "Bearer "+adminSecret)
	resp = do(req)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestManagementUpdateSettings(t *testing.T) {
	storage := storageWithManual()
	_, do := testApp(storage)

	payload := `{"fileName":"renamed","token":"new-token"}`
	req := httptest.NewRequest("PUT", "/api/settings", strings.NewReader(payload))
	req.Header.Set("Authorization", "Bearer "+adminSecret)
	req.Header.Set("Content-Type", "application/json")
	resp := do(req)

	require.Equal(t, 200, resp.StatusCode)
	require.NotNil(t, storage.settings)
	assert.Equal(t, "renamed", storage.settings.FileName)
	assert.Equal(t, "new-token", storage.settings.Token)
}

func TestManagementCreateSubscription(t *testing.T) {
	storage := storageWithManual()
	_, do := testApp(storage)

	payload := `{"name":"New Feed","url":"https://feeds.example/new","enabled":true}`
	req := httptest.NewRequest("POST", "/api/subscriptions", strings.NewReader(payload))
	req.Header.Set("Authorization", "Bearer "+adminSecret)
	req.Header.Set("Content-Type", "application/json")
	resp := do(req)

	require.Equal(t, 201, resp.StatusCode)
	require.Len(t, storage.subs, 2)
	assert.Equal(t, "New Feed", storage.subs[1].Name)
	assert.NotEmpty(t, storage.subs[1].ID)
}

func TestManagementDeleteUnknownProfile(t *testing.T) {
	_, do := testApp(storageWithManual())

	req := httptest.NewRequest("DELETE", "/api/profiles/nope", nil)
	req.Header.Set("Authorization", "Bearer "+adminSecret)
	resp := do(req)
	assert.Equal(t, 404, resp.StatusCode)
}
