package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/storeload/internal/storefront"
)

// newAdmin starts a minimal admin API accepting client "id" / "secret".
func newAdmin(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if r.URL.Path == "/api/oauth/token" {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["client_id"] != "id" || body["client_secret"] != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"errors":[{"detail":"The client credentials are invalid"}]}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":600,"token_type":"Bearer"}`))
			return
		}

		var criteria struct {
			Filter []struct {
				Field string `json:"field"`
				Value any    `json:"value"`
			} `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&criteria)
		route := ""
		if len(criteria.Filter) > 0 && criteria.Filter[0].Field == "routeName" {
			route, _ = criteria.Filter[0].Value.(string)
		}

		switch entity := strings.TrimPrefix(r.URL.Path, "/api/search/"); {
		case entity == "seo-url" && route == "frontend.navigation.page":
			_, _ = w.Write([]byte(`{"data":[{"seoPathInfo":"Clothing/"},{"seoPathInfo":"Computers/"}]}`))
		case entity == "seo-url" && route == "frontend.detail.page":
			_, _ = w.Write([]byte(`{"data":[{"seoPathInfo":"Graphics-Card/SW1","foreignKey":"0123456789abcdef0123456789abcdef"}]}`))
		case entity == "product":
			_, _ = w.Write([]byte(`{"data":[{"translated":{"name":"Graphics Card 4090"}}]}`))
		case entity == "property-group-option":
			_, _ = w.Write([]byte(`{"data":[{"id":"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}]}`))
		case entity == "salutation":
			_, _ = w.Write([]byte(`{"data":[{"id":"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"}]}`))
		case entity == "country":
			_, _ = w.Write([]byte(`{"data":[{"id":"cccccccccccccccccccccccccccccccc"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFixturesCommand(t *testing.T) {
	admin := newAdmin(t)
	out := filepath.Join(t.TempDir(), "fixtures.json")

	stdout, stderr, err := execute(t, "fixtures",
		"--host", admin.URL,
		"--client-id", "id",
		"--client-secret", "secret",
		"--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "2 listings, 1 products")
	assert.Contains(t, stderr, "Collecting fixtures")

	fixtures, err := storefront.LoadContext(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"/Clothing/", "/Computers/"}, fixtures.Listings)
	assert.Equal(t, []string{"/Graphics-Card/SW1"}, fixtures.Products)
	assert.Equal(t, []string{"cccccccccccccccccccccccccccccccc"}, fixtures.CountryIDs)
}

func TestFixturesCommand_SecretFromEnvironment(t *testing.T) {
	admin := newAdmin(t)
	out := filepath.Join(t.TempDir(), "fixtures.json")
	t.Setenv("STORELOAD_CLIENT_ID", "id")
	t.Setenv("STORELOAD_CLIENT_SECRET", "secret")

	_, stderr, err := execute(t, "fixtures", "--host", admin.URL, "--out", out, "--quiet")
	require.NoError(t, err)
	assert.Empty(t, stderr, "quiet mode shows no progress bar")

	_, err = storefront.LoadContext(out)
	assert.NoError(t, err)
}

func TestFixturesCommand_Errors(t *testing.T) {
	admin := newAdmin(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing host", []string{"fixtures", "--client-id", "id", "--client-secret", "secret"}, "--host is required"},
		{"missing secret", []string{"fixtures", "--host", admin.URL, "--client-id", "id"}, "--client-secret are required"},
		{"bad credentials", []string{"fixtures", "--host", admin.URL, "--client-id", "id", "--client-secret", "nope", "-q"}, "client credentials are invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
