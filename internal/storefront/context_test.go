package storefront

import (
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validFixturesJSON = `{
	"listings": ["/Clothing/", "/Computers/"],
	"products": ["/Shirt/SW2"],
	"advertisements": [{"id": "0123456789abcdef0123456789abcdef", "url": "/Graphics-Card/SW1"}],
	"keywords": ["graphics"],
	"properties": ["aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"],
	"salutationIds": ["bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"],
	"countryIds": ["cccccccccccccccccccccccccccccccc"]
}`

func TestParseContext(t *testing.T) {
	c, err := ParseContext([]byte(validFixturesJSON))
	require.NoError(t, err)

	assert.Len(t, c.Listings, 2)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", c.Advertisements[0].ID)
	assert.Equal(t, DefaultSortings, c.Sortings)
	assert.Equal(t, DefaultPassword, c.Password)
}

func TestParseContext_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{
			name: "missing listings",
			json: `{"products": ["/a"], "advertisements": [{"id": "0123456789abcdef0123456789abcdef"}], "keywords": ["x"], "properties": [], "salutationIds": ["bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"], "countryIds": ["cccccccccccccccccccccccccccccccc"]}`,
			want: "listings",
		},
		{
			name: "relative listing path",
			json: strings.Replace(validFixturesJSON, `"/Clothing/"`, `"Clothing/"`, 1),
			want: "/listings/0",
		},
		{
			name: "bad id",
			json: strings.Replace(validFixturesJSON, `"cccccccccccccccccccccccccccccccc"`, `"DE"`, 1),
			want: "/countryIds/0",
		},
		{
			name: "empty keywords",
			json: strings.Replace(validFixturesJSON, `["graphics"]`, `[]`, 1),
			want: "/keywords",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseContext([]byte(tt.json))
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs), "error type = %T", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseContext_InvalidJSON(t *testing.T) {
	_, err := ParseContext([]byte("{"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid fixtures JSON")
}

func TestContext_SaveAndLoad(t *testing.T) {
	c, err := ParseContext([]byte(validFixturesJSON))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "fixtures.json")
	require.NoError(t, c.Save(path))

	loaded, err := LoadContext(path)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)

	_, err = LoadContext(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestContext_RandomPickers(t *testing.T) {
	c, err := ParseContext([]byte(validFixturesJSON))
	require.NoError(t, err)
	r := rand.New(rand.NewPCG(7, 7))

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		listing, err := c.RandomListing(r)
		require.NoError(t, err)
		seen[listing] = true
	}
	assert.Len(t, seen, 2)

	sorting, err := c.RandomSorting(r)
	require.NoError(t, err)
	assert.Contains(t, DefaultSortings, sorting)

	empty := &Context{}
	_, err = empty.RandomProperty(r)
	assert.ErrorIs(t, err, ErrEmptyContext)
	assert.Contains(t, err.Error(), "properties")
}

func TestParsePage(t *testing.T) {
	p, err := parsePage([]byte(`<html><body>
		<div class="card"><a class="product-name text-truncate" href="https://shop.example.com/Shirt/SW2?variant=1">Shirt</a></div>
		<a class="product-name" href="/Shirt/SW2?variant=1">dup</a>
		<a class="nav" href="/Other/">no</a>
		<form action="https://shop.example.com/account/login" method="post">
			<input type="hidden" name="_csrf_token" value="tok-login">
			<input name="username">
		</form>
		<input type="hidden" name="_csrf_token" value="orphan">
	</body></html>`))
	require.NoError(t, err)

	assert.Equal(t, []string{"/Shirt/SW2?variant=1"}, p.productLinks)
	assert.Equal(t, map[string]string{"/account/login": "tok-login"}, p.csrfTokens)
}
