package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// BuildSteps is the number of admin API searches BuildContext performs.
const BuildSteps = 6

// tokenLeeway renews access tokens slightly before they expire.
const tokenLeeway = 30 * time.Second

// API is a client for the shop's admin API, used to crawl fixtures.
type API struct {
	baseURL      string
	clientID     string
	clientSecret string
	http         *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewAPI creates an admin API client authenticating with client credentials.
// A nil httpClient uses a client with a 30s timeout.
func NewAPI(baseURL, clientID, clientSecret string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &API{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         httpClient,
	}
}

// Token returns a valid access token, fetching a new one when needed.
func (a *API) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && time.Now().Before(a.expires) {
		return a.token, nil
	}

	body, err := a.post(ctx, "/api/oauth/token", "", map[string]any{
		"grant_type":    "client_credentials",
		"client_id":     a.clientID,
		"client_secret": a.clientSecret,
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch access token: %w", err)
	}

	token := gjson.GetBytes(body, "access_token")
	if !token.Exists() || token.String() == "" {
		return "", fmt.Errorf("failed to fetch access token: no access_token in response")
	}

	expiresIn := time.Duration(gjson.GetBytes(body, "expires_in").Int()) * time.Second
	if expiresIn <= tokenLeeway {
		expiresIn = tokenLeeway * 2
	}

	a.token = token.String()
	a.expires = time.Now().Add(expiresIn - tokenLeeway)
	return a.token, nil
}

// Search runs a criteria search against an entity and returns the raw response.
func (a *API) Search(ctx context.Context, entity string, criteria map[string]any) ([]byte, error) {
	token, err := a.Token(ctx)
	if err != nil {
		return nil, err
	}
	body, err := a.post(ctx, "/api/search/"+entity, token, criteria)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", entity, err)
	}
	return body, nil
}

// SeoURLs returns canonical storefront paths for a route, e.g.
// "frontend.navigation.page" for listings.
func (a *API) SeoURLs(ctx context.Context, routeName string, limit int) ([]string, error) {
	body, err := a.Search(ctx, "seo-url", seoCriteria(routeName, limit))
	if err != nil {
		return nil, err
	}

	var paths []string
	gjson.GetBytes(body, "data.#.seoPathInfo").ForEach(func(_, v gjson.Result) bool {
		paths = append(paths, "/"+strings.TrimPrefix(v.String(), "/"))
		return true
	})
	return paths, nil
}

// ProductPages returns products that have a canonical detail page.
func (a *API) ProductPages(ctx context.Context, limit int) ([]Product, error) {
	body, err := a.Search(ctx, "seo-url", seoCriteria("frontend.detail.page", limit))
	if err != nil {
		return nil, err
	}

	var products []Product
	gjson.GetBytes(body, "data").ForEach(func(_, v gjson.Result) bool {
		products = append(products, Product{
			ID:  v.Get("foreignKey").String(),
			URL: "/" + strings.TrimPrefix(v.Get("seoPathInfo").String(), "/"),
		})
		return true
	})
	return products, nil
}

// Keywords returns search terms taken from active product names.
func (a *API) Keywords(ctx context.Context, limit int) ([]string, error) {
	body, err := a.Search(ctx, "product", map[string]any{
		"limit":    limit,
		"filter":   []any{equals("active", true)},
		"includes": map[string]any{"product": []string{"name", "translated"}},
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var keywords []string
	gjson.GetBytes(body, "data.#.translated.name").ForEach(func(_, v gjson.Result) bool {
		fields := strings.Fields(v.String())
		if len(fields) == 0 {
			return true
		}
		word := strings.ToLower(fields[0])
		if !seen[word] {
			seen[word] = true
			keywords = append(keywords, word)
		}
		return true
	})
	return keywords, nil
}

// IDs returns the ids of an entity matching the given filters.
func (a *API) IDs(ctx context.Context, entity string, limit int, filters ...map[string]any) ([]string, error) {
	criteria := map[string]any{
		"limit":    limit,
		"includes": map[string]any{strings.ReplaceAll(entity, "-", "_"): []string{"id"}},
	}
	if len(filters) > 0 {
		criteria["filter"] = filters
	}

	body, err := a.Search(ctx, entity, criteria)
	if err != nil {
		return nil, err
	}

	var ids []string
	gjson.GetBytes(body, "data.#.id").ForEach(func(_, v gjson.Result) bool {
		ids = append(ids, v.String())
		return true
	})
	return ids, nil
}

// BuildContext crawls the fixtures a run needs. The searches run
// concurrently; progress, when non-nil, is called once per finished search.
func (a *API) BuildContext(ctx context.Context, limit int, progress func()) (*Context, error) {
	if _, err := a.Token(ctx); err != nil {
		return nil, err
	}

	var (
		c        Context
		products []Product
	)
	done := func() {
		if progress != nil {
			progress()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		c.Listings, err = a.SeoURLs(gctx, "frontend.navigation.page", limit)
		done()
		return err
	})
	g.Go(func() (err error) {
		products, err = a.ProductPages(gctx, limit)
		done()
		return err
	})
	g.Go(func() (err error) {
		c.Keywords, err = a.Keywords(gctx, limit)
		done()
		return err
	})
	g.Go(func() (err error) {
		c.Properties, err = a.IDs(gctx, "property-group-option", limit)
		done()
		return err
	})
	g.Go(func() (err error) {
		c.SalutationIDs, err = a.IDs(gctx, "salutation", limit)
		done()
		return err
	})
	g.Go(func() (err error) {
		c.CountryIDs, err = a.IDs(gctx, "country", limit, equals("active", true))
		done()
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, p := range products {
		c.Products = append(c.Products, p.URL)
	}
	c.Advertisements = products
	c.applyDefaults()

	if len(c.Listings) == 0 || len(c.Products) == 0 {
		return nil, fmt.Errorf("%w: shop has no listings or products", ErrEmptyContext)
	}
	if c.Properties == nil {
		c.Properties = []string{}
	}

	data, err := json.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fixtures: %w", err)
	}
	if err := ValidateFixtures(data); err != nil {
		return nil, fmt.Errorf("crawled fixtures are incomplete: %w", err)
	}
	return &c, nil
}

func seoCriteria(routeName string, limit int) map[string]any {
	return map[string]any{
		"limit": limit,
		"filter": []any{
			equals("routeName", routeName),
			equals("isCanonical", true),
			equals("isDeleted", false),
		},
		"includes": map[string]any{"seo_url": []string{"seoPathInfo", "foreignKey"}},
	}
}

func equals(field string, value any) map[string]any {
	return map[string]any{"type": "equals", "field": field, "value": value}
}

func (a *API) post(ctx context.Context, path, token string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		detail := gjson.GetBytes(body, "errors.0.detail").String()
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, detail)
	}
	return body, nil
}
